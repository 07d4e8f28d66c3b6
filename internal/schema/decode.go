package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/clbanning/mxj/v2"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
)

func init() {
	// Match the conventional XML-to-dict mapping: attributes as "@name",
	// element text alongside attributes as "#text".
	mxj.SetAttrPrefix("@")
}

// Decode parses a raw capture into a mapping according to the feed format.
// XML is converted to the equivalent JSON structure first.
func Decode(data []byte, format feed.Format) (map[string]any, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	switch format {
	case feed.FormatJSON, feed.FormatGeoJSON:
		rec, err := UnmarshalRecord(data)
		if err != nil {
			return nil, &SchemaError{Reason: "decoding " + string(format) + " payload", Err: err}
		}
		return rec, nil
	case feed.FormatXML:
		m, err := mxj.NewMapXml(data)
		if err != nil {
			return nil, &SchemaError{Reason: "decoding xml payload", Err: err}
		}
		js, err := json.Marshal(map[string]any(m))
		if err != nil {
			return nil, &SchemaError{Reason: "converting xml payload", Err: err}
		}
		rec, err := UnmarshalRecord(js)
		if err != nil {
			return nil, &SchemaError{Reason: "converting xml payload", Err: err}
		}
		return rec, nil
	default:
		return nil, &SchemaError{Reason: fmt.Sprintf("unsupported payload format %q", format)}
	}
}
