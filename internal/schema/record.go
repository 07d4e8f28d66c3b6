package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/go-cmp/cmp"
)

// Record is one persisted output record. Records are always held in their
// JSON-decoded form (numbers as json.Number) so that a freshly built record
// and one read back from a log compare structurally.
type Record map[string]any

// Normalize returns rec as it would read back from storage.
func Normalize(rec Record) (Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return UnmarshalRecord(data)
}

// UnmarshalRecord decodes one JSON object, keeping numbers exact.
func UnmarshalRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record is null")
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after record")
	}
	return rec, nil
}

// Equal reports full structural equality, timestamps included.
func Equal(a, b Record) bool {
	return cmp.Equal(a, b)
}

// Diff renders the difference between two records for debug logging.
func Diff(a, b Record) string {
	return cmp.Diff(a, b)
}

// Digest is the hex SHA-256 of the record's canonical JSON encoding.
// encoding/json sorts map keys, so equal records share a digest.
func Digest(rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// UpdateTimeOf returns the feed-level update time stored in rec's header.
func (f Fields) UpdateTimeOf(rec Record) (string, error) {
	for _, h := range f.HeaderCandidates {
		header, ok := rec[h].(map[string]any)
		if !ok {
			continue
		}
		ut, ok := header[f.UpdateTime].(string)
		if !ok {
			return "", fmt.Errorf("record header %s has no string %s", h, f.UpdateTime)
		}
		return ut, nil
	}
	return "", fmt.Errorf("record has no header field")
}

// ActivityOf returns the single activity a record wraps, with the
// per-activity update-time fields removed.
func (f Fields) ActivityOf(rec Record) (any, error) {
	list, ok := rec[f.Activities].([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("record has no %s entry", f.Activities)
	}
	act := list[0]
	m, ok := act.(map[string]any)
	if !ok {
		return act, nil
	}
	for _, p := range f.IgnoredActivityPaths {
		m = without(m, p)
	}
	return m, nil
}

// without returns m with the value at path removed, copying only the maps
// along the path.
func without(m map[string]any, path []string) map[string]any {
	if len(path) == 0 {
		return m
	}
	head := path[0]
	v, ok := m[head]
	if !ok {
		return m
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	if len(path) == 1 {
		delete(out, head)
		return out
	}
	child, ok := v.(map[string]any)
	if !ok {
		return m
	}
	out[head] = without(child, path[1:])
	return out
}

func lookup(m map[string]any, path []string) any {
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[p]
	}
	return cur
}

// scalarString renders identifiers and versions that publishers emit as
// either strings or numbers.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
