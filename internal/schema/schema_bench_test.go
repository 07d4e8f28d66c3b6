package schema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
)

func largeV4Payload(n int) []byte {
	features := make([]string, n)
	for i := range features {
		features[i] = fmt.Sprintf(`{"type":"Feature","properties":{"road_event_id":"WZ%d","core_details":{"direction":"northbound","update_date":"2023-05-01T00:00:00Z"},"vehicle_impact":"some-lanes-closed"}}`, i)
	}
	return []byte(`{"type":"FeatureCollection","feed_info":{"update_date":"2023-05-01T00:00:00Z","version":"4.1"},"features":[` +
		strings.Join(features, ",") + `]}`)
}

// BenchmarkAdaptAndRecord decodes a 500-activity feed and builds every
// output record, which is the per-cycle CPU cost before any store access.
func BenchmarkAdaptAndRecord(b *testing.B) {
	body := largeV4Payload(500)
	a, err := Resolve("4")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(body)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		raw, err := Decode(body, feed.FormatGeoJSON)
		if err != nil {
			b.Fatal(err)
		}
		nf, err := a.Adapt(raw)
		if err != nil {
			b.Fatal(err)
		}
		for _, act := range nf.Activities {
			if _, err := nf.Record(act); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkDigest measures the tail-index digest of one record.
func BenchmarkDigest(b *testing.B) {
	raw, err := Decode(largeV4Payload(1), feed.FormatGeoJSON)
	if err != nil {
		b.Fatal(err)
	}
	rec := Record(raw)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Digest(rec); err != nil {
			b.Fatal(err)
		}
	}
}
