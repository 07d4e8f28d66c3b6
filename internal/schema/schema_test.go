package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

const v1Payload = `{
  "WZDx": {
    "Header": {"timeStampUpdate": "2023-05-01T00:00:00", "versionNo": "1"},
    "WorkZoneActivity": [
      {"identifier": "WZ1", "beginLocation": {"roadDirection": "north"}, "timeStampEventUpdate": "2023-05-01T00:00:00"},
      {"identifier": 77, "beginLocation": {"roadDirection": "south"}},
      {"beginLocation": {"roadDirection": "east"}}
    ]
  }
}`

const v4Payload = `{
  "type": "FeatureCollection",
  "feed_info": {"update_date": "2023-05-31T23:59:00Z", "version": "4.1"},
  "features": [
    {"id": "f-1", "type": "Feature", "properties": {"road_event_id": "WZ1", "core_details": {"direction": "northbound", "update_date": "2023-05-31T23:00:00Z"}}},
    {"id": "f-2", "type": "Feature", "properties": {"core_details": {"direction": "southbound"}}}
  ]
}`

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	m, err := Decode([]byte(body), feed.FormatJSON)
	require.NoError(t, err)
	return m
}

func TestResolveFamilies(t *testing.T) {
	cases := map[string]Family{
		"1":    FamilyV1,
		"2":    FamilyV2,
		"3.1":  FamilyV3,
		"4.2":  FamilyV4,
		" 4 ":  FamilyV4,
		"3":    FamilyV3,
		"1.0a": FamilyV1,
	}
	for hint, want := range cases {
		a, err := Resolve(hint)
		require.NoError(t, err, hint)
		assert.Equal(t, want, a.Family(), hint)
	}
}

func TestResolveUnknownVersion(t *testing.T) {
	for _, hint := range []string{"", "5", "v4", "x"} {
		_, err := Resolve(hint)
		require.Error(t, err, hint)
		assert.True(t, errors.Is(err, apperrors.ErrSchema), hint)
		var se *SchemaError
		assert.True(t, errors.As(err, &se))
	}
}

func TestAdaptV1Wrapped(t *testing.T) {
	a, err := Resolve("1")
	require.NoError(t, err)
	nf, err := a.Adapt(decode(t, v1Payload))
	require.NoError(t, err)

	assert.Equal(t, "Header", nf.HeaderField)
	assert.Equal(t, "2023-05-01T00:00:00", nf.UpdateTime)
	assert.Equal(t, "202305", nf.Month)
	assert.Equal(t, "1", nf.Version)
	require.Len(t, nf.Activities, 3)
	assert.Equal(t, "WZ1", nf.Activities[0].Identifier)
	assert.Equal(t, "north", nf.Activities[0].Direction)
	assert.Equal(t, "77", nf.Activities[1].Identifier)
	assert.Empty(t, nf.Activities[2].Identifier)
	assert.Equal(t, 2, nf.Activities[2].Index)

	rec, err := nf.Record(nf.Activities[0])
	require.NoError(t, err)
	assert.Len(t, rec, 2)
	assert.NotContains(t, rec, "type")
	assert.Contains(t, rec, "WorkZoneActivity")
}

func TestAdaptV4FeedInfoAndFallbackID(t *testing.T) {
	a, err := Resolve("4")
	require.NoError(t, err)
	nf, err := a.Adapt(decode(t, v4Payload))
	require.NoError(t, err)

	assert.Equal(t, "feed_info", nf.HeaderField)
	assert.Equal(t, "4.1", nf.Version)
	assert.Equal(t, "WZ1", nf.Activities[0].Identifier)
	assert.Equal(t, "northbound", nf.Activities[0].Direction)
	assert.Equal(t, "f-2", nf.Activities[1].Identifier)

	rec, err := nf.Record(nf.Activities[0])
	require.NoError(t, err)
	assert.Equal(t, "FeatureCollection", rec["type"])
	assert.Contains(t, rec, "feed_info")
}

func TestAdaptVersionFallsBackToHint(t *testing.T) {
	a, err := Resolve("3.1")
	require.NoError(t, err)
	nf, err := a.Adapt(decode(t, `{"road_event_feed_info":{"update_date":"2022-01-02"},"features":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "3.1", nf.Version)
	assert.Empty(t, nf.Activities)
}

func TestAdaptSchemaErrors(t *testing.T) {
	cases := []struct {
		name, hint, body string
	}{
		{"missing header", "2", `{"features":[]}`},
		{"update time not string", "3", `{"road_event_feed_info":{"update_date":20230501},"features":[]}`},
		{"update time too short", "3", `{"road_event_feed_info":{"update_date":"2023"},"features":[]}`},
		{"update time not a date", "3", `{"road_event_feed_info":{"update_date":"yesterday"},"features":[]}`},
		{"activities not list", "2", `{"road_event_feed_info":{"feed_update_date":"2023-05-01"},"features":"none"}`},
		{"activities missing", "1", `{"Header":{"timeStampUpdate":"2023-05-01"}}`},
		{"v2 update field is feed_update_date", "2", `{"road_event_feed_info":{"update_date":"2023-05-01"},"features":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := Resolve(tc.hint)
			require.NoError(t, err)
			_, err = a.Adapt(decode(t, tc.body))
			assert.True(t, errors.Is(err, apperrors.ErrSchema), "got %v", err)
		})
	}
}

func TestRecordNormalizedEqualsStoredForm(t *testing.T) {
	a, _ := Resolve("2")
	nf, err := a.Adapt(decode(t, `{"type":"FeatureCollection","road_event_feed_info":{"feed_update_date":"2023-05-01T00:00:00Z","version":"2.0"},"features":[{"properties":{"road_event_id":"A","direction":"eastbound","lanes":[1,2.5]}}]}`))
	require.NoError(t, err)

	built, err := nf.Record(nf.Activities[0])
	require.NoError(t, err)
	stored, err := UnmarshalRecord([]byte(`{"features":[{"properties":{"direction":"eastbound","lanes":[1,2.5],"road_event_id":"A"}}],"road_event_feed_info":{"feed_update_date":"2023-05-01T00:00:00Z","version":"2.0"},"type":"FeatureCollection"}`))
	require.NoError(t, err)

	assert.True(t, Equal(built, stored), Diff(built, stored))

	d1, err := Digest(built)
	require.NoError(t, err)
	d2, err := Digest(stored)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestActivityOfIgnoresUpdateTime(t *testing.T) {
	a, _ := Resolve("4")
	f := a.Fields()
	r1, _ := UnmarshalRecord([]byte(`{"feed_info":{"update_date":"x"},"features":[{"properties":{"core_details":{"direction":"n","update_date":"t1"},"lanes":1}}]}`))
	r2, _ := UnmarshalRecord([]byte(`{"feed_info":{"update_date":"y"},"features":[{"properties":{"core_details":{"direction":"n","update_date":"t2"},"lanes":1}}]}`))

	a1, err := f.ActivityOf(r1)
	require.NoError(t, err)
	a2, err := f.ActivityOf(r2)
	require.NoError(t, err)
	assert.True(t, Equal(Record{"a": a1}, Record{"a": a2}))

	// the source record is left untouched
	inner := r1["features"].([]any)[0].(map[string]any)["properties"].(map[string]any)["core_details"].(map[string]any)
	assert.Equal(t, "t1", inner["update_date"])

	ut, err := f.UpdateTimeOf(r2)
	require.NoError(t, err)
	assert.Equal(t, "y", ut)
}

func TestDecodeXML(t *testing.T) {
	body := `<?xml version="1.0"?>
<WZDx>
  <Header><timeStampUpdate>2023-05-01T00:00:00</timeStampUpdate><versionNo>1</versionNo></Header>
  <WorkZoneActivity id="a">
    <identifier>WZ1</identifier>
    <beginLocation><roadDirection>north</roadDirection></beginLocation>
  </WorkZoneActivity>
</WZDx>`
	m, err := Decode([]byte(body), feed.FormatXML)
	require.NoError(t, err)

	a, _ := Resolve("1")
	nf, err := a.Adapt(m)
	require.NoError(t, err)
	require.Len(t, nf.Activities, 1)
	assert.Equal(t, "WZ1", nf.Activities[0].Identifier)
	assert.Equal(t, "north", nf.Activities[0].Direction)
	assert.Equal(t, "a", nf.Activities[0].Raw.(map[string]any)["@id"])
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"broken"`), feed.FormatGeoJSON)
	assert.True(t, errors.Is(err, apperrors.ErrSchema))

	_, err = Decode([]byte(`[1,2]`), feed.FormatJSON)
	assert.True(t, errors.Is(err, apperrors.ErrSchema))

	_, err = Decode([]byte(`x`), feed.Format("csv"))
	assert.True(t, errors.Is(err, apperrors.ErrSchema))
}
