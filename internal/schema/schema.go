// Package schema adapts WZDx payloads of every supported version family into
// one normalized view: the feed header, its update time, and the list of
// activity statuses with their identifier and direction. The family is
// resolved once per cycle into an Adapter; nothing downstream branches on the
// version string again.
package schema

import (
	"strings"
)

// Family is a WZDx schema version family.
type Family int

const (
	FamilyV1 Family = iota + 1
	FamilyV2
	FamilyV3
	FamilyV4
)

func (f Family) String() string {
	switch f {
	case FamilyV1:
		return "v1"
	case FamilyV2:
		return "v2"
	case FamilyV3:
		return "v3"
	case FamilyV4:
		return "v4"
	default:
		return "unknown"
	}
}

// Fields names the record fields the reconciliation engine reads. A record
// carries its header under exactly one of HeaderCandidates.
type Fields struct {
	HeaderCandidates     []string
	UpdateTime           string
	Activities           string
	IgnoredActivityPaths [][]string
}

// Adapter is the resolved accessor record for one family.
type Adapter struct {
	family          Family
	hint            string
	wrapper         string
	headerKeys      []string
	updateTimeKey   string
	versionKey      string
	activitiesKey   string
	identifierPaths [][]string
	directionPath   []string
	ignored         [][]string
	typeTagged      bool
}

var geoJSONIdentifier = [][]string{{"properties", "road_event_id"}, {"id"}}

// Resolve picks the family from the first character of the version hint.
func Resolve(versionHint string) (*Adapter, error) {
	hint := strings.TrimSpace(versionHint)
	if hint == "" {
		return nil, schemaErrorf("empty version hint")
	}
	switch hint[0] {
	case '1':
		return &Adapter{
			family:          FamilyV1,
			hint:            hint,
			wrapper:         "WZDx",
			headerKeys:      []string{"Header"},
			updateTimeKey:   "timeStampUpdate",
			versionKey:      "versionNo",
			activitiesKey:   "WorkZoneActivity",
			identifierPaths: [][]string{{"identifier"}},
			directionPath:   []string{"beginLocation", "roadDirection"},
			ignored:         [][]string{{"timeStampEventUpdate"}, {"timestampEventUpdate"}},
		}, nil
	case '2':
		return &Adapter{
			family:          FamilyV2,
			hint:            hint,
			headerKeys:      []string{"road_event_feed_info"},
			updateTimeKey:   "feed_update_date",
			versionKey:      "version",
			activitiesKey:   "features",
			identifierPaths: geoJSONIdentifier,
			directionPath:   []string{"properties", "direction"},
			ignored:         [][]string{{"properties", "update_date"}, {"update_date"}},
			typeTagged:      true,
		}, nil
	case '3':
		return &Adapter{
			family:          FamilyV3,
			hint:            hint,
			headerKeys:      []string{"road_event_feed_info"},
			updateTimeKey:   "update_date",
			versionKey:      "version",
			activitiesKey:   "features",
			identifierPaths: geoJSONIdentifier,
			directionPath:   []string{"properties", "direction"},
			ignored:         [][]string{{"properties", "update_date"}, {"update_date"}},
			typeTagged:      true,
		}, nil
	case '4':
		return &Adapter{
			family:          FamilyV4,
			hint:            hint,
			headerKeys:      []string{"road_event_feed_info", "feed_info"},
			updateTimeKey:   "update_date",
			versionKey:      "version",
			activitiesKey:   "features",
			identifierPaths: geoJSONIdentifier,
			directionPath:   []string{"properties", "core_details", "direction"},
			ignored:         [][]string{{"properties", "core_details", "update_date"}, {"update_date"}},
			typeTagged:      true,
		}, nil
	default:
		return nil, schemaErrorf("unrecognized version %q", versionHint)
	}
}

func (a *Adapter) Family() Family { return a.family }

// Fields returns the field names records of this family are built from.
func (a *Adapter) Fields() Fields {
	return Fields{
		HeaderCandidates:     a.headerKeys,
		UpdateTime:           a.updateTimeKey,
		Activities:           a.activitiesKey,
		IgnoredActivityPaths: a.ignored,
	}
}

// NormalizedFeed is the version-agnostic view of one retrieval. It is built
// once per cycle and not modified afterwards.
type NormalizedFeed struct {
	Adapter     *Adapter
	HeaderField string
	Header      map[string]any
	UpdateTime  string
	// Month is YYYYMM of the feed-level update time.
	Month      string
	Version    string
	Activities []ActivityStatus

	typeTag any
	hasType bool
}

// ActivityStatus is one reported work-zone status. Identifier and Direction
// are empty when they cannot be extracted.
type ActivityStatus struct {
	Index      int
	Identifier string
	Direction  string
	Raw        any
}

// Adapt normalizes a decoded payload. Any structural problem with the header
// or activity list is a *SchemaError.
func (a *Adapter) Adapt(raw map[string]any) (*NormalizedFeed, error) {
	if raw == nil {
		return nil, schemaErrorf("empty payload")
	}
	body := raw
	if a.wrapper != "" {
		if inner, ok := raw[a.wrapper].(map[string]any); ok {
			body = inner
		}
	}

	nf := &NormalizedFeed{Adapter: a}
	for _, k := range a.headerKeys {
		if h, ok := body[k].(map[string]any); ok {
			nf.HeaderField = k
			nf.Header = h
			break
		}
	}
	if nf.Header == nil {
		return nil, schemaErrorf("%s payload has no %s object", a.family, strings.Join(a.headerKeys, " or "))
	}

	ut, ok := nf.Header[a.updateTimeKey].(string)
	if !ok {
		return nil, schemaErrorf("%s.%s is missing or not a string", nf.HeaderField, a.updateTimeKey)
	}
	month, err := monthOf(ut)
	if err != nil {
		return nil, err
	}
	nf.UpdateTime = ut
	nf.Month = month

	nf.Version = scalarString(nf.Header[a.versionKey])
	if nf.Version == "" {
		nf.Version = a.hint
	}

	var items []any
	switch v := body[a.activitiesKey].(type) {
	case []any:
		items = v
	case map[string]any:
		// A single repeated XML element decodes to an object.
		items = []any{v}
	case nil:
		return nil, schemaErrorf("payload has no %s list", a.activitiesKey)
	default:
		return nil, schemaErrorf("%s is %T, not a list", a.activitiesKey, v)
	}

	nf.Activities = make([]ActivityStatus, 0, len(items))
	for i, item := range items {
		act := ActivityStatus{Index: i, Raw: item}
		if m, ok := item.(map[string]any); ok {
			for _, p := range a.identifierPaths {
				if id := scalarString(lookup(m, p)); id != "" {
					act.Identifier = id
					break
				}
			}
			act.Direction = scalarString(lookup(m, a.directionPath))
		}
		nf.Activities = append(nf.Activities, act)
	}

	if a.typeTagged {
		nf.typeTag, nf.hasType = body["type"]
	}
	return nf, nil
}

// Record builds the output record persisted for one activity: the header
// plus exactly that activity, and the payload's type tag for GeoJSON
// families. The result is normalized so it compares equal to its stored form.
func (nf *NormalizedFeed) Record(act ActivityStatus) (Record, error) {
	rec := make(Record, 3)
	rec[nf.HeaderField] = nf.Header
	rec[nf.Adapter.activitiesKey] = []any{act.Raw}
	if nf.hasType {
		rec["type"] = nf.typeTag
	}
	return Normalize(rec)
}

func monthOf(updateTime string) (string, error) {
	if len(updateTime) < 7 {
		return "", schemaErrorf("update time %q is too short to carry a month", updateTime)
	}
	month := strings.ReplaceAll(updateTime[:7], "-", "")
	if len(month) != 6 || strings.Trim(month, "0123456789") != "" {
		return "", schemaErrorf("update time %q does not start with YYYY-MM", updateTime)
	}
	return month, nil
}
