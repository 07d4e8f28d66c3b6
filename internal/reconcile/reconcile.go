// Package reconcile decides how a newly retrieved work-zone status relates to
// the stored history of its partition.
//
// The decision reads at most the last two records of the log:
//
//	no history                       -> New       [incoming]
//	incoming equals the last record  -> Skip      (no write)
//	one record of history            -> Append    [a, incoming]
//	incoming - prevPrev >= 24h       -> Append    [..., prev, incoming]
//	activity unchanged but timestamp -> Overwrite [..., incoming]
//	otherwise                        -> Append
package reconcile

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
)

// PolicyWindow is the epoch boundary measured from the record before the
// last one. Past it, records are never collapsed.
const PolicyWindow = 24 * time.Hour

// Outcome is the result of reconciling one activity.
type Outcome int

const (
	New Outcome = iota
	Skip
	Append
	Overwrite
)

func (o Outcome) String() string {
	switch o {
	case New:
		return "new"
	case Skip:
		return "skip"
	case Append:
		return "append"
	case Overwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Decision carries the outcome and, unless it is Skip, the full sequence to
// persist under the key.
type Decision struct {
	Outcome Outcome
	Records []schema.Record
	Reason  string
}

// Write reports whether the decision changes the stored log.
func (d Decision) Write() bool {
	return d.Outcome != Skip
}

// Decide reconciles incoming against the existing log. An empty log is
// treated as absent. The existing slice is never modified.
func Decide(existing []schema.Record, incoming schema.Record, f schema.Fields) (Decision, error) {
	n := len(existing)
	if n == 0 {
		return Decision{Outcome: New, Records: []schema.Record{incoming}, Reason: "no history"}, nil
	}

	last := existing[n-1]
	if schema.Equal(incoming, last) {
		return Decision{Outcome: Skip, Reason: "identical to last record"}, nil
	}

	if n == 1 {
		return Decision{Outcome: Append, Records: appended(existing, incoming), Reason: "first divergence"}, nil
	}

	dt, err := elapsed(existing[n-2], incoming, f)
	if err != nil {
		return Decision{}, err
	}
	if dt >= PolicyWindow {
		return Decision{
			Outcome: Append,
			Records: appended(existing, incoming),
			Reason:  fmt.Sprintf("%s since record before last", dt),
		}, nil
	}

	same, err := sameActivity(incoming, last, f)
	if err != nil {
		return Decision{}, err
	}
	if same {
		out := make([]schema.Record, n)
		copy(out, existing[:n-1])
		out[n-1] = incoming
		return Decision{Outcome: Overwrite, Records: out, Reason: "timestamp refresh"}, nil
	}
	return Decision{Outcome: Append, Records: appended(existing, incoming), Reason: "activity changed"}, nil
}

// Predates reports whether incoming was published before last, judged by
// the header update time. Decide itself never looks at ordering; callers
// use this to keep a replayed older capture from landing after newer
// records.
func Predates(incoming, last schema.Record, f schema.Fields) (bool, error) {
	d, err := elapsed(last, incoming, f)
	if err != nil {
		return false, err
	}
	return d < 0, nil
}

func appended(existing []schema.Record, incoming schema.Record) []schema.Record {
	out := make([]schema.Record, 0, len(existing)+1)
	out = append(out, existing...)
	return append(out, incoming)
}

func elapsed(from, to schema.Record, f schema.Fields) (time.Duration, error) {
	start, err := updateTime(from, f)
	if err != nil {
		return 0, fmt.Errorf("record before last: %w", err)
	}
	end, err := updateTime(to, f)
	if err != nil {
		return 0, fmt.Errorf("incoming record: %w", err)
	}
	return end.Sub(start), nil
}

// updateTime parses the header update time. Times without a zone are read
// as UTC.
func updateTime(rec schema.Record, f schema.Fields) (time.Time, error) {
	raw, err := f.UpdateTimeOf(rec)
	if err != nil {
		return time.Time{}, err
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing update time %q: %w", raw, err)
	}
	return t, nil
}

func sameActivity(a, b schema.Record, f schema.Fields) (bool, error) {
	aa, err := f.ActivityOf(a)
	if err != nil {
		return false, fmt.Errorf("incoming record: %w", err)
	}
	ba, err := f.ActivityOf(b)
	if err != nil {
		return false, fmt.Errorf("last record: %w", err)
	}
	return schema.Equal(schema.Record{"a": aa}, schema.Record{"a": ba}), nil
}
