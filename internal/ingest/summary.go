package ingest

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/reconcile"
)

// Summary counts what one cycle did. Tasks each build their own Summary and
// the cycle merges them, so no counter is shared between goroutines.
type Summary struct {
	Activities   int `json:"activities"`
	New          int `json:"new"`
	Skipped      int `json:"skipped"`
	Appended     int `json:"appended"`
	Overwritten  int `json:"overwritten"`
	DroppedLines int `json:"dropped_lines"`
	KeyErrors    int `json:"key_errors"`
	Failed       int `json:"failed"`
	Superseded   int `json:"superseded"`
	// Stale counts activities older than the log's last record; they are
	// left out so each log stays ordered by update time.
	Stale int `json:"stale"`
}

func (s *Summary) Merge(o Summary) {
	s.Activities += o.Activities
	s.New += o.New
	s.Skipped += o.Skipped
	s.Appended += o.Appended
	s.Overwritten += o.Overwritten
	s.DroppedLines += o.DroppedLines
	s.KeyErrors += o.KeyErrors
	s.Failed += o.Failed
	s.Superseded += o.Superseded
	s.Stale += o.Stale
}

func (s *Summary) count(o reconcile.Outcome) {
	switch o {
	case reconcile.New:
		s.New++
	case reconcile.Skip:
		s.Skipped++
	case reconcile.Append:
		s.Appended++
	case reconcile.Overwrite:
		s.Overwritten++
	}
}

// Reconciled is the number of activities that reached a decision.
func (s Summary) Reconciled() int {
	return s.New + s.Skipped + s.Appended + s.Overwritten
}

// Message is the one-line human summary of a cycle.
func (s Summary) Message(feedName string) string {
	return fmt.Sprintf("%d status found in %s feed: %d skipped, %d overwrites, %d updates, %d new files",
		s.Activities, feedName, s.Skipped, s.Overwritten, s.Appended, s.New)
}

func (s Summary) logAttrs() []any {
	return []any{
		"activities", s.Activities,
		"new", s.New,
		"skipped", s.Skipped,
		"appended", s.Appended,
		"overwritten", s.Overwritten,
		"dropped_lines", s.DroppedLines,
		"key_errors", s.KeyErrors,
		"failed", s.Failed,
		"superseded", s.Superseded,
		"stale", s.Stale,
	}
}
