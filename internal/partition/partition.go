// Package partition derives object-store keys. Reconciled logs are keyed by
// work zone identity and the feed-level month; raw captures by retrieval
// time.
package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// NotRetrievedSuffix marks a raw capture whose fetch failed.
const NotRetrievedSuffix = "__FEED_NOT_RETRIEVED"

// rawTimeLayout renders retrieval times like Python's str(datetime).
const rawTimeLayout = "2006-01-02 15:04:05.000000"

// Key is an object-store key split into its directory prefix and file name.
type Key struct {
	Prefix string
	Name   string
}

func (k Key) String() string { return k.Prefix + k.Name }

// NotRetrieved is the sentinel key written in place of a failed capture.
func (k Key) NotRetrieved() Key {
	return Key{Prefix: k.Prefix, Name: k.Name + NotRetrievedSuffix}
}

// KeyDerivationError means an activity lacks an identifier or direction. It
// fails that activity only.
type KeyDerivationError struct {
	Index   int
	Missing string
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("activity %d: cannot derive partition key: missing %s", e.Index, e.Missing)
}

func (e *KeyDerivationError) Is(target error) bool { return target == apperrors.ErrKeyDerivation }

func prefix(d feed.Descriptor, year, month string) string {
	return fmt.Sprintf("state=%s/feedName=%s/year=%s/month=%s/", d.State, d.FeedName, year, month)
}

// ForActivity derives the reconciled-log key for one activity. The month
// comes from the feed-level update time so every activity of a retrieval
// lands in the same monthly file. The name carries the header's version
// string as published ("3.1", "4.2"), not its major version, so a feed that
// moves to a new minor version starts new files.
func ForActivity(d feed.Descriptor, nf *schema.NormalizedFeed, act schema.ActivityStatus) (Key, error) {
	var missing []string
	if act.Identifier == "" {
		missing = append(missing, "identifier")
	}
	if act.Direction == "" {
		missing = append(missing, "direction")
	}
	if len(missing) > 0 {
		return Key{}, &KeyDerivationError{Index: act.Index, Missing: strings.Join(missing, " and ")}
	}
	return Key{
		Prefix: prefix(d, nf.Month[:4], nf.Month[4:]),
		Name:   fmt.Sprintf("%s_%s_%s_v%s", act.Identifier, act.Direction, nf.Month, nf.Version),
	}, nil
}

// Raw derives the raw-capture key for a retrieval at t, rendered in UTC.
func Raw(d feed.Descriptor, t time.Time) Key {
	t = t.UTC()
	return Key{
		Prefix: prefix(d, t.Format("2006"), t.Format("01")),
		Name:   d.FeedName + "_" + t.Format(rawTimeLayout),
	}
}

// IsNotRetrieved reports whether key names a failed-capture sentinel.
func IsNotRetrieved(key string) bool {
	return strings.HasSuffix(key, NotRetrievedSuffix)
}
