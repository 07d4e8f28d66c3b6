// Package feed describes the work-zone feeds the sandbox captures: where a
// feed lives, which WZDx schema version it publishes, its payload format and
// which downstream stages it is piped to.
package feed

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// Format is the wire format a feed is published in.
type Format string

const (
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
	FormatXML     Format = "xml"
)

// ParseFormat normalises a format string from the registry.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatGeoJSON, FormatXML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unsupported feed format %q", apperrors.ErrInvalidInput, s)
	}
}

// Descriptor is the registry record for one feed. It is supplied per
// ingestion run and never mutated.
type Descriptor struct {
	State          string `json:"state" yaml:"state"`
	FeedName       string `json:"feedname" yaml:"feedname"`
	URL            string `json:"url" yaml:"url"`
	Format         Format `json:"format" yaml:"format"`
	Version        string `json:"version" yaml:"version"`
	PipedToSandbox bool   `json:"pipedtosandbox" yaml:"pipedtosandbox"`
	PipedToSocrata bool   `json:"pipedtosocrata" yaml:"pipedtosocrata"`
}

// ID identifies the feed across runs; it is the unit of mutual exclusion for
// ingestion cycles.
func (d Descriptor) ID() string {
	return d.State + "/" + d.FeedName
}

// Validate checks the fields every stage relies on. The URL is only needed
// by the capture stage and is checked there.
func (d Descriptor) Validate() error {
	var missing []string
	if strings.TrimSpace(d.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(d.FeedName) == "" {
		missing = append(missing, "feedname")
	}
	if strings.TrimSpace(d.Version) == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: feed descriptor missing %s", apperrors.ErrInvalidInput, strings.Join(missing, ", "))
	}
	if _, err := ParseFormat(string(d.Format)); err != nil {
		return err
	}
	return nil
}
