package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
)

// feedFlags select a feed from the registry and override its fields.
type feedFlags struct {
	State    string
	FeedName string
	Version  string
	Format   string
}

func (f *feedFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.State, "state", "", "feed state")
	cmd.Flags().StringVar(&f.FeedName, "feedname", "", "feed name")
	cmd.Flags().StringVar(&f.Version, "version", "", "WZDx version of the feed")
	cmd.Flags().StringVar(&f.Format, "feed-format", "", "payload format (json|geojson|xml)")
}

// resolve starts from the registry entry, if any, and applies the flags.
func (f *feedFlags) resolve(cfg *config.Config) (feed.Descriptor, error) {
	var d feed.Descriptor
	if reg, ok := cfg.Feed(f.State, f.FeedName); ok {
		d = reg
	} else if reg, ok := cfg.FeedByName(f.FeedName); ok && f.State == "" {
		d = reg
	}
	if f.State != "" {
		d.State = f.State
	}
	if f.FeedName != "" {
		d.FeedName = f.FeedName
	}
	if f.Version != "" {
		d.Version = f.Version
	}
	if f.Format != "" {
		format, err := feed.ParseFormat(f.Format)
		if err != nil {
			return d, err
		}
		d.Format = format
	}
	if d.Format == "" {
		d.Format = feed.FormatJSON
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

// readPayload decodes a local payload file; .gz files are decompressed.
func readPayload(ctx context.Context, path string, format feed.Format) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	dir := logstore.NewFileBackend(filepath.Dir(abs)).Bucket("")
	return ingest.LoadRaw(ctx, dir, filepath.Base(abs), format)
}
