package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	feed feedFlags
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <payload-file>",
		Short: "Run one ingestion cycle from a local payload file",
		Long: `Run one ingestion cycle from a local payload file against the configured
log store. Use --backend memory for a dry run that shows the decisions
without writing anything.

Example:
  wzlog reconcile iowa.geojson --state IA --feedname iowa --version 4.1 --feed-format geojson`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), cmd, opts, args[0])
		},
	}
	opts.feed.register(cmd)
	return cmd
}

func runReconcile(ctx context.Context, cmd *cobra.Command, opts *ReconcileOptions, path string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	desc, err := opts.feed.resolve(cfg)
	if err != nil {
		return err
	}
	raw, err := readPayload(ctx, path, desc.Format)
	if err != nil {
		return err
	}
	backend, err := logstore.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	runOpts, closeShared, err := runnerOptions(cfg, backend)
	if err != nil {
		return err
	}
	defer closeShared()

	res, runErr := ingest.NewRunner(runOpts).Run(ctx, desc, raw, path)
	if err := render(cmd, opts.RootOptions, res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\n%s\n", res.Summary.Message(desc.FeedName), summaryDetail(res.Summary))
		return err
	}); err != nil {
		return err
	}
	return runErr
}

func summaryDetail(s ingest.Summary) string {
	return fmt.Sprintf("appended=%d dropped_lines=%d key_errors=%d failed=%d superseded=%d stale=%d",
		s.Appended, s.DroppedLines, s.KeyErrors, s.Failed, s.Superseded, s.Stale)
}
