package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Diff bool
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print a work-zone log",
		Long: `Print the work-zone log stored under key, one record per line. With
--diff, print the difference between the last two records instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			backend, err := logstore.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			log, err := logstore.New(backend.Bucket(cfg.Storage.SandboxBucket), nil).Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !log.Exists {
				return fmt.Errorf("%w: no log under %s", apperrors.ErrNotFound, args[0])
			}
			for _, d := range log.Dropped {
				fmt.Fprintf(cmd.ErrOrStderr(), "dropped line %d: %v\n", d.Line, d.Err)
			}

			if opts.Diff {
				n := len(log.Records)
				if n < 2 {
					return fmt.Errorf("%s holds %d record(s); nothing to diff", args[0], n)
				}
				_, err := fmt.Fprint(cmd.OutOrStdout(), schema.Diff(log.Records[n-2], log.Records[n-1]))
				return err
			}

			return render(cmd, opts.RootOptions, log.Records, func(w io.Writer) error {
				body, err := logstore.Encode(log.Records)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "%s\n", body)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Diff, "diff", false, "show the difference between the last two records")
	return cmd
}
