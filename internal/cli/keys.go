package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
)

// KeyLine is one activity of a payload and the log it would land in.
type KeyLine struct {
	Index      int    `json:"index"`
	Identifier string `json:"identifier,omitempty"`
	Direction  string `json:"direction,omitempty"`
	Key        string `json:"key,omitempty"`
	Error      string `json:"error,omitempty"`
}

// KeysReport is the keys command output.
type KeysReport struct {
	Family     string    `json:"family"`
	Version    string    `json:"version"`
	UpdateTime string    `json:"update_time"`
	Activities []KeyLine `json:"activities"`
}

// NewKeysCommand creates the keys command.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	var flags feedFlags

	cmd := &cobra.Command{
		Use:   "keys <payload-file>",
		Short: "Print the partition key of every activity in a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			desc, err := flags.resolve(cfg)
			if err != nil {
				return err
			}
			raw, err := readPayload(cmd.Context(), args[0], desc.Format)
			if err != nil {
				return err
			}
			adapter, err := schema.Resolve(desc.Version)
			if err != nil {
				return err
			}
			nf, err := adapter.Adapt(raw)
			if err != nil {
				return err
			}

			report := KeysReport{
				Family:     adapter.Family().String(),
				Version:    nf.Version,
				UpdateTime: nf.UpdateTime,
				Activities: make([]KeyLine, 0, len(nf.Activities)),
			}
			for _, act := range nf.Activities {
				line := KeyLine{Index: act.Index, Identifier: act.Identifier, Direction: act.Direction}
				key, err := partition.ForActivity(desc, nf, act)
				var keyErr *partition.KeyDerivationError
				switch {
				case errors.As(err, &keyErr):
					line.Error = keyErr.Error()
				case err != nil:
					return err
				default:
					line.Key = key.String()
				}
				report.Activities = append(report.Activities, line)
			}

			return render(cmd, rootOpts, report, func(w io.Writer) error {
				fmt.Fprintf(w, "family %s, version %s, updated %s\n", report.Family, report.Version, report.UpdateTime)
				for _, l := range report.Activities {
					if l.Error != "" {
						fmt.Fprintf(w, "%4d  ! %s\n", l.Index, l.Error)
						continue
					}
					fmt.Fprintf(w, "%4d  %s\n", l.Index, l.Key)
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}
