package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// render writes data as indented JSON in json mode and calls text otherwise.
func render(cmd *cobra.Command, opts *RootOptions, data any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(data)
	}
	return text(w)
}
