package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// response is the JSON envelope printed with --format json.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// emit prints data as JSON or hands a tab-aligned writer to text.
func (o *RootOptions) emit(cmd *cobra.Command, data any, text func(w io.Writer)) error {
	out := cmd.OutOrStdout()
	if o.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(response{Status: "ok", Data: data})
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func row(w io.Writer, cols ...any) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}
