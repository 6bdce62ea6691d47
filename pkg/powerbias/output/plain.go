package output

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// PlainFormatter writes unstyled, tab-aligned text for scripts.
type PlainFormatter struct{}

// Format implements Formatter.
func (f *PlainFormatter) Format(w io.Writer, r *Report) error {
	bias := "-"
	if r.Bias != nil {
		bias = r.Bias.String()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "STATE\t%s\n", r.State)
	fmt.Fprintf(tw, "BIAS\t%s\n", bias)
	fmt.Fprintf(tw, "\nPATH\tVALUE\n")
	for _, t := range r.Tunables {
		value := t.Value
		if !t.Readable() {
			value = "?"
		}
		fmt.Fprintf(tw, "%s\t%s\n", t.Path, value)
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)
