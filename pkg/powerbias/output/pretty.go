package output

import (
	"fmt"
	"io"
	"strings"
)

// PrettyFormatter writes styled text for a terminal.
type PrettyFormatter struct{}

// Format implements Formatter.
func (f *PrettyFormatter) Format(w io.Writer, r *Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Power source:"), f.state(r))
	if r.Bias != nil {
		fmt.Fprintf(&b, "%s  %s\n", LabelStyle.Render("Policy bias:"), r.Bias.String())
	} else {
		fmt.Fprintf(&b, "%s  %s\n", LabelStyle.Render("Policy bias:"), WarningStyle.Render("none (state unknown)"))
	}

	fmt.Fprintf(&b, "%s\n", TitleStyle.Render("Tunables:"))
	for _, t := range r.Tunables {
		fmt.Fprintf(&b, "  %s  %s\n", t.Path, f.value(r, t))
	}

	if r.Bias != nil && len(r.Tunables) > 0 {
		fmt.Fprintf(&b, "%s\n", MutedStyle.Render(
			fmt.Sprintf("%d of %d cores at policy bias", r.Matching(), len(r.Tunables))))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (f *PrettyFormatter) state(r *Report) string {
	if r.Bias == nil {
		return WarningStyle.Render(r.State.String())
	}
	return r.State.String()
}

func (f *PrettyFormatter) value(r *Report, t Tunable) string {
	switch {
	case !t.Readable():
		return WarningStyle.Render("unreadable")
	case r.Bias != nil && t.Value == r.Bias.String():
		return SuccessStyle.Render(t.Value)
	default:
		return t.Value
	}
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
