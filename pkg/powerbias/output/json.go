package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter writes the report as one indented JSON object. An
// undecided bias is written as null.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(w io.Writer, r *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newDocument(r))
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)
