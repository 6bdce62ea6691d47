package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter writes the same structure as JSONFormatter in YAML.
type YAMLFormatter struct{}

// Format implements Formatter.
func (f *YAMLFormatter) Format(w io.Writer, r *Report) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(newDocument(r)); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

var _ Formatter = (*YAMLFormatter)(nil)
