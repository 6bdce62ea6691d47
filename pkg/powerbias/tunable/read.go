package tunable

import (
	"strings"

	"github.com/spf13/afero"
)

// Reading is the current content of one target.
type Reading struct {
	Path  string
	Value string
	Err   error
}

// Read returns the current value of every target in core index order.
// It is a diagnostic aid; Apply never reads back what it wrote.
func (w *Writer) Read() []Reading {
	readings := make([]Reading, len(w.targets))
	for i, path := range w.targets {
		data, err := afero.ReadFile(w.fs, path)
		readings[i] = Reading{
			Path:  path,
			Value: strings.TrimSpace(string(data)),
			Err:   err,
		}
	}
	return readings
}
