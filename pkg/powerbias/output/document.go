package output

// document is the structured form shared by the JSON and YAML formatters.
type document struct {
	State    string    `json:"state" yaml:"state"`
	Bias     *int      `json:"bias" yaml:"bias"`
	Matching int       `json:"matching" yaml:"matching"`
	Tunables []Tunable `json:"tunables" yaml:"tunables"`
}

func newDocument(r *Report) document {
	doc := document{
		State:    r.State.String(),
		Matching: r.Matching(),
		Tunables: r.Tunables,
	}
	if r.Bias != nil {
		bias := int(*r.Bias)
		doc.Bias = &bias
	}
	if doc.Tunables == nil {
		doc.Tunables = []Tunable{}
	}
	return doc
}
