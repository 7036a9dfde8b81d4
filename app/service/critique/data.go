package critique

type ArgumentKind string

const (
	ArgumentIssue ArgumentKind = "issue"
	ArgumentGood  ArgumentKind = "good"
)

type Solution struct {
	Title       string  `json:"title"`
	Explanation *string `json:"explanation,omitempty"`
}

type Argument struct {
	Text string       `json:"text"`
	Kind ArgumentKind `json:"kind"`
}

type Category struct {
	Title     string     `json:"title"`
	Arguments []Argument `json:"arguments"`
}

type Header struct {
	Product  *string `json:"product,omitempty"`
	Industry *string `json:"industry,omitempty"`
	Platform *string `json:"platform,omitempty"`
}

// Document is the structured view of a single reply. It is recomputed from
// the reply text on demand and carries no identity.
type Document struct {
	Solutions      []Solution `json:"solutions"`
	Categories     []Category `json:"categories"`
	Recommendation *string    `json:"recommendation,omitempty"`
	Punchline      *string    `json:"punchline,omitempty"`
	Bullets        []string   `json:"bullets"`
	Header         *Header    `json:"header,omitempty"`
}

// IsEmpty reports whether no structured field was recognized, in which case
// the raw text should be shown instead.
func (d *Document) IsEmpty() bool {
	return len(d.Solutions) == 0 &&
		len(d.Categories) == 0 &&
		d.Recommendation == nil &&
		d.Punchline == nil &&
		len(d.Bullets) == 0 &&
		d.Header == nil
}

// TopSolutions returns at most n solutions in source order.
func (d *Document) TopSolutions(n int) []Solution {
	if n < 0 || len(d.Solutions) <= n {
		return d.Solutions
	}

	return d.Solutions[:n]
}
