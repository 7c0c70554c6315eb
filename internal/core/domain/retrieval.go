package domain

const (
	IndexTypeGuideline       = "guideline"
	IndexTypeStudentDocument = "student_document"
)

// SearchFilter narrows retrieval by payload fields. Empty fields do not filter.
type SearchFilter struct {
	Type string
	Name string
}

type Passage struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Name returns the guideline name stored in the passage metadata.
func (p Passage) Name() string {
	if p.Metadata == nil {
		return ""
	}
	name, _ := p.Metadata["name"].(string)
	return name
}
