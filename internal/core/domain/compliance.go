package domain

import "strings"

// ComplianceVerdict is merged into a Request after evaluation.
type ComplianceVerdict struct {
	IsCompliant       bool     `json:"is_compliant"`
	Score             float64  `json:"compliance_score"`
	RequiredDocuments []string `json:"required_documents"`
	PresentDocuments  []string `json:"present_documents"`
	MissingDocuments  []string `json:"missing_documents"`
	Issues            []string `json:"issues,omitempty"`

	// Analysis keeps the raw judgment text for audit.
	Analysis string `json:"analysis,omitempty"`
	// Degraded is set when the judgment could not be parsed and the keyword fallback decided.
	Degraded   bool     `json:"degraded"`
	Guidelines []string `json:"relevant_guidelines,omitempty"`
}

type Categorization struct {
	Category    Category `json:"category"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation,omitempty"`
	KeyInfo     string   `json:"key_info,omitempty"`
	Raw         string   `json:"raw_response,omitempty"`
	Degraded    bool     `json:"degraded"`
}

// GuidelineRoute maps a request-type hint to exactly one guideline when all keywords match.
type GuidelineRoute struct {
	Hint      string   `yaml:"hint" json:"hint"`
	Keywords  []string `yaml:"keywords" json:"keywords"`
	Guideline string   `yaml:"guideline" json:"guideline"`
}

type GuidelineRoutes []GuidelineRoute

// DefaultGuidelineRoutes is used when no routing file is configured.
func DefaultGuidelineRoutes() GuidelineRoutes {
	return GuidelineRoutes{
		{
			Hint:      string(CategoryResidencePermitExtension),
			Keywords:  []string{"residence permit", "extension"},
			Guideline: "residence_permit.txt",
		},
	}
}

// Match returns the first route whose keywords all occur in text (case-insensitive).
func (r GuidelineRoutes) Match(text string) (GuidelineRoute, bool) {
	lower := strings.ToLower(text)
	for _, route := range r {
		if len(route.Keywords) == 0 {
			continue
		}
		matched := true
		for _, kw := range route.Keywords {
			if !strings.Contains(lower, strings.ToLower(kw)) {
				matched = false
				break
			}
		}
		if matched {
			return route, true
		}
	}
	return GuidelineRoute{}, false
}

// Guideline returns the single guideline bound to hint, if any.
func (r GuidelineRoutes) Guideline(hint string) string {
	if hint == "" {
		return ""
	}
	for _, route := range r {
		if route.Hint == hint {
			return route.Guideline
		}
	}
	return ""
}
