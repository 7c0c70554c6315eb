package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const maxCategorizeDocumentChars = 4000

type Categorizer struct {
	judge    ports.Judge
	observer ports.PipelineObserver
}

func NewCategorizer(judge ports.Judge, observer ports.PipelineObserver) *Categorizer {
	return &Categorizer{judge: judge, observer: observer}
}

type judgedCategory struct {
	Category    string          `json:"category"`
	Confidence  json.RawMessage `json:"confidence"`
	Explanation string          `json:"explanation"`
	KeyInfo     json.RawMessage `json:"key_info"`
}

// Categorize never fails. Judgment and parse errors degrade to CategoryOther with zero confidence.
func (c *Categorizer) Categorize(ctx context.Context, subject, body string, documents []string) domain.Categorization {
	raw, err := c.judge.Judge(ctx, buildCategorizePrompt(subject, body, documents))
	if err != nil {
		slog.Warn("categorize_judge_failed", "error", err)
		c.fallback()
		return domain.Categorization{
			Category:    domain.CategoryOther,
			Explanation: "categorization unavailable",
			Raw:         err.Error(),
			Degraded:    true,
		}
	}

	cat, ok := parseCategorization(raw)
	if !ok {
		slog.Warn("categorize_parse_failed", "raw_len", len(raw))
		c.fallback()
		return domain.Categorization{
			Category: domain.CategoryOther,
			Raw:      raw,
			Degraded: true,
		}
	}
	return cat
}

func (c *Categorizer) fallback() {
	if c.observer != nil {
		c.observer.ObserveJudgmentFallback("categorizer")
	}
}

func parseCategorization(raw string) (domain.Categorization, bool) {
	for _, candidate := range jsonObjectCandidates(raw) {
		var judged judgedCategory
		if err := json.Unmarshal([]byte(candidate), &judged); err != nil {
			continue
		}
		if strings.TrimSpace(judged.Category) == "" {
			continue
		}
		confidence, _ := parseLooseNumber(judged.Confidence)
		return domain.Categorization{
			Category:    domain.ParseCategory(normalizeCategoryLabel(judged.Category)),
			Confidence:  normalizeConfidence(confidence),
			Explanation: strings.TrimSpace(judged.Explanation),
			KeyInfo:     flattenKeyInfo(judged.KeyInfo),
			Raw:         raw,
		}, true
	}
	return domain.Categorization{}, false
}

func normalizeCategoryLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.NewReplacer(" ", "_", "-", "_").Replace(label)
	return label
}

// normalizeConfidence accepts both 0-1 and 0-100 scales.
func normalizeConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func flattenKeyInfo(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func buildCategorizePrompt(subject, body string, documents []string) string {
	var docs strings.Builder
	for i, d := range documents {
		d = truncateUTF8(d, maxCategorizeDocumentChars)
		if i > 0 {
			docs.WriteString("\n\n")
		}
		docs.WriteString(d)
	}

	labels := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		labels = append(labels, string(c))
	}

	return `You categorize immigration requests sent by international students.

Subject: ` + subject + `

Body:
` + body + `

Attached documents:
` + docs.String() + `

Choose exactly one category from: ` + strings.Join(labels, ", ") + `.

Return strict JSON with keys:
category (string), confidence (number 0-1), explanation (string), key_info (string).
No markdown, no extra keys.
`
}
