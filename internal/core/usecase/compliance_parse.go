package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

const (
	fallbackScoreCompliant    = 100.0
	fallbackScoreNonCompliant = 30.0
)

var (
	negativeIndicators = compilePhrases(
		"not compliant", "non-compliant", "non compliant",
		"missing", "incomplete", "insufficient",
		"does not meet", "doesn't meet", "fails to",
		"rejected", "rejection", "cannot be approved",
	)
	positiveIndicators = compilePhrases(
		"is compliant", "fully compliant", "meets requirements",
		"all required", "complete", "sufficient",
		"approved", "acceptable", "valid",
	)
)

func compilePhrases(phrases ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, regexp.MustCompile(`(^|[^\pL\pN-])`+regexp.QuoteMeta(p)+`($|[^\pL\pN-])`))
	}
	return out
}

type judgedCompliance struct {
	IsCompliant       json.RawMessage `json:"is_compliant"`
	ComplianceScore   json.RawMessage `json:"compliance_score"`
	PresentDocuments  []string        `json:"present_documents"`
	MissingDocuments  []string        `json:"missing_documents"`
	RequiredDocuments []string        `json:"required_documents"`
	Issues            []any           `json:"issues"`
}

// parseComplianceJudgment decodes the first JSON object carrying is_compliant.
func parseComplianceJudgment(raw string) (domain.ComplianceVerdict, error) {
	for _, candidate := range jsonObjectCandidates(raw) {
		var judged judgedCompliance
		if err := json.Unmarshal([]byte(candidate), &judged); err != nil {
			continue
		}
		if len(judged.IsCompliant) == 0 {
			continue
		}
		compliant, err := parseLooseBool(judged.IsCompliant)
		if err != nil {
			continue
		}
		score, _ := parseLooseNumber(judged.ComplianceScore)
		return domain.ComplianceVerdict{
			IsCompliant:       compliant,
			Score:             clampScore(score),
			PresentDocuments:  cleanList(judged.PresentDocuments),
			MissingDocuments:  cleanList(judged.MissingDocuments),
			RequiredDocuments: cleanList(judged.RequiredDocuments),
			Issues:            stringifyIssues(judged.Issues),
			Analysis:          raw,
		}, nil
	}
	return domain.ComplianceVerdict{}, domain.WrapError(
		domain.ErrJudgmentUnparsable,
		"parse compliance judgment",
		errors.New("no json object with is_compliant"),
	)
}

// fallbackComplianceVerdict classifies unstructured judgment text by phrase sets. Ties are non-compliant.
func fallbackComplianceVerdict(raw string) domain.ComplianceVerdict {
	lower := strings.ToLower(raw)
	hasNegative := matchesAny(lower, negativeIndicators)
	hasPositive := matchesAny(lower, positiveIndicators)

	compliant := hasPositive && !hasNegative
	score := fallbackScoreNonCompliant
	if compliant {
		score = fallbackScoreCompliant
	}
	return domain.ComplianceVerdict{
		IsCompliant:       compliant,
		Score:             score,
		RequiredDocuments: []string{},
		PresentDocuments:  []string{},
		MissingDocuments:  []string{},
		Issues:            []string{raw},
		Analysis:          raw,
		Degraded:          true,
	}
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// jsonObjectCandidates returns balanced {...} spans, outermost first.
func jsonObjectCandidates(raw string) []string {
	var out []string
	for start := 0; start < len(raw); start++ {
		if raw[start] != '{' {
			continue
		}
		if end := matchingBrace(raw, start); end > start {
			out = append(out, raw[start:end+1])
		}
	}
	return out
}

func matchingBrace(raw string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseLooseBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1", "compliant":
			return true, nil
		default:
			return false, nil
		}
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, nil
	}
	return false, fmt.Errorf("unsupported boolean value %s", string(raw))
}

func parseLooseNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errors.New("empty number")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	}
	return 0, fmt.Errorf("unsupported number value %s", string(raw))
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func stringifyIssues(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				out = append(out, v)
			}
		case nil:
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				out = append(out, string(raw))
			}
		}
	}
	return out
}
