package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const (
	defaultGuidelineTopK = 3
	maxPromptSubmission  = 12000
)

type ComplianceEvaluator struct {
	embedder ports.Embedder
	vectorDB ports.VectorStore
	judge    ports.Judge
	routes   domain.GuidelineRoutes
	topK     int
	observer ports.PipelineObserver
}

func NewComplianceEvaluator(
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	judge ports.Judge,
	routes domain.GuidelineRoutes,
	topK int,
	observer ports.PipelineObserver,
) *ComplianceEvaluator {
	if topK <= 0 {
		topK = defaultGuidelineTopK
	}
	return &ComplianceEvaluator{
		embedder: embedder,
		vectorDB: vectorDB,
		judge:    judge,
		routes:   routes,
		topK:     topK,
		observer: observer,
	}
}

// Evaluate checks a submission against the retrieved guidelines. The judgment is advisory:
// the required-document list read from the primary guideline overrides it whenever present.
func (e *ComplianceEvaluator) Evaluate(
	ctx context.Context,
	submission string,
	documents []string,
	hint string,
) (domain.ComplianceVerdict, error) {
	combined := combineSubmission(submission, documents)

	passages, err := e.retrieve(ctx, combined, hint)
	if err != nil {
		return domain.ComplianceVerdict{}, err
	}

	raw, err := e.judge.Judge(ctx, buildCompliancePrompt(combined, passages))
	if err != nil {
		return domain.ComplianceVerdict{}, fmt.Errorf("judge compliance: %w", err)
	}

	verdict, parseErr := parseComplianceJudgment(raw)
	if parseErr != nil {
		slog.Warn("compliance_judgment_fallback", "error", parseErr)
		if e.observer != nil {
			e.observer.ObserveJudgmentFallback("compliance")
		}
		verdict = fallbackComplianceVerdict(raw)
	}

	var primary string
	if len(passages) > 0 {
		primary = passages[0].Text
	}
	verdict = correctVerdict(verdict, primary, combined)

	for _, p := range passages {
		name := p.Name()
		if name == "" {
			name = p.ID
		}
		verdict.Guidelines = append(verdict.Guidelines, name)
	}
	return verdict, nil
}

func (e *ComplianceEvaluator) retrieve(ctx context.Context, query, hint string) ([]domain.Passage, error) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed compliance query: %w", err)
	}

	filter := domain.SearchFilter{Type: domain.IndexTypeGuideline}
	limit := e.topK
	if name := e.routes.Guideline(hint); name != "" {
		filter.Name = name
		limit = 1
	}

	passages, err := e.vectorDB.Search(ctx, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search guidelines: %w", err)
	}
	return passages, nil
}

// truncateUTF8 cuts s to at most limit bytes without splitting a character.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// correctVerdict applies the deterministic override over the primary guideline text and
// recomputes the derived fields so is_compliant always agrees with missing_documents.
func correctVerdict(verdict domain.ComplianceVerdict, primaryGuideline, submission string) domain.ComplianceVerdict {
	if required := extractRequiredDocuments(primaryGuideline); len(required) > 0 {
		verdict.RequiredDocuments = required
	} else {
		verdict.RequiredDocuments = listedIn(verdict.RequiredDocuments, primaryGuideline)
	}
	verdict.PresentDocuments = unionFold(verdict.PresentDocuments, detectDocumentTypes(submission))

	if len(verdict.RequiredDocuments) == 0 {
		// The guideline lists nothing, so nothing can be missing. Only the keyword fallback
		// keeps its own flag, since it had no lists to work from.
		verdict.MissingDocuments = []string{}
		if !verdict.Degraded {
			verdict.IsCompliant = true
		}
		if verdict.IsCompliant {
			verdict.Score = 100
		}
		return ensureLists(verdict)
	}

	verdict.MissingDocuments = subtractFold(verdict.RequiredDocuments, verdict.PresentDocuments)
	verdict.IsCompliant = len(verdict.MissingDocuments) == 0
	if verdict.IsCompliant {
		verdict.Score = 100
	} else {
		total := float64(len(verdict.RequiredDocuments))
		verdict.Score = 100 * (total - float64(len(verdict.MissingDocuments))) / total
	}
	return ensureLists(verdict)
}

func ensureLists(v domain.ComplianceVerdict) domain.ComplianceVerdict {
	if v.RequiredDocuments == nil {
		v.RequiredDocuments = []string{}
	}
	if v.PresentDocuments == nil {
		v.PresentDocuments = []string{}
	}
	if v.MissingDocuments == nil {
		v.MissingDocuments = []string{}
	}
	return v
}

func combineSubmission(submission string, documents []string) string {
	parts := make([]string, 0, len(documents)+1)
	if s := strings.TrimSpace(submission); s != "" {
		parts = append(parts, s)
	}
	for _, d := range documents {
		if d = strings.TrimSpace(d); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n\n")
}

func buildGuidelineContext(passages []domain.Passage) string {
	switch len(passages) {
	case 0:
		return "(no guideline retrieved)"
	case 1:
		return passages[0].Text
	}
	others := make([]string, 0, len(passages)-1)
	for _, p := range passages[1:] {
		others = append(others, p.Text)
	}
	return "PRIMARY GUIDELINE (MOST RELEVANT - USE THIS FOR COMPLIANCE CHECK):\n" +
		passages[0].Text +
		"\n\n---\nOTHER GUIDELINES (FOR REFERENCE ONLY):\n" +
		strings.Join(others, "\n\n---\n\n")
}

func buildCompliancePrompt(submission string, passages []domain.Passage) string {
	submission = truncateUTF8(submission, maxPromptSubmission)
	return `You are an immigration office assistant checking a submission against official guidelines.
You MUST only use documents explicitly listed in the guidelines below. Do not add requirements from general knowledge.

STUDENT SUBMISSION:
` + submission + `

---

OFFICIAL GUIDELINES (USE ONLY THESE):
` + buildGuidelineContext(passages) + `

---

Rules:
1. required_documents: only documents explicitly listed in the primary guideline.
2. present_documents: documents evidenced anywhere in the submission (email body or attachment text).
3. missing_documents: required documents that are not present.
4. is_compliant is true only when missing_documents is empty.

Return strict JSON with keys:
is_compliant (boolean), compliance_score (number 0-100), present_documents (array of strings),
missing_documents (array of strings), required_documents (array of strings), issues (array of strings).
No markdown, no extra keys.
`
}
