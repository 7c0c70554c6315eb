package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

func newEvaluatorForTest(judge *judgeFake, vectors *vectorFake, observer *observerFake) *ComplianceEvaluator {
	return NewComplianceEvaluator(&embedderFake{}, vectors, judge, domain.DefaultGuidelineRoutes(), 3, observer)
}

func TestEvaluateKeywordEvidenceOverridesJudgment(t *testing.T) {
	judge := &judgeFake{compliance: `{"is_compliant": false, "compliance_score": 10,
		"present_documents": [], "missing_documents": ["passport", "visa"],
		"required_documents": ["passport", "visa"], "issues": ["no passport"]}`}
	vectors := &vectorFake{passages: []domain.Passage{guidelinePassage("residence_permit.txt", residenceGuideline)}}

	verdict, err := newEvaluatorForTest(judge, vectors, nil).Evaluate(context.Background(),
		"Subject: residence permit extension\n\nAttached: passport copy.", nil, string(domain.CategoryResidencePermitExtension))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if strings.Join(verdict.RequiredDocuments, ",") != "passport" {
		t.Fatalf("required = %v, want [passport]", verdict.RequiredDocuments)
	}
	if !containsFold(verdict.PresentDocuments, "passport") {
		t.Fatalf("present = %v, want passport", verdict.PresentDocuments)
	}
	if !verdict.IsCompliant || verdict.Score != 100 || len(verdict.MissingDocuments) != 0 {
		t.Fatalf("verdict = %+v, want compliant with score 100", verdict)
	}
	if len(verdict.Guidelines) != 1 || verdict.Guidelines[0] != "residence_permit.txt" {
		t.Fatalf("guidelines = %v", verdict.Guidelines)
	}
}

func TestEvaluateMissingRequiredDocument(t *testing.T) {
	judge := &judgeFake{compliance: `{"is_compliant": true, "compliance_score": 95,
		"present_documents": [], "missing_documents": [], "required_documents": []}`}
	vectors := &vectorFake{passages: []domain.Passage{guidelinePassage("residence_permit.txt", residenceGuideline)}}

	verdict, err := newEvaluatorForTest(judge, vectors, nil).Evaluate(context.Background(),
		"Subject: residence permit extension\n\nPlease extend my stay.", nil, "")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if strings.Join(verdict.MissingDocuments, ",") != "passport" {
		t.Fatalf("missing = %v, want [passport]", verdict.MissingDocuments)
	}
	if verdict.IsCompliant || verdict.Score != 0 {
		t.Fatalf("verdict = %+v, want non-compliant with score 0", verdict)
	}
}

func TestEvaluateUnparsableJudgmentFallsBack(t *testing.T) {
	judge := &judgeFake{compliance: "After review the submission is not compliant."}
	vectors := &vectorFake{passages: []domain.Passage{guidelinePassage("general.txt", "Visits are by appointment only.")}}
	observer := newObserverFake()

	verdict, err := newEvaluatorForTest(judge, vectors, observer).Evaluate(context.Background(), "Subject: question", nil, "")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if verdict.IsCompliant || verdict.Score != 30 {
		t.Fatalf("verdict = %+v, want non-compliant with score 30", verdict)
	}
	if !verdict.Degraded {
		t.Fatalf("expected degraded verdict")
	}
	if observer.fallbacks["compliance"] != 1 {
		t.Fatalf("fallbacks = %v", observer.fallbacks)
	}
}

func TestEvaluateDropsRequirementsAbsentFromGuideline(t *testing.T) {
	judge := &judgeFake{compliance: `{"is_compliant": false, "compliance_score": 50,
		"present_documents": ["birth certificate"], "missing_documents": ["police clearance"],
		"required_documents": ["birth certificate", "police clearance"]}`}
	vectors := &vectorFake{passages: []domain.Passage{
		guidelinePassage("family.txt", "Required documents:\n- Birth certificate\n"),
	}}

	verdict, err := newEvaluatorForTest(judge, vectors, nil).Evaluate(context.Background(),
		"Attached: birth certificate.", nil, "")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if strings.Join(verdict.RequiredDocuments, ",") != "birth certificate" {
		t.Fatalf("required = %v, want [birth certificate]", verdict.RequiredDocuments)
	}
	if !verdict.IsCompliant || verdict.Score != 100 || len(verdict.MissingDocuments) != 0 {
		t.Fatalf("verdict = %+v, want compliant with score 100", verdict)
	}
}

func TestEvaluateWithoutGuidelineRequiresNothing(t *testing.T) {
	judge := &judgeFake{compliance: `{"is_compliant": false, "compliance_score": 0,
		"present_documents": [], "missing_documents": ["passport"], "required_documents": ["passport"]}`}

	verdict, err := newEvaluatorForTest(judge, &vectorFake{}, nil).Evaluate(context.Background(), "Hello", nil, "")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(verdict.RequiredDocuments) != 0 || len(verdict.MissingDocuments) != 0 {
		t.Fatalf("verdict = %+v, want no required or missing documents", verdict)
	}
	if verdict.IsCompliant != (len(verdict.MissingDocuments) == 0) {
		t.Fatalf("is_compliant=%v missing=%v", verdict.IsCompliant, verdict.MissingDocuments)
	}
}

func TestEvaluateMatchesPassportNextToUnicodePunctuation(t *testing.T) {
	for _, text := range []string{"Attached: passport\u00a0copy.", "Here is my passport’s photo page.", "Documents: «passport»"} {
		judge := &judgeFake{compliance: `{"is_compliant": false, "present_documents": []}`}
		vectors := &vectorFake{passages: []domain.Passage{guidelinePassage("residence_permit.txt", residenceGuideline)}}
		verdict, err := newEvaluatorForTest(judge, vectors, nil).Evaluate(context.Background(), text, nil, "")
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if !verdict.IsCompliant || verdict.Score != 100 {
			t.Fatalf("Evaluate(%q) = %+v, want compliant with score 100", text, verdict)
		}
	}
}

func TestTruncateUTF8KeepsCharactersWhole(t *testing.T) {
	got := truncateUTF8("abcé", 4)
	if got != "abc" {
		t.Fatalf("truncateUTF8() = %q, want %q", got, "abc")
	}
	if got := truncateUTF8("passport", 20); got != "passport" {
		t.Fatalf("truncateUTF8() = %q", got)
	}
	prompt := buildCompliancePrompt(strings.Repeat("ü", maxPromptSubmission), nil)
	if !utf8.ValidString(prompt) {
		t.Fatalf("prompt is not valid UTF-8")
	}
}

func TestFallbackVerdictPositiveOnly(t *testing.T) {
	verdict := fallbackComplianceVerdict("The application is complete and acceptable.")
	if !verdict.IsCompliant || verdict.Score != 100 {
		t.Fatalf("verdict = %+v, want compliant 100", verdict)
	}
	tie := fallbackComplianceVerdict("Complete, but the photo is missing.")
	if tie.IsCompliant || tie.Score != 30 {
		t.Fatalf("tie verdict = %+v, want non-compliant 30", tie)
	}
}

func TestEvaluateHintConstrainsRetrieval(t *testing.T) {
	judge := &judgeFake{compliance: `{"is_compliant": true}`}
	vectors := &vectorFake{passages: []domain.Passage{guidelinePassage("residence_permit.txt", residenceGuideline)}}
	evaluator := newEvaluatorForTest(judge, vectors, nil)

	if _, err := evaluator.Evaluate(context.Background(), "text", nil, string(domain.CategoryResidencePermitExtension)); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if _, err := evaluator.Evaluate(context.Background(), "text", nil, ""); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if vectors.limits[0] != 1 || vectors.filters[0].Name != "residence_permit.txt" {
		t.Fatalf("hinted search = limit %d filter %+v", vectors.limits[0], vectors.filters[0])
	}
	if vectors.limits[1] != 3 || vectors.filters[1].Name != "" || vectors.filters[1].Type != domain.IndexTypeGuideline {
		t.Fatalf("open search = limit %d filter %+v", vectors.limits[1], vectors.filters[1])
	}
}

func TestEvaluatePromptMarksPrimaryGuideline(t *testing.T) {
	judge := &judgeFake{compliance: `{"is_compliant": true}`}
	vectors := &vectorFake{passages: []domain.Passage{
		guidelinePassage("a.txt", "first guideline"),
		guidelinePassage("b.txt", "second guideline"),
	}}

	if _, err := newEvaluatorForTest(judge, vectors, nil).Evaluate(context.Background(), "text", []string{"doc text"}, ""); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	prompt := judge.prompts[0]
	primary := strings.Index(prompt, "PRIMARY GUIDELINE")
	reference := strings.Index(prompt, "OTHER GUIDELINES (FOR REFERENCE ONLY)")
	if primary < 0 || reference < primary {
		t.Fatalf("prompt does not mark primary and reference guidelines:\n%s", prompt)
	}
	if !strings.Contains(prompt, "doc text") {
		t.Fatalf("prompt misses document text")
	}
}

func TestEvaluateReturnsTransportErrors(t *testing.T) {
	vectors := &vectorFake{searchErr: errUnavailable}
	_, err := newEvaluatorForTest(&judgeFake{}, vectors, nil).Evaluate(context.Background(), "text", nil, "")
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("expected search error, got %v", err)
	}

	judge := &judgeFake{err: errUnavailable}
	_, err = newEvaluatorForTest(judge, &vectorFake{}, nil).Evaluate(context.Background(), "text", nil, "")
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("expected judge error, got %v", err)
	}
}

func TestParseComplianceJudgmentToleratesWrapping(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"is_compliant\": \"yes\", \"compliance_score\": \"80%\", \"issues\": [{\"doc\": \"photo\"}]}\n```"
	verdict, err := parseComplianceJudgment(raw)
	if err != nil {
		t.Fatalf("parseComplianceJudgment() error = %v", err)
	}
	if !verdict.IsCompliant || verdict.Score != 80 {
		t.Fatalf("verdict = %+v", verdict)
	}
	if len(verdict.Issues) != 1 || !strings.Contains(verdict.Issues[0], "photo") {
		t.Fatalf("issues = %v", verdict.Issues)
	}

	if _, err := parseComplianceJudgment(`{"score": 1}`); !domain.IsKind(err, domain.ErrJudgmentUnparsable) {
		t.Fatalf("expected ErrJudgmentUnparsable, got %v", err)
	}
}

func TestCorrectVerdictInvariant(t *testing.T) {
	cases := []struct {
		name      string
		verdict   domain.ComplianceVerdict
		guideline string
		text      string
	}{
		{
			name:      "judged compliant but missing",
			verdict:   domain.ComplianceVerdict{IsCompliant: true, Score: 90},
			guideline: "Required documents:\n- passport\n- health insurance\n",
			text:      "I attach my passport.",
		},
		{
			name:      "judged missing but present",
			verdict:   domain.ComplianceVerdict{MissingDocuments: []string{"Passport"}},
			guideline: "Required documents:\n1. passport\n",
			text:      "passport no 1234",
		},
		{
			name:    "no guideline list",
			verdict: domain.ComplianceVerdict{IsCompliant: true, Score: 40, MissingDocuments: []string{"photo"}},
			text:    "hello",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := correctVerdict(tc.verdict, tc.guideline, tc.text)
			if got.IsCompliant != (len(got.MissingDocuments) == 0) {
				t.Fatalf("is_compliant=%v missing=%v", got.IsCompliant, got.MissingDocuments)
			}
			if got.IsCompliant && got.Score != 100 {
				t.Fatalf("compliant score = %v", got.Score)
			}
		})
	}
}

func containsFold(items []string, want string) bool {
	for _, item := range items {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}
