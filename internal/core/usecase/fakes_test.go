package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

const residenceGuideline = `Residence Permit Extension

Required documents:
- Valid passport

Processing time: 4 weeks.
`

type judgeFake struct {
	mu         sync.Mutex
	compliance string
	category   string
	err        error
	prompts    []string
}

func (f *judgeFake) Judge(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if strings.HasPrefix(prompt, "You categorize") {
		return f.category, nil
	}
	return f.compliance, nil
}

type embedderFake struct {
	err   error
	calls int
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type upsertCall struct {
	text     string
	metadata map[string]any
}

type vectorFake struct {
	mu        sync.Mutex
	passages  []domain.Passage
	searchErr error
	upsertErr error
	limits    []int
	filters   []domain.SearchFilter
	upserts   []upsertCall
}

func (f *vectorFake) Upsert(_ context.Context, text string, _ []float32, metadata map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	f.upserts = append(f.upserts, upsertCall{text: text, metadata: metadata})
	return "vec-" + strings.Repeat("x", len(f.upserts)), nil
}

func (f *vectorFake) Search(_ context.Context, _ []float32, limit int, filter domain.SearchFilter) ([]domain.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	f.filters = append(f.filters, filter)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.passages) > limit {
		return f.passages[:limit], nil
	}
	return f.passages, nil
}

func guidelinePassage(name, text string) domain.Passage {
	return domain.Passage{
		ID:       "g-" + name,
		Text:     text,
		Metadata: map[string]any{"type": domain.IndexTypeGuideline, "name": name},
		Score:    0.9,
	}
}

type extractorFake struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
	calls []string
}

func (f *extractorFake) Extract(_ context.Context, attachment domain.Attachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, attachment.Filename)
	if err := f.errs[attachment.Filename]; err != nil {
		return "", err
	}
	return f.texts[attachment.Filename], nil
}

type notifierFake struct {
	mu   sync.Mutex
	sent []domain.AppointmentNotification
	err  error
}

func (f *notifierFake) NotifyAppointment(_ context.Context, n domain.AppointmentNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type observerFake struct {
	mu        sync.Mutex
	started   int
	finished  map[domain.OutcomeKind]int
	stages    map[string]int
	allocs    map[string]int
	fallbacks map[string]int
}

func newObserverFake() *observerFake {
	return &observerFake{
		finished:  make(map[domain.OutcomeKind]int),
		stages:    make(map[string]int),
		allocs:    make(map[string]int),
		fallbacks: make(map[string]int),
	}
}

func (o *observerFake) StartRun() {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *observerFake) FinishRun(outcome domain.OutcomeKind, _ time.Duration) {
	o.mu.Lock()
	o.finished[outcome]++
	o.mu.Unlock()
}

func (o *observerFake) ObserveStage(stage string, _ time.Duration, _ error) {
	o.mu.Lock()
	o.stages[stage]++
	o.mu.Unlock()
}

func (o *observerFake) ObserveAllocation(result string) {
	o.mu.Lock()
	o.allocs[result]++
	o.mu.Unlock()
}

func (o *observerFake) ObserveJudgmentFallback(component string) {
	o.mu.Lock()
	o.fallbacks[component]++
	o.mu.Unlock()
}

var errUnavailable = errors.New("collaborator unavailable")
