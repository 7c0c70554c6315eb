package usecase

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/repository/memory"
)

type mailboxFake struct {
	messages []domain.InboundMessage
	fetchErr error
	limit    int
	read     []string
}

func (m *mailboxFake) FetchNewMessages(_ context.Context, limit int) ([]domain.InboundMessage, error) {
	m.limit = limit
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.messages, nil
}

func (m *mailboxFake) MarkRead(_ context.Context, id string) error {
	m.read = append(m.read, id)
	return nil
}

type batchRunnerFake struct {
	outcomes []domain.Outcome
}

func (b *batchRunnerFake) RunBatch(context.Context, []domain.InboundMessage) []domain.Outcome {
	return b.outcomes
}

func TestPollMarksReadUnlessError(t *testing.T) {
	mailbox := &mailboxFake{messages: []domain.InboundMessage{{MessageID: "1"}, {MessageID: "2"}, {MessageID: "3"}, {MessageID: "4"}}}
	runner := &batchRunnerFake{outcomes: []domain.Outcome{
		{MessageID: "1", Kind: domain.OutcomeProcessed},
		{MessageID: "2", Kind: domain.OutcomeError},
		{MessageID: "3", Kind: domain.OutcomeSkippedDuplicate},
		{MessageID: "4", Kind: domain.OutcomeSkippedFiltered},
	}}

	outcomes, err := NewIntakeUseCase(mailbox, runner, 0).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	if mailbox.limit != DefaultIntakeBatchLimit {
		t.Fatalf("fetch limit = %d", mailbox.limit)
	}
	want := []string{"1", "3", "4"}
	if len(mailbox.read) != len(want) {
		t.Fatalf("marked read = %v, want %v", mailbox.read, want)
	}
	for i := range want {
		if mailbox.read[i] != want[i] {
			t.Fatalf("marked read = %v, want %v", mailbox.read, want)
		}
	}
}

func TestPollReturnsFetchError(t *testing.T) {
	mailbox := &mailboxFake{fetchErr: errUnavailable}
	if _, err := NewIntakeUseCase(mailbox, &batchRunnerFake{}, 5).Poll(context.Background()); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestPlanSlotsStartsTomorrowInOrder(t *testing.T) {
	now := time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC)
	slots := PlanSlots(now, 2, 3)
	if len(slots) != 2*len(DailySlotTimes) {
		t.Fatalf("slots = %d", len(slots))
	}
	first := slots[0]
	if first.Date != time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC) || first.MaxCapacity != 3 {
		t.Fatalf("first slot = %+v", first)
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].Date.After(slots[i-1].Date) {
			t.Fatalf("slots not chronological at %d", i)
		}
	}
}

func TestProvisionSkipsExistingSlots(t *testing.T) {
	store := memory.NewStore()
	provisioner := NewSlotProvisioner(store)

	created, err := provisioner.Provision(context.Background(), 3, 0)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if created != 3*len(DailySlotTimes) {
		t.Fatalf("created = %d", created)
	}
	again, err := provisioner.Provision(context.Background(), 3, 0)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if again != 0 {
		t.Fatalf("second provision created = %d, want 0", again)
	}
	if _, err := provisioner.Provision(context.Background(), 0, 1); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGuidelineLoaderIndexesTextFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"residence_permit.txt": {Data: []byte(residenceGuideline)},
		"work_permit.md":       {Data: []byte("Required documents:\n- employment contract\n")},
		"README.md":            {Data: []byte("how to write guidelines")},
		"logo.png":             {Data: []byte{0x89}},
		"empty.txt":            {Data: []byte("  ")},
	}
	vectors := &vectorFake{}

	names, err := NewGuidelineLoader(&embedderFake{}, vectors).LoadDir(context.Background(), fsys)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(names) != 2 || names[0] != "residence_permit.txt" || names[1] != "work_permit.md" {
		t.Fatalf("indexed = %v", names)
	}
	for _, call := range vectors.upserts {
		if call.metadata["type"] != domain.IndexTypeGuideline {
			t.Fatalf("metadata = %v", call.metadata)
		}
	}
	if vectors.upserts[0].metadata["name"] != "residence_permit.txt" {
		t.Fatalf("metadata = %v", vectors.upserts[0].metadata)
	}
}

func TestReportingListRequestsValidatesStatus(t *testing.T) {
	store := memory.NewStore()
	svc := NewReportingService(store, store, store)
	if _, err := svc.ListRequests(context.Background(), domain.RequestFilter{Status: "bogus"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetRequest(context.Background(), 42); !domain.IsKind(err, domain.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestReportingListsRequesterRequests(t *testing.T) {
	store := memory.NewStore()
	gate := NewDedupGate(store, time.Hour)
	now := time.Now()
	for _, msg := range []domain.InboundMessage{
		{Sender: "Anna <Anna@Example.com>", Subject: "Visa extension"},
		{Sender: "anna@example.com", Subject: "Work permit"},
		{Sender: "ben@example.com", Subject: "Visa extension"},
	} {
		if _, err := gate.Admit(context.Background(), msg, now); err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
	}

	svc := NewReportingService(store, store, store)
	requests, err := svc.ListRequests(context.Background(), domain.RequestFilter{RequesterEmail: " ANNA@example.com "})
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests for anna, got %+v", requests)
	}
	for _, req := range requests {
		if req.RequesterEmail != "anna@example.com" {
			t.Fatalf("unexpected requester %q", req.RequesterEmail)
		}
	}

	if _, err := svc.ListRequests(context.Background(), domain.RequestFilter{RequesterEmail: "not-an-address"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
