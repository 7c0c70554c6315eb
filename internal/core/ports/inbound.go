package ports

import (
	"context"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

// RequestProcessor advances one persisted request through the pipeline stages.
type RequestProcessor interface {
	Run(ctx context.Context, requestID int64) (*domain.Request, error)
}

// IntakeGate decides whether an inbound message starts a new request.
type IntakeGate interface {
	Admit(ctx context.Context, msg domain.InboundMessage, now time.Time) (domain.Admission, error)
}

// BatchRunner processes a batch of inbound messages with isolated failures.
type BatchRunner interface {
	RunBatch(ctx context.Context, messages []domain.InboundMessage) []domain.Outcome
}

// IntakePoller pulls new messages from the mailbox and runs them.
type IntakePoller interface {
	Poll(ctx context.Context) ([]domain.Outcome, error)
}

// ReportReader is the read model exposed by the reporting API.
type ReportReader interface {
	GetRequest(ctx context.Context, id int64) (*domain.Request, error)
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error)
	ListDocuments(ctx context.Context, requestID int64) ([]domain.Document, error)
	GetAppointment(ctx context.Context, id int64) (*domain.Appointment, error)
	NextAvailable(ctx context.Context, now time.Time) (*domain.Slot, error)
	Stats(ctx context.Context, now time.Time) (domain.Stats, error)
}
