package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

// RequestRepository persists request state. Status writes are conditional on the current status.
type RequestRepository interface {
	// Reserve creates a pending request unless one with the same dedup key was created after since.
	// It returns the reserved (or existing) request id and whether a new row was created.
	Reserve(ctx context.Context, req *domain.Request, since time.Time) (int64, bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Request, error)
	Transition(ctx context.Context, id int64, from, to domain.RequestStatus) error
	SaveCompliance(ctx context.Context, id int64, verdict domain.ComplianceVerdict) error
	// CompleteCategorization stores the categorization, clears the audit error and moves processing -> categorized.
	CompleteCategorization(ctx context.Context, id int64, cat domain.Categorization, processedAt time.Time) error
	// MarkScheduled links the appointment, clears the audit error and moves categorized -> appointment_scheduled.
	MarkScheduled(ctx context.Context, id int64, appointmentID int64) error
	RecordFailure(ctx context.Context, id int64, errMessage string) error
	List(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error)
	Stats(ctx context.Context, now time.Time) (domain.Stats, error)
}

type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	ListByRequest(ctx context.Context, requestID int64) ([]domain.Document, error)
}

// SlotStore owns slot capacity. Book must check and increment capacity atomically.
type SlotStore interface {
	NextAvailable(ctx context.Context, now time.Time) (*domain.Slot, error)
	// Book returns (nil, nil) when no slot is available. A request that already holds an
	// appointment gets that appointment back without consuming capacity.
	Book(ctx context.Context, booking domain.Booking) (*domain.Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*domain.Appointment, error)
	CreateSlots(ctx context.Context, slots []domain.Slot) (int, error)
}

// ObjectStorage stores raw attachments.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor returns "" for unreadable attachments; errors mean extraction itself broke.
type TextExtractor interface {
	Extract(ctx context.Context, attachment domain.Attachment) (string, error)
}

// Embedder builds vectors for indexed text and queries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore indexes passages and performs semantic search.
type VectorStore interface {
	Upsert(ctx context.Context, text string, vector []float32, metadata map[string]any) (string, error)
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.Passage, error)
}

// TextSplitter cuts long document text into passages that fit the embedding model.
type TextSplitter interface {
	Split(text string) []string
}

// Judge is a single-shot free-text generation call.
type Judge interface {
	Judge(ctx context.Context, prompt string) (string, error)
}

// Mailbox is the inbound message transport.
type Mailbox interface {
	FetchNewMessages(ctx context.Context, limit int) ([]domain.InboundMessage, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Notifier hands a notification to the delivery transport.
type Notifier interface {
	NotifyAppointment(ctx context.Context, n domain.AppointmentNotification) error
}

// NotificationSender delivers a notification to the recipient.
type NotificationSender interface {
	SendAppointmentConfirmation(ctx context.Context, n domain.AppointmentNotification) error
}

// NotificationQueue publishes and consumes notification events.
type NotificationQueue interface {
	Notifier
	SubscribeAppointments(ctx context.Context, handler func(context.Context, domain.AppointmentNotification) error) error
}

// PipelineObserver receives pipeline telemetry. Implementations must be safe for concurrent use.
type PipelineObserver interface {
	StartRun()
	FinishRun(outcome domain.OutcomeKind, duration time.Duration)
	ObserveStage(stage string, duration time.Duration, err error)
	ObserveAllocation(result string)
	ObserveJudgmentFallback(component string)
}
