package domain

import "time"

// InboundMessage is one raw message handed over by the mailbox transport.
type InboundMessage struct {
	MessageID   string       `json:"message_id"`
	Sender      string       `json:"sender"`
	SenderName  string       `json:"sender_name,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	ReceivedAt  time.Time    `json:"received_at"`
}

type Admission struct {
	New       bool  `json:"new"`
	RequestID int64 `json:"request_id"`
}

type OutcomeKind string

const (
	OutcomeProcessed        OutcomeKind = "processed"
	OutcomeSkippedDuplicate OutcomeKind = "skipped_duplicate"
	OutcomeSkippedFiltered  OutcomeKind = "skipped_filtered"
	OutcomeError            OutcomeKind = "error"
)

type Outcome struct {
	MessageID string        `json:"message_id"`
	Kind      OutcomeKind   `json:"kind"`
	RequestID int64         `json:"request_id,omitempty"`
	Status    RequestStatus `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// PipelineLimits bounds every blocking call the pipeline makes.
type PipelineLimits struct {
	Workers           int           `json:"workers"`
	MessageTimeout    time.Duration `json:"message_timeout"`
	ExtractTimeout    time.Duration `json:"extract_timeout"`
	RetrievalTimeout  time.Duration `json:"retrieval_timeout"`
	JudgmentTimeout   time.Duration `json:"judgment_timeout"`
	AllocationTimeout time.Duration `json:"allocation_timeout"`
	NotifyTimeout     time.Duration `json:"notify_timeout"`
}

func DefaultPipelineLimits() PipelineLimits {
	return PipelineLimits{
		Workers:           4,
		MessageTimeout:    5 * time.Minute,
		ExtractTimeout:    30 * time.Second,
		RetrievalTimeout:  30 * time.Second,
		JudgmentTimeout:   90 * time.Second,
		AllocationTimeout: 10 * time.Second,
		NotifyTimeout:     10 * time.Second,
	}
}

// Normalize fills zero fields from the defaults.
func (l PipelineLimits) Normalize() PipelineLimits {
	def := DefaultPipelineLimits()
	if l.Workers <= 0 {
		l.Workers = def.Workers
	}
	if l.MessageTimeout <= 0 {
		l.MessageTimeout = def.MessageTimeout
	}
	if l.ExtractTimeout <= 0 {
		l.ExtractTimeout = def.ExtractTimeout
	}
	if l.RetrievalTimeout <= 0 {
		l.RetrievalTimeout = def.RetrievalTimeout
	}
	if l.JudgmentTimeout <= 0 {
		l.JudgmentTimeout = def.JudgmentTimeout
	}
	if l.AllocationTimeout <= 0 {
		l.AllocationTimeout = def.AllocationTimeout
	}
	if l.NotifyTimeout <= 0 {
		l.NotifyTimeout = def.NotifyTimeout
	}
	return l
}
