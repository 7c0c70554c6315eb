package usecase

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const DefaultDedupWindow = 24 * time.Hour

type DedupGate struct {
	repo   ports.RequestRepository
	window time.Duration
}

func NewDedupGate(repo ports.RequestRepository, window time.Duration) *DedupGate {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupGate{repo: repo, window: window}
}

// Admit reserves a pending request for msg unless the same sender and subject arrived within the window.
func (g *DedupGate) Admit(ctx context.Context, msg domain.InboundMessage, now time.Time) (domain.Admission, error) {
	sender := normalizeSender(msg.Sender)
	if sender == "" {
		return domain.Admission{}, domain.WrapError(domain.ErrInvalidInput, "admit message", fmt.Errorf("sender is required"))
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	req := &domain.Request{
		DedupKey:       DedupKey(msg.Sender, msg.Subject),
		RequesterEmail: sender,
		RequesterName:  strings.TrimSpace(msg.SenderName),
		Subject:        strings.TrimSpace(msg.Subject),
		Body:           msg.Body,
		Attachments:    msg.Attachments,
		Status:         domain.StatusPending,
		ReceivedAt:     receivedAt.UTC(),
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}

	id, created, err := g.repo.Reserve(ctx, req, now.Add(-g.window))
	if err != nil {
		return domain.Admission{}, fmt.Errorf("reserve request: %w", err)
	}
	return domain.Admission{New: created, RequestID: id}, nil
}

// DedupKey is stable across redeliveries: it ignores display names, case and repeated whitespace.
func DedupKey(sender, subject string) string {
	name := normalizeSender(sender) + "|" + normalizeSubject(subject)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+name)).String()
}

func normalizeSender(sender string) string {
	sender = strings.TrimSpace(sender)
	if addr, err := mail.ParseAddress(sender); err == nil {
		sender = addr.Address
	}
	return strings.ToLower(sender)
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.Join(strings.Fields(subject), " "))
}
