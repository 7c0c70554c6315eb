package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const DefaultIntakeBatchLimit = 10

type IntakeUseCase struct {
	mailbox ports.Mailbox
	runner  ports.BatchRunner
	limit   int
}

func NewIntakeUseCase(mailbox ports.Mailbox, runner ports.BatchRunner, limit int) *IntakeUseCase {
	if limit <= 0 {
		limit = DefaultIntakeBatchLimit
	}
	return &IntakeUseCase{mailbox: mailbox, runner: runner, limit: limit}
}

// Poll fetches unread messages and runs them. Messages whose run ended in an error stay unread
// so the next poll retries them.
func (uc *IntakeUseCase) Poll(ctx context.Context) ([]domain.Outcome, error) {
	messages, err := uc.mailbox.FetchNewMessages(ctx, uc.limit)
	if err != nil {
		return nil, fmt.Errorf("fetch new messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	outcomes := uc.runner.RunBatch(ctx, messages)
	for _, outcome := range outcomes {
		if outcome.Kind == domain.OutcomeError || outcome.MessageID == "" {
			continue
		}
		if err := uc.mailbox.MarkRead(ctx, outcome.MessageID); err != nil {
			slog.Warn("mark_read_failed", "message_id", outcome.MessageID, "error", err)
		}
	}

	counts := make(map[domain.OutcomeKind]int, 4)
	for _, outcome := range outcomes {
		counts[outcome.Kind]++
	}
	slog.Info("intake_poll_completed",
		"fetched", len(messages),
		"processed", counts[domain.OutcomeProcessed],
		"duplicates", counts[domain.OutcomeSkippedDuplicate],
		"filtered", counts[domain.OutcomeSkippedFiltered],
		"errors", counts[domain.OutcomeError],
	)
	return outcomes, nil
}
