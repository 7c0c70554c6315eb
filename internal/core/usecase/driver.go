package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

// DefaultIntakeKeywords select messages that look like immigration requests.
var DefaultIntakeKeywords = []string{
	"residence permit",
	"residence permit extension",
	"visa extension",
	"immigration visa",
	"immigration visa extension",
	"permit extension",
	"extend residence",
	"extend visa",
	"immigration office",
	"immigration application",
	"residence card",
	"residence permit renewal",
}

// IntakeFilter drops messages that are clearly not requests. Both rules are heuristics.
type IntakeFilter struct {
	Keywords  []string
	TodayOnly bool
	Location  *time.Location
}

// Accept reports whether msg should enter the pipeline, with a reason when it should not.
func (f IntakeFilter) Accept(msg domain.InboundMessage, now time.Time) (bool, string) {
	if f.TodayOnly && !msg.ReceivedAt.IsZero() {
		loc := f.Location
		if loc == nil {
			loc = time.Local
		}
		y1, m1, d1 := msg.ReceivedAt.In(loc).Date()
		y2, m2, d2 := now.In(loc).Date()
		if y1 != y2 || m1 != m2 || d1 != d2 {
			return false, "not received today"
		}
	}
	if len(f.Keywords) == 0 {
		return true, ""
	}
	text := strings.ToLower(msg.Subject + " " + msg.Body)
	for _, kw := range f.Keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true, ""
		}
	}
	return false, "no immigration keywords"
}

type PipelineDriver struct {
	gate     ports.IntakeGate
	machine  ports.RequestProcessor
	filter   IntakeFilter
	limits   domain.PipelineLimits
	observer ports.PipelineObserver
	now      func() time.Time
}

func NewPipelineDriver(
	gate ports.IntakeGate,
	machine ports.RequestProcessor,
	filter IntakeFilter,
	limits domain.PipelineLimits,
	observer ports.PipelineObserver,
) *PipelineDriver {
	return &PipelineDriver{
		gate:     gate,
		machine:  machine,
		filter:   filter,
		limits:   limits.Normalize(),
		observer: observer,
		now:      time.Now,
	}
}

// RunBatch processes messages concurrently and returns one outcome per message, in input order.
// A failing message never cancels its siblings.
func (d *PipelineDriver) RunBatch(ctx context.Context, messages []domain.InboundMessage) []domain.Outcome {
	outcomes := make([]domain.Outcome, len(messages))

	var g errgroup.Group
	g.SetLimit(d.limits.Workers)
	for i := range messages {
		g.Go(func() error {
			outcomes[i] = d.runOne(ctx, messages[i])
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *PipelineDriver) runOne(ctx context.Context, msg domain.InboundMessage) (outcome domain.Outcome) {
	started := time.Now()
	if d.observer != nil {
		d.observer.StartRun()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline_panic", "message_id", msg.MessageID, "panic", r, "stack", string(debug.Stack()))
			outcome = domain.Outcome{
				MessageID: msg.MessageID,
				Kind:      domain.OutcomeError,
				RequestID: outcome.RequestID,
				Error:     fmt.Sprintf("panic: %v", r),
			}
		}
		if d.observer != nil {
			d.observer.FinishRun(outcome.Kind, time.Since(started))
		}
	}()

	outcome = domain.Outcome{MessageID: msg.MessageID}
	if err := ctx.Err(); err != nil {
		outcome.Kind = domain.OutcomeError
		outcome.Error = err.Error()
		return outcome
	}

	now := d.now()
	if ok, reason := d.filter.Accept(msg, now); !ok {
		slog.Info("message_filtered", "message_id", msg.MessageID, "reason", reason)
		outcome.Kind = domain.OutcomeSkippedFiltered
		return outcome
	}

	msgCtx, cancel := context.WithTimeout(ctx, d.limits.MessageTimeout)
	defer cancel()

	admission, err := d.gate.Admit(msgCtx, msg, now)
	if err != nil {
		slog.Warn("message_admit_failed", "message_id", msg.MessageID, "error", err)
		outcome.Kind = domain.OutcomeError
		outcome.Error = err.Error()
		return outcome
	}
	outcome.RequestID = admission.RequestID
	if !admission.New {
		slog.Info("message_duplicate", "message_id", msg.MessageID, "request_id", admission.RequestID)
		outcome.Kind = domain.OutcomeSkippedDuplicate
		return outcome
	}

	req, err := d.machine.Run(msgCtx, admission.RequestID)
	if req != nil {
		outcome.Status = req.Status
	}
	if err != nil {
		outcome.Kind = domain.OutcomeError
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Kind = domain.OutcomeProcessed
	slog.Info("message_processed",
		"message_id", msg.MessageID,
		"request_id", admission.RequestID,
		"status", outcome.Status,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return outcome
}
