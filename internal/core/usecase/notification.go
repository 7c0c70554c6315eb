package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

// NotificationDispatcher delivers queued appointment confirmations.
type NotificationDispatcher struct {
	sender   ports.NotificationSender
	timeout  time.Duration
	observer func(error)
}

func NewNotificationDispatcher(sender ports.NotificationSender, timeout time.Duration, observer func(error)) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = domain.DefaultPipelineLimits().NotifyTimeout
	}
	return &NotificationDispatcher{sender: sender, timeout: timeout, observer: observer}
}

func (d *NotificationDispatcher) Deliver(ctx context.Context, n domain.AppointmentNotification) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sender.SendAppointmentConfirmation(sendCtx, n)
	if d.observer != nil {
		d.observer(err)
	}
	if err != nil {
		return err
	}
	slog.Info("appointment_confirmation_sent",
		"request_id", n.RequestID,
		"appointment_id", n.AppointmentID,
	)
	return nil
}
