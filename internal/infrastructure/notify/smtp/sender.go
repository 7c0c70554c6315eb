package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/resilience"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Sender struct {
	cfg      Config
	executor *resilience.Executor
	send     sendFunc
	now      func() time.Time
}

func NewSender(cfg Config, executor *resilience.Executor) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Sender{
		cfg:      cfg,
		executor: executor,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

func (s *Sender) SendAppointmentConfirmation(ctx context.Context, n domain.AppointmentNotification) error {
	if strings.TrimSpace(n.RecipientEmail) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "smtp send", errors.New("recipient email is required"))
	}
	msg, err := s.compose(n)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	call := func(context.Context) error {
		return s.send(addr, auth, s.cfg.From, []string{n.RecipientEmail}, msg)
	}

	if s.executor != nil {
		err = s.executor.Execute(ctx, "smtp.send", call, classifySMTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if classifySMTPError(err).Retryable {
			return domain.WrapError(domain.ErrTemporary, "smtp send", err)
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *Sender) compose(n domain.AppointmentNotification) ([]byte, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{{Name: s.cfg.FromName, Address: s.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Name: n.RecipientName, Address: n.RecipientEmail}})
	h.SetSubject(fmt.Sprintf("Appointment confirmation for request #%d", n.RequestID))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := w.Write([]byte(confirmationBody(n))); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func confirmationBody(n domain.AppointmentNotification) string {
	var b strings.Builder
	greeting := "Dear applicant"
	if n.RecipientName != "" {
		greeting = "Dear " + n.RecipientName
	}
	fmt.Fprintf(&b, "%s,\n\n", greeting)
	fmt.Fprintf(&b, "Your appointment for request #%d has been scheduled.\n\n", n.RequestID)
	fmt.Fprintf(&b, "Date: %s\n", n.Date.Format("Monday, 02 January 2006"))
	fmt.Fprintf(&b, "Time: %s\n", n.TimeLabel)
	fmt.Fprintf(&b, "Location: %s\n", n.Location)
	if len(n.RequiredDocuments) > 0 {
		b.WriteString("\nPlease bring the following documents:\n")
		for _, doc := range n.RequiredDocuments {
			fmt.Fprintf(&b, "- %s\n", doc)
		}
	}
	b.WriteString("\nPlease arrive 10 minutes early.\n")
	return b.String()
}

// classifySMTPError retries 4xx replies and network failures; 5xx replies are permanent.
func classifySMTPError(err error) resilience.ErrorClassification {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyTransport(err)
}
