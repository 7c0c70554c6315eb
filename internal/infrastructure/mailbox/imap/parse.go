package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const maxBodyBytes = 1 << 20

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	unsafeFilenameSet = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// parseMessage decodes a raw RFC 5322 message and stores its attachments.
// fallbackID identifies messages that carry no Message-Id header.
func parseMessage(
	ctx context.Context,
	r io.Reader,
	fallbackID string,
	internalDate time.Time,
	storage ports.ObjectStorage,
) (domain.InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return domain.InboundMessage{}, fmt.Errorf("create mail reader: %w", err)
	}
	defer mr.Close()

	msg := domain.InboundMessage{
		MessageID:   fallbackID,
		Attachments: []domain.Attachment{},
		ReceivedAt:  internalDate.UTC(),
	}
	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		msg.MessageID = id
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
		msg.SenderName = from[0].Name
	}
	if msg.ReceivedAt.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			msg.ReceivedAt = date.UTC()
		}
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.InboundMessage{}, fmt.Errorf("read mime part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			raw, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if err != nil {
				return domain.InboundMessage{}, fmt.Errorf("read body part: %w", err)
			}
			switch {
			case contentType == "text/plain" && plain == "":
				plain = string(raw)
			case contentType == "text/html" && html == "":
				html = string(raw)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			attachment, err := storeAttachment(ctx, storage, msg.ReceivedAt, filename, contentType, part.Body)
			if err != nil {
				return domain.InboundMessage{}, err
			}
			msg.Attachments = append(msg.Attachments, attachment)
		}
	}

	msg.Body = strings.TrimSpace(plain)
	if msg.Body == "" && html != "" {
		msg.Body = strings.Join(strings.Fields(htmlTagPattern.ReplaceAllString(html, " ")), " ")
	}
	return msg, nil
}

func storeAttachment(
	ctx context.Context,
	storage ports.ObjectStorage,
	receivedAt time.Time,
	filename string,
	contentType string,
	body io.Reader,
) (domain.Attachment, error) {
	filename = strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if filename == "" || filename == "." || filename == "/" {
		filename = "attachment"
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	key := path.Join(
		receivedAt.Format("2006/01"),
		uuid.NewString(),
		unsafeFilenameSet.ReplaceAllString(filename, "_"),
	)
	if err := storage.Save(ctx, key, body); err != nil {
		return domain.Attachment{}, fmt.Errorf("store attachment %s: %w", filename, err)
	}
	return domain.Attachment{
		Filename:    filename,
		ContentType: contentType,
		StorageKey:  key,
	}, nil
}
