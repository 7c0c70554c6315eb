package imap

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

type storageFake struct {
	saved map[string][]byte
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.saved[key] = raw
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.saved[key])), nil
}

const multipartMessage = "From: Anna Petrova <anna@example.com>\r\n" +
	"To: intake@office.example\r\n" +
	"Subject: Residence permit extension\r\n" +
	"Message-Id: <abc123@example.com>\r\n" +
	"Date: Mon, 02 Mar 2026 09:15:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please extend my residence permit.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Disposition: attachment; filename=\"../passport scan.txt\"\r\n" +
	"\r\n" +
	"PASSPORT No 123\r\n" +
	"--XYZ--\r\n"

func TestParseMessageExtractsHeadersBodyAndAttachments(t *testing.T) {
	storage := &storageFake{saved: map[string][]byte{}}
	internal := time.Date(2026, 3, 2, 9, 16, 0, 0, time.UTC)

	msg, err := parseMessage(context.Background(), strings.NewReader(multipartMessage), "uid:7", internal, storage)
	if err != nil {
		t.Fatalf("parseMessage() error = %v", err)
	}
	if msg.MessageID != "abc123@example.com" {
		t.Fatalf("message id = %q", msg.MessageID)
	}
	if msg.Sender != "anna@example.com" || msg.SenderName != "Anna Petrova" {
		t.Fatalf("sender = %q <%q>", msg.SenderName, msg.Sender)
	}
	if msg.Subject != "Residence permit extension" || msg.Body != "Please extend my residence permit." {
		t.Fatalf("subject/body = %q / %q", msg.Subject, msg.Body)
	}
	if !msg.ReceivedAt.Equal(internal) {
		t.Fatalf("received at = %v", msg.ReceivedAt)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	att := msg.Attachments[0]
	if att.Filename != "passport scan.txt" {
		t.Fatalf("filename = %q", att.Filename)
	}
	if !strings.HasPrefix(att.StorageKey, "2026/03/") || !strings.HasSuffix(att.StorageKey, "passport_scan.txt") {
		t.Fatalf("storage key = %q", att.StorageKey)
	}
	if got := strings.TrimSpace(string(storage.saved[att.StorageKey])); got != "PASSPORT No 123" {
		t.Fatalf("stored content = %q", got)
	}
}

func TestParseMessageFallsBackToUIDAndHTML(t *testing.T) {
	raw := "From: visitor@example.com\r\n" +
		"Subject: Work permit\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>I need a <b>work permit</b></p>\r\n"

	msg, err := parseMessage(context.Background(), strings.NewReader(raw), "uid:42", time.Time{}, &storageFake{saved: map[string][]byte{}})
	if err != nil {
		t.Fatalf("parseMessage() error = %v", err)
	}
	if msg.MessageID != "uid:42" {
		t.Fatalf("message id = %q", msg.MessageID)
	}
	if msg.Body != "I need a work permit" {
		t.Fatalf("body = %q", msg.Body)
	}
	if msg.Attachments == nil {
		t.Fatalf("attachments must be an empty list, not nil")
	}
}
