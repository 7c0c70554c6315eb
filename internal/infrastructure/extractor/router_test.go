package extractor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

type storageFake struct {
	files  map[string][]byte
	opened []string
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.files[key] = raw
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.opened = append(s.opened, key)
	raw, ok := s.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func TestRouterExtractsPlainText(t *testing.T) {
	storage := &storageFake{files: map[string][]byte{"k1": []byte(" Passport scan, valid until 2030 ")}}
	text, err := NewRouter(storage).Extract(context.Background(), domain.Attachment{Filename: "Passport.TXT", StorageKey: "k1"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Passport scan, valid until 2030" {
		t.Fatalf("Extract() = %q", text)
	}
}

func TestRouterSkipsUnsupportedWithoutReading(t *testing.T) {
	storage := &storageFake{files: map[string][]byte{}}
	text, err := NewRouter(storage).Extract(context.Background(), domain.Attachment{Filename: "photo.jpg", ContentType: "image/jpeg", StorageKey: "k"})
	if err != nil || text != "" {
		t.Fatalf("Extract() = (%q, %v), want empty", text, err)
	}
	if len(storage.opened) != 0 {
		t.Fatalf("unsupported attachment should not be read")
	}
}

func TestRouterFallsBackToTextContentType(t *testing.T) {
	storage := &storageFake{files: map[string][]byte{"k": []byte("employment contract")}}
	text, err := NewRouter(storage).Extract(context.Background(), domain.Attachment{Filename: "contract", ContentType: "text/plain", StorageKey: "k"})
	if err != nil || text != "employment contract" {
		t.Fatalf("Extract() = (%q, %v)", text, err)
	}
}

func TestRouterReportsBrokenPDF(t *testing.T) {
	storage := &storageFake{files: map[string][]byte{"k": []byte("this is not a pdf")}}
	_, err := NewRouter(storage).Extract(context.Background(), domain.Attachment{Filename: "broken.pdf", StorageKey: "k"})
	if err == nil || !strings.Contains(err.Error(), "broken.pdf") {
		t.Fatalf("expected error naming the file, got %v", err)
	}
}

func TestRouterReportsMissingObject(t *testing.T) {
	_, err := NewRouter(&storageFake{files: map[string][]byte{}}).Extract(context.Background(), domain.Attachment{Filename: "a.txt", StorageKey: "missing"})
	if err == nil {
		t.Fatalf("expected error")
	}
}
