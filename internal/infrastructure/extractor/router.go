package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/extractor/spreadsheet"
)

const maxAttachmentBytes = 25 << 20

type extractFunc func([]byte) (string, error)

var byExtension = map[string]extractFunc{
	".txt":  plaintext.Extract,
	".md":   plaintext.Extract,
	".csv":  plaintext.Extract,
	".json": plaintext.Extract,
	".pdf":  pdf.Extract,
	".xlsx": spreadsheet.Extract,
}

// Router picks an extractor by file extension. Images and other unsupported
// types return "" and are represented by their filename downstream.
type Router struct {
	storage ports.ObjectStorage
}

func NewRouter(storage ports.ObjectStorage) *Router {
	return &Router{storage: storage}
}

func (r *Router) Extract(ctx context.Context, attachment domain.Attachment) (string, error) {
	fn, ok := byExtension[strings.ToLower(filepath.Ext(attachment.Filename))]
	if !ok {
		if strings.HasPrefix(attachment.ContentType, "text/") {
			fn = plaintext.Extract
		} else {
			return "", nil
		}
	}

	reader, err := r.storage.Open(ctx, attachment.StorageKey)
	if err != nil {
		return "", fmt.Errorf("open attachment %s: %w", attachment.Filename, err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxAttachmentBytes))
	if err != nil {
		return "", fmt.Errorf("read attachment %s: %w", attachment.Filename, err)
	}
	text, err := fn(raw)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", attachment.Filename, err)
	}
	return text, nil
}
