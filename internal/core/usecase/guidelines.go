package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

// GuidelineLoader indexes guideline files as whole passages so list sections stay intact.
type GuidelineLoader struct {
	embedder ports.Embedder
	vectorDB ports.VectorStore
}

func NewGuidelineLoader(embedder ports.Embedder, vectorDB ports.VectorStore) *GuidelineLoader {
	return &GuidelineLoader{embedder: embedder, vectorDB: vectorDB}
}

// LoadDir indexes every .txt and .md file at the root of fsys except README.md.
// It returns the names that were indexed.
func (l *GuidelineLoader) LoadDir(ctx context.Context, fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read guidelines dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isGuidelineFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	indexed := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return indexed, fmt.Errorf("read guideline %s: %w", name, err)
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			slog.Warn("guideline_empty", "name", name)
			continue
		}
		if _, err := l.Index(ctx, name, text); err != nil {
			return indexed, err
		}
		indexed = append(indexed, name)
	}
	return indexed, nil
}

func (l *GuidelineLoader) Index(ctx context.Context, name, text string) (string, error) {
	vectors, err := l.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("embed guideline %s: %w", name, err)
	}
	if len(vectors) != 1 {
		return "", domain.WrapError(
			domain.ErrInvalidInput,
			"embed guideline",
			fmt.Errorf("expected 1 vector for %s, got %d", name, len(vectors)),
		)
	}
	id, err := l.vectorDB.Upsert(ctx, text, vectors[0], map[string]any{
		"type": domain.IndexTypeGuideline,
		"name": name,
	})
	if err != nil {
		return "", fmt.Errorf("index guideline %s: %w", name, err)
	}
	slog.Info("guideline_indexed", "name", name, "id", id)
	return id, nil
}

func isGuidelineFile(name string) bool {
	if strings.EqualFold(name, "README.md") {
		return false
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".md":
		return true
	default:
		return false
	}
}
