package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

func TestSaveAndOpenNestedKey(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, "2026/03/abc/passport.txt", strings.NewReader("PASSPORT No 123")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := store.Open(ctx, "2026/03/abc/passport.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()

	raw, _ := io.ReadAll(rc)
	if string(raw) != "PASSPORT No 123" {
		t.Fatalf("content = %q", raw)
	}
}

func TestRejectsKeysOutsideBase(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../escape.txt", "/etc/passwd", "", "a/../../b"} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Save(%q) error = %v, want ErrInvalidInput", key, err)
		}
	}
}
