package chunking

import (
	"strings"
	"testing"
)

func TestSplitKeepsShortTextWhole(t *testing.T) {
	got := NewSplitter(100, 10).Split("  Passport No 123  ")
	if len(got) != 1 || got[0] != "Passport No 123" {
		t.Fatalf("Split() = %#v", got)
	}
}

func TestSplitEmptyText(t *testing.T) {
	if got := NewSplitter(100, 10).Split(" \n "); got != nil {
		t.Fatalf("Split() = %#v, want nil", got)
	}
}

func TestSplitOverlapsAndRespectsWords(t *testing.T) {
	text := strings.Repeat("bank statement balance ", 20)
	chunks := NewSplitter(60, 15).Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len([]rune(chunk)) > 60 {
			t.Fatalf("chunk %d exceeds size: %d", i, len([]rune(chunk)))
		}
		for _, word := range strings.Fields(chunk) {
			switch word {
			case "bank", "statement", "balance":
			default:
				t.Fatalf("chunk %d cut a word: %q", i, word)
			}
		}
	}
}

func TestSplitWithoutWhitespaceFallsBackToHardCuts(t *testing.T) {
	chunks := NewSplitter(10, 2).Split(strings.Repeat("x", 25))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %#v", len(chunks), chunks)
	}
}

func TestNewSplitterNormalizesOverlap(t *testing.T) {
	s := NewSplitter(40, 40)
	if s.Overlap != 10 {
		t.Fatalf("overlap = %d, want 10", s.Overlap)
	}
}
