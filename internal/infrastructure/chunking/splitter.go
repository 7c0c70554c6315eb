package chunking

import (
	"strings"
	"unicode"
)

// Splitter cuts extracted attachment text into overlapping passages sized for the embedding model.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split returns rune-bounded chunks. A chunk end is pulled back to the last whitespace
// in its second half so words are not cut.
func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.ChunkSize {
		return []string{string(runes)}
	}

	out := make([]string, 0, len(runes)/(s.ChunkSize-s.Overlap)+1)
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = softBoundary(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}

		start = overlapStart(runes, start, end, s.Overlap)
	}
	return out
}

func softBoundary(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// overlapStart moves the overlap start forward to the next word so a chunk never opens mid-word.
func overlapStart(runes []rune, start, end, overlap int) int {
	next := end - overlap
	for next > start && next < end && !unicode.IsSpace(runes[next-1]) {
		next++
	}
	if next <= start || next >= end {
		return end
	}
	return next
}
