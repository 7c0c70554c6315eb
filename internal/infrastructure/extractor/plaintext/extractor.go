package plaintext

import (
	"strings"
	"unicode/utf8"
)

// Extract returns trimmed UTF-8 text. Binary content yields "" so the caller falls back to the filename.
func Extract(raw []byte) (string, error) {
	raw = []byte(strings.TrimPrefix(string(raw), "\uFEFF"))
	if !utf8.Valid(raw) {
		return "", nil
	}
	return strings.TrimSpace(string(raw)), nil
}
