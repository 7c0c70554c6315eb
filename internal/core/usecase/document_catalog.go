package usecase

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type documentType struct {
	name     string
	keywords []string
}

// documentCatalog lists the document types the deterministic pass can recognize.
// Keywords are lower-case surface forms.
var documentCatalog = []documentType{
	{
		name: "passport",
		keywords: []string{
			"passport", "passport number", "passport no", "passport #", "passport id",
			"passport document", "travel document", "passport page", "passport copy", "passport details",
		},
	},
	{
		name:     "biometric photo",
		keywords: []string{"biometric photo", "passport photo", "passport-sized photo", "passport size photo", "photograph"},
	},
	{
		name:     "health insurance",
		keywords: []string{"health insurance", "insurance certificate", "proof of insurance"},
	},
	{
		name: "proof of enrollment",
		keywords: []string{
			"proof of enrollment", "proof of enrolment", "enrollment certificate", "enrolment certificate",
			"certificate of enrollment", "certificate of enrolment", "enrollment confirmation",
		},
	},
	{
		name: "proof of financial means",
		keywords: []string{
			"proof of financial means", "financial means", "financial statement", "bank statement",
			"proof of funds", "blocked account", "scholarship letter",
		},
	},
	{
		name:     "residence permit card",
		keywords: []string{"residence permit card", "residence card", "current residence permit"},
	},
	{
		name:     "proof of address",
		keywords: []string{"proof of address", "rental agreement", "lease agreement", "registration certificate"},
	},
	{
		name:     "application form",
		keywords: []string{"application form"},
	},
	{
		name:     "employment contract",
		keywords: []string{"employment contract", "work contract", "job offer"},
	},
}

type keywordEntry struct {
	keyword string
	docType string
}

var catalogKeywords = buildCatalogKeywords()

// buildCatalogKeywords orders keywords longest first so that "passport photo" wins over "passport".
func buildCatalogKeywords() []keywordEntry {
	out := make([]keywordEntry, 0, 64)
	for _, dt := range documentCatalog {
		for _, kw := range dt.keywords {
			out = append(out, keywordEntry{keyword: kw, docType: dt.name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].keyword) > len(out[j].keyword)
	})
	return out
}

// detectDocumentTypes returns catalog document types evidenced in text, in catalog order.
// A matched surface form is blanked out before shorter forms are tried.
func detectDocumentTypes(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	remaining := strings.ToLower(text)
	found := make(map[string]struct{})
	for _, entry := range catalogKeywords {
		for {
			idx := indexWord(remaining, entry.keyword)
			if idx < 0 {
				break
			}
			found[entry.docType] = struct{}{}
			remaining = remaining[:idx] + strings.Repeat(" ", len(entry.keyword)) + remaining[idx+len(entry.keyword):]
		}
	}

	out := make([]string, 0, len(found))
	for _, dt := range documentCatalog {
		if _, ok := found[dt.name]; ok {
			out = append(out, dt.name)
		}
	}
	return out
}

// indexWord finds keyword in s at word boundaries.
func indexWord(s, keyword string) int {
	offset := 0
	for {
		idx := strings.Index(s[offset:], keyword)
		if idx < 0 {
			return -1
		}
		start := offset + idx
		end := start + len(keyword)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return start
		}
		offset = start + 1
		if offset >= len(s) {
			return -1
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// listedIn keeps the items that the guideline text names at word boundaries.
func listedIn(items []string, guideline string) []string {
	lower := strings.ToLower(guideline)
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" || lower == "" {
			continue
		}
		if indexWord(lower, key) >= 0 {
			out = append(out, item)
		}
	}
	return out
}

// extractRequiredDocuments reads the required-document list straight from guideline text.
// It looks for a "required ... documents" header and collects list items below it.
func extractRequiredDocuments(guideline string) []string {
	if strings.TrimSpace(guideline) == "" {
		return nil
	}

	var required []string
	seen := make(map[string]struct{})
	add := func(types []string) {
		for _, t := range types {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			required = append(required, t)
		}
	}

	inSection := false
	for _, line := range strings.Split(guideline, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		item, isItem := listItem(trimmed)
		if !isItem {
			switch {
			case isRequirementsHeader(trimmed):
				inSection = true
			case strings.HasSuffix(trimmed, ":"):
				inSection = false
			}
			continue
		}
		if inSection {
			add(detectDocumentTypes(item))
		}
	}

	if len(required) > 0 {
		return required
	}

	// No explicit section: fall back to list items anywhere in a guideline that talks about requirements.
	if !strings.Contains(strings.ToLower(guideline), "required") {
		return nil
	}
	for _, line := range strings.Split(guideline, "\n") {
		if item, ok := listItem(strings.TrimSpace(line)); ok {
			add(detectDocumentTypes(item))
		}
	}
	return required
}

func isRequirementsHeader(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "required") &&
		(strings.Contains(lower, "document") || strings.Contains(lower, "valid"))
}

// listItem strips a leading list marker ("-", "*", "•", "1.", "1)").
func listItem(line string) (string, bool) {
	for _, marker := range []string{"-", "*", "•"} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')') {
		return strings.TrimSpace(line[digits+1:]), true
	}
	return "", false
}

// subtractFold returns items of required not present in present, case-insensitively, preserving order.
func subtractFold(required, present []string) []string {
	have := make(map[string]struct{}, len(present))
	for _, p := range present {
		have[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	out := make([]string, 0, len(required))
	for _, r := range required {
		if _, ok := have[strings.ToLower(strings.TrimSpace(r))]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// unionFold appends items of extra missing from base, case-insensitively.
func unionFold(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, item := range list {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
