package domain

import "time"

type Document struct {
	ID            int64     `json:"id"`
	RequestID     int64     `json:"request_id"`
	Filename      string    `json:"filename"`
	StoragePath   string    `json:"storage_path"`
	ContentType   string    `json:"content_type,omitempty"`
	ExtractedText string    `json:"extracted_text"`
	HasText       bool      `json:"has_text"`
	ExtractFailed bool      `json:"extract_failed"`
	VectorID      *string   `json:"vector_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EvidenceText is what a document contributes to compliance and categorization.
// Unreadable documents still contribute their filename.
func (d Document) EvidenceText() string {
	if d.HasText {
		return d.ExtractedText
	}
	return "Document: " + d.Filename
}
