package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return domain.WrapError(domain.ErrInvalidInput, "create document", errors.New("document is nil"))
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	var vectorID interface{}
	if doc.VectorID != nil {
		vectorID = nullableString(*doc.VectorID)
	}

	err := r.db.QueryRowContext(ctx, `
INSERT INTO documents (
	request_id, filename, storage_path, content_type, extracted_text, has_text, extract_failed, vector_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`,
		doc.RequestID, doc.Filename, doc.StoragePath, doc.ContentType, doc.ExtractedText,
		doc.HasText, doc.ExtractFailed, vectorID, doc.CreatedAt,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListByRequest(ctx context.Context, requestID int64) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, request_id, filename, storage_path, content_type, extracted_text, has_text, extract_failed, vector_id, created_at
FROM documents
WHERE request_id = $1
ORDER BY id
`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var vectorID sql.NullString
	err := row.Scan(
		&doc.ID,
		&doc.RequestID,
		&doc.Filename,
		&doc.StoragePath,
		&doc.ContentType,
		&doc.ExtractedText,
		&doc.HasText,
		&doc.ExtractFailed,
		&vectorID,
		&doc.CreatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	if vectorID.Valid {
		id := vectorID.String
		doc.VectorID = &id
	}
	return doc, nil
}
