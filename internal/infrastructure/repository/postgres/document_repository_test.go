package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func TestCreateDocumentReturnsGeneratedID(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewDocumentRepository(db)

	vectorID := "vec-1"
	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(int64(3), "passport.pdf", "k/passport.pdf", "application/pdf", "passport", true, false, "vec-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	doc := &domain.Document{
		RequestID:     3,
		Filename:      "passport.pdf",
		StoragePath:   "k/passport.pdf",
		ContentType:   "application/pdf",
		ExtractedText: "passport",
		HasText:       true,
		VectorID:      &vectorID,
	}
	if err := repo.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if doc.ID != 12 {
		t.Fatalf("doc.ID = %d, want 12", doc.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByRequestMapsNullVectorID(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewDocumentRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, request_id, filename").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "request_id", "filename", "storage_path", "content_type", "extracted_text",
			"has_text", "extract_failed", "vector_id", "created_at",
		}).
			AddRow(int64(1), int64(3), "a.pdf", "k/a", "application/pdf", "text", true, false, "vec-1", now).
			AddRow(int64(2), int64(3), "b.pdf", "k/b", "application/pdf", "Error extracting text: bad", false, true, nil, now))

	docs, err := repo.ListByRequest(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListByRequest() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("docs = %d, want 2", len(docs))
	}
	if docs[0].VectorID == nil || *docs[0].VectorID != "vec-1" {
		t.Fatalf("docs[0].VectorID = %v", docs[0].VectorID)
	}
	if docs[1].VectorID != nil || !docs[1].ExtractFailed {
		t.Fatalf("docs[1] = %+v", docs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
