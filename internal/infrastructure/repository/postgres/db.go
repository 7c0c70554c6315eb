package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026101901

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables idempotently. It is not a migration tool.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across binaries starting together.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS requests (
	id BIGSERIAL PRIMARY KEY,
	dedup_key TEXT NOT NULL,
	requester_email TEXT NOT NULL,
	requester_name TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	attachments JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL,
	category TEXT,
	category_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	analysis TEXT NOT NULL DEFAULT '',
	is_compliant BOOLEAN NOT NULL DEFAULT FALSE,
	compliance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	required_documents JSONB NOT NULL DEFAULT '[]'::jsonb,
	present_documents JSONB NOT NULL DEFAULT '[]'::jsonb,
	missing_documents JSONB NOT NULL DEFAULT '[]'::jsonb,
	appointment_id BIGINT,
	error_message TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_requests_dedup_key ON requests(dedup_key, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester_email, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at DESC);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL REFERENCES requests(id),
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	extracted_text TEXT NOT NULL DEFAULT '',
	has_text BOOLEAN NOT NULL DEFAULT FALSE,
	extract_failed BOOLEAN NOT NULL DEFAULT FALSE,
	vector_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_request_id ON documents(request_id);

CREATE TABLE IF NOT EXISTS slots (
	id BIGSERIAL PRIMARY KEY,
	slot_date TIMESTAMPTZ NOT NULL,
	slot_time TEXT NOT NULL,
	max_capacity INTEGER NOT NULL CHECK (max_capacity > 0),
	current_bookings INTEGER NOT NULL DEFAULT 0,
	is_available BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (slot_date, slot_time),
	CHECK (current_bookings >= 0 AND current_bookings <= max_capacity)
);

CREATE INDEX IF NOT EXISTS idx_slots_open ON slots(slot_date, id) WHERE current_bookings < max_capacity;

CREATE TABLE IF NOT EXISTS appointments (
	id BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL UNIQUE REFERENCES requests(id),
	slot_id BIGINT NOT NULL REFERENCES slots(id),
	appointment_date TIMESTAMPTZ NOT NULL,
	appointment_time TEXT NOT NULL,
	location TEXT NOT NULL,
	required_documents JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func unmarshalList(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
