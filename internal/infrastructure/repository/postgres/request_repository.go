package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

const requestColumns = `id, dedup_key, requester_email, requester_name, subject, body, attachments, status,
	category, category_confidence, analysis, is_compliant, compliance_score,
	required_documents, present_documents, missing_documents, appointment_id, error_message,
	received_at, created_at, updated_at, processed_at`

type RequestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Reserve serializes on the dedup key so concurrent deliveries of one message cannot both insert.
func (r *RequestRepository) Reserve(ctx context.Context, req *domain.Request, since time.Time) (int64, bool, error) {
	if req == nil || req.DedupKey == "" {
		return 0, false, domain.WrapError(domain.ErrInvalidInput, "reserve request", errors.New("dedup key is required"))
	}
	attachmentsJSON, err := json.Marshal(attachmentsOrEmpty(req.Attachments))
	if err != nil {
		return 0, false, fmt.Errorf("marshal attachments: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, req.DedupKey); err != nil {
		return 0, false, fmt.Errorf("acquire dedup lock: %w", err)
	}

	var existingID int64
	err = tx.QueryRowContext(ctx, `
SELECT id FROM requests
WHERE dedup_key = $1 AND created_at > $2
ORDER BY created_at DESC
LIMIT 1
`, req.DedupKey, since).Scan(&existingID)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit reserve tx: %w", err)
		}
		return existingID, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("lookup dedup key: %w", err)
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = createdAt
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO requests (
	dedup_key, requester_email, requester_name, subject, body, attachments, status, received_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
RETURNING id
`,
		req.DedupKey, req.RequesterEmail, req.RequesterName, req.Subject, req.Body, attachmentsJSON,
		string(domain.StatusPending), receivedAt, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("insert request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit reserve tx: %w", err)
	}
	req.ID = id
	return id, true, nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*domain.Request, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRequestNotFound, "get request", fmt.Errorf("id=%d", id))
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	return &req, nil
}

func (r *RequestRepository) Transition(ctx context.Context, id int64, from, to domain.RequestStatus) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE requests
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	return r.checkConditional(ctx, result, id, from, "transition request")
}

func (r *RequestRepository) SaveCompliance(ctx context.Context, id int64, verdict domain.ComplianceVerdict) error {
	required, err := marshalList(verdict.RequiredDocuments)
	if err != nil {
		return fmt.Errorf("marshal required documents: %w", err)
	}
	present, err := marshalList(verdict.PresentDocuments)
	if err != nil {
		return fmt.Errorf("marshal present documents: %w", err)
	}
	missing, err := marshalList(verdict.MissingDocuments)
	if err != nil {
		return fmt.Errorf("marshal missing documents: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE requests
SET is_compliant = $3, compliance_score = $4, required_documents = $5, present_documents = $6,
	missing_documents = $7, analysis = $8, updated_at = $9
WHERE id = $1 AND status = $2
`, id, string(domain.StatusProcessing), verdict.IsCompliant, verdict.Score, required, present, missing,
		verdict.Analysis, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save compliance: %w", err)
	}
	return r.checkConditional(ctx, result, id, domain.StatusProcessing, "save compliance")
}

func (r *RequestRepository) CompleteCategorization(ctx context.Context, id int64, cat domain.Categorization, processedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE requests
SET category = $3, category_confidence = $4, processed_at = $5, status = $6, updated_at = $7, error_message = ''
WHERE id = $1 AND status = $2
`, id, string(domain.StatusProcessing), string(cat.Category), cat.Confidence, processedAt,
		string(domain.StatusCategorized), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete categorization: %w", err)
	}
	return r.checkConditional(ctx, result, id, domain.StatusProcessing, "complete categorization")
}

func (r *RequestRepository) MarkScheduled(ctx context.Context, id int64, appointmentID int64) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE requests
SET appointment_id = $3, status = $4, updated_at = $5, error_message = ''
WHERE id = $1 AND status = $2
`, id, string(domain.StatusCategorized), appointmentID, string(domain.StatusAppointmentScheduled), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark scheduled: %w", err)
	}
	return r.checkConditional(ctx, result, id, domain.StatusCategorized, "mark scheduled")
}

func (r *RequestRepository) RecordFailure(ctx context.Context, id int64, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE requests
SET error_message = $2, updated_at = $3
WHERE id = $1
`, id, errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record failure rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrRequestNotFound, "record failure", fmt.Errorf("id=%d", id))
	}
	return nil
}

func (r *RequestRepository) List(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 2)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RequesterEmail != "" {
		args = append(args, filter.RequesterEmail)
		conditions = append(conditions, fmt.Sprintf("requester_email = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += "\nWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\nORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf("\nOFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

// Stats aggregates on demand; nothing is maintained incrementally.
func (r *RequestRepository) Stats(ctx context.Context, now time.Time) (domain.Stats, error) {
	stats := domain.Stats{
		ByStatus:   make(map[domain.RequestStatus]int),
		ByCategory: make(map[domain.Category]int),
	}

	statusRows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			return domain.Stats{}, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[domain.RequestStatus(status)] = count
		stats.TotalRequests += count
	}
	if err := statusRows.Err(); err != nil {
		return domain.Stats{}, fmt.Errorf("iterate status counts: %w", err)
	}

	categoryRows, err := r.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM requests WHERE category IS NOT NULL GROUP BY category`)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count by category: %w", err)
	}
	defer categoryRows.Close()
	for categoryRows.Next() {
		var category string
		var count int
		if err := categoryRows.Scan(&category, &count); err != nil {
			return domain.Stats{}, fmt.Errorf("scan category count: %w", err)
		}
		stats.ByCategory[domain.Category(category)] = count
	}
	if err := categoryRows.Err(); err != nil {
		return domain.Stats{}, fmt.Errorf("iterate category counts: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments`).Scan(&stats.TotalAppointments); err != nil {
		return domain.Stats{}, fmt.Errorf("count appointments: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM slots
WHERE current_bookings < max_capacity AND slot_date > $1
`, now).Scan(&stats.AvailableSlots); err != nil {
		return domain.Stats{}, fmt.Errorf("count available slots: %w", err)
	}
	return stats, nil
}

// checkConditional distinguishes a missing request from one in an unexpected status.
func (r *RequestRepository) checkConditional(ctx context.Context, result sql.Result, id int64, from domain.RequestStatus, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM requests WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrRequestNotFound, op, fmt.Errorf("id=%d", id))
		}
		return fmt.Errorf("%s: load status: %w", op, err)
	}
	return domain.WrapError(
		domain.ErrInvalidTransition,
		op,
		fmt.Errorf("request %d is %s, expected %s", id, current, from),
	)
}

func scanRequest(row rowScanner) (domain.Request, error) {
	var (
		req            domain.Request
		attachmentsRaw []byte
		requiredRaw    []byte
		presentRaw     []byte
		missingRaw     []byte
		status         string
		category       sql.NullString
		appointmentID  sql.NullInt64
		processedAt    sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.DedupKey, &req.RequesterEmail, &req.RequesterName, &req.Subject, &req.Body,
		&attachmentsRaw, &status, &category, &req.CategoryConfidence, &req.Analysis, &req.IsCompliant,
		&req.ComplianceScore, &requiredRaw, &presentRaw, &missingRaw, &appointmentID, &req.Error,
		&req.ReceivedAt, &req.CreatedAt, &req.UpdatedAt, &processedAt,
	)
	if err != nil {
		return domain.Request{}, err
	}

	req.Status = domain.RequestStatus(status)
	if category.Valid {
		c := domain.ParseCategory(category.String)
		req.Category = &c
	}
	if appointmentID.Valid {
		id := appointmentID.Int64
		req.AppointmentID = &id
	}
	if processedAt.Valid {
		at := processedAt.Time
		req.ProcessedAt = &at
	}

	req.Attachments = []domain.Attachment{}
	if len(attachmentsRaw) > 0 {
		if err := json.Unmarshal(attachmentsRaw, &req.Attachments); err != nil {
			return domain.Request{}, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if req.RequiredDocuments, err = unmarshalList(requiredRaw); err != nil {
		return domain.Request{}, fmt.Errorf("unmarshal required documents: %w", err)
	}
	if req.PresentDocuments, err = unmarshalList(presentRaw); err != nil {
		return domain.Request{}, fmt.Errorf("unmarshal present documents: %w", err)
	}
	if req.MissingDocuments, err = unmarshalList(missingRaw); err != nil {
		return domain.Request{}, fmt.Errorf("unmarshal missing documents: %w", err)
	}
	return req, nil
}

func attachmentsOrEmpty(items []domain.Attachment) []domain.Attachment {
	if items == nil {
		return []domain.Attachment{}
	}
	return items
}
