package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

const appointmentColumns = `id, request_id, slot_id, appointment_date, appointment_time, location,
	required_documents, status, notes, created_at`

type SlotRepository struct {
	db *sql.DB
}

func NewSlotRepository(db *sql.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

func (r *SlotRepository) NextAvailable(ctx context.Context, now time.Time) (*domain.Slot, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, slot_date, slot_time, max_capacity, current_bookings, is_available, created_at
FROM slots
WHERE current_bookings < max_capacity AND slot_date > $1
ORDER BY slot_date, id
LIMIT 1
`, now)

	var slot domain.Slot
	err := row.Scan(&slot.ID, &slot.Date, &slot.TimeLabel, &slot.MaxCapacity, &slot.CurrentBookings, &slot.IsAvailable, &slot.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("next available slot: %w", err)
	}
	return &slot, nil
}

// Book selects, locks and increments one slot and inserts the appointment in a single transaction.
// Rows locked by a concurrent booking are skipped instead of waited on.
func (r *SlotRepository) Book(ctx context.Context, booking domain.Booking) (*domain.Appointment, error) {
	required, err := marshalList(booking.RequiredDocuments)
	if err != nil {
		return nil, fmt.Errorf("marshal required documents: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := scanAppointment(tx.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE request_id = $1`, booking.RequestID))
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit booking tx: %w", err)
		}
		return &existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lookup existing appointment: %w", err)
	}

	var (
		slotID    int64
		slotDate  time.Time
		slotLabel string
	)
	err = tx.QueryRowContext(ctx, `
SELECT id, slot_date, slot_time
FROM slots
WHERE current_bookings < max_capacity AND slot_date > $1
ORDER BY slot_date, id
LIMIT 1
FOR UPDATE SKIP LOCKED
`, booking.Now).Scan(&slotID, &slotDate, &slotLabel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select slot: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
UPDATE slots
SET current_bookings = current_bookings + 1,
	is_available = (current_bookings + 1 < max_capacity)
WHERE id = $1 AND current_bookings < max_capacity
`, slotID)
	if err != nil {
		return nil, fmt.Errorf("increment slot bookings: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("increment slot rows affected: %w", err)
	}
	if rows == 0 {
		return nil, domain.WrapError(domain.ErrTemporary, "book slot", fmt.Errorf("slot %d filled concurrently", slotID))
	}

	appt := domain.Appointment{
		RequestID:         booking.RequestID,
		SlotID:            slotID,
		Date:              slotDate,
		TimeLabel:         slotLabel,
		Location:          booking.Location,
		RequiredDocuments: booking.RequiredDocuments,
		Status:            domain.AppointmentScheduled,
		Notes:             fmt.Sprintf("Automated appointment for request #%d", booking.RequestID),
		CreatedAt:         booking.Now.UTC(),
	}
	if appt.RequiredDocuments == nil {
		appt.RequiredDocuments = []string{}
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO appointments (
	request_id, slot_id, appointment_date, appointment_time, location, required_documents, status, notes, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`,
		appt.RequestID, appt.SlotID, appt.Date, appt.TimeLabel, appt.Location, required,
		string(appt.Status), appt.Notes, appt.CreatedAt,
	).Scan(&appt.ID)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}
	return &appt, nil
}

func (r *SlotRepository) GetAppointment(ctx context.Context, id int64) (*domain.Appointment, error) {
	appt, err := scanAppointment(r.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrAppointmentNotFound, "get appointment", fmt.Errorf("id=%d", id))
		}
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return &appt, nil
}

// CreateSlots inserts slots in order and ignores (date, time) pairs that already exist.
func (r *SlotRepository) CreateSlots(ctx context.Context, slots []domain.Slot) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin slots tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	created := 0
	now := time.Now().UTC()
	for _, slot := range slots {
		result, err := tx.ExecContext(ctx, `
INSERT INTO slots (slot_date, slot_time, max_capacity, current_bookings, is_available, created_at)
VALUES ($1, $2, $3, 0, TRUE, $4)
ON CONFLICT (slot_date, slot_time) DO NOTHING
`, slot.Date, slot.TimeLabel, slot.MaxCapacity, now)
		if err != nil {
			return 0, fmt.Errorf("insert slot %s %s: %w", slot.Date.Format(time.DateOnly), slot.TimeLabel, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert slot rows affected: %w", err)
		}
		created += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit slots tx: %w", err)
	}
	return created, nil
}

func scanAppointment(row rowScanner) (domain.Appointment, error) {
	var appt domain.Appointment
	var requiredRaw []byte
	var status string
	err := row.Scan(
		&appt.ID, &appt.RequestID, &appt.SlotID, &appt.Date, &appt.TimeLabel, &appt.Location,
		&requiredRaw, &status, &appt.Notes, &appt.CreatedAt,
	)
	if err != nil {
		return domain.Appointment{}, err
	}
	appt.Status = domain.AppointmentStatus(status)
	if appt.RequiredDocuments, err = unmarshalList(requiredRaw); err != nil {
		return domain.Appointment{}, fmt.Errorf("unmarshal required documents: %w", err)
	}
	return appt, nil
}
