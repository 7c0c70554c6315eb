// Package memory is an in-process store used for local runs and concurrency tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

type Store struct {
	mu sync.Mutex

	requests     map[int64]*domain.Request
	documents    map[int64][]domain.Document
	slots        []*domain.Slot
	appointments map[int64]*domain.Appointment

	nextRequestID     int64
	nextDocumentID    int64
	nextSlotID        int64
	nextAppointmentID int64

	// history keeps every status each request has held, in order.
	history map[int64][]domain.RequestStatus
}

func NewStore() *Store {
	return &Store{
		requests:     make(map[int64]*domain.Request),
		documents:    make(map[int64][]domain.Document),
		appointments: make(map[int64]*domain.Appointment),
		history:      make(map[int64][]domain.RequestStatus),
	}
}

func (s *Store) Reserve(_ context.Context, req *domain.Request, since time.Time) (int64, bool, error) {
	if req == nil || req.DedupKey == "" {
		return 0, false, domain.WrapError(domain.ErrInvalidInput, "reserve request", fmt.Errorf("dedup key is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var recent *domain.Request
	for _, existing := range s.requests {
		if existing.DedupKey != req.DedupKey || !existing.CreatedAt.After(since) {
			continue
		}
		if recent == nil || existing.CreatedAt.After(recent.CreatedAt) {
			recent = existing
		}
	}
	if recent != nil {
		return recent.ID, false, nil
	}

	s.nextRequestID++
	stored := cloneRequest(req)
	stored.ID = s.nextRequestID
	stored.Status = domain.StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.requests[stored.ID] = stored
	s.history[stored.ID] = []domain.RequestStatus{domain.StatusPending}
	req.ID = stored.ID
	return stored.ID, true, nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRequestNotFound, "get request", fmt.Errorf("id=%d", id))
	}
	return cloneRequest(req), nil
}

func (s *Store) Transition(_ context.Context, id int64, from, to domain.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requireStatus(id, from, "transition request")
	if err != nil {
		return err
	}
	s.setStatus(req, to)
	return nil
}

func (s *Store) SaveCompliance(_ context.Context, id int64, verdict domain.ComplianceVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requireStatus(id, domain.StatusProcessing, "save compliance")
	if err != nil {
		return err
	}
	req.IsCompliant = verdict.IsCompliant
	req.ComplianceScore = verdict.Score
	req.RequiredDocuments = slices.Clone(verdict.RequiredDocuments)
	req.PresentDocuments = slices.Clone(verdict.PresentDocuments)
	req.MissingDocuments = slices.Clone(verdict.MissingDocuments)
	req.Analysis = verdict.Analysis
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CompleteCategorization(_ context.Context, id int64, cat domain.Categorization, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requireStatus(id, domain.StatusProcessing, "complete categorization")
	if err != nil {
		return err
	}
	category := cat.Category
	req.Category = &category
	req.CategoryConfidence = cat.Confidence
	req.ProcessedAt = &processedAt
	req.Error = ""
	s.setStatus(req, domain.StatusCategorized)
	return nil
}

func (s *Store) MarkScheduled(_ context.Context, id int64, appointmentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requireStatus(id, domain.StatusCategorized, "mark scheduled")
	if err != nil {
		return err
	}
	req.AppointmentID = &appointmentID
	req.Error = ""
	s.setStatus(req, domain.StatusAppointmentScheduled)
	return nil
}

func (s *Store) RecordFailure(_ context.Context, id int64, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.WrapError(domain.ErrRequestNotFound, "record failure", fmt.Errorf("id=%d", id))
	}
	req.Error = errMessage
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) List(_ context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Request, 0, len(s.requests))
	for _, req := range s.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.RequesterEmail != "" && !strings.EqualFold(req.RequesterEmail, filter.RequesterEmail) {
			continue
		}
		out = append(out, *cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset >= len(out) {
		return []domain.Request{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Stats(_ context.Context, now time.Time) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.Stats{
		TotalRequests:     len(s.requests),
		TotalAppointments: len(s.appointments),
		ByStatus:          make(map[domain.RequestStatus]int),
		ByCategory:        make(map[domain.Category]int),
	}
	for _, req := range s.requests {
		stats.ByStatus[req.Status]++
		if req.Category != nil {
			stats.ByCategory[*req.Category]++
		}
	}
	for _, slot := range s.slots {
		if slot.HasCapacity() && slot.Date.After(now) {
			stats.AvailableSlots++
		}
	}
	return stats, nil
}

// History returns the ordered statuses a request has held.
func (s *Store) History(id int64) []domain.RequestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history[id])
}

func (s *Store) CreateDocument(_ context.Context, doc *domain.Document) error {
	if doc == nil {
		return domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("document is nil"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[doc.RequestID]; !ok {
		return domain.WrapError(domain.ErrRequestNotFound, "create document", fmt.Errorf("request_id=%d", doc.RequestID))
	}
	s.nextDocumentID++
	doc.ID = s.nextDocumentID
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.documents[doc.RequestID] = append(s.documents[doc.RequestID], *doc)
	return nil
}

func (s *Store) ListByRequest(_ context.Context, requestID int64) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.documents[requestID]), nil
}

func (s *Store) NextAvailable(_ context.Context, now time.Time) (*domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.firstAvailable(now)
	if slot == nil {
		return nil, nil
	}
	copySlot := *slot
	return &copySlot, nil
}

// Book runs read-check-increment under the store lock.
func (s *Store) Book(_ context.Context, booking domain.Booking) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.appointmentForRequest(booking.RequestID); existing != nil {
		copyAppt := *existing
		return &copyAppt, nil
	}

	slot := s.firstAvailable(booking.Now)
	if slot == nil {
		return nil, nil
	}
	slot.CurrentBookings++
	slot.IsAvailable = slot.HasCapacity()

	s.nextAppointmentID++
	appt := &domain.Appointment{
		ID:                s.nextAppointmentID,
		RequestID:         booking.RequestID,
		SlotID:            slot.ID,
		Date:              slot.Date,
		TimeLabel:         slot.TimeLabel,
		Location:          booking.Location,
		RequiredDocuments: slices.Clone(booking.RequiredDocuments),
		Status:            domain.AppointmentScheduled,
		Notes:             fmt.Sprintf("Automated appointment for request #%d", booking.RequestID),
		CreatedAt:         booking.Now.UTC(),
	}
	s.appointments[appt.ID] = appt
	copyAppt := *appt
	return &copyAppt, nil
}

func (s *Store) GetAppointment(_ context.Context, id int64) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrAppointmentNotFound, "get appointment", fmt.Errorf("id=%d", id))
	}
	copyAppt := *appt
	return &copyAppt, nil
}

func (s *Store) CreateSlots(_ context.Context, slots []domain.Slot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for _, slot := range slots {
		if s.slotExists(slot.Date, slot.TimeLabel) {
			continue
		}
		s.nextSlotID++
		stored := slot
		stored.ID = s.nextSlotID
		stored.IsAvailable = stored.HasCapacity()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		s.slots = append(s.slots, &stored)
		created++
	}
	return created, nil
}

// Slot returns a copy of the slot with the given id.
func (s *Store) Slot(id int64) (domain.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		if slot.ID == id {
			return *slot, true
		}
	}
	return domain.Slot{}, false
}

func (s *Store) firstAvailable(now time.Time) *domain.Slot {
	var best *domain.Slot
	for _, slot := range s.slots {
		if !slot.HasCapacity() || !slot.Date.After(now) {
			continue
		}
		if best == nil || slot.Date.Before(best.Date) || (slot.Date.Equal(best.Date) && slot.ID < best.ID) {
			best = slot
		}
	}
	return best
}

func (s *Store) appointmentForRequest(requestID int64) *domain.Appointment {
	for _, appt := range s.appointments {
		if appt.RequestID == requestID {
			return appt
		}
	}
	return nil
}

func (s *Store) slotExists(date time.Time, label string) bool {
	for _, slot := range s.slots {
		if slot.Date.Equal(date) && slot.TimeLabel == label {
			return true
		}
	}
	return false
}

func (s *Store) requireStatus(id int64, from domain.RequestStatus, op string) (*domain.Request, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRequestNotFound, op, fmt.Errorf("id=%d", id))
	}
	if req.Status != from {
		return nil, domain.WrapError(
			domain.ErrInvalidTransition,
			op,
			fmt.Errorf("request %d is %s, expected %s", id, req.Status, from),
		)
	}
	return req, nil
}

func (s *Store) setStatus(req *domain.Request, to domain.RequestStatus) {
	req.Status = to
	req.UpdatedAt = time.Now().UTC()
	s.history[req.ID] = append(s.history[req.ID], to)
}

func cloneRequest(req *domain.Request) *domain.Request {
	out := *req
	out.Attachments = slices.Clone(req.Attachments)
	out.RequiredDocuments = slices.Clone(req.RequiredDocuments)
	out.PresentDocuments = slices.Clone(req.PresentDocuments)
	out.MissingDocuments = slices.Clone(req.MissingDocuments)
	if req.Category != nil {
		c := *req.Category
		out.Category = &c
	}
	if req.AppointmentID != nil {
		id := *req.AppointmentID
		out.AppointmentID = &id
	}
	if req.ProcessedAt != nil {
		at := *req.ProcessedAt
		out.ProcessedAt = &at
	}
	return &out
}
