package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ReportingService is the read side used by the HTTP API.
type ReportingService struct {
	requests  ports.RequestRepository
	documents ports.DocumentRepository
	slots     ports.SlotStore
}

func NewReportingService(requests ports.RequestRepository, documents ports.DocumentRepository, slots ports.SlotStore) *ReportingService {
	return &ReportingService{requests: requests, documents: documents, slots: slots}
}

func (s *ReportingService) GetRequest(ctx context.Context, id int64) (*domain.Request, error) {
	if id <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get request", fmt.Errorf("id must be positive"))
	}
	return s.requests.GetByID(ctx, id)
}

func (s *ReportingService) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list requests", fmt.Errorf("unknown status %q", filter.Status))
	}
	if filter.RequesterEmail != "" {
		filter.RequesterEmail = normalizeSender(filter.RequesterEmail)
		if !strings.Contains(filter.RequesterEmail, "@") {
			return nil, domain.WrapError(domain.ErrInvalidInput, "list requests", fmt.Errorf("invalid requester email %q", filter.RequesterEmail))
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.requests.List(ctx, filter)
}

func (s *ReportingService) ListDocuments(ctx context.Context, requestID int64) ([]domain.Document, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.documents.ListByRequest(ctx, requestID)
}

func (s *ReportingService) GetAppointment(ctx context.Context, id int64) (*domain.Appointment, error) {
	if id <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get appointment", fmt.Errorf("id must be positive"))
	}
	return s.slots.GetAppointment(ctx, id)
}

func (s *ReportingService) NextAvailable(ctx context.Context, now time.Time) (*domain.Slot, error) {
	return s.slots.NextAvailable(ctx, now)
}

// Stats is computed on every call.
func (s *ReportingService) Stats(ctx context.Context, now time.Time) (domain.Stats, error) {
	stats, err := s.requests.Stats(ctx, now)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	return stats, nil
}
