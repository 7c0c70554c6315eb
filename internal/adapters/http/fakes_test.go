package httpadapter

import (
	"context"
	"net/http"
	"time"

	"github.com/kirillkom/immigration-intake/internal/config"
	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

type reportsFake struct {
	err      error
	requests []domain.Request
	filter   domain.RequestFilter
	slot     *domain.Slot
}

func (f *reportsFake) GetRequest(_ context.Context, id int64) (*domain.Request, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Request{ID: id, Status: domain.StatusAppointmentScheduled}, nil
}

func (f *reportsFake) ListRequests(_ context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.requests, nil
}

func (f *reportsFake) ListDocuments(_ context.Context, requestID int64) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Document{{ID: 1, RequestID: requestID, Filename: "passport.pdf"}}, nil
}

func (f *reportsFake) GetAppointment(_ context.Context, id int64) (*domain.Appointment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Appointment{ID: id, TimeLabel: "09:00"}, nil
}

func (f *reportsFake) NextAvailable(context.Context, time.Time) (*domain.Slot, error) {
	return f.slot, f.err
}

func (f *reportsFake) Stats(context.Context, time.Time) (domain.Stats, error) {
	if f.err != nil {
		return domain.Stats{}, f.err
	}
	return domain.Stats{TotalRequests: 3, ByStatus: map[domain.RequestStatus]int{domain.StatusPending: 3}}, nil
}

type pollerFake struct {
	outcomes []domain.Outcome
	err      error
	calls    int
}

func (f *pollerFake) Poll(context.Context) ([]domain.Outcome, error) {
	f.calls++
	return f.outcomes, f.err
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, &reportsFake{}, &pollerFake{}, nil).Handler()
}
