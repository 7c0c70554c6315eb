package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/immigration-intake/internal/config"
	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/observability/metrics"
)

func serve(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(method, target, nil))
	return res
}

func TestGetRequestReturns404ForNotFound(t *testing.T) {
	handler := NewRouter(config.Config{}, &reportsFake{
		err: domain.WrapError(domain.ErrRequestNotFound, "get request", errors.New("id=9")),
	}, nil, nil).Handler()

	if res := serve(handler, http.MethodGet, "/v1/requests/9"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetRequestRejectsNonNumericID(t *testing.T) {
	handler := newTestHandler(config.Config{})
	if res := serve(handler, http.MethodGet, "/v1/requests/abc"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestListRequestsPassesFilter(t *testing.T) {
	reports := &reportsFake{requests: []domain.Request{{ID: 1}, {ID: 2}}}
	handler := NewRouter(config.Config{}, reports, nil, nil).Handler()

	res := serve(handler, http.MethodGet, "/v1/requests?status=categorized&limit=5&offset=10")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if reports.filter.Status != domain.StatusCategorized || reports.filter.Limit != 5 || reports.filter.Offset != 10 {
		t.Fatalf("filter = %+v", reports.filter)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Count != 2 {
		t.Fatalf("body count = %d, err = %v", body.Count, err)
	}
}

func TestListRequesterRequestsFiltersBySender(t *testing.T) {
	reports := &reportsFake{requests: []domain.Request{{ID: 4, RequesterEmail: "anna@example.com"}}}
	handler := NewRouter(config.Config{}, reports, nil, nil).Handler()

	res := serve(handler, http.MethodGet, "/v1/requesters/anna@example.com/requests?status=appointment_scheduled&limit=3")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if reports.filter.RequesterEmail != "anna@example.com" || reports.filter.Status != domain.StatusAppointmentScheduled || reports.filter.Limit != 3 {
		t.Fatalf("filter = %+v", reports.filter)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Count != 1 {
		t.Fatalf("body count = %d, err = %v", body.Count, err)
	}
}

func TestListRequestsMapsInvalidInputTo400(t *testing.T) {
	handler := NewRouter(config.Config{}, &reportsFake{
		err: domain.WrapError(domain.ErrInvalidInput, "list requests", errors.New("unknown status")),
	}, nil, nil).Handler()

	if res := serve(handler, http.MethodGet, "/v1/requests?status=bogus"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if res := serve(handler, http.MethodGet, "/v1/requests?limit=ten"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed limit, got %d", res.Code)
	}
}

func TestNextAvailableReportsExhaustion(t *testing.T) {
	handler := newTestHandler(config.Config{})
	res := serve(handler, http.MethodGet, "/v1/appointments/available")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Available {
		t.Fatalf("available = %v, err = %v", body.Available, err)
	}
}

func TestRunIntakeReturnsOutcomes(t *testing.T) {
	poller := &pollerFake{outcomes: []domain.Outcome{{MessageID: "m1", Kind: domain.OutcomeProcessed}}}
	handler := NewRouter(config.Config{}, &reportsFake{}, poller, nil).Handler()

	if res := serve(handler, http.MethodGet, "/v1/intake/run"); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", res.Code)
	}
	res := serve(handler, http.MethodPost, "/v1/intake/run")
	if res.Code != http.StatusOK || poller.calls != 1 {
		t.Fatalf("expected 200 after one poll, got %d (%d calls)", res.Code, poller.calls)
	}
}

func TestRunIntakeMapsTemporaryTo503(t *testing.T) {
	poller := &pollerFake{err: domain.WrapError(domain.ErrTemporary, "imap dial", errors.New("timeout"))}
	handler := NewRouter(config.Config{}, &reportsFake{}, poller, nil).Handler()

	if res := serve(handler, http.MethodPost, "/v1/intake/run"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	handler := NewRouter(config.Config{}, &reportsFake{err: errors.New("pq: password authentication failed")}, nil, nil).Handler()
	res := serve(handler, http.MethodGet, "/v1/stats")
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(res.Body).Decode(&body)
	if body["error"] != "internal error" {
		t.Fatalf("error body = %q", body["error"])
	}
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	handler := NewRouter(config.Config{}, &reportsFake{}, nil, metrics.NewHTTPServerMetrics("api")).Handler()
	_ = serve(handler, http.MethodGet, "/v1/stats")

	res := serve(handler, http.MethodGet, "/metrics")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}
