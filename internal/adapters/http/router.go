package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/immigration-intake/internal/config"
	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
	"github.com/kirillkom/immigration-intake/internal/observability/metrics"
)

const (
	serviceName      = "api"
	maxInFlight      = 64
	backpressureWait = 250 * time.Millisecond
	intakeRunTimeout = 10 * time.Minute
	defaultRateLimit = 20
	defaultRateBurst = 40
)

type Router struct {
	cfg     config.Config
	reports ports.ReportReader
	intake  ports.IntakePoller
	metrics *metrics.HTTPServerMetrics
	now     func() time.Time
}

// NewRouter builds the read API. intake and httpMetrics may be nil.
func NewRouter(
	cfg config.Config,
	reports ports.ReportReader,
	intake ports.IntakePoller,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:     cfg,
		reports: reports,
		intake:  intake,
		metrics: httpMetrics,
		now:     time.Now,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /v1/requests", rt.listRequests)
	mux.HandleFunc("GET /v1/requests/{id}", rt.getRequest)
	mux.HandleFunc("GET /v1/requests/{id}/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/requesters/{email}/requests", rt.listRequesterRequests)
	mux.HandleFunc("GET /v1/appointments/available", rt.nextAvailable)
	mux.HandleFunc("GET /v1/appointments/{id}", rt.getAppointment)
	mux.HandleFunc("GET /v1/stats", rt.stats)
	mux.HandleFunc("POST /v1/intake/run", rt.runIntake)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	rps := rt.cfg.APIRateLimitRPS
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := rt.cfg.APIRateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, maxInFlight, backpressureWait)
	handler = rateLimitMiddleware(handler, rps, burst, rt.onRateLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onRateLimited(r *http.Request) {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName, r.URL.Path)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listRequests(w http.ResponseWriter, r *http.Request) {
	rt.writeRequestList(w, r, domain.RequestFilter{})
}

func (rt *Router) listRequesterRequests(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PathValue("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "requester email is required")
		return
	}
	rt.writeRequestList(w, r, domain.RequestFilter{RequesterEmail: email})
}

func (rt *Router) writeRequestList(w http.ResponseWriter, r *http.Request, filter domain.RequestFilter) {
	query := r.URL.Query()
	filter.Status = domain.RequestStatus(strings.TrimSpace(query.Get("status")))

	var err error
	if filter.Limit, err = optionalInt(query.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = optionalInt(query.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	requests, err := rt.reports.ListRequests(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}

func (rt *Router) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := rt.reports.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	docs, err := rt.reports.ListDocuments(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) nextAvailable(w http.ResponseWriter, r *http.Request) {
	slot, err := rt.reports.NextAvailable(r.Context(), rt.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": slot != nil, "slot": slot})
}

func (rt *Router) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := rt.reports.GetAppointment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.reports.Stats(r.Context(), rt.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) runIntake(w http.ResponseWriter, r *http.Request) {
	if rt.intake == nil {
		writeError(w, http.StatusServiceUnavailable, "intake is not configured")
		return
	}
	ctx, cancel := contextWithTimeout(r, intakeRunTimeout)
	defer cancel()

	outcomes, err := rt.intake.Poll(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes, "count": len(outcomes)})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func optionalInt(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
