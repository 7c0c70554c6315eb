package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver for the intake and provision binaries.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	runsInFlight      prometheus.Gauge
	stageDuration     *prometheus.HistogramVec
	stageErrorsTotal  *prometheus.CounterVec
	allocationsTotal  *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	notificationTotal *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Total messages handled by outcome.",
		},
		[]string{"service", "outcome"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "message_duration_seconds",
			Help:      "End-to-end message handling duration in seconds by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "messages_in_flight",
			Help:      "Number of messages currently in the pipeline.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "State machine stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	stageErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Total failed state machine stages.",
		},
		[]string{"service", "stage"},
	)
	allocationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "slots",
			Name:      "allocations_total",
			Help:      "Slot allocation attempts by result.",
		},
		[]string{"service", "result"},
	)
	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "judge",
			Name:      "fallbacks_total",
			Help:      "Judgments that could not be parsed and fell back to heuristics.",
		},
		[]string{"service", "component"},
	)
	notificationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Appointment confirmation deliveries by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		runsTotal,
		runDuration,
		runsInFlight,
		stageDuration,
		stageErrorsTotal,
		allocationsTotal,
		fallbacksTotal,
		notificationTotal,
	)

	return &PipelineMetrics{
		registry:          registry,
		service:           service,
		runsTotal:         runsTotal,
		runDuration:       runDuration,
		runsInFlight:      runsInFlight,
		stageDuration:     stageDuration,
		stageErrorsTotal:  stageErrorsTotal,
		allocationsTotal:  allocationsTotal,
		fallbacksTotal:    fallbacksTotal,
		notificationTotal: notificationTotal,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartRun() {
	m.runsInFlight.Inc()
}

func (m *PipelineMetrics) FinishRun(outcome domain.OutcomeKind, duration time.Duration) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(m.service, string(outcome)).Inc()
	m.runDuration.WithLabelValues(m.service, string(outcome)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveStage(stage string, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
	if err != nil {
		m.stageErrorsTotal.WithLabelValues(m.service, stage).Inc()
	}
}

func (m *PipelineMetrics) ObserveAllocation(result string) {
	if result == "" {
		result = "unknown"
	}
	m.allocationsTotal.WithLabelValues(m.service, result).Inc()
}

func (m *PipelineMetrics) ObserveJudgmentFallback(component string) {
	m.fallbacksTotal.WithLabelValues(m.service, component).Inc()
}

func (m *PipelineMetrics) ObserveNotification(err error) {
	status := "sent"
	if err != nil {
		status = "error"
	}
	m.notificationTotal.WithLabelValues(m.service, status).Inc()
}
