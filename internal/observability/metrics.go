package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the approval core.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	validationsTotal   *prometheus.CounterVec
	validationDuration prometheus.Histogram

	permissionChecks   *prometheus.CounterVec
	permissionDuration prometheus.Histogram

	stepActionsTotal *prometheus.CounterVec
	confirmsByStatus *prometheus.GaugeVec
}

// NewMetrics initialises the registry and core metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_schema_validations_total",
		Help: "Schema validations by schema and outcome.",
	}, []string{"schema", "outcome"})
	validationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meridian_schema_validation_duration_seconds",
		Help:    "Duration of a single schema validation.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_permission_checks_total",
		Help: "Permission checks by outcome and cache hit.",
	}, []string{"outcome", "cache"})
	checkDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meridian_permission_check_duration_seconds",
		Help:    "Duration of a single permission check.",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01},
	})
	stepActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_confirm_step_actions_total",
		Help: "Workflow step actions by action and outcome.",
	}, []string{"action", "outcome"})
	confirms := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meridian_confirmations",
		Help: "Confirmations currently tracked by status.",
	}, []string{"status"})
	registry.MustRegister(validations, validationDuration, checks, checkDuration, stepActions, confirms)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		validationsTotal:   validations,
		validationDuration: validationDuration,
		permissionChecks:   checks,
		permissionDuration: checkDuration,
		stepActionsTotal:   stepActions,
		confirmsByStatus:   confirms,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveValidation records a schema validation.
func (m *Metrics) ObserveValidation(schema string, valid bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	m.validationsTotal.WithLabelValues(schema, outcome).Inc()
	m.validationDuration.Observe(d.Seconds())
}

// ObservePermissionCheck records a permission check.
func (m *Metrics) ObservePermissionCheck(granted, cacheHit bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.permissionChecks.WithLabelValues(outcome, cache).Inc()
	m.permissionDuration.Observe(d.Seconds())
}

// ObserveStepAction records a workflow step action.
func (m *Metrics) ObserveStepAction(action string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stepActionsTotal.WithLabelValues(action, outcome).Inc()
}

// SetConfirmations updates the per-status confirmation gauge.
func (m *Metrics) SetConfirmations(status string, n float64) {
	if m == nil {
		return
	}
	m.confirmsByStatus.WithLabelValues(status).Set(n)
}
