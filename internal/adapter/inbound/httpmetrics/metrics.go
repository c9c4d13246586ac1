// Package httpmetrics exposes the gateway's Prometheus metrics and a
// liveness endpoint, grounded on Sentinel-Gate's
// internal/adapter/inbound/http.Metrics / promhttp wiring.
package httpmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolgateway/gatekeeper/internal/service"
)

// Metrics holds the gateway's Prometheus instruments.
type Metrics struct {
	CallsTotal        *prometheus.CounterVec
	CallDuration      *prometheus.HistogramVec
	PolicyEvaluations *prometheus.CounterVec
	BackendStatus     *prometheus.GaugeVec
	RateLimitKeys     prometheus.Gauge
	AuditChainValid   prometheus.Gauge
}

// NewMetrics registers every gateway metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gatekeeper",
				Name:      "calls_total",
				Help:      "Total tool calls processed, by terminal status.",
			},
			[]string{"status"},
		),
		CallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gatekeeper",
				Name:      "call_duration_seconds",
				Help:      "Tool call latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server", "tool"},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gatekeeper",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations, by decision.",
			},
			[]string{"decision"},
		),
		BackendStatus: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gatekeeper",
				Name:      "backend_status",
				Help:      "Backend runtime status (1 = running, 0 = not).",
			},
			[]string{"server"},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gatekeeper",
				Name:      "rate_limit_keys",
				Help:      "Number of active rate-limit window keys.",
			},
		),
		AuditChainValid: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gatekeeper",
				Name:      "audit_chain_valid",
				Help:      "1 if the audit log's hash chain last verified intact, 0 otherwise.",
			},
		),
	}
}

// ObserveCall implements service.Metrics, recording one terminal call's
// status and latency.
func (m *Metrics) ObserveCall(status, server, tool string, seconds float64) {
	m.CallsTotal.WithLabelValues(status).Inc()
	m.CallDuration.WithLabelValues(server, tool).Observe(seconds)
}

// ObservePolicyEvaluation implements service.Metrics, recording one policy
// decision ("allow" or "deny").
func (m *Metrics) ObservePolicyEvaluation(decision string) {
	m.PolicyEvaluations.WithLabelValues(decision).Inc()
}

// SetBackendStatus reports one backend's running/not-running gauge value.
func (m *Metrics) SetBackendStatus(server string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	m.BackendStatus.WithLabelValues(server).Set(v)
}

// SetRateLimitKeys reports the number of active rate-limit window keys.
func (m *Metrics) SetRateLimitKeys(n int) {
	m.RateLimitKeys.Set(float64(n))
}

// SetAuditChainValid reports whether the audit log's hash chain last
// verified intact.
func (m *Metrics) SetAuditChainValid(valid bool) {
	v := 0.0
	if valid {
		v = 1.0
	}
	m.AuditChainValid.Set(v)
}

// Handler builds the /metrics and /healthz mux for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

var _ service.Metrics = (*Metrics)(nil)
