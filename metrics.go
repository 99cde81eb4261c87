package authcore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels.
const (
	opLogin    = "login"
	opRefresh  = "refresh"
	opLogout   = "logout"
	opRevoke   = "revoke_all"
	opValidate = "validate"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	security    *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// newMetrics builds the collectors and registers them on reg. Nothing is
// registered globally; a nil reg leaves the collectors unexported.
func newMetrics(cfg MetricsConfig, reg prometheus.Registerer, auditDropped func() float64) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ns := cfg.Namespace
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		}, []string{"operation", "outcome"}),
		security: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "security_events_total",
			Help:      "Reuse detections, lineage teardowns and mass revocations.",
		}, []string{"event"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rate_limited_total",
			Help:      "Requests denied by the rate limiter, by budget.",
		}, []string{"scope"}),
	}
	collectors := []prometheus.Collector{m.operations, m.security, m.rateLimited}
	if cfg.EnableLatencyHistograms {
		m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"})
		collectors = append(collectors, m.latency)
	}
	if auditDropped != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "audit_dropped_total",
			Help:      "Audit events dropped under dispatcher backpressure.",
		}, auditDropped))
	}
	if reg != nil {
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome(err)).Inc()
	if m.latency != nil {
		m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) securityEvent(event string) {
	if m == nil {
		return
	}
	m.security.WithLabelValues(event).Inc()
}

func (m *Metrics) rateLimit(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

// outcome maps an engine error onto a bounded label set. It doubles as the
// audit error code.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTokenReuseDetected):
		return "reuse_detected"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrDeviceMismatch):
		return "device_mismatch"
	case errors.Is(err, ErrFingerprintRequired):
		return "fingerprint_required"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}
