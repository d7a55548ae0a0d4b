package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics счётчики транспорта.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	retries      prometheus.Counter
	reauth       prometheus.Counter
	breakerState prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg, если он не nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoutcard",
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Requests sent to the backend by method and status code.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scoutcard",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Backend round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoutcard",
			Subsystem: "transport",
			Name:      "retries_total",
			Help:      "Transport level retries of idempotent requests.",
		}),
		reauth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoutcard",
			Subsystem: "transport",
			Name:      "unauthorized_retries_total",
			Help:      "Requests retried after a 401 with a renewed access token.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoutcard",
			Subsystem: "transport",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.retries, m.reauth, m.breakerState)
	}
	return m
}
