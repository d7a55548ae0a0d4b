package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics счётчики менеджера сессии.
type Metrics struct {
	logins          *prometheus.CounterVec
	refreshes       prometheus.Counter
	refreshFailures prometheus.Counter
	logouts         prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg, если он не nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoutcard",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login and signup attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoutcard",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Access token refresh calls sent to the backend.",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoutcard",
			Subsystem: "session",
			Name:      "refresh_failures_total",
			Help:      "Failed access token refreshes.",
		}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scoutcard",
			Subsystem: "session",
			Name:      "logouts_total",
			Help:      "Session terminations, explicit or forced.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.refreshes, m.refreshFailures, m.logouts)
	}
	return m
}
