package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schoolhub"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRotated = "rotated"
)

// Metrics owns its own registry so several instances can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	Logins            *prometheus.CounterVec
	Registrations     *prometheus.CounterVec
	Refreshes         *prometheus.CounterVec
	SessionExtensions prometheus.Counter
	Logouts           prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Registration attempts by result.",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Access token refreshes by result.",
		}, []string{"result"}),
		SessionExtensions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "extensions_total",
			Help:      "Sessions extended because they were close to expiry.",
		}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Completed logouts.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
