package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds per-server counters on a private registry so two servers
// in one process never collide.
type metrics struct {
	registry      *prometheus.Registry
	billed        prometheus.Counter
	verifications *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	cosigns       *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		billed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_bills_issued_total",
			Help: "Job submissions answered with a bill.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_proof_verifications_total",
			Help: "Payment proof verifications by method and outcome.",
		}, []string{"method", "outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_jobs_total",
			Help: "Jobs run after accepted payment, by status.",
		}, []string{"status"}),
		cosigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_countersigns_total",
			Help: "Session state countersign requests by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.billed, m.verifications, m.jobs, m.cosigns)
	return m
}

// MetricsHandler exposes the server's counters in Prometheus text format.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
}
