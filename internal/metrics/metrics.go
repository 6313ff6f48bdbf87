// Package metrics exposes herald's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrz1836/herald/internal/chain"
)

const namespace = "herald"

// Metrics holds the collectors of one Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	validationsRejected *prometheus.CounterVec
	submissions         *prometheus.CounterVec
	outcomes            *prometheus.CounterVec
	externalRequests    *prometheus.CounterVec
	facadeCalls         *prometheus.HistogramVec
	facadeErrors        *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		validationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_rejected_total",
			Help:      "Intents rejected during validation, by error kind",
		}, []string{"kind"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transactions accepted for signing, by chain type and signer",
		}, []string{"chain_type", "signer"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_outcomes_total",
			Help:      "Transactions reaching a final state, by chain type and outcome",
		}, []string{"chain_type", "outcome"}),
		externalRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "External signing request transitions, by signer kind and status",
		}, []string{"kind", "status"}),
		facadeCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_call_duration_seconds",
			Help:      "Chain facade call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "method"}),
		facadeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_call_errors_total",
			Help:      "Failed chain facade calls",
		}, []string{"chain", "method"}),
	}
}

// ValidationRejected counts an intent rejected with the given error kind.
func (m *Metrics) ValidationRejected(kind string) {
	m.validationsRejected.WithLabelValues(kind).Inc()
}

// Submitted counts a transaction handed to the dispatcher.
func (m *Metrics) Submitted(chainType, signer string) {
	m.submissions.WithLabelValues(chainType, signer).Inc()
}

// Finished counts a final outcome: success, fail or rejected.
func (m *Metrics) Finished(chainType, outcome string) {
	m.outcomes.WithLabelValues(chainType, outcome).Inc()
}

// ExternalRequest counts an external request transition.
func (m *Metrics) ExternalRequest(kind, status string) {
	m.externalRequests.WithLabelValues(kind, status).Inc()
}

// ObserveCall records a chain facade call. It matches chain.Observer.
func (m *Metrics) ObserveCall(chainID chain.ID, method string, elapsed time.Duration, err error) {
	m.facadeCalls.WithLabelValues(string(chainID), method).Observe(elapsed.Seconds())
	if err != nil {
		m.facadeErrors.WithLabelValues(string(chainID), method).Inc()
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
