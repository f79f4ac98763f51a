// Package metrics exposes Prometheus instrumentation for the rebalancing engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultkeeper"

// Metrics groups every collector the engine records to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal      prometheus.Counter
	cycleDuration    prometheus.Histogram
	evaluationsTotal *prometheus.CounterVec
	executionsTotal  *prometheus.CounterVec
	adapterCalls     *prometheus.HistogramVec
	verdictsTotal    *prometheus.CounterVec
	alertsTotal      *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	riskScore        *prometheus.GaugeVec
}

// New creates the collectors and registers them on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_cycles_total",
			Help:      "Total number of monitor cycles run",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_cycle_duration_seconds",
			Help:      "Duration of monitor cycles",
			Buckets:   prometheus.DefBuckets,
		}),
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Per-user evaluations by outcome",
		}, []string{"outcome"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Rebalance executions by trigger and terminal status",
		}, []string{"trigger", "status"}),
		adapterCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_call_duration_seconds",
			Help:      "Protocol adapter call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol", "direction", "result"}),
		verdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_verdicts_total",
			Help:      "Security gate verdicts",
		}, []string{"approved"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_alerts_total",
			Help:      "Risk alerts raised by category and severity",
		}, []string{"category", "severity"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_escalations_total",
			Help:      "Alert escalation attempts by result",
		}, []string{"result"}),
		riskScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Latest overall risk score per user",
		}, []string{"user"}),
	}

	m.registry.MustRegister(
		m.cyclesTotal,
		m.cycleDuration,
		m.evaluationsTotal,
		m.executionsTotal,
		m.adapterCalls,
		m.verdictsTotal,
		m.alertsTotal,
		m.escalationsTotal,
		m.riskScore,
	)
	return m
}

// Registry returns the registry holding the engine collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle records a completed monitor cycle
func (m *Metrics) RecordCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// RecordEvaluation records the outcome of one user evaluation
func (m *Metrics) RecordEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(outcome).Inc()
}

// RecordExecution records a terminal execution
func (m *Metrics) RecordExecution(trigger, status string) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(trigger, status).Inc()
}

// RecordAdapterCall records one protocol adapter call
func (m *Metrics) RecordAdapterCall(protocol, direction string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.adapterCalls.WithLabelValues(protocol, direction, result).Observe(d.Seconds())
}

// RecordVerdict records a security gate verdict
func (m *Metrics) RecordVerdict(approved bool) {
	if m == nil {
		return
	}
	label := "false"
	if approved {
		label = "true"
	}
	m.verdictsTotal.WithLabelValues(label).Inc()
}

// RecordAlert records a newly raised alert
func (m *Metrics) RecordAlert(category, severity string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(category, severity).Inc()
}

// RecordEscalation records an escalation attempt
func (m *Metrics) RecordEscalation(ok bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !ok {
		result = "failed"
	}
	m.escalationsTotal.WithLabelValues(result).Inc()
}

// SetRiskScore records the latest overall risk score of a user
func (m *Metrics) SetRiskScore(user string, score int) {
	if m == nil {
		return
	}
	m.riskScore.WithLabelValues(user).Set(float64(score))
}
