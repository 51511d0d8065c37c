// Package metrics exposes Prometheus collectors for analysis sessions and task delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ozone"

// Metrics holds every collector the service records into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AnalysisMessages   *prometheus.CounterVec
	AnalysisSessions   *prometheus.CounterVec
	AnalysisActive     prometheus.Gauge
	AnalysisParseError prometheus.Counter

	TasksScheduled  *prometheus.CounterVec
	TaskDeliveries  *prometheus.CounterVec
	TimersArmed     prometheus.Gauge
	DeliveryLatency *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AnalysisMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "messages_total",
			Help:      "Inbound analysis messages by type.",
		}, []string{"type"}),
		AnalysisSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "sessions_total",
			Help:      "Finished analysis sessions by outcome.",
		}, []string{"outcome"}),
		AnalysisActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "sessions_active",
			Help:      "Analysis sessions with an open transport.",
		}),
		AnalysisParseError: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "parse_errors_total",
			Help:      "Inbound frames that failed to decode.",
		}),
		TasksScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_created_total",
			Help:      "Scheduled tasks created by connector.",
		}, []string{"connector"}),
		TaskDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by connector and outcome.",
		}, []string{"connector", "outcome"}),
		TimersArmed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "timers_armed",
			Help:      "Pending task timers.",
		}),
		DeliveryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "delivery_seconds",
			Help:      "Time spent in the delivery collaborator.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"connector"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMessage(kind string) {
	if m == nil {
		return
	}
	m.AnalysisMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveParseError() {
	if m == nil {
		return
	}
	m.AnalysisParseError.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.AnalysisActive.Inc()
}

func (m *Metrics) SessionFinished(outcome string, wasOpen bool) {
	if m == nil {
		return
	}
	m.AnalysisSessions.WithLabelValues(outcome).Inc()
	if wasOpen {
		m.AnalysisActive.Dec()
	}
}

func (m *Metrics) TaskCreated(connector string) {
	if m == nil {
		return
	}
	m.TasksScheduled.WithLabelValues(connector).Inc()
}

func (m *Metrics) DeliveryAttempted(connector, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TaskDeliveries.WithLabelValues(connector, outcome).Inc()
	m.DeliveryLatency.WithLabelValues(connector).Observe(seconds)
}

func (m *Metrics) SetTimersArmed(n int) {
	if m == nil {
		return
	}
	m.TimersArmed.Set(float64(n))
}
