// Package telemetry provides the Prometheus metrics recorded by the
// forwarding pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons used as the "reason" label on forwards_failed_total.
const (
	ReasonGuildNotFound   = "guild_not_found"
	ReasonChannelNotFound = "channel_not_found"
	ReasonUnsupportedKind = "unsupported_kind"
	ReasonSendFailed      = "send_failed"
	ReasonPanic           = "panic"
)

// Metrics holds the collectors for one process. All methods are safe on a
// nil *Metrics, which records nothing.
type Metrics struct {
	ForwardsSent     *prometheus.CounterVec
	ForwardsFailed   *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	EventsDispatched prometheus.Counter
	Mutations        *prometheus.CounterVec
	SendDuration     prometheus.Histogram
	QueueDepth       prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ForwardsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invictus_forwards_sent_total",
			Help: "Number of messages forwarded, by scope (same_guild or cross_guild)",
		}, []string{"scope"}),
		ForwardsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invictus_forwards_failed_total",
			Help: "Number of forward attempts that were dropped, by reason",
		}, []string{"reason"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "invictus_events_dropped_total",
			Help: "Number of message events discarded because the queue was full",
		}),
		EventsDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "invictus_events_dispatched_total",
			Help: "Number of message events evaluated against the mapping registry",
		}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invictus_mapping_mutations_total",
			Help: "Number of mapping mutations, by operation and result",
		}, []string{"op", "result"}),
		SendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "invictus_send_duration_seconds",
			Help:    "Latency of outbound forward sends",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "invictus_queue_depth",
			Help: "Current number of message events waiting for dispatch",
		}),
	}
}

// ForwardSent records one delivered forward.
func (m *Metrics) ForwardSent(crossGuild bool) {
	if m == nil {
		return
	}
	scope := "same_guild"
	if crossGuild {
		scope = "cross_guild"
	}
	m.ForwardsSent.WithLabelValues(scope).Inc()
}

// ForwardFailed records one dropped forward attempt.
func (m *Metrics) ForwardFailed(reason string) {
	if m == nil {
		return
	}
	m.ForwardsFailed.WithLabelValues(reason).Inc()
}

// EventDropped records a queue overflow.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// EventDispatched records one event handed to the dispatcher.
func (m *Metrics) EventDispatched() {
	if m == nil {
		return
	}
	m.EventsDispatched.Inc()
}

// MappingMutation records a registry mutation; result is "ok" or "error".
func (m *Metrics) MappingMutation(op, result string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, result).Inc()
}

// ObserveSend records the latency of a send that started at start.
func (m *Metrics) ObserveSend(start time.Time) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(time.Since(start).Seconds())
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
