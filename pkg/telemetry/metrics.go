// Package telemetry exposes prometheus metrics for the sync engine. A nil
// *Metrics is valid and records nothing.
package telemetry

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatsync"

type Metrics struct {
	apiRequests     *prometheus.CounterVec
	apiLatency      *prometheus.HistogramVec
	messagesSent    *prometheus.CounterVec
	realtimeIngest  *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	queueOutcomes   *prometheus.CounterVec
	subscriptions   prometheus.Gauge
	reconnects      prometheus.Counter
	mediaPhase      *prometheus.HistogramVec
	mediaBytesSaved prometheus.Counter
	busDropped      prometheus.Counter
}

// New creates the metric set and registers it on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "Remote API calls by operation and result.",
		}, []string{"op", "result"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_seconds",
			Help:    "Remote API call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Outgoing messages by outcome (sent, queued, failed).",
		}, []string{"outcome"}),
		realtimeIngest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "realtime_events_total",
			Help: "Pushed events by type and outcome.",
		}, []string{"type", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Actions waiting in the offline queue.",
		}),
		queueOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_attempts_total",
			Help: "Queue attempts by action kind and outcome.",
		}, []string{"kind", "outcome"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realtime_subscriptions",
			Help: "Active realtime subscriptions.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "realtime_reconnects_total",
			Help: "Realtime connection redials.",
		}),
		mediaPhase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "media_phase_seconds",
			Help:    "Media pipeline phase durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"phase"}),
		mediaBytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "media_bytes_saved_total",
			Help: "Bytes removed by image optimization.",
		}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Events dropped because a subscriber was full.",
		}),
	}
	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Number of active goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.messagesSent, m.realtimeIngest,
		m.queueDepth, m.queueOutcomes, m.subscriptions, m.reconnects,
		m.mediaPhase, m.mediaBytesSaved, m.busDropped, goroutines,
	)
	return m
}

// ObserveAPI records one remote call.
func (m *Metrics) ObserveAPI(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.apiRequests.WithLabelValues(op, result).Inc()
	m.apiLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) MessageSent(outcome string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RealtimeEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.realtimeIngest.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) QueueAttempt(kind, outcome string) {
	if m == nil {
		return
	}
	m.queueOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) ObserveMediaPhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.mediaPhase.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) MediaBytesSaved(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.mediaBytesSaved.Add(float64(n))
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}
