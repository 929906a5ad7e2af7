// Package metrics turns dispatch events into Prometheus series.
//
// Series (namespace botmux):
//   - updates_total{bot_type,outcome}: incoming walks by outcome
//   - messages_total{bot_type,status}: sends by delivery status
//   - dispatch_duration_seconds{stage}: incoming and outgoing walk latency
//   - bots{bot_type}: registered bots
//   - queue_depth: updates waiting for a dispatch worker
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botmux/pkg/bus"
)

const namespace = "botmux"

// Metrics owns a private registry so several engines can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	updatesTotal    *prometheus.CounterVec
	messagesTotal   *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	bots            *prometheus.GaugeVec
	queueDepth      prometheus.Gauge
}

// New creates and registers the dispatch collectors plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Incoming updates by walk outcome.",
		},
		[]string{"bot_type", "outcome"},
	)
	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Outgoing messages by delivery status.",
		},
		[]string{"bot_type", "status"},
	)
	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Middleware walk duration by pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	m.bots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bots",
			Help:      "Registered bots by type.",
		},
		[]string{"bot_type"},
	)
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Updates waiting for a dispatch worker.",
	})

	m.registry.MustRegister(
		m.updatesTotal,
		m.messagesTotal,
		m.durationSeconds,
		m.bots,
		m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetQueueDepth records the number of queued updates.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Record folds one dispatch event into the collectors.
func (m *Metrics) Record(event bus.Event) {
	botType := event.BotType
	if botType == "" {
		botType = "unknown"
	}

	switch event.Type {
	case bus.EventUpdateReady:
		m.updatesTotal.WithLabelValues(botType, "completed").Inc()
		m.durationSeconds.WithLabelValues("incoming").Observe(event.Duration.Seconds())
	case bus.EventUpdateSkipped:
		m.updatesTotal.WithLabelValues(botType, "skipped").Inc()
		m.durationSeconds.WithLabelValues("incoming").Observe(event.Duration.Seconds())
	case bus.EventUpdateFailed:
		m.updatesTotal.WithLabelValues(botType, "failed").Inc()
		m.durationSeconds.WithLabelValues("incoming").Observe(event.Duration.Seconds())
	case bus.EventMessageSent:
		m.messagesTotal.WithLabelValues(botType, "sent").Inc()
		m.durationSeconds.WithLabelValues("outgoing").Observe(event.Duration.Seconds())
	case bus.EventMessageFailed:
		m.messagesTotal.WithLabelValues(botType, "failed").Inc()
		m.durationSeconds.WithLabelValues("outgoing").Observe(event.Duration.Seconds())
	case bus.EventBotAdded:
		m.bots.WithLabelValues(botType).Inc()
	case bus.EventBotRemoved:
		m.bots.WithLabelValues(botType).Dec()
	}
}

// Consume records events until the channel closes or ctx ends.
func (m *Metrics) Consume(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.Record(event)
		}
	}
}
