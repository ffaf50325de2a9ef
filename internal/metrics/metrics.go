// Package metrics exposes the dispatcher's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes recorded on the deliveries counter.
const (
	OutcomeSent   = "sent"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"
)

// Metrics groups every instrument. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	deliveries   *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	claimed      prometheus.Counter
	scanDuration prometheus.Histogram
	queueDepth   prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alert_dispatcher",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alert_dispatcher",
			Name:      "telegram_send_duration_seconds",
			Help:      "Latency of Telegram Bot API calls by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alert_dispatcher",
			Name:      "claimed_logs_total",
			Help:      "Logs claimed by the scheduler.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alert_dispatcher",
			Name:      "scan_duration_seconds",
			Help:      "Duration of one scheduler scan.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alert_dispatcher",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the local worker queue.",
		}),
	}
	reg.MustRegister(m.deliveries, m.sendDuration, m.claimed, m.scanDuration, m.queueDepth)
	return m
}

func (m *Metrics) ObserveDelivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSend(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveScan(claimed int, d time.Duration) {
	if m == nil {
		return
	}
	m.claimed.Add(float64(claimed))
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
