package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SendPasses     prometheus.Counter
	EmailsSent     prometheus.Counter
	SendFailures   prometheus.Counter
	SyncPasses     prometheus.Counter
	EmailsReceived prometheus.Counter
	Bounces        prometheus.Counter
	QueuePending   prometheus.Gauge
	SendDuration   prometheus.Histogram
}

// NewMetrics creates and registers the metric set on the given registerer.
// Tests pass a private registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SendPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_dispatch_send_passes_total",
			Help: "Total number of outbound delivery passes",
		}),
		EmailsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_dispatch_emails_sent_total",
			Help: "Total number of successfully delivered emails",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_dispatch_send_failures_total",
			Help: "Total number of failed delivery attempts",
		}),
		SyncPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_dispatch_sync_passes_total",
			Help: "Total number of inbound mailbox sync passes",
		}),
		EmailsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_dispatch_emails_received_total",
			Help: "Total number of inbound emails persisted",
		}),
		Bounces: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_dispatch_bounces_total",
			Help: "Total number of inbound emails classified as bounces",
		}),
		QueuePending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mail_dispatch_queue_pending",
			Help: "Number of queued emails currently eligible for delivery",
		}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_dispatch_send_duration_seconds",
			Help:    "Time spent delivering one email",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
