package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters for the telephony event pipeline.
type WebhookMetrics struct {
	eventsTotal       *prometheus.CounterVec
	signatureFailures prometheus.Counter
	reconcileErrors   prometheus.Counter
	recordingFetches  *prometheus.CounterVec
	webhookLatency    prometheus.Histogram
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "telephony",
			Name:      "webhook_events_total",
			Help:      "Total provider webhook deliveries processed",
		}, []string{"direction", "status"}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "telephony",
			Name:      "signature_failures_total",
			Help:      "Webhook deliveries whose signature did not verify",
		}),
		reconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "telephony",
			Name:      "reconcile_errors_total",
			Help:      "Reconciliations that failed and were answered with success:false",
		}),
		recordingFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "telephony",
			Name:      "recording_fetches_total",
			Help:      "Deferred recording URL fetch attempts",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "telephony",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.signatureFailures, m.reconcileErrors, m.recordingFetches, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveEvent(direction, status string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(direction, status).Inc()
}

func (m *WebhookMetrics) ObserveSignatureFailure() {
	if m == nil {
		return
	}
	m.signatureFailures.Inc()
}

func (m *WebhookMetrics) ObserveReconcileError() {
	if m == nil {
		return
	}
	m.reconcileErrors.Inc()
}

func (m *WebhookMetrics) ObserveRecordingFetch(outcome string) {
	if m == nil {
		return
	}
	m.recordingFetches.WithLabelValues(outcome).Inc()
}

func (m *WebhookMetrics) ObserveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.Observe(seconds)
}
