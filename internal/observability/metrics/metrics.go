package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "salon"

func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cs...)
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// MessagingMetrics exposes counters/histograms for WhatsApp traffic.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhooks by outcome",
		}, []string{"message_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of WhatsApp webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"message_type"}),
	}
	register(reg, m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(kind string, ok bool) {
	if m == nil {
		return
	}
	status := "failed"
	if ok {
		status = "sent"
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(messageType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(messageType).Observe(seconds)
}

// BookingMetrics counts coordinator outcomes.
type BookingMetrics struct {
	operations *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking operations by outcome",
		}, []string{"operation", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "non_atomic_fallback_total",
			Help:      "Writes that ran on the check-then-write fallback path",
		}, []string{"operation"}),
	}
	register(reg, m.operations, m.fallbacks)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveFallback(operation string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(operation).Inc()
}

// NotificationMetrics tracks scheduler sends.
type NotificationMetrics struct {
	sends       *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sends_total",
			Help:      "Scheduler notifications by type and outcome",
		}, []string{"type", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduler job runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
	register(reg, m.sends, m.jobDuration)
	return m
}

func (m *NotificationMetrics) ObserveSend(notificationType, outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(notificationType, outcome).Inc()
}

func (m *NotificationMetrics) ObserveJob(job string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}

// DedupMetrics counts gate decisions per tier.
type DedupMetrics struct {
	decisions *prometheus.CounterVec
}

func NewDedupMetrics(reg prometheus.Registerer) *DedupMetrics {
	m := &DedupMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "decisions_total",
			Help:      "Dedup gate decisions by answering tier",
		}, []string{"tier", "duplicate"}),
	}
	register(reg, m.decisions)
	return m
}

func (m *DedupMetrics) ObserveDecision(tier string, duplicate bool) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(tier, boolLabel(duplicate)).Inc()
}
