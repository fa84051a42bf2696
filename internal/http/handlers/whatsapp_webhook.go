package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/salon-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-bot/internal/whatsapp"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("salon.internal.http.handlers")

const (
	defaultInboundTimeout = 60 * time.Second
	maxWebhookBody        = 1 << 20
)

// MessageProcessor handles one parsed inbound message.
type MessageProcessor interface {
	Handle(ctx context.Context, msg whatsapp.InboundMessage) error
}

// WhatsAppWebhookConfig wires the webhook endpoint.
type WhatsAppWebhookConfig struct {
	VerifyToken    string
	AppSecret      string
	Processor      MessageProcessor
	InboundTimeout time.Duration
	Logger         *logging.Logger
	Metrics        *metrics.MessagingMetrics
}

// WhatsAppWebhookHandler serves the Meta webhook subscription and deliveries.
type WhatsAppWebhookHandler struct {
	verifyToken string
	appSecret   string
	processor   MessageProcessor
	timeout     time.Duration
	logger      *logging.Logger
	metrics     *metrics.MessagingMetrics
}

func NewWhatsAppWebhookHandler(cfg WhatsAppWebhookConfig) *WhatsAppWebhookHandler {
	if cfg.Processor == nil {
		panic("handlers: message processor required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.InboundTimeout <= 0 {
		cfg.InboundTimeout = defaultInboundTimeout
	}
	return &WhatsAppWebhookHandler{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		processor:   cfg.Processor,
		timeout:     cfg.InboundTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Verify answers the subscription handshake by echoing hub.challenge.
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("whatsapp webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Receive processes a delivery. It always answers 200 so Meta does not retry
// deliveries that failed for reasons a retry cannot fix.
func (h *WhatsAppWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracer.Start(r.Context(), "whatsapp.webhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("whatsapp webhook body unreadable", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !whatsapp.VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("whatsapp webhook signature invalid", "remote_ip", r.RemoteAddr)
		h.metrics.ObserveInbound("webhook", "invalid_signature")
		w.WriteHeader(http.StatusOK)
		return
	}
	payload, err := whatsapp.ParsePayload(body)
	if err != nil {
		h.logger.Warn("whatsapp webhook payload invalid", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	messages := payload.Inbound()
	span.SetAttributes(attribute.Int("whatsapp.messages", len(messages)))
	for _, msg := range messages {
		h.process(ctx, msg)
	}
	w.WriteHeader(http.StatusOK)
	h.metrics.ObserveWebhookLatency("webhook", time.Since(start).Seconds())
}

func (h *WhatsAppWebhookHandler) process(ctx context.Context, msg whatsapp.InboundMessage) {
	// Detached from the request so a client disconnect does not abort a booking.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	started := time.Now()
	if err := h.processor.Handle(ctx, msg); err != nil {
		h.logger.Error("whatsapp message processing failed",
			"wa_message_id", msg.MessageID,
			"phone_number_id", msg.PhoneNumberID,
			"error", err,
		)
	}
	h.metrics.ObserveWebhookLatency(msg.Type, time.Since(started).Seconds())
}
