package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

// Handoff describes a conversation the bot passed to a human.
type Handoff struct {
	TenantName    string
	OperatorEmail string
	ClientName    string
	ClientPhone   string
	Reason        string
}

// HandoffNotifier emails the salon operator when a client asks for a person.
type HandoffNotifier struct {
	email  EmailSender
	logger *logging.Logger
}

func NewHandoffNotifier(email EmailSender, logger *logging.Logger) *HandoffNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &HandoffNotifier{email: email, logger: logger}
}

// NotifyHandoff is a no-op when the tenant has no operator address.
func (n *HandoffNotifier) NotifyHandoff(ctx context.Context, h Handoff) error {
	if n == nil || n.email == nil {
		return nil
	}
	to := strings.TrimSpace(h.OperatorEmail)
	if to == "" {
		n.logger.Warn("notify: no operator email configured, handoff not emailed", "tenant", h.TenantName)
		return nil
	}
	name := strings.TrimSpace(h.ClientName)
	if name == "" {
		name = "A client"
	}
	reason := strings.TrimSpace(h.Reason)
	if reason == "" {
		reason = "not specified"
	}
	msg := EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("WhatsApp: %s asked to speak with someone", name),
		Body: fmt.Sprintf("%s (%s) asked for a human operator on WhatsApp.\n\nReason: %s\n\n"+
			"The assistant is paused for this conversation until an operator replies.\n\n- %s",
			name, h.ClientPhone, reason, h.TenantName),
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send handoff email: %w", err)
	}
	n.logger.Info("notify: handoff email sent", "to", to, "client_phone", h.ClientPhone)
	return nil
}
