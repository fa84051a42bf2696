package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
	"github.com/wolfman30/salon-booking-bot/internal/booking"
	"github.com/wolfman30/salon-booking-bot/internal/clients"
	"github.com/wolfman30/salon-booking-bot/internal/messaging"
	"github.com/wolfman30/salon-booking-bot/internal/notify"
	"github.com/wolfman30/salon-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-bot/internal/tenancy"
	"github.com/wolfman30/salon-booking-bot/internal/whatsapp"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

// Inbound outcomes reported to metrics.
const (
	outcomeProcessed     = "processed"
	outcomeDuplicate     = "duplicate"
	outcomeUnknownTenant = "unknown_tenant"
	outcomeWaitingHuman  = "waiting_human"
	outcomeError         = "error"
)

// Gate decides whether a WhatsApp message id is new.
type Gate interface {
	ShouldProcess(ctx context.Context, messageID string) bool
}

// TenantResolver maps the receiving phone number id to a tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, phoneNumberID string) (tenancy.Tenant, error)
}

// ClientRegistry finds or registers the sender.
type ClientRegistry interface {
	GetOrCreate(ctx context.Context, tenantID uuid.UUID, rawPhone, profileName string) (clients.Client, bool, error)
}

// ConversationLog persists conversations and their messages.
type ConversationLog interface {
	GetOrCreateConversation(ctx context.Context, tenantID, clientID uuid.UUID, clientPhone string) (messaging.Conversation, error)
	LogMessage(ctx context.Context, rec messaging.MessageRecord) (uuid.UUID, error)
	History(ctx context.Context, conversationID uuid.UUID, asOf time.Time) ([]messaging.MessageRecord, error)
}

// Channel is the outbound WhatsApp surface.
type Channel interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error)
	SendButtons(ctx context.Context, creds whatsapp.Credentials, to, body string, buttons []whatsapp.Button) (string, error)
	SendList(ctx context.Context, creds whatsapp.Credentials, to, body, buttonLabel string, sections []whatsapp.Section) (string, error)
	MarkRead(ctx context.Context, creds whatsapp.Credentials, messageID string) error
}

// AppointmentActions handles the confirmation buttons without the model.
type AppointmentActions interface {
	Confirm(ctx context.Context, req booking.StatusRequest) (appointment.Appointment, error)
	Cancel(ctx context.Context, req booking.StatusRequest) (appointment.Appointment, error)
}

// ProcessorDeps wires a Processor.
type ProcessorDeps struct {
	Gate          Gate
	Tenants       TenantResolver
	Clients       ClientRegistry
	Conversations ConversationLog
	Channel       Channel
	Appointments  AppointmentActions
	Assistant     Assistant
	Metrics       *metrics.MessagingMetrics
	Logger        *logging.Logger
	Now           func() time.Time

	// Catalog optionally lists services for the prompt.
	Catalog CatalogReader
}

// Processor handles one inbound WhatsApp message end to end.
type Processor struct {
	ProcessorDeps
}

func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.Gate == nil || deps.Tenants == nil || deps.Clients == nil || deps.Conversations == nil ||
		deps.Channel == nil || deps.Appointments == nil || deps.Assistant == nil {
		panic("conversation: processor dependencies are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Processor{deps}
}

// Handle processes msg. Duplicates, unknown tenants and conversations held by
// an operator return nil without a reply.
func (p *Processor) Handle(ctx context.Context, msg whatsapp.InboundMessage) error {
	outcome, err := p.handle(ctx, msg)
	p.Metrics.ObserveInbound(msg.Type, outcome)
	return err
}

func (p *Processor) handle(ctx context.Context, msg whatsapp.InboundMessage) (string, error) {
	log := p.Logger.With("wa_message_id", msg.MessageID, "phone_number_id", msg.PhoneNumberID)

	if !p.Gate.ShouldProcess(ctx, msg.MessageID) {
		log.Debug("conversation: duplicate message skipped")
		return outcomeDuplicate, nil
	}

	tenant, err := p.Tenants.Resolve(ctx, msg.PhoneNumberID)
	if errors.Is(err, tenancy.ErrTenantNotFound) {
		log.Warn("conversation: message for unknown phone number id")
		return outcomeUnknownTenant, nil
	}
	if err != nil {
		return outcomeError, fmt.Errorf("conversation: resolve tenant: %w", err)
	}
	creds := tenant.Credentials()
	log = log.With("tenant_id", tenant.ID)

	if err := p.Channel.MarkRead(ctx, creds, msg.MessageID); err != nil {
		log.Warn("conversation: mark read failed", "error", err)
	}

	client, created, err := p.Clients.GetOrCreate(ctx, tenant.ID, msg.From, msg.ContactName)
	if err != nil {
		p.technicalProblem(ctx, creds, msg.From, log)
		return outcomeError, fmt.Errorf("conversation: client: %w", err)
	}
	if created {
		log.Info("conversation: new client registered", "client_id", client.ID)
	}

	conv, err := p.Conversations.GetOrCreateConversation(ctx, tenant.ID, client.ID, client.Phone)
	if err != nil {
		p.technicalProblem(ctx, creds, msg.From, log)
		return outcomeError, fmt.Errorf("conversation: open conversation: %w", err)
	}
	log = log.With("conversation_id", conv.ID)

	received := p.Now()
	history, err := p.Conversations.History(ctx, conv.ID, received)
	if err != nil {
		log.Warn("conversation: history unavailable", "error", err)
		history = nil
	}

	if _, err := p.Conversations.LogMessage(ctx, messaging.MessageRecord{
		TenantID:       tenant.ID,
		ConversationID: conv.ID,
		ClientID:       client.ID,
		Direction:      messaging.DirectionInbound,
		From:           msg.From,
		To:             tenant.Phone,
		Content:        inboundContent(msg),
		WAMessageID:    msg.MessageID,
	}); err != nil {
		if errors.Is(err, messaging.ErrDuplicateMessage) {
			log.Debug("conversation: message already logged")
			return outcomeDuplicate, nil
		}
		log.Error("conversation: log inbound failed", "error", err)
	}

	if conv.WaitingHuman() {
		log.Info("conversation: operator handling conversation, bot silent")
		return outcomeWaitingHuman, nil
	}

	s := Session{Tenant: tenant, Client: client, Conversation: conv, Now: received}

	if prefix, apptID, ok := notify.ParseButtonID(msg.ReplyID); ok && prefix != notify.ModifyPrefix {
		return p.handleConfirmationButton(ctx, s, prefix, apptID, log)
	}

	if p.Catalog != nil {
		services, err := p.Catalog.ListServices(ctx, tenant.ID)
		if err != nil {
			log.Warn("conversation: service catalogue unavailable", "error", err)
		}
		s.Services = services
	}

	reply, err := p.Assistant.Respond(ctx, s, history, assistantInput(msg))
	if err != nil {
		p.technicalProblem(ctx, creds, msg.From, log)
		return outcomeError, err
	}
	out := Render(reply)
	if err := p.deliver(ctx, s, out); err != nil {
		return outcomeError, err
	}
	log.Info("conversation: reply sent", "kind", out.Kind, "tool_calls", reply.ToolCalls, "last_tool", reply.LastTool)
	return outcomeProcessed, nil
}

func (p *Processor) handleConfirmationButton(ctx context.Context, s Session, prefix string, apptID uuid.UUID, log *logging.Logger) (string, error) {
	req := booking.StatusRequest{
		TenantID:      s.Tenant.ID,
		ClientID:      s.Client.ID,
		AppointmentID: apptID,
		Actor:         clientActor(s),
	}
	var (
		appt appointment.Appointment
		err  error
		body string
	)
	if prefix == notify.ConfirmPrefix {
		appt, err = p.Appointments.Confirm(ctx, req)
		if err == nil {
			body = fmt.Sprintf("Thank you! Your appointment on %s is confirmed. See you soon!",
				appt.StartAt.In(s.Location()).Format("02/01 at 15:04"))
		}
	} else {
		req.Reason = "cancelled from confirmation request"
		appt, err = p.Appointments.Cancel(ctx, req)
		if err == nil {
			body = "Your appointment has been cancelled. Write to us whenever you want to book again."
		}
	}

	switch {
	case errors.Is(err, appointment.ErrAlreadyInState):
		if prefix == notify.ConfirmPrefix {
			body = "This appointment is already confirmed."
		} else {
			body = "This appointment has already been cancelled."
		}
	case err != nil && booking.UserFacing(err):
		body = "Sorry, " + booking.Message(err) + "."
	case err != nil:
		log.Error("conversation: confirmation button failed", "appointment_id", apptID, "error", err)
		body = booking.TechnicalProblemMessage
	}

	if sendErr := p.deliver(ctx, s, Outbound{Kind: KindText, Body: body}); sendErr != nil {
		return outcomeError, sendErr
	}
	if err != nil && !booking.UserFacing(err) {
		return outcomeError, err
	}
	return outcomeProcessed, nil
}

// deliver sends out and logs it as an outbound message.
func (p *Processor) deliver(ctx context.Context, s Session, out Outbound) error {
	creds := s.Tenant.Credentials()
	to := s.Client.Phone
	var (
		wamid string
		err   error
	)
	switch out.Kind {
	case KindButtons:
		wamid, err = p.Channel.SendButtons(ctx, creds, to, out.Body, out.Buttons)
	case KindList:
		wamid, err = p.Channel.SendList(ctx, creds, to, out.Body, out.ListLabel, out.Sections)
	default:
		wamid, err = p.Channel.SendText(ctx, creds, to, out.Body)
	}
	if err != nil && out.Kind != KindText {
		p.Logger.Warn("conversation: interactive send failed, retrying as text", "kind", out.Kind, "error", err)
		wamid, err = p.Channel.SendText(ctx, creds, to, out.Body)
	}
	p.Metrics.ObserveOutbound(string(out.Kind), err == nil)
	if err != nil {
		return fmt.Errorf("conversation: send reply: %w", err)
	}

	if _, err := p.Conversations.LogMessage(ctx, messaging.MessageRecord{
		TenantID:       s.Tenant.ID,
		ConversationID: s.Conversation.ID,
		ClientID:       s.Client.ID,
		Direction:      messaging.DirectionOutbound,
		From:           s.Tenant.Phone,
		To:             to,
		Content:        out.Body,
		WAMessageID:    wamid,
	}); err != nil {
		p.Logger.Error("conversation: log outbound failed", "conversation_id", s.Conversation.ID, "error", err)
	}
	return nil
}

func (p *Processor) technicalProblem(ctx context.Context, creds whatsapp.Credentials, to string, log *logging.Logger) {
	if _, err := p.Channel.SendText(ctx, creds, to, booking.TechnicalProblemMessage); err != nil {
		log.Error("conversation: technical problem notice failed", "error", err)
	}
}

func inboundContent(msg whatsapp.InboundMessage) string {
	if msg.IsReply() && msg.Text == "" {
		return msg.ReplyID
	}
	return msg.Text
}

func assistantInput(msg whatsapp.InboundMessage) string {
	if prefix, apptID, ok := notify.ParseButtonID(msg.ReplyID); ok && prefix == notify.ModifyPrefix {
		return fmt.Sprintf("I would like to change my appointment (appointment_id %s). What other times are available?", apptID)
	}
	if msg.IsReply() {
		return DescribeReply(msg.ReplyID, msg.Text)
	}
	return msg.Text
}
