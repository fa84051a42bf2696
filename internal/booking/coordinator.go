package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
	"github.com/wolfman30/salon-booking-bot/internal/compliance"
	"github.com/wolfman30/salon-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("salon.internal.booking")

// Auditor appends audit entries for appointment changes.
type Auditor interface {
	LogAppointment(ctx context.Context, tenantID, appointmentID, actor string, action compliance.Action, meta map[string]any) error
}

// Coordinator performs conflict-checked writes on appointments.
type Coordinator struct {
	repo    Repository
	audit   Auditor
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics attaches booking counters.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator wires the coordinator. audit may be nil.
func NewCoordinator(repo Repository, audit Auditor, logger *logging.Logger, opts ...Option) *Coordinator {
	if repo == nil {
		panic("booking: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coordinator{repo: repo, audit: audit, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveService resolves ref through the lookup matching its variant.
func (c *Coordinator) ResolveService(ctx context.Context, tenantID uuid.UUID, ref ServiceRef) (Service, error) {
	switch {
	case ref.id != uuid.Nil:
		return c.repo.ServiceByID(ctx, tenantID, ref.id)
	case ref.name != "":
		return c.repo.ServiceByName(ctx, tenantID, ref.name)
	default:
		return Service{}, fmt.Errorf("%w: service is required", ErrValidation)
	}
}

// ResolveStaff resolves ref through the lookup matching its variant.
func (c *Coordinator) ResolveStaff(ctx context.Context, tenantID uuid.UUID, ref StaffRef) (Staff, error) {
	switch {
	case ref.id != uuid.Nil:
		return c.repo.StaffByID(ctx, tenantID, ref.id)
	case ref.name != "":
		return c.repo.StaffByName(ctx, tenantID, ref.name)
	default:
		return Staff{}, fmt.Errorf("%w: staff member is required", ErrValidation)
	}
}

// ParseLocal interprets date (YYYY-MM-DD) and clock (HH:MM) in loc.
func ParseLocal(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(date)+" "+strings.TrimSpace(clock), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD and time HH:MM", ErrValidation)
	}
	return t, nil
}

func (c *Coordinator) notPast(start time.Time) error {
	if !start.After(c.now()) {
		return fmt.Errorf("%w: the requested time is in the past", ErrValidation)
	}
	return nil
}

// Book reserves a new appointment. The stored procedure is the serialization
// point; the check-then-insert fallback runs only when it is missing.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (BookResult, error) {
	ctx, span := tracer.Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", req.TenantID.String()))

	res, err := c.book(ctx, req, span)
	c.finish(span, "book", err)
	return res, err
}

func (c *Coordinator) book(ctx context.Context, req BookRequest, span trace.Span) (BookResult, error) {
	if req.ClientID == uuid.Nil {
		return BookResult{}, fmt.Errorf("%w: client not identified", ErrValidation)
	}
	initial := req.Initial
	if initial == "" {
		initial = appointment.StatusConfirmed
	}
	if initial != appointment.StatusConfirmed && initial != appointment.StatusPending {
		return BookResult{}, fmt.Errorf("%w: initial status %s", appointment.ErrInvalidTransition, initial)
	}

	svc, err := c.ResolveService(ctx, req.TenantID, req.Service)
	if err != nil {
		return BookResult{}, err
	}
	staff, err := c.ResolveStaff(ctx, req.TenantID, req.Staff)
	if err != nil {
		return BookResult{}, err
	}
	start, err := ParseLocal(req.Date, req.Time, req.Location)
	if err != nil {
		return BookResult{}, err
	}
	if err := c.notPast(start); err != nil {
		return BookResult{}, err
	}
	if svc.DurationMinutes <= 0 {
		return BookResult{}, fmt.Errorf("%w: service has no duration", ErrValidation)
	}
	end := start.Add(time.Duration(svc.DurationMinutes) * time.Minute)

	row := NewAppointment{
		ID:        uuid.New(),
		TenantID:  req.TenantID,
		ClientID:  req.ClientID,
		StaffID:   staff.ID,
		ServiceID: svc.ID,
		StartAt:   start.UTC(),
		EndAt:     end.UTC(),
		Status:    initial,
		Notes:     req.Notes,
	}
	span.SetAttributes(attribute.String("staff.id", staff.ID.String()), attribute.String("booking.start", row.StartAt.Format(time.RFC3339)))

	atomic := true
	id, err := c.repo.BookAtomic(ctx, row)
	if err != nil && IsUndefinedFunction(err) {
		atomic = false
		c.metrics.ObserveFallback("book")
		c.logger.Warn("booking: atomic procedure unavailable, using non-atomic check-then-insert",
			"tenant_id", req.TenantID, "staff_id", staff.ID, "atomic", false)
		id, err = c.repo.BookFallback(ctx, row)
	}
	if err != nil {
		return BookResult{}, err
	}

	c.logger.Info("appointment booked",
		"tenant_id", req.TenantID,
		"appointment_id", id,
		"staff_id", staff.ID,
		"start_at", row.StartAt,
		"status", initial,
		"atomic", atomic,
	)
	c.auditBestEffort(ctx, req.TenantID, id, req.Actor, compliance.ActionAppointmentBooked, map[string]any{
		"source":   sourceOrDefault(req.Source),
		"start_at": row.StartAt.Format(time.RFC3339),
		"staff_id": staff.ID.String(),
		"atomic":   atomic,
	})

	return BookResult{
		AppointmentID:   id,
		Status:          initial,
		ServiceName:     svc.Name,
		StaffName:       staff.Name,
		StartAt:         start,
		EndAt:           end,
		DurationMinutes: svc.DurationMinutes,
		Price:           svc.Price,
		Atomic:          atomic,
	}, nil
}

// owned loads the appointment and enforces that it belongs to the client.
func (c *Coordinator) owned(ctx context.Context, tenantID, clientID, id uuid.UUID) (appointment.Appointment, error) {
	if id == uuid.Nil {
		return appointment.Appointment{}, fmt.Errorf("%w: appointment id is required", ErrValidation)
	}
	appt, err := c.repo.Get(ctx, tenantID, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if clientID != uuid.Nil && appt.ClientID != clientID {
		return appointment.Appointment{}, fmt.Errorf("%w: appointment not found", ErrNotFound)
	}
	return appt, nil
}

// Reschedule moves an owned pending or confirmed appointment and leaves it confirmed.
func (c *Coordinator) Reschedule(ctx context.Context, req RescheduleRequest) (RescheduleResult, error) {
	ctx, span := tracer.Start(ctx, "booking.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID.String()),
		attribute.String("appointment.id", req.AppointmentID.String()),
	)

	res, err := c.reschedule(ctx, req)
	c.finish(span, "reschedule", err)
	return res, err
}

func (c *Coordinator) reschedule(ctx context.Context, req RescheduleRequest) (RescheduleResult, error) {
	appt, err := c.owned(ctx, req.TenantID, req.ClientID, req.AppointmentID)
	if err != nil {
		return RescheduleResult{}, err
	}
	if _, err := appointment.RescheduleTarget(appt.Status); err != nil {
		return RescheduleResult{}, err
	}
	start, err := ParseLocal(req.Date, req.Time, req.Location)
	if err != nil {
		return RescheduleResult{}, err
	}
	if err := c.notPast(start); err != nil {
		return RescheduleResult{}, err
	}

	duration := appt.EndAt.Sub(appt.StartAt)
	serviceName := ""
	if svc, err := c.repo.ServiceByID(ctx, req.TenantID, appt.ServiceID); err == nil {
		serviceName = svc.Name
		if svc.DurationMinutes > 0 {
			duration = time.Duration(svc.DurationMinutes) * time.Minute
		}
	} else {
		c.logger.Warn("booking: service lookup failed, keeping current duration",
			"appointment_id", appt.ID, "error", err)
	}
	end := start.Add(duration)

	params := RescheduleParams{
		AppointmentID: appt.ID,
		TenantID:      req.TenantID,
		ClientID:      appt.ClientID,
		StaffID:       appt.StaffID,
		StartAt:       start.UTC(),
		EndAt:         end.UTC(),
	}
	atomic := true
	err = c.repo.RescheduleAtomic(ctx, params)
	if err != nil && IsUndefinedFunction(err) {
		atomic = false
		c.metrics.ObserveFallback("reschedule")
		c.logger.Warn("booking: atomic procedure unavailable, using non-atomic check-then-update",
			"tenant_id", req.TenantID, "appointment_id", appt.ID, "atomic", false)
		err = c.repo.RescheduleFallback(ctx, params)
	}
	if err != nil {
		return RescheduleResult{}, err
	}

	c.logger.Info("appointment rescheduled",
		"tenant_id", req.TenantID,
		"appointment_id", appt.ID,
		"old_start", appt.StartAt,
		"new_start", params.StartAt,
		"atomic", atomic,
	)
	c.auditBestEffort(ctx, req.TenantID, appt.ID, req.Actor, compliance.ActionAppointmentRescheduled, map[string]any{
		"old_start": appt.StartAt.UTC().Format(time.RFC3339),
		"new_start": params.StartAt.Format(time.RFC3339),
		"atomic":    atomic,
	})
	return RescheduleResult{
		AppointmentID: appt.ID,
		ServiceName:   serviceName,
		StartAt:       start,
		EndAt:         end,
		Atomic:        atomic,
	}, nil
}

// Cancel cancels an owned appointment. Canceled or completed appointments
// yield appointment.ErrAlreadyInState and no audit entry.
func (c *Coordinator) Cancel(ctx context.Context, req StatusRequest) (appointment.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()

	appt, err := c.transition(ctx, req, appointment.StatusCanceled, compliance.ActionAppointmentCanceled)
	c.finish(span, "cancel", err)
	return appt, err
}

// Confirm moves an owned pending appointment to confirmed.
func (c *Coordinator) Confirm(ctx context.Context, req StatusRequest) (appointment.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.confirm")
	defer span.End()

	appt, err := c.transition(ctx, req, appointment.StatusConfirmed, compliance.ActionAppointmentConfirmed)
	c.finish(span, "confirm", err)
	return appt, err
}

// Advance applies an operational transition (in_service, completed) for
// staff tooling; ownership is checked against the tenant only.
func (c *Coordinator) Advance(ctx context.Context, tenantID, appointmentID uuid.UUID, to appointment.Status, actor string) (appointment.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.advance")
	defer span.End()

	appt, err := c.transition(ctx, StatusRequest{TenantID: tenantID, AppointmentID: appointmentID, Actor: actor}, to, compliance.ActionAppointmentAdvanced)
	c.finish(span, "advance", err)
	return appt, err
}

func (c *Coordinator) transition(ctx context.Context, req StatusRequest, to appointment.Status, action compliance.Action) (appointment.Appointment, error) {
	appt, err := c.owned(ctx, req.TenantID, req.ClientID, req.AppointmentID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := appointment.Transition(appt.Status, to); err != nil {
		return appt, err
	}
	if err := c.repo.UpdateStatus(ctx, req.TenantID, appt.ID, appt.Status, to); err != nil {
		return appt, err
	}
	from := appt.Status
	appt.Status = to

	c.logger.Info("appointment status changed",
		"tenant_id", req.TenantID,
		"appointment_id", appt.ID,
		"from", from,
		"to", to,
	)
	meta := map[string]any{"from": string(from), "to": string(to)}
	if req.Reason != "" {
		meta["reason"] = req.Reason
	}
	c.auditBestEffort(ctx, req.TenantID, appt.ID, req.Actor, action, meta)
	return appt, nil
}

// ListUpcoming returns the client's future pending and confirmed appointments.
func (c *Coordinator) ListUpcoming(ctx context.Context, tenantID, clientID uuid.UUID) ([]Upcoming, error) {
	if clientID == uuid.Nil {
		return nil, fmt.Errorf("%w: client not identified", ErrValidation)
	}
	return c.repo.ListUpcoming(ctx, tenantID, clientID, c.now())
}

// auditBestEffort is the audit policy for booking writes: the state change has
// already committed, so an audit failure is logged and never returned.
func (c *Coordinator) auditBestEffort(ctx context.Context, tenantID, appointmentID uuid.UUID, actor string, action compliance.Action, meta map[string]any) {
	if c.audit == nil {
		return
	}
	if actor == "" {
		actor = "client"
	}
	if _, ok := meta["source"]; !ok {
		meta["source"] = compliance.SourceWhatsApp
	}
	if err := c.audit.LogAppointment(ctx, tenantID.String(), appointmentID.String(), actor, action, meta); err != nil {
		c.logger.Error("booking: audit append failed",
			"tenant_id", tenantID, "appointment_id", appointmentID, "action", action, "error", err)
	}
}

func (c *Coordinator) finish(span trace.Span, operation string, err error) {
	outcome := outcomeOf(err)
	c.metrics.ObserveOperation(operation, outcome)
	span.SetAttributes(attribute.String("booking.outcome", outcome))
	if err != nil && !UserFacing(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotUnavailable):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, appointment.ErrAlreadyInState), errors.Is(err, appointment.ErrInvalidTransition):
		return "invalid_state"
	default:
		return "error"
	}
}

func sourceOrDefault(s string) string {
	if s == "" {
		return compliance.SourceWhatsApp
	}
	return s
}
