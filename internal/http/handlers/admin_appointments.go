package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
	"github.com/wolfman30/salon-booking-bot/internal/booking"
	"github.com/wolfman30/salon-booking-bot/internal/compliance"
	httpmiddleware "github.com/wolfman30/salon-booking-bot/internal/http/middleware"
	"github.com/wolfman30/salon-booking-bot/internal/notify"
	"github.com/wolfman30/salon-booking-bot/internal/tenancy"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

// AppointmentWriter is the part of booking.Coordinator exposed to staff tooling.
type AppointmentWriter interface {
	Book(ctx context.Context, req booking.BookRequest) (booking.BookResult, error)
	Advance(ctx context.Context, tenantID, appointmentID uuid.UUID, to appointment.Status, actor string) (appointment.Appointment, error)
}

// AuditReader lists audit rows.
type AuditReader interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// TenantFinder loads a tenant by id.
type TenantFinder interface {
	ByID(ctx context.Context, id uuid.UUID) (tenancy.Tenant, error)
}

// JobRunner triggers the notification jobs on demand.
type JobRunner interface {
	RunConfirmations(ctx context.Context, now time.Time) (notify.Report, error)
	RunReminders(ctx context.Context, now time.Time) (notify.Report, error)
}

// AdminAppointmentsHandler serves the JWT-protected staff API.
type AdminAppointmentsHandler struct {
	appointments AppointmentWriter
	audit        AuditReader
	tenants      TenantFinder
	jobs         JobRunner
	logger       *logging.Logger
	now          func() time.Time
}

func NewAdminAppointmentsHandler(appts AppointmentWriter, audit AuditReader, tenants TenantFinder, jobs JobRunner, logger *logging.Logger) *AdminAppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAppointmentsHandler{appointments: appts, audit: audit, tenants: tenants, jobs: jobs, logger: logger, now: time.Now}
}

// Routes mounts the admin endpoints under the caller's prefix.
func (h *AdminAppointmentsHandler) Routes(r chi.Router) {
	r.Route("/tenants/{tenantID}/appointments", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Post("/{appointmentID}/status", h.AdvanceStatus)
		r.Get("/{appointmentID}/audit", h.AuditTrail)
	})
	r.Post("/jobs/{job}/run", h.RunJob)
}

type createAppointmentRequest struct {
	ClientID  string `json:"client_id"`
	ServiceID string `json:"service_id"`
	StaffID   string `json:"staff_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Notes     string `json:"notes"`
}

type appointmentResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
	Service string `json:"service,omitempty"`
	Staff   string `json:"staff,omitempty"`
	Atomic  *bool  `json:"atomic,omitempty"`
}

// Create books a pending appointment on behalf of external tooling.
func (h *AdminAppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	clientID, err1 := uuid.Parse(req.ClientID)
	serviceID, err2 := uuid.Parse(req.ServiceID)
	staffID, err3 := uuid.Parse(req.StaffID)
	if err := errors.Join(err1, err2, err3); err != nil {
		writeError(w, http.StatusBadRequest, "client_id, service_id and staff_id must be uuids")
		return
	}

	res, err := h.appointments.Book(r.Context(), booking.BookRequest{
		TenantID: tenant.ID,
		ClientID: clientID,
		Location: tenant.Location(),
		Date:     req.Date,
		Time:     req.Time,
		Service:  booking.ServiceByID(serviceID),
		Staff:    booking.StaffByID(staffID),
		Notes:    req.Notes,
		Initial:  appointment.StatusPending,
		Actor:    adminActor(r),
		Source:   "admin_api",
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	atomic := res.Atomic
	writeJSON(w, http.StatusCreated, appointmentResponse{
		ID:      res.AppointmentID.String(),
		Status:  string(res.Status),
		StartAt: res.StartAt.Format(time.RFC3339),
		EndAt:   res.EndAt.Format(time.RFC3339),
		Service: res.ServiceName,
		Staff:   res.StaffName,
		Atomic:  &atomic,
	})
}

// AdvanceStatus applies a lifecycle transition.
func (h *AdminAppointmentsHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	apptID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	appt, err := h.appointments.Advance(r.Context(), tenantID, apptID, appointment.Status(body.Status), adminActor(r))
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse{
		ID:      appt.ID.String(),
		Status:  string(appt.Status),
		StartAt: appt.StartAt.Format(time.RFC3339),
		EndAt:   appt.EndAt.Format(time.RFC3339),
	})
}

// AuditTrail lists the audit rows of one appointment, newest first.
func (h *AdminAppointmentsHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	apptID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}
	events, err := h.audit.QueryEvents(r.Context(), compliance.AuditFilter{
		TenantID: tenantID.String(),
		EntityID: apptID.String(),
		Limit:    200,
	})
	if err != nil {
		h.logger.Error("admin: audit query failed", "appointment_id", apptID, "error", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// RunJob triggers the confirmation or reminder job immediately.
func (h *AdminAppointmentsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "jobs not configured")
		return
	}
	var (
		report notify.Report
		err    error
	)
	switch chi.URLParam(r, "job") {
	case notify.TypeConfirmation:
		report, err = h.jobs.RunConfirmations(r.Context(), h.now())
	case notify.TypeReminder1h:
		report, err = h.jobs.RunReminders(r.Context(), h.now())
	default:
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if err != nil {
		h.logger.Error("admin: job run failed", "job", report.Job, "error", err)
		writeError(w, http.StatusInternalServerError, "job failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminAppointmentsHandler) tenant(w http.ResponseWriter, r *http.Request) (tenancy.Tenant, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return tenancy.Tenant{}, false
	}
	t, err := h.tenants.ByID(r.Context(), id)
	if errors.Is(err, tenancy.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return tenancy.Tenant{}, false
	}
	if err != nil {
		h.logger.Error("admin: tenant lookup failed", "tenant_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "tenant lookup failed")
		return tenancy.Tenant{}, false
	}
	return t, true
}

func (h *AdminAppointmentsHandler) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, booking.Message(err))
	case errors.Is(err, appointment.ErrAlreadyInState), errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, booking.Message(err))
	case booking.IsNotFound(err):
		writeError(w, http.StatusNotFound, booking.Message(err))
	case errors.Is(err, booking.ErrValidation):
		writeError(w, http.StatusBadRequest, booking.Message(err))
	default:
		h.logger.Error("admin: booking operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, booking.TechnicalProblemMessage)
	}
}

func adminActor(r *http.Request) string {
	if claims, ok := httpmiddleware.AdminClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return "admin:" + claims.Subject
	}
	return "admin"
}
