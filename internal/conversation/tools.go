package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
	"github.com/wolfman30/salon-booking-bot/internal/availability"
	"github.com/wolfman30/salon-booking-bot/internal/booking"
	"github.com/wolfman30/salon-booking-bot/internal/clients"
	"github.com/wolfman30/salon-booking-bot/internal/messaging"
	"github.com/wolfman30/salon-booking-bot/internal/notify"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

// Tool names.
const (
	ToolCheckAvailability     = "check_availability"
	ToolBookAppointment       = "book_appointment"
	ToolRescheduleAppointment = "reschedule_appointment"
	ToolCancelAppointment     = "cancel_appointment"
	ToolGetMyAppointments     = "get_my_appointments"
	ToolGetServices           = "get_services"
	ToolGetServiceInfo        = "get_service_info"
	ToolGetCenterInfo         = "get_center_info"
	ToolUpdateClientName      = "update_client_name"
	ToolRequestHumanOperator  = "request_human_operator"
)

// Availability answers slot questions.
type Availability interface {
	Compute(ctx context.Context, req availability.Request) (availability.Result, error)
}

// Bookings is the slice of booking.Coordinator the tools use.
type Bookings interface {
	ResolveService(ctx context.Context, tenantID uuid.UUID, ref booking.ServiceRef) (booking.Service, error)
	ResolveStaff(ctx context.Context, tenantID uuid.UUID, ref booking.StaffRef) (booking.Staff, error)
	Book(ctx context.Context, req booking.BookRequest) (booking.BookResult, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (booking.RescheduleResult, error)
	Cancel(ctx context.Context, req booking.StatusRequest) (appointment.Appointment, error)
	Confirm(ctx context.Context, req booking.StatusRequest) (appointment.Appointment, error)
	ListUpcoming(ctx context.Context, tenantID, clientID uuid.UUID) ([]booking.Upcoming, error)
}

// CatalogReader lists services and opening hours.
type CatalogReader interface {
	ListServices(ctx context.Context, tenantID uuid.UUID) ([]booking.Service, error)
	OpeningHours(ctx context.Context, tenantID uuid.UUID) ([]DayHours, error)
}

// ClientNames renames clients.
type ClientNames interface {
	UpdateName(ctx context.Context, tenantID, id uuid.UUID, name string) (string, error)
}

// ConversationStatus switches a conversation between bot and human handling.
type ConversationStatus interface {
	SetStatus(ctx context.Context, conversationID uuid.UUID, status messaging.Status) error
}

// Handoffs alerts the salon operator.
type Handoffs interface {
	NotifyHandoff(ctx context.Context, h notify.Handoff) error
}

// ToolDeps are the collaborators of the tool set.
type ToolDeps struct {
	Availability       Availability
	Bookings           Bookings
	Catalog            CatalogReader
	Clients            ClientNames
	Conversations      ConversationStatus
	Handoffs           Handoffs
	GranularityMinutes int
	Logger             *logging.Logger
}

type toolset struct {
	ToolDeps
}

// NewToolRegistry registers every assistant tool.
func NewToolRegistry(deps ToolDeps) *Registry {
	if deps.Availability == nil || deps.Bookings == nil || deps.Catalog == nil ||
		deps.Clients == nil || deps.Conversations == nil {
		panic("conversation: tool dependencies are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	ts := &toolset{deps}
	r := NewRegistry()

	r.Register(Tool{
		Name:        ToolCheckAvailability,
		Description: "Lists free appointment slots for a service on a date. Always call this before booking.",
		Params: []Param{
			{Name: "date", Type: "string", Description: "Date as YYYY-MM-DD", Required: true},
			{Name: "service_id", Type: "string", Description: "service_id from get_services; preferred over service_name"},
			{Name: "service_name", Type: "string", Description: "Service name as listed by get_services"},
			{Name: "staff_id", Type: "string", Description: "Optional staff_id of a preferred staff member"},
			{Name: "staff_name", Type: "string", Description: "Optional preferred staff member by name"},
		},
		Run: ts.checkAvailability,
	})
	r.Register(Tool{
		Name:        ToolBookAppointment,
		Description: "Books an appointment at a slot returned by check_availability.",
		Params: []Param{
			{Name: "date", Type: "string", Description: "Date as YYYY-MM-DD", Required: true},
			{Name: "time", Type: "string", Description: "Start time as HH:MM", Required: true},
			{Name: "service_id", Type: "string", Description: "service_id from get_services; preferred over service_name"},
			{Name: "service_name", Type: "string", Description: "Service name"},
			{Name: "staff_id", Type: "string", Description: "staff_id of the chosen slot from check_availability"},
			{Name: "staff_name", Type: "string", Description: "Staff member by name; leave staff empty for anyone free"},
			{Name: "notes", Type: "string", Description: "Optional notes from the client"},
		},
		Run: ts.bookAppointment,
	})
	r.Register(Tool{
		Name:        ToolRescheduleAppointment,
		Description: "Moves one of the client's appointments to a new date and time with the same staff member.",
		Params: []Param{
			{Name: "appointment_id", Type: "string", Description: "Id from get_my_appointments", Required: true},
			{Name: "new_date", Type: "string", Description: "Date as YYYY-MM-DD", Required: true},
			{Name: "new_time", Type: "string", Description: "Start time as HH:MM", Required: true},
		},
		Run: ts.rescheduleAppointment,
	})
	r.Register(Tool{
		Name:        ToolCancelAppointment,
		Description: "Cancels one of the client's appointments.",
		Params: []Param{
			{Name: "appointment_id", Type: "string", Description: "Id from get_my_appointments", Required: true},
			{Name: "reason", Type: "string", Description: "Optional reason"},
		},
		Run: ts.cancelAppointment,
	})
	r.Register(Tool{
		Name:        ToolGetMyAppointments,
		Description: "Lists the client's upcoming appointments.",
		Run:         ts.getMyAppointments,
	})
	r.Register(Tool{
		Name:        ToolGetServices,
		Description: "Lists the services offered by the salon with duration and price.",
		Run:         ts.getServices,
	})
	r.Register(Tool{
		Name:        ToolGetServiceInfo,
		Description: "Describes one service.",
		Params: []Param{
			{Name: "service_id", Type: "string", Description: "service_id from get_services"},
			{Name: "service_name", Type: "string", Description: "Service name"},
		},
		Run: ts.getServiceInfo,
	})
	r.Register(Tool{
		Name:        ToolGetCenterInfo,
		Description: "Returns the salon's address, contacts and opening hours.",
		Run:         ts.getCenterInfo,
	})
	r.Register(Tool{
		Name:        ToolUpdateClientName,
		Description: "Saves the client's first and last name.",
		Params: []Param{
			{Name: "full_name", Type: "string", Description: "First and last name", Required: true},
		},
		Run: ts.updateClientName,
	})
	r.Register(Tool{
		Name:        ToolRequestHumanOperator,
		Description: "Hands the conversation to a member of staff. The assistant stops replying afterwards.",
		Params: []Param{
			{Name: "reason", Type: "string", Description: "Why the client needs a person"},
		},
		Run: ts.requestHumanOperator,
	})
	return r
}

func (ts *toolset) fail(tool string, err error) map[string]any {
	if !booking.UserFacing(err) && !errors.Is(err, availability.ErrValidation) && !errors.Is(err, clients.ErrInvalidName) {
		ts.Logger.Error("conversation: tool failed", "tool", tool, "error", err)
	}
	return errorResult(toolMessage(err))
}

func toolMessage(err error) string {
	switch {
	case errors.Is(err, availability.ErrValidation):
		return strings.TrimPrefix(err.Error(), "availability: ")
	case errors.Is(err, clients.ErrInvalidName):
		return strings.TrimPrefix(err.Error(), "clients: ")
	default:
		return booking.Message(err)
	}
}

func (ts *toolset) checkAvailability(ctx context.Context, s Session, a Args) map[string]any {
	svcRef, err := serviceArg(a)
	if err != nil {
		return ts.fail(ToolCheckAvailability, err)
	}
	staffRef, err := staffArg(a)
	if err != nil {
		return ts.fail(ToolCheckAvailability, err)
	}
	svc, err := ts.Bookings.ResolveService(ctx, s.Tenant.ID, svcRef)
	if err != nil {
		return ts.fail(ToolCheckAvailability, err)
	}
	req := availability.Request{
		TenantID:               s.Tenant.ID,
		Location:               s.Location(),
		Date:                   a.String("date"),
		ServiceName:            svc.Name,
		ServiceDurationMinutes: svc.DurationMinutes,
		GranularityMinutes:     ts.GranularityMinutes,
	}
	if !staffRef.IsZero() {
		staff, err := ts.Bookings.ResolveStaff(ctx, s.Tenant.ID, staffRef)
		if err != nil {
			return ts.fail(ToolCheckAvailability, err)
		}
		req.StaffID = staff.ID
	}
	res, err := ts.Availability.Compute(ctx, req)
	if err != nil {
		return ts.fail(ToolCheckAvailability, err)
	}

	slots := make([]any, 0, len(res.Slots))
	for _, sl := range res.Slots {
		slots = append(slots, map[string]any{
			"start_time": sl.StartTime,
			"end_time":   sl.EndTime,
			"staff_id":   sl.StaffID.String(),
			"staff_name": sl.StaffName,
		})
	}
	out := map[string]any{
		"date":             res.Date,
		"available":        res.Available,
		"slots":            slots,
		"count":            res.Count,
		"service":          svc.Name,
		"duration_minutes": res.DurationMinutes,
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	return out
}

func (ts *toolset) bookAppointment(ctx context.Context, s Session, a Args) map[string]any {
	svcRef, err := serviceArg(a)
	if err != nil {
		return ts.fail(ToolBookAppointment, err)
	}
	staffRef, err := staffArg(a)
	if err != nil {
		return ts.fail(ToolBookAppointment, err)
	}
	if staffRef.IsZero() {
		id, err := ts.firstFreeStaff(ctx, s, svcRef, a.String("date"), a.String("time"))
		if err != nil {
			return ts.fail(ToolBookAppointment, err)
		}
		staffRef = booking.StaffByID(id)
	}

	res, err := ts.Bookings.Book(ctx, booking.BookRequest{
		TenantID: s.Tenant.ID,
		ClientID: s.Client.ID,
		Location: s.Location(),
		Date:     a.String("date"),
		Time:     a.String("time"),
		Service:  svcRef,
		Staff:    staffRef,
		Notes:    a.String("notes"),
		Initial:  appointment.StatusConfirmed,
		Actor:    clientActor(s),
		Source:   "whatsapp",
	})
	if err != nil {
		return ts.fail(ToolBookAppointment, err)
	}
	loc := s.Location()
	out := map[string]any{
		"success":          true,
		"appointment_id":   res.AppointmentID.String(),
		"service":          res.ServiceName,
		"staff":            res.StaffName,
		"date":             res.StartAt.In(loc).Format("2006-01-02"),
		"time":             res.StartAt.In(loc).Format("15:04"),
		"end_time":         res.EndAt.In(loc).Format("15:04"),
		"duration_minutes": res.DurationMinutes,
	}
	if res.Price != nil {
		out["price"] = *res.Price
	}
	return out
}

// firstFreeStaff picks the first staff member, in stable staff order, offering
// the requested start.
func (ts *toolset) firstFreeStaff(ctx context.Context, s Session, service booking.ServiceRef, date, clock string) (uuid.UUID, error) {
	svc, err := ts.Bookings.ResolveService(ctx, s.Tenant.ID, service)
	if err != nil {
		return uuid.Nil, err
	}
	res, err := ts.Availability.Compute(ctx, availability.Request{
		TenantID:               s.Tenant.ID,
		Location:               s.Location(),
		Date:                   date,
		ServiceName:            svc.Name,
		ServiceDurationMinutes: svc.DurationMinutes,
		GranularityMinutes:     ts.GranularityMinutes,
	})
	if err != nil {
		return uuid.Nil, err
	}
	for _, sl := range res.Slots {
		if sl.StartTime == strings.TrimSpace(clock) {
			return sl.StaffID, nil
		}
	}
	return uuid.Nil, booking.ErrSlotUnavailable
}

func (ts *toolset) rescheduleAppointment(ctx context.Context, s Session, a Args) map[string]any {
	id, err := parseAppointmentID(a.String("appointment_id"))
	if err != nil {
		return ts.fail(ToolRescheduleAppointment, err)
	}
	res, err := ts.Bookings.Reschedule(ctx, booking.RescheduleRequest{
		TenantID:      s.Tenant.ID,
		ClientID:      s.Client.ID,
		AppointmentID: id,
		Location:      s.Location(),
		Date:          a.String("new_date"),
		Time:          a.String("new_time"),
		Actor:         clientActor(s),
	})
	if err != nil {
		return ts.fail(ToolRescheduleAppointment, err)
	}
	loc := s.Location()
	return map[string]any{
		"success":        true,
		"appointment_id": res.AppointmentID.String(),
		"service":        res.ServiceName,
		"date":           res.StartAt.In(loc).Format("2006-01-02"),
		"time":           res.StartAt.In(loc).Format("15:04"),
		"end_time":       res.EndAt.In(loc).Format("15:04"),
	}
}

func (ts *toolset) cancelAppointment(ctx context.Context, s Session, a Args) map[string]any {
	id, err := parseAppointmentID(a.String("appointment_id"))
	if err != nil {
		return ts.fail(ToolCancelAppointment, err)
	}
	appt, err := ts.Bookings.Cancel(ctx, booking.StatusRequest{
		TenantID:      s.Tenant.ID,
		ClientID:      s.Client.ID,
		AppointmentID: id,
		Actor:         clientActor(s),
		Reason:        a.String("reason"),
	})
	if err != nil {
		return ts.fail(ToolCancelAppointment, err)
	}
	return map[string]any{
		"success":        true,
		"appointment_id": appt.ID.String(),
		"status":         string(appt.Status),
	}
}

func (ts *toolset) getMyAppointments(ctx context.Context, s Session, _ Args) map[string]any {
	list, err := ts.Bookings.ListUpcoming(ctx, s.Tenant.ID, s.Client.ID)
	if err != nil {
		return ts.fail(ToolGetMyAppointments, err)
	}
	loc := s.Location()
	items := make([]any, 0, len(list))
	for _, u := range list {
		item := map[string]any{
			"appointment_id": u.ID.String(),
			"date":           u.StartAt.In(loc).Format("2006-01-02"),
			"time":           u.StartAt.In(loc).Format("15:04"),
			"end_time":       u.EndAt.In(loc).Format("15:04"),
			"service":        u.ServiceName,
			"staff":          u.StaffName,
			"status":         string(u.Status),
		}
		if u.Price != nil {
			item["price"] = *u.Price
		}
		items = append(items, item)
	}
	return map[string]any{"appointments": items, "count": len(items)}
}

func serviceView(svc booking.Service) map[string]any {
	out := map[string]any{
		"service_id":       svc.ID.String(),
		"name":             svc.Name,
		"duration_minutes": svc.DurationMinutes,
	}
	if svc.ShortDescription != "" {
		out["short_description"] = svc.ShortDescription
	}
	if svc.Price != nil {
		out["price"] = *svc.Price
	}
	return out
}

func (ts *toolset) getServices(ctx context.Context, s Session, _ Args) map[string]any {
	list, err := ts.Catalog.ListServices(ctx, s.Tenant.ID)
	if err != nil {
		return ts.fail(ToolGetServices, err)
	}
	items := make([]any, 0, len(list))
	for _, svc := range list {
		items = append(items, serviceView(svc))
	}
	return map[string]any{"services": items, "count": len(items)}
}

func (ts *toolset) getServiceInfo(ctx context.Context, s Session, a Args) map[string]any {
	ref, err := serviceArg(a)
	if err != nil {
		return ts.fail(ToolGetServiceInfo, err)
	}
	svc, err := ts.Bookings.ResolveService(ctx, s.Tenant.ID, ref)
	if err != nil {
		return ts.fail(ToolGetServiceInfo, err)
	}
	out := serviceView(svc)
	if svc.Description != "" {
		out["description"] = svc.Description
	}
	return out
}

func (ts *toolset) getCenterInfo(ctx context.Context, s Session, _ Args) map[string]any {
	t := s.Tenant
	out := map[string]any{"name": t.Name}
	for key, val := range map[string]string{"address": t.Address, "phone": t.Phone, "email": t.Email, "website": t.Website} {
		if val != "" {
			out[key] = val
		}
	}
	hours, err := ts.Catalog.OpeningHours(ctx, t.ID)
	if err != nil {
		ts.Logger.Warn("conversation: opening hours unavailable", "tenant_id", t.ID, "error", err)
		return out
	}
	days := make([]any, 0, len(hours))
	for _, d := range hours {
		days = append(days, map[string]any{"day": d.DayName(), "hours": d.String()})
	}
	out["opening_hours"] = days
	return out
}

func (ts *toolset) updateClientName(ctx context.Context, s Session, a Args) map[string]any {
	name, err := clients.ValidateFullName(a.String("full_name"))
	if err != nil {
		return ts.fail(ToolUpdateClientName, err)
	}
	saved, err := ts.Clients.UpdateName(ctx, s.Tenant.ID, s.Client.ID, name)
	if err != nil {
		return ts.fail(ToolUpdateClientName, err)
	}
	return map[string]any{"success": true, "name": saved}
}

func (ts *toolset) requestHumanOperator(ctx context.Context, s Session, a Args) map[string]any {
	if err := ts.Conversations.SetStatus(ctx, s.Conversation.ID, messaging.StatusWaitingHuman); err != nil {
		return ts.fail(ToolRequestHumanOperator, err)
	}
	ts.Logger.Info("conversation: handed to operator", "tenant_id", s.Tenant.ID, "conversation_id", s.Conversation.ID)
	if ts.Handoffs != nil {
		err := ts.Handoffs.NotifyHandoff(ctx, notify.Handoff{
			TenantName:    s.Tenant.Name,
			OperatorEmail: s.Tenant.OperatorEmail,
			ClientName:    s.Client.DisplayName(),
			ClientPhone:   s.Client.Phone,
			Reason:        a.String("reason"),
		})
		if err != nil {
			ts.Logger.Error("conversation: operator notification failed", "tenant_id", s.Tenant.ID, "error", err)
		}
	}
	return map[string]any{
		"success": true,
		"message": "A member of staff will reply as soon as possible.",
	}
}

// serviceArg takes an explicit service_id over a service_name query.
func serviceArg(a Args) (booking.ServiceRef, error) {
	if raw := a.String("service_id"); raw != "" {
		id, err := uuid.Parse(strings.TrimPrefix(raw, servicePrefix))
		if err != nil {
			return booking.ServiceRef{}, fmt.Errorf("%w: service not found", booking.ErrNotFound)
		}
		return booking.ServiceByID(id), nil
	}
	if name := a.String("service_name"); name != "" {
		return booking.ServiceByName(name), nil
	}
	return booking.ServiceRef{}, fmt.Errorf("%w: service_id or service_name is required", booking.ErrValidation)
}

// staffArg takes an explicit staff_id over a staff_name query. Both empty
// yields the zero ref, meaning any staff member.
func staffArg(a Args) (booking.StaffRef, error) {
	if raw := a.String("staff_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return booking.StaffRef{}, fmt.Errorf("%w: staff member not found", booking.ErrNotFound)
		}
		return booking.StaffByID(id), nil
	}
	return booking.StaffByName(a.String("staff_name")), nil
}

func parseAppointmentID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimPrefix(raw, appointmentPrefix))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: appointment not found", booking.ErrNotFound)
	}
	return id, nil
}

func clientActor(s Session) string { return "client:" + s.Client.ID.String() }

// weekdayNames is indexed Monday = 0.
var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayHours is the union of staff working windows on one weekday.
type DayHours struct {
	Weekday int
	Windows []availability.WorkingHours
}

func (d DayHours) DayName() string {
	if d.Weekday < 0 || d.Weekday > 6 {
		return ""
	}
	return weekdayNames[d.Weekday]
}

// String renders the windows as "09:00-13:00, 14:00-19:00".
func (d DayHours) String() string {
	parts := make([]string, 0, len(d.Windows))
	for _, w := range d.Windows {
		parts = append(parts, clockOf(w.StartMinute)+"-"+clockOf(w.EndMinute))
	}
	return strings.Join(parts, ", ")
}

func clockOf(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
