package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
	"github.com/wolfman30/salon-booking-bot/internal/availability"
	"github.com/wolfman30/salon-booking-bot/internal/booking"
	"github.com/wolfman30/salon-booking-bot/internal/clients"
	"github.com/wolfman30/salon-booking-bot/internal/messaging"
	"github.com/wolfman30/salon-booking-bot/internal/notify"
	"github.com/wolfman30/salon-booking-bot/internal/tenancy"
	"github.com/wolfman30/salon-booking-bot/internal/whatsapp"
)

var rome, _ = time.LoadLocation("Europe/Rome")

func testSession() Session {
	return Session{
		Tenant: tenancy.Tenant{
			ID: uuid.New(), Name: "Salone Bella", Phone: "+390612345", Address: "Via Roma 1",
			Timezone: "Europe/Rome", PhoneNumberID: "1111", AccessToken: "tok", OperatorEmail: "desk@bella.it",
		},
		Client:       clients.Client{ID: uuid.New(), Name: "Anna Rossi", Phone: "+393331234567"},
		Conversation: messaging.Conversation{ID: uuid.New(), Status: messaging.StatusActive},
		Now:          time.Date(2025, 5, 14, 10, 0, 0, 0, rome),
	}
}

type fakeAvailability struct {
	result availability.Result
	err    error
	reqs   []availability.Request
}

func (f *fakeAvailability) Compute(_ context.Context, req availability.Request) (availability.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

type fakeBookings struct {
	service    booking.Service
	serviceErr error
	staff      booking.Staff
	staffErr   error

	serviceRefs []booking.ServiceRef
	staffRefs   []booking.StaffRef

	bookReqs   []booking.BookRequest
	bookResult booking.BookResult
	bookErr    error

	rescheduleReqs []booking.RescheduleRequest
	rescheduleErr  error

	statusReqs []booking.StatusRequest
	statusErr  error
	statusAppt appointment.Appointment

	upcoming []booking.Upcoming
}

func (f *fakeBookings) ResolveService(_ context.Context, _ uuid.UUID, ref booking.ServiceRef) (booking.Service, error) {
	f.serviceRefs = append(f.serviceRefs, ref)
	return f.service, f.serviceErr
}

func (f *fakeBookings) ResolveStaff(_ context.Context, _ uuid.UUID, ref booking.StaffRef) (booking.Staff, error) {
	f.staffRefs = append(f.staffRefs, ref)
	return f.staff, f.staffErr
}

func (f *fakeBookings) Book(_ context.Context, req booking.BookRequest) (booking.BookResult, error) {
	f.bookReqs = append(f.bookReqs, req)
	return f.bookResult, f.bookErr
}

func (f *fakeBookings) Reschedule(_ context.Context, req booking.RescheduleRequest) (booking.RescheduleResult, error) {
	f.rescheduleReqs = append(f.rescheduleReqs, req)
	if f.rescheduleErr != nil {
		return booking.RescheduleResult{}, f.rescheduleErr
	}
	start, _ := booking.ParseLocal(req.Date, req.Time, req.Location)
	return booking.RescheduleResult{AppointmentID: req.AppointmentID, ServiceName: "Taglio", StartAt: start, EndAt: start.Add(30 * time.Minute)}, nil
}

func (f *fakeBookings) status(req booking.StatusRequest, to appointment.Status) (appointment.Appointment, error) {
	f.statusReqs = append(f.statusReqs, req)
	if f.statusErr != nil {
		return appointment.Appointment{}, f.statusErr
	}
	appt := f.statusAppt
	appt.ID = req.AppointmentID
	appt.Status = to
	return appt, nil
}

func (f *fakeBookings) Cancel(_ context.Context, req booking.StatusRequest) (appointment.Appointment, error) {
	return f.status(req, appointment.StatusCanceled)
}

func (f *fakeBookings) Confirm(_ context.Context, req booking.StatusRequest) (appointment.Appointment, error) {
	return f.status(req, appointment.StatusConfirmed)
}

func (f *fakeBookings) ListUpcoming(context.Context, uuid.UUID, uuid.UUID) ([]booking.Upcoming, error) {
	return f.upcoming, nil
}

type fakeCatalog struct {
	services []booking.Service
	hours    []DayHours
	hoursErr error
}

func (f *fakeCatalog) ListServices(context.Context, uuid.UUID) ([]booking.Service, error) {
	return f.services, nil
}

func (f *fakeCatalog) OpeningHours(context.Context, uuid.UUID) ([]DayHours, error) {
	return f.hours, f.hoursErr
}

type fakeNames struct {
	saved []string
}

func (f *fakeNames) UpdateName(_ context.Context, _, _ uuid.UUID, name string) (string, error) {
	f.saved = append(f.saved, name)
	return name, nil
}

type fakeStatus struct {
	set map[uuid.UUID]messaging.Status
}

func (f *fakeStatus) SetStatus(_ context.Context, id uuid.UUID, status messaging.Status) error {
	if f.set == nil {
		f.set = map[uuid.UUID]messaging.Status{}
	}
	f.set[id] = status
	return nil
}

type fakeHandoffs struct {
	sent []notify.Handoff
}

func (f *fakeHandoffs) NotifyHandoff(_ context.Context, h notify.Handoff) error {
	f.sent = append(f.sent, h)
	return nil
}

type toolFixture struct {
	avail    *fakeAvailability
	bookings *fakeBookings
	catalog  *fakeCatalog
	names    *fakeNames
	status   *fakeStatus
	handoffs *fakeHandoffs
	registry *Registry
}

func newToolFixture() *toolFixture {
	f := &toolFixture{
		avail:    &fakeAvailability{},
		bookings: &fakeBookings{service: booking.Service{ID: uuid.New(), Name: "Taglio", DurationMinutes: 30}},
		catalog:  &fakeCatalog{},
		names:    &fakeNames{},
		status:   &fakeStatus{},
		handoffs: &fakeHandoffs{},
	}
	f.registry = NewToolRegistry(ToolDeps{
		Availability:       f.avail,
		Bookings:           f.bookings,
		Catalog:            f.catalog,
		Clients:            f.names,
		Conversations:      f.status,
		Handoffs:           f.handoffs,
		GranularityMinutes: 30,
	})
	return f
}

type sent struct {
	kind    string
	to      string
	body    string
	buttons []whatsapp.Button
	label   string
}

type fakeChannel struct {
	mu        sync.Mutex
	sent      []sent
	read      []string
	failKinds map[string]error
}

func (f *fakeChannel) record(kind, to, body string, buttons []whatsapp.Button, label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failKinds[kind]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, sent{kind: kind, to: to, body: body, buttons: buttons, label: label})
	return "wamid.out." + kind, nil
}

func (f *fakeChannel) SendText(_ context.Context, _ whatsapp.Credentials, to, body string) (string, error) {
	return f.record("text", to, body, nil, "")
}

func (f *fakeChannel) SendButtons(_ context.Context, _ whatsapp.Credentials, to, body string, buttons []whatsapp.Button) (string, error) {
	return f.record("buttons", to, body, buttons, "")
}

func (f *fakeChannel) SendList(_ context.Context, _ whatsapp.Credentials, to, body, label string, _ []whatsapp.Section) (string, error) {
	return f.record("list", to, body, nil, label)
}

func (f *fakeChannel) MarkRead(_ context.Context, _ whatsapp.Credentials, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return nil
}
