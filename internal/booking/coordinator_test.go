package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
	"github.com/wolfman30/salon-booking-bot/internal/compliance"
)

// memRepo serializes writes behind a mutex the way the exclusion constraint
// serializes them in Postgres.
type memRepo struct {
	mu            sync.Mutex
	services      []Service
	staff         []Staff
	appts         map[uuid.UUID]*appointment.Appointment
	noProcedure   bool
	fallbackCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{appts: map[uuid.UUID]*appointment.Appointment{}}
}

func (m *memRepo) ServiceByID(_ context.Context, _, id uuid.UUID) (Service, error) {
	for _, s := range m.services {
		if s.ID == id {
			return s, nil
		}
	}
	return Service{}, ErrNotFound
}

func (m *memRepo) ServiceByName(_ context.Context, _ uuid.UUID, q string) (Service, error) {
	for _, s := range m.services {
		if containsFold(s.Name, q) {
			return s, nil
		}
	}
	return Service{}, ErrNotFound
}

func (m *memRepo) StaffByID(_ context.Context, _, id uuid.UUID) (Staff, error) {
	for _, s := range m.staff {
		if s.ID == id {
			return s, nil
		}
	}
	return Staff{}, ErrNotFound
}

func (m *memRepo) StaffByName(_ context.Context, _ uuid.UUID, q string) (Staff, error) {
	for _, s := range m.staff {
		if containsFold(s.Name, q) {
			return s, nil
		}
	}
	return Staff{}, ErrNotFound
}

func (m *memRepo) busyLocked(staffID uuid.UUID, start, end time.Time, exclude uuid.UUID) bool {
	for _, a := range m.appts {
		if a.StaffID != staffID || !a.Status.Blocks() || a.ID == exclude {
			continue
		}
		if appointment.Overlaps(start, end, a.StartAt, a.EndAt) {
			return true
		}
	}
	return false
}

func (m *memRepo) BookAtomic(_ context.Context, n NewAppointment) (uuid.UUID, error) {
	if m.noProcedure {
		return uuid.Nil, &pgconn.PgError{Code: "42883", Message: "function book_appointment_atomic does not exist"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLocked(n.StaffID, n.StartAt, n.EndAt, uuid.Nil) {
		return uuid.Nil, ErrSlotUnavailable
	}
	m.appts[n.ID] = &appointment.Appointment{
		ID: n.ID, TenantID: n.TenantID, ClientID: n.ClientID, StaffID: n.StaffID, ServiceID: n.ServiceID,
		StartAt: n.StartAt, EndAt: n.EndAt, Status: n.Status,
	}
	return n.ID, nil
}

func (m *memRepo) BookFallback(ctx context.Context, n NewAppointment) (uuid.UUID, error) {
	m.fallbackCalls++
	saved := m.noProcedure
	m.noProcedure = false
	defer func() { m.noProcedure = saved }()
	return m.BookAtomic(ctx, n)
}

func (m *memRepo) Get(_ context.Context, tenantID, id uuid.UUID) (appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.TenantID != tenantID {
		return appointment.Appointment{}, ErrNotFound
	}
	return *a, nil
}

func (m *memRepo) RescheduleAtomic(_ context.Context, p RescheduleParams) error {
	if m.noProcedure {
		return &pgconn.PgError{Code: "42883"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.appts[p.AppointmentID]
	if a == nil {
		return ErrNotFound
	}
	if m.busyLocked(a.StaffID, p.StartAt, p.EndAt, a.ID) {
		return ErrSlotUnavailable
	}
	a.StartAt, a.EndAt, a.Status = p.StartAt, p.EndAt, appointment.StatusConfirmed
	return nil
}

func (m *memRepo) RescheduleFallback(ctx context.Context, p RescheduleParams) error {
	m.fallbackCalls++
	saved := m.noProcedure
	m.noProcedure = false
	defer func() { m.noProcedure = saved }()
	return m.RescheduleAtomic(ctx, p)
}

func (m *memRepo) UpdateStatus(_ context.Context, _, id uuid.UUID, from, to appointment.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.appts[id]
	if a == nil || a.Status != from {
		return appointment.ErrInvalidTransition
	}
	a.Status = to
	return nil
}

func (m *memRepo) ListUpcoming(_ context.Context, tenantID, clientID uuid.UUID, now time.Time) ([]Upcoming, error) {
	var out []Upcoming
	for _, a := range m.appts {
		if a.ClientID == clientID && a.StartAt.After(now) && (a.Status == appointment.StatusPending || a.Status == appointment.StatusConfirmed) {
			out = append(out, Upcoming{ID: a.ID, StartAt: a.StartAt, Status: a.Status})
		}
	}
	return out, nil
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []compliance.Action
	err     error
}

func (r *recordingAuditor) LogAppointment(_ context.Context, _, _, _ string, action compliance.Action, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return r.err
}

var (
	tenantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	clientID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	haircut  = Service{ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), Name: "Taglio Donna", DurationMinutes: 30}
	sara     = Staff{ID: uuid.MustParse("44444444-4444-4444-4444-444444444444"), Name: "Sara"}
)

func newTestCoordinator(t *testing.T) (*Coordinator, *memRepo, *recordingAuditor) {
	t.Helper()
	repo := newMemRepo()
	repo.services = []Service{haircut}
	repo.staff = []Staff{sara}
	audit := &recordingAuditor{}
	now := time.Date(2025, 5, 14, 12, 0, 0, 0, time.UTC)
	return NewCoordinator(repo, audit, nil, WithClock(func() time.Time { return now })), repo, audit
}

func bookReq() BookRequest {
	return BookRequest{
		TenantID: tenantID,
		ClientID: clientID,
		Date:     "2025-05-15",
		Time:     "10:00",
		Service:  ServiceByID(haircut.ID),
		Staff:    StaffByID(sara.ID),
	}
}

func TestBookConfirmsAndAudits(t *testing.T) {
	c, _, audit := newTestCoordinator(t)

	res, err := c.Book(context.Background(), bookReq())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.AppointmentID)
	assert.Equal(t, appointment.StatusConfirmed, res.Status)
	assert.Equal(t, res.StartAt.Add(30*time.Minute), res.EndAt)
	assert.True(t, res.Atomic)
	assert.Equal(t, []compliance.Action{compliance.ActionAppointmentBooked}, audit.actions)
}

func TestBookResolvesByName(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	req := bookReq()
	req.Service = ServiceByName("taglio")
	req.Staff = StaffByName("SAR")

	res, err := c.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Taglio Donna", res.ServiceName)
	assert.Equal(t, "Sara", res.StaffName)

	req.Staff = StaffByName("nobody")
	_, err = c.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentBookExactlyOneWins(t *testing.T) {
	c, repo, _ := newTestCoordinator(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Book(context.Background(), bookReq())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotUnavailable)
		assert.Equal(t, "slot no longer available", Message(err))
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, repo.appts, 1)
}

func TestBookFallsBackWhenProcedureMissing(t *testing.T) {
	c, repo, _ := newTestCoordinator(t)
	repo.noProcedure = true

	res, err := c.Book(context.Background(), bookReq())
	require.NoError(t, err)
	assert.False(t, res.Atomic)
	assert.Equal(t, 1, repo.fallbackCalls)

	_, err = c.Book(context.Background(), bookReq())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	req := bookReq()
	req.Time = "10h00"
	_, err := c.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)

	req = bookReq()
	req.Date = "2025-05-13"
	_, err = c.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)

	req = bookReq()
	req.ClientID = uuid.Nil
	_, err = c.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)

	req = bookReq()
	req.Service = ServiceRef{}
	_, err = c.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBookPendingForExternalTooling(t *testing.T) {
	c, repo, _ := newTestCoordinator(t)
	req := bookReq()
	req.Initial = appointment.StatusPending
	req.Actor = "admin"

	res, err := c.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, repo.appts[res.AppointmentID].Status)

	req.Initial = appointment.StatusCompleted
	_, err = c.Book(context.Background(), req)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestRescheduleOverlappingOnlyItself(t *testing.T) {
	c, repo, audit := newTestCoordinator(t)
	booked, err := c.Book(context.Background(), bookReq())
	require.NoError(t, err)

	res, err := c.Reschedule(context.Background(), RescheduleRequest{
		TenantID: tenantID, ClientID: clientID, AppointmentID: booked.AppointmentID,
		Date: "2025-05-15", Time: "10:15",
	})
	require.NoError(t, err)
	assert.Equal(t, "10:15", res.StartAt.Format("15:04"))
	assert.Equal(t, appointment.StatusConfirmed, repo.appts[booked.AppointmentID].Status)
	assert.Equal(t, []compliance.Action{compliance.ActionAppointmentBooked, compliance.ActionAppointmentRescheduled}, audit.actions)
}

func TestRescheduleRejectsConflictWithOthers(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	first, err := c.Book(context.Background(), bookReq())
	require.NoError(t, err)
	other := bookReq()
	other.Time = "11:00"
	_, err = c.Book(context.Background(), other)
	require.NoError(t, err)

	_, err = c.Reschedule(context.Background(), RescheduleRequest{
		TenantID: tenantID, ClientID: clientID, AppointmentID: first.AppointmentID,
		Date: "2025-05-15", Time: "10:45",
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestRescheduleOwnershipStatusAndPast(t *testing.T) {
	c, repo, _ := newTestCoordinator(t)
	booked, err := c.Book(context.Background(), bookReq())
	require.NoError(t, err)

	_, err = c.Reschedule(context.Background(), RescheduleRequest{
		TenantID: tenantID, ClientID: uuid.New(), AppointmentID: booked.AppointmentID, Date: "2025-05-16", Time: "10:00",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Reschedule(context.Background(), RescheduleRequest{
		TenantID: tenantID, ClientID: clientID, AppointmentID: booked.AppointmentID, Date: "2025-05-14", Time: "09:00",
	})
	assert.ErrorIs(t, err, ErrValidation)

	repo.appts[booked.AppointmentID].Status = appointment.StatusInService
	_, err = c.Reschedule(context.Background(), RescheduleRequest{
		TenantID: tenantID, ClientID: clientID, AppointmentID: booked.AppointmentID, Date: "2025-05-16", Time: "10:00",
	})
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestCancelTwiceReportsAlreadyInState(t *testing.T) {
	c, _, audit := newTestCoordinator(t)
	booked, err := c.Book(context.Background(), bookReq())
	require.NoError(t, err)
	req := StatusRequest{TenantID: tenantID, ClientID: clientID, AppointmentID: booked.AppointmentID}

	appt, err := c.Cancel(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCanceled, appt.Status)

	_, err = c.Cancel(context.Background(), req)
	assert.ErrorIs(t, err, appointment.ErrAlreadyInState)
	assert.Equal(t, []compliance.Action{compliance.ActionAppointmentBooked, compliance.ActionAppointmentCanceled}, audit.actions)

	// The freed slot can be booked again.
	_, err = c.Book(context.Background(), bookReq())
	assert.NoError(t, err)
}

func TestConfirmAndAdvance(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	req := bookReq()
	req.Initial = appointment.StatusPending
	booked, err := c.Book(context.Background(), req)
	require.NoError(t, err)

	sr := StatusRequest{TenantID: tenantID, ClientID: clientID, AppointmentID: booked.AppointmentID}
	_, err = c.Confirm(context.Background(), sr)
	require.NoError(t, err)
	_, err = c.Confirm(context.Background(), sr)
	assert.ErrorIs(t, err, appointment.ErrAlreadyInState)

	_, err = c.Advance(context.Background(), tenantID, booked.AppointmentID, appointment.StatusCompleted, "staff")
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
	_, err = c.Advance(context.Background(), tenantID, booked.AppointmentID, appointment.StatusInService, "staff")
	require.NoError(t, err)
	appt, err := c.Advance(context.Background(), tenantID, booked.AppointmentID, appointment.StatusCompleted, "staff")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, appt.Status)

	_, err = c.Cancel(context.Background(), sr)
	assert.ErrorIs(t, err, appointment.ErrAlreadyInState)
}

func TestAuditFailureIsNotFatal(t *testing.T) {
	c, _, audit := newTestCoordinator(t)
	audit.err = errors.New("audit table locked")

	_, err := c.Book(context.Background(), bookReq())
	assert.NoError(t, err)
}

func TestMessageMapping(t *testing.T) {
	assert.Equal(t, "slot no longer available", Message(ErrSlotUnavailable))
	assert.Equal(t, "the appointment is already in that state", Message(appointment.ErrAlreadyInState))
	assert.Equal(t, TechnicalProblemMessage, Message(errors.New("dial tcp: refused")))
	assert.Equal(t, "not found: service not found", Message(fmt.Errorf("%w: service not found", ErrNotFound)))
}
