package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("salon.internal.availability")

var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("availability: invalid request")
	// ErrPastDate is returned for a date before today in the tenant's timezone.
	ErrPastDate = fmt.Errorf("%w: date is in the past", ErrValidation)
)

const noStaffReason = "no staff available"

// StaffMember is an active, bookable person.
type StaffMember struct {
	ID   uuid.UUID
	Name string
}

// WorkingHours is one weekday rule expressed as minutes after local midnight.
type WorkingHours struct {
	StartMinute int
	EndMinute   int
}

// Closure marks a date as closed for the tenant or one staff member.
type Closure struct {
	StaffID uuid.UUID
	Reason  string
}

// Source supplies the data a computation needs. Implementations scope every
// call to the tenant passed in.
type Source interface {
	Closures(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]Closure, error)
	ActiveStaff(ctx context.Context, tenantID uuid.UUID) ([]StaffMember, error)
	WorkingHours(ctx context.Context, staffID uuid.UUID, weekday int) ([]WorkingHours, error)
	BusyIntervals(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]appointment.Interval, error)
}

// Request describes one availability question.
type Request struct {
	TenantID               uuid.UUID
	Location               *time.Location
	Date                   string
	ServiceName            string
	ServiceDurationMinutes int
	// StaffID restricts the search to one staff member when set.
	StaffID            uuid.UUID
	GranularityMinutes int
}

// Slot is one offered start/end pair.
type Slot struct {
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	StaffID   uuid.UUID `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	Start     time.Time `json:"-"`
	End       time.Time `json:"-"`
}

// Result is the outcome of Compute.
type Result struct {
	Date            string `json:"date"`
	Available       bool   `json:"available"`
	Slots           []Slot `json:"slots"`
	Count           int    `json:"count"`
	Service         string `json:"service,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Reason          string `json:"reason,omitempty"`
}

// Calculator computes free slots from a Source.
type Calculator struct {
	src    Source
	now    func() time.Time
	logger *logging.Logger
}

// NewCalculator wires a calculator. now defaults to time.Now.
func NewCalculator(src Source, now func() time.Time, logger *logging.Logger) *Calculator {
	if src == nil {
		panic("availability: source required")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Calculator{src: src, now: now, logger: logger}
}

// Compute returns the free slots for req. Validation problems come back as
// errors wrapping ErrValidation; a data failure for one staff member only
// removes that staff member from the result.
func (c *Calculator) Compute(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "availability.compute")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID.String()),
		attribute.String("availability.date", req.Date),
	)

	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), loc)
	if err != nil {
		return Result{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if req.ServiceDurationMinutes <= 0 {
		return Result{}, fmt.Errorf("%w: service duration must be positive", ErrValidation)
	}
	granularity := req.GranularityMinutes
	if granularity <= 0 {
		granularity = DefaultGranularityMinutes
	}

	now := c.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) {
		return Result{}, ErrPastDate
	}

	res := Result{
		Date:            day.Format("2006-01-02"),
		Slots:           []Slot{},
		Service:         req.ServiceName,
		DurationMinutes: req.ServiceDurationMinutes,
	}

	closedStaff, tenantReason, tenantClosed := c.closures(ctx, req.TenantID, day)
	if tenantClosed {
		res.Reason = tenantReason
		return res, nil
	}

	staff, err := c.src.ActiveStaff(ctx, req.TenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list staff")
		return Result{}, fmt.Errorf("availability: list staff: %w", err)
	}
	staff = filterStaff(staff, req.StaffID, closedStaff)
	if len(staff) == 0 {
		res.Reason = noStaffReason
		return res, nil
	}

	var after time.Time
	if day.Equal(today) {
		after = now
	}
	duration := time.Duration(req.ServiceDurationMinutes) * time.Minute
	step := time.Duration(granularity) * time.Minute
	dayEnd := day.AddDate(0, 0, 1)
	weekday := Weekday(day)

	for _, member := range staff {
		rules, err := c.src.WorkingHours(ctx, member.ID, weekday)
		if err != nil {
			c.logger.Warn("availability: working hours unavailable, skipping staff",
				"tenant_id", req.TenantID, "staff_id", member.ID, "error", err)
			continue
		}
		windows := WindowsOn(day, loc, rules)
		if len(windows) == 0 {
			continue
		}
		busy, err := c.src.BusyIntervals(ctx, member.ID, day, dayEnd)
		if err != nil {
			c.logger.Warn("availability: bookings unavailable, skipping staff",
				"tenant_id", req.TenantID, "staff_id", member.ID, "error", err)
			continue
		}
		for _, start := range Generate(windows, busy, duration, step, after) {
			end := start.Add(duration)
			res.Slots = append(res.Slots, Slot{
				StartTime: start.Format("15:04"),
				EndTime:   end.Format("15:04"),
				StaffID:   member.ID,
				StaffName: member.Name,
				Start:     start,
				End:       end,
			})
		}
	}

	// Equal starts keep staff iteration order.
	sort.SliceStable(res.Slots, func(i, j int) bool {
		return res.Slots[i].Start.Before(res.Slots[j].Start)
	})
	res.Count = len(res.Slots)
	res.Available = res.Count > 0
	span.SetAttributes(attribute.Int("availability.slots", res.Count))
	return res, nil
}

// closures applies the best-effort closure policy: a lookup failure is logged
// and treated as "no closures" so availability keeps answering.
func (c *Calculator) closures(ctx context.Context, tenantID uuid.UUID, day time.Time) (map[uuid.UUID]bool, string, bool) {
	list, err := c.src.Closures(ctx, tenantID, day)
	if err != nil {
		c.logger.Warn("availability: closure lookup failed, assuming open",
			"tenant_id", tenantID, "date", day.Format("2006-01-02"), "error", err)
		return nil, "", false
	}
	closed := make(map[uuid.UUID]bool)
	for _, cl := range list {
		if cl.StaffID == uuid.Nil {
			reason := cl.Reason
			if reason == "" {
				reason = "closed"
			}
			return nil, reason, true
		}
		closed[cl.StaffID] = true
	}
	return closed, "", false
}

func filterStaff(staff []StaffMember, only uuid.UUID, closed map[uuid.UUID]bool) []StaffMember {
	out := staff[:0:0]
	for _, s := range staff {
		if only != uuid.Nil && s.ID != only {
			continue
		}
		if closed[s.ID] {
			continue
		}
		out = append(out, s)
	}
	return out
}
