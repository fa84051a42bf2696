package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads schedules, closures and bookings from Postgres.
type Store struct {
	db DB
}

// NewStore creates a Postgres-backed Source.
func NewStore(db DB) *Store {
	if db == nil {
		panic("availability: db required")
	}
	return &Store{db: db}
}

var _ Source = (*Store)(nil)

// Closures returns tenant-wide and staff-specific closures on date.
func (s *Store) Closures(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]Closure, error) {
	rows, err := s.db.Query(ctx, `
		SELECT COALESCE(staff_id, '00000000-0000-0000-0000-000000000000'::uuid), COALESCE(reason, '')
		FROM closures
		WHERE tenant_id = $1 AND date = $2`, tenantID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("availability: query closures: %w", err)
	}
	defer rows.Close()

	var out []Closure
	for rows.Next() {
		var c Closure
		if err := rows.Scan(&c.StaffID, &c.Reason); err != nil {
			return nil, fmt.Errorf("availability: scan closure: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActiveStaff lists bookable staff in a stable order.
func (s *Store) ActiveStaff(ctx context.Context, tenantID uuid.UUID) ([]StaffMember, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name
		FROM staff
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY name, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("availability: query staff: %w", err)
	}
	defer rows.Close()

	var out []StaffMember
	for rows.Next() {
		var m StaffMember
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("availability: scan staff: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// WorkingHours returns the rules for one staff member on a weekday (0 = Monday).
func (s *Store) WorkingHours(ctx context.Context, staffID uuid.UUID, weekday int) ([]WorkingHours, error) {
	rows, err := s.db.Query(ctx, `
		SELECT (EXTRACT(EPOCH FROM start_time) / 60)::int, (EXTRACT(EPOCH FROM end_time) / 60)::int
		FROM working_hours
		WHERE staff_id = $1 AND weekday = $2
		ORDER BY start_time`, staffID, weekday)
	if err != nil {
		return nil, fmt.Errorf("availability: query working hours: %w", err)
	}
	defer rows.Close()

	var out []WorkingHours
	for rows.Next() {
		var w WorkingHours
		if err := rows.Scan(&w.StartMinute, &w.EndMinute); err != nil {
			return nil, fmt.Errorf("availability: scan working hours: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// BusyIntervals returns slot-occupying appointments intersecting [from, to).
func (s *Store) BusyIntervals(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]appointment.Interval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, start_at, end_at
		FROM appointments
		WHERE staff_id = $1 AND status = ANY($2) AND start_at < $4 AND end_at > $3
		ORDER BY start_at`, staffID, appointment.BlockingStrings(), from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: query bookings: %w", err)
	}
	defer rows.Close()

	var out []appointment.Interval
	for rows.Next() {
		var iv appointment.Interval
		if err := rows.Scan(&iv.AppointmentID, &iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("availability: scan booking: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}
