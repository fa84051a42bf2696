package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the datastore contract of the coordinator.
type Repository interface {
	ServiceByID(ctx context.Context, tenantID, id uuid.UUID) (Service, error)
	ServiceByName(ctx context.Context, tenantID uuid.UUID, query string) (Service, error)
	StaffByID(ctx context.Context, tenantID, id uuid.UUID) (Staff, error)
	StaffByName(ctx context.Context, tenantID uuid.UUID, query string) (Staff, error)
	BookAtomic(ctx context.Context, appt NewAppointment) (uuid.UUID, error)
	BookFallback(ctx context.Context, appt NewAppointment) (uuid.UUID, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (appointment.Appointment, error)
	RescheduleAtomic(ctx context.Context, p RescheduleParams) error
	RescheduleFallback(ctx context.Context, p RescheduleParams) error
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to appointment.Status) error
	ListUpcoming(ctx context.Context, tenantID, clientID uuid.UUID, now time.Time) ([]Upcoming, error)
}

// Store implements Repository on Postgres.
type Store struct {
	pool PgxPool
}

// NewStore creates a Postgres-backed booking repository.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &Store{pool: pool}
}

var _ Repository = (*Store)(nil)

const serviceColumns = `id, name, COALESCE(description, ''), COALESCE(short_description, ''), duration_min, price::float8`

func scanService(row pgx.Row) (Service, error) {
	var svc Service
	err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.ShortDescription, &svc.DurationMinutes, &svc.Price)
	return svc, err
}

// ServiceByID looks up one service of the tenant.
func (s *Store) ServiceByID(ctx context.Context, tenantID, id uuid.UUID) (Service, error) {
	svc, err := scanService(s.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Service{}, fmt.Errorf("%w: service not found", ErrNotFound)
		}
		return Service{}, fmt.Errorf("booking: get service: %w", err)
	}
	return svc, nil
}

// ServiceByName returns the first active service whose name contains query,
// preferring an exact case-insensitive match.
func (s *Store) ServiceByName(ctx context.Context, tenantID uuid.UUID, query string) (Service, error) {
	svc, err := scanService(s.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE tenant_id = $1 AND is_active = true AND name ILIKE '%' || $2 || '%'
		ORDER BY lower(name) = lower($2) DESC, name, id
		LIMIT 1`, tenantID, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Service{}, fmt.Errorf("%w: service not found", ErrNotFound)
		}
		return Service{}, fmt.Errorf("booking: find service: %w", err)
	}
	return svc, nil
}

// StaffByID looks up one staff member of the tenant.
func (s *Store) StaffByID(ctx context.Context, tenantID, id uuid.UUID) (Staff, error) {
	var st Staff
	err := s.pool.QueryRow(ctx, `
		SELECT id, name FROM staff WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&st.ID, &st.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Staff{}, fmt.Errorf("%w: staff member not found", ErrNotFound)
		}
		return Staff{}, fmt.Errorf("booking: get staff: %w", err)
	}
	return st, nil
}

// StaffByName returns the first active staff member whose name contains
// query, preferring an exact case-insensitive match.
func (s *Store) StaffByName(ctx context.Context, tenantID uuid.UUID, query string) (Staff, error) {
	var st Staff
	err := s.pool.QueryRow(ctx, `
		SELECT id, name
		FROM staff
		WHERE tenant_id = $1 AND is_active = true AND name ILIKE '%' || $2 || '%'
		ORDER BY lower(name) = lower($2) DESC, name, id
		LIMIT 1`, tenantID, query).Scan(&st.ID, &st.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Staff{}, fmt.Errorf("%w: staff member not found", ErrNotFound)
		}
		return Staff{}, fmt.Errorf("booking: find staff: %w", err)
	}
	return st, nil
}

// BookAtomic reserves the interval through book_appointment_atomic, which
// checks overlap and inserts in one statement under the exclusion constraint.
// A missing function surfaces as an error matched by IsUndefinedFunction.
func (s *Store) BookAtomic(ctx context.Context, appt NewAppointment) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT book_appointment_atomic($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		appt.ID, appt.TenantID, appt.ClientID, appt.StaffID, appt.ServiceID,
		appt.StartAt, appt.EndAt, string(appt.Status), appt.Notes,
	).Scan(&id)
	if err != nil {
		if IsConflict(err) {
			return uuid.Nil, ErrSlotUnavailable
		}
		return uuid.Nil, fmt.Errorf("booking: book atomic: %w", err)
	}
	return id, nil
}

// BookFallback is a check-then-insert used only when the stored procedure is
// missing. Between the check and the insert another writer can claim the same
// interval; only the exclusion constraint, when present, still catches that.
func (s *Store) BookFallback(ctx context.Context, appt NewAppointment) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("booking: begin fallback: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	busy, err := overlapExists(ctx, tx, appt.StaffID, appt.StartAt, appt.EndAt, uuid.Nil)
	if err != nil {
		return uuid.Nil, err
	}
	if busy {
		return uuid.Nil, ErrSlotUnavailable
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, tenant_id, client_id, staff_id, service_id, start_at, end_at, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		appt.ID, appt.TenantID, appt.ClientID, appt.StaffID, appt.ServiceID,
		appt.StartAt, appt.EndAt, string(appt.Status), appt.Notes)
	if err != nil {
		if IsConflict(err) {
			return uuid.Nil, ErrSlotUnavailable
		}
		return uuid.Nil, fmt.Errorf("booking: insert appointment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return uuid.Nil, ErrSlotUnavailable
		}
		return uuid.Nil, fmt.Errorf("booking: commit fallback: %w", err)
	}
	return appt.ID, nil
}

func overlapExists(ctx context.Context, q pgx.Tx, staffID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE staff_id = $1 AND status = ANY($2) AND start_at < $4 AND end_at > $3 AND id <> $5
		)`, staffID, appointment.BlockingStrings(), start, end, exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("booking: overlap check: %w", err)
	}
	return exists, nil
}

// Get loads one appointment of the tenant.
func (s *Store) Get(ctx context.Context, tenantID, id uuid.UUID) (appointment.Appointment, error) {
	var a appointment.Appointment
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, client_id, staff_id, service_id, start_at, end_at, status, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(
		&a.ID, &a.TenantID, &a.ClientID, &a.StaffID, &a.ServiceID,
		&a.StartAt, &a.EndAt, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return appointment.Appointment{}, fmt.Errorf("%w: appointment not found", ErrNotFound)
		}
		return appointment.Appointment{}, fmt.Errorf("booking: get appointment: %w", err)
	}
	if a.Status, err = appointment.ParseStatus(status); err != nil {
		return appointment.Appointment{}, fmt.Errorf("booking: get appointment: %w", err)
	}
	return a, nil
}

// Outcomes reported by reschedule_appointment_atomic.
const (
	rescheduleOK            = "ok"
	rescheduleNotFound      = "not_found"
	rescheduleInvalidStatus = "invalid_status"
)

// RescheduleAtomic moves the interval through reschedule_appointment_atomic,
// which locks the row, re-validates ownership and status, and checks overlap
// excluding the row itself.
func (s *Store) RescheduleAtomic(ctx context.Context, p RescheduleParams) error {
	var outcome string
	err := s.pool.QueryRow(ctx, `
		SELECT reschedule_appointment_atomic($1, $2, $3, $4, $5)`,
		p.AppointmentID, p.TenantID, p.ClientID, p.StartAt, p.EndAt,
	).Scan(&outcome)
	if err != nil {
		if IsConflict(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("booking: reschedule atomic: %w", err)
	}
	switch outcome {
	case rescheduleOK:
		return nil
	case rescheduleNotFound:
		return fmt.Errorf("%w: appointment not found", ErrNotFound)
	case rescheduleInvalidStatus:
		return fmt.Errorf("%w: appointment cannot be rescheduled", appointment.ErrInvalidTransition)
	default:
		return fmt.Errorf("booking: reschedule atomic: unexpected outcome %q", outcome)
	}
}

// RescheduleFallback is the check-then-update twin of BookFallback.
func (s *Store) RescheduleFallback(ctx context.Context, p RescheduleParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("booking: begin fallback: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	busy, err := overlapExists(ctx, tx, p.StaffID, p.StartAt, p.EndAt, p.AppointmentID)
	if err != nil {
		return err
	}
	if busy {
		return ErrSlotUnavailable
	}

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET start_at = $1, end_at = $2, status = 'confirmed', updated_at = now()
		WHERE id = $3 AND tenant_id = $4 AND client_id = $5 AND status IN ('pending', 'confirmed')`,
		p.StartAt, p.EndAt, p.AppointmentID, p.TenantID, p.ClientID)
	if err != nil {
		if IsConflict(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("booking: update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment cannot be rescheduled", appointment.ErrInvalidTransition)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("booking: commit fallback: %w", err)
	}
	return nil
}

// UpdateStatus applies from -> to only if the row still holds from.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to appointment.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = now()
		WHERE tenant_id = $2 AND id = $3 AND status = $4`,
		string(to), tenantID, id, string(from))
	if err != nil {
		return fmt.Errorf("booking: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: status changed concurrently", appointment.ErrInvalidTransition)
	}
	return nil
}

// ListUpcoming returns the client's future pending and confirmed appointments.
func (s *Store) ListUpcoming(ctx context.Context, tenantID, clientID uuid.UUID, now time.Time) ([]Upcoming, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.start_at, a.end_at, a.status, sv.name, st.name, sv.price::float8
		FROM appointments a
		JOIN services sv ON sv.id = a.service_id
		JOIN staff st ON st.id = a.staff_id
		WHERE a.tenant_id = $1 AND a.client_id = $2 AND a.start_at >= $3
		  AND a.status IN ('pending', 'confirmed')
		ORDER BY a.start_at
		LIMIT 10`, tenantID, clientID, now)
	if err != nil {
		return nil, fmt.Errorf("booking: list upcoming: %w", err)
	}
	defer rows.Close()

	var out []Upcoming
	for rows.Next() {
		var u Upcoming
		var status string
		if err := rows.Scan(&u.ID, &u.StartAt, &u.EndAt, &status, &u.ServiceName, &u.StaffName, &u.Price); err != nil {
			return nil, fmt.Errorf("booking: scan upcoming: %w", err)
		}
		u.Status = appointment.Status(status)
		out = append(out, u)
	}
	return out, rows.Err()
}
