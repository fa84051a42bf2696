package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Notification types, one marker each per appointment.
const (
	TypeConfirmation = "confirmation"
	TypeReminder1h   = "reminder_1h"
)

const channelWhatsApp = "whatsapp"

// DueAppointment is an appointment with what a message about it needs.
type DueAppointment struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	ClientName  string
	ClientPhone string
	ServiceName string
	StaffName   string
	StartAt     time.Time
}

// Store finds appointments needing a notification and keeps the marker log.
type Store interface {
	PendingForConfirmation(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]DueAppointment, error)
	ConfirmedStartingBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]DueAppointment, error)
	HasMarker(ctx context.Context, appointmentID uuid.UUID, notificationType string) (bool, error)
	AddMarker(ctx context.Context, appointmentID uuid.UUID, notificationType, channel string) (bool, error)
}

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on pgx.
type PostgresStore struct {
	db Querier
}

func NewPostgresStore(db Querier) *PostgresStore {
	if db == nil {
		panic("notify: db required")
	}
	return &PostgresStore{db: db}
}

const dueQuery = `
	SELECT a.id, a.tenant_id, COALESCE(NULLIF(c.name, ''), c.whatsapp_name, ''), COALESCE(c.whatsapp_phone, c.phone),
		s.name, st.name, a.start_at
	FROM appointments a
	JOIN clients c ON c.id = a.client_id
	JOIN services s ON s.id = a.service_id
	JOIN staff st ON st.id = a.staff_id
	WHERE a.tenant_id = $1
		AND a.status = $2
		AND a.start_at >= $3 AND a.start_at %s $4
		AND NOT EXISTS (
			SELECT 1 FROM notification_markers m
			WHERE m.appointment_id = a.id AND m.notification_type = $5
		)
	ORDER BY a.start_at, a.id
`

func (s *PostgresStore) listDue(ctx context.Context, tenantID uuid.UUID, status string, from, to time.Time, upperOp, markerType string) ([]DueAppointment, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(dueQuery, upperOp), tenantID, status, from, to, markerType)
	if err != nil {
		return nil, fmt.Errorf("notify: list %s candidates: %w", markerType, err)
	}
	defer rows.Close()
	var out []DueAppointment
	for rows.Next() {
		var d DueAppointment
		if err := rows.Scan(&d.ID, &d.TenantID, &d.ClientName, &d.ClientPhone, &d.ServiceName, &d.StaffName, &d.StartAt); err != nil {
			return nil, fmt.Errorf("notify: scan %s candidate: %w", markerType, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PendingForConfirmation lists pending appointments starting in [from, to)
// without a confirmation marker.
func (s *PostgresStore) PendingForConfirmation(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]DueAppointment, error) {
	return s.listDue(ctx, tenantID, "pending", from, to, "<", TypeConfirmation)
}

// ConfirmedStartingBetween lists confirmed appointments starting in
// [from, to] without a one-hour reminder marker.
func (s *PostgresStore) ConfirmedStartingBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]DueAppointment, error) {
	return s.listDue(ctx, tenantID, "confirmed", from, to, "<=", TypeReminder1h)
}

func (s *PostgresStore) HasMarker(ctx context.Context, appointmentID uuid.UUID, notificationType string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM notification_markers WHERE appointment_id = $1 AND notification_type = $2`,
		appointmentID, notificationType).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify: check marker: %w", err)
	}
	return true, nil
}

// AddMarker appends a marker. It reports false when one already existed.
func (s *PostgresStore) AddMarker(ctx context.Context, appointmentID uuid.UUID, notificationType, channel string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO notification_markers (id, appointment_id, notification_type, channel, sent_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (appointment_id, notification_type) DO NOTHING
	`, uuid.New(), appointmentID, notificationType, channel)
	if err != nil {
		return false, fmt.Errorf("notify: add marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
