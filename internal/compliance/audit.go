// Package compliance keeps the append-only audit trail of booking changes.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action names a state-changing operation recorded in audit_logs.
type Action string

const (
	ActionAppointmentBooked      Action = "appointment_booked"
	ActionAppointmentRescheduled Action = "appointment_rescheduled"
	ActionAppointmentCanceled    Action = "appointment_canceled"
	ActionAppointmentConfirmed   Action = "appointment_confirmed"
	ActionAppointmentAdvanced    Action = "appointment_status_changed"
)

// SourceWhatsApp tags entries produced by the chat flow.
const SourceWhatsApp = "whatsapp"

// AuditEvent is one immutable audit row. Rows are only ever inserted.
type AuditEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Actor      string          `json:"actor"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditService writes and reads audit_logs.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db, now: time.Now}
}

// LogEvent appends an audit row.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if event.EntityType == "" {
		event.EntityType = "appointment"
	}
	if len(event.Meta) == 0 {
		event.Meta = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor, action, entity_type, entity_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID,
		event.TenantID,
		nullString(event.Actor),
		string(event.Action),
		event.EntityType,
		event.EntityID,
		[]byte(event.Meta),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: log audit event: %w", err)
	}
	return nil
}

// LogAppointment is a shorthand for appointment actions with a meta map.
func (s *AuditService) LogAppointment(ctx context.Context, tenantID, appointmentID, actor string, action Action, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	if _, ok := meta["source"]; !ok {
		meta["source"] = SourceWhatsApp
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("compliance: encode meta: %w", err)
	}
	return s.LogEvent(ctx, AuditEvent{
		TenantID:   tenantID,
		Actor:      actor,
		Action:     action,
		EntityType: "appointment",
		EntityID:   appointmentID,
		Meta:       raw,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	TenantID  string
	EntityID  string
	Actions   []Action
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// QueryEvents retrieves audit rows newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, tenant_id, actor, action, entity_type, entity_id, meta, created_at
		FROM audit_logs
		WHERE tenant_id = $1
	`
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, 0, len(filter.Actions))
		for _, a := range filter.Actions {
			actions = append(actions, string(a))
		}
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(actions))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var actor sql.NullString
		var meta []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &actor, &e.Action, &e.EntityType, &e.EntityID, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: scan audit event: %w", err)
		}
		e.Actor = actor.String
		e.Meta = meta
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
