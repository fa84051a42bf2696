// Package messaging persists WhatsApp conversations and their message log.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// ConversationTTL is how long a conversation stays open after its last message.
	ConversationTTL = 24 * time.Hour
	// HistoryLimit is the number of recent messages handed to the assistant.
	HistoryLimit = 10
	// HistoryGap ends the history at the first silence longer than this.
	HistoryGap = 2 * time.Hour
)

type Status string

const (
	StatusActive       Status = "active"
	StatusWaitingHuman Status = "waiting_human"
	StatusClosed       Status = "closed"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

var (
	ErrConversationNotFound = errors.New("messaging: conversation not found")
	ErrDuplicateMessage     = errors.New("messaging: message already logged")
)

type Conversation struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ClientID      uuid.UUID
	ClientPhone   string
	Status        Status
	LastMessageAt time.Time
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// WaitingHuman reports whether an operator has taken over.
func (c Conversation) WaitingHuman() bool { return c.Status == StatusWaitingHuman }

func (c Conversation) expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type MessageRecord struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	ClientID       uuid.UUID
	Direction      Direction
	From           string
	To             string
	Content        string
	WAMessageID    string
	CreatedAt      time.Time
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool PgxPool
	now  func() time.Time
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("messaging: pgx pool required")
	}
	return &Store{pool: pool, now: time.Now}
}

// WithClock overrides the store clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// GetOrCreateConversation returns the client's open conversation, closing it
// first and opening a fresh one when it has expired.
func (s *Store) GetOrCreateConversation(ctx context.Context, tenantID, clientID uuid.UUID, clientPhone string) (Conversation, error) {
	now := s.now().UTC()
	query := `
		SELECT id, tenant_id, client_id, client_phone, status, last_message_at, expires_at, created_at
		FROM whatsapp_conversations
		WHERE tenant_id = $1 AND client_id = $2 AND status IN ('active', 'waiting_human')
		ORDER BY created_at DESC
		LIMIT 1
	`
	var c Conversation
	err := s.pool.QueryRow(ctx, query, tenantID, clientID).
		Scan(&c.ID, &c.TenantID, &c.ClientID, &c.ClientPhone, &c.Status, &c.LastMessageAt, &c.ExpiresAt, &c.CreatedAt)
	switch {
	case err == nil && !c.expired(now):
		return c, nil
	case err == nil:
		if err := s.SetStatus(ctx, c.ID, StatusClosed); err != nil {
			return Conversation{}, err
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return Conversation{}, fmt.Errorf("messaging: load conversation: %w", err)
	}

	c = Conversation{
		ID:            uuid.New(),
		TenantID:      tenantID,
		ClientID:      clientID,
		ClientPhone:   clientPhone,
		Status:        StatusActive,
		LastMessageAt: now,
		ExpiresAt:     now.Add(ConversationTTL),
		CreatedAt:     now,
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO whatsapp_conversations (id, tenant_id, client_id, client_phone, status, last_message_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.TenantID, c.ClientID, c.ClientPhone, string(c.Status), c.LastMessageAt, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("messaging: create conversation: %w", err)
	}
	return c, nil
}

// SetStatus moves a conversation to status.
func (s *Store) SetStatus(ctx context.Context, conversationID uuid.UUID, status Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE whatsapp_conversations SET status = $2 WHERE id = $1`, conversationID, string(status))
	if err != nil {
		return fmt.Errorf("messaging: set conversation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// LogMessage appends to the message log and pushes the conversation expiry
// forward in one transaction. A repeated provider message id yields
// ErrDuplicateMessage.
func (s *Store) LogMessage(ctx context.Context, rec MessageRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("messaging: begin log message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO whatsapp_messages (id, tenant_id, conversation_id, client_id, direction, from_number, to_number, content, wa_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`, rec.ID, rec.TenantID, rec.ConversationID, rec.ClientID, string(rec.Direction), rec.From, rec.To, rec.Content,
		strings.TrimSpace(rec.WAMessageID), rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, ErrDuplicateMessage
		}
		return uuid.Nil, fmt.Errorf("messaging: insert message: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE whatsapp_conversations SET last_message_at = $2, expires_at = $3 WHERE id = $1
	`, rec.ConversationID, rec.CreatedAt, rec.CreatedAt.Add(ConversationTTL))
	if err != nil {
		return uuid.Nil, fmt.Errorf("messaging: touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("messaging: commit log message: %w", err)
	}
	return rec.ID, nil
}

// History returns the conversation's recent messages oldest first, starting
// after the most recent long silence. asOf is the arrival of the message being
// answered; a silence between the newest stored message and asOf empties the
// history.
func (s *Store) History(ctx context.Context, conversationID uuid.UUID, asOf time.Time) ([]MessageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, direction, content, created_at
		FROM whatsapp_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, conversationID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("messaging: load history: %w", err)
	}
	defer rows.Close()

	var newestFirst []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var dir string
		if err := rows.Scan(&rec.ID, &dir, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan history: %w", err)
		}
		rec.Direction = Direction(dir)
		rec.ConversationID = conversationID
		newestFirst = append(newestFirst, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging: iterate history: %w", err)
	}
	return TrimHistory(newestFirst, asOf, HistoryGap), nil
}

// TrimHistory takes messages newest first, stops at the first gap longer
// than gap, and returns what remains oldest first. A non-zero asOf anchors the
// first comparison.
func TrimHistory(newestFirst []MessageRecord, asOf time.Time, gap time.Duration) []MessageRecord {
	if len(newestFirst) > 0 && !asOf.IsZero() && asOf.Sub(newestFirst[0].CreatedAt) > gap {
		return []MessageRecord{}
	}
	keep := len(newestFirst)
	for i := 1; i < len(newestFirst); i++ {
		if newestFirst[i-1].CreatedAt.Sub(newestFirst[i].CreatedAt) > gap {
			keep = i
			break
		}
	}
	out := make([]MessageRecord, 0, keep)
	for i := keep - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out
}
