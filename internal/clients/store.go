// Package clients stores salon customers keyed by their normalized phone.
package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound     = errors.New("clients: client not found")
	ErrInvalidName  = errors.New("clients: please provide first and last name")
	ErrInvalidPhone = errors.New("clients: invalid phone number")
)

type Client struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Name          string
	Phone         string
	WhatsAppPhone string
	WhatsAppName  string
	CreatedAt     time.Time
}

// DisplayName prefers the name the client gave over their WhatsApp profile name.
func (c Client) DisplayName() string {
	if strings.TrimSpace(c.Name) != "" {
		return c.Name
	}
	return c.WhatsAppName
}

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db Querier
}

func NewStore(db Querier) *Store {
	if db == nil {
		panic("clients: db required")
	}
	return &Store{db: db}
}

const clientColumns = `id, tenant_id, COALESCE(name, ''), phone, COALESCE(whatsapp_phone, ''),
	COALESCE(whatsapp_name, ''), created_at`

// GetOrCreate finds the client by normalized phone or inserts one. A changed
// non-empty WhatsApp profile name is written back. created reports an insert.
func (s *Store) GetOrCreate(ctx context.Context, tenantID uuid.UUID, rawPhone, profileName string) (Client, bool, error) {
	phone := NormalizePhone(rawPhone)
	if phone == "" {
		return Client{}, false, ErrInvalidPhone
	}
	profileName = strings.TrimSpace(profileName)
	query := `
		INSERT INTO clients (id, tenant_id, name, phone, whatsapp_phone, whatsapp_name)
		VALUES ($1, $2, NULL, $4, $5, NULLIF($3, ''))
		ON CONFLICT (tenant_id, phone) DO UPDATE
		SET whatsapp_name = COALESCE(NULLIF(EXCLUDED.whatsapp_name, ''), clients.whatsapp_name),
			whatsapp_phone = EXCLUDED.whatsapp_phone
		RETURNING ` + clientColumns + `, (xmax = 0) AS inserted`

	var c Client
	var created bool
	err := s.db.QueryRow(ctx, query, uuid.New(), tenantID, profileName, phone, strings.TrimSpace(rawPhone)).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.WhatsAppPhone, &c.WhatsAppName, &c.CreatedAt, &created)
	if err != nil {
		return Client{}, false, fmt.Errorf("clients: get or create: %w", err)
	}
	return c, created, nil
}

func (s *Store) Get(ctx context.Context, tenantID, id uuid.UUID) (Client, error) {
	var c Client
	err := s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.WhatsAppPhone, &c.WhatsAppName, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("clients: get: %w", err)
	}
	return c, nil
}

// UpdateName stores the client's full name after validating it.
func (s *Store) UpdateName(ctx context.Context, tenantID, id uuid.UUID, name string) (string, error) {
	name, err := ValidateFullName(name)
	if err != nil {
		return "", err
	}
	tag, err := s.db.Exec(ctx, `UPDATE clients SET name = $3 WHERE tenant_id = $1 AND id = $2`, tenantID, id, name)
	if err != nil {
		return "", fmt.Errorf("clients: update name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return name, nil
}

// ValidateFullName requires at least two words containing letters and returns
// the name with collapsed whitespace.
func ValidateFullName(name string) (string, error) {
	words := strings.Fields(name)
	alpha := 0
	for _, w := range words {
		for _, r := range w {
			if unicode.IsLetter(r) {
				alpha++
				break
			}
		}
	}
	if alpha < 2 {
		return "", ErrInvalidName
	}
	return strings.Join(words, " "), nil
}
