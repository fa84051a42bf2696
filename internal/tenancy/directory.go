package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/wolfman30/salon-booking-bot/internal/whatsapp"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

const (
	DefaultTimezone = "Europe/Rome"
	DefaultLanguage = "en"
	DefaultCacheTTL = 15 * time.Minute
	cacheSize       = 512
)

var ErrTenantNotFound = errors.New("tenancy: tenant not found")

// Tenant is one salon with its WhatsApp business number.
type Tenant struct {
	ID            uuid.UUID
	Name          string
	Phone         string
	Email         string
	Address       string
	Website       string
	Timezone      string
	PhoneNumberID string
	AccessToken   string
	OperatorEmail string
	Language      string // WhatsApp template language code, e.g. "it" or "en_US"
	IsActive      bool
}

// Location returns the tenant's time zone, falling back to Europe/Rome and
// then UTC.
func (t Tenant) Location() *time.Location {
	for _, name := range []string{strings.TrimSpace(t.Timezone), DefaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// LanguageCode returns the configured template language or DefaultLanguage.
func (t Tenant) LanguageCode() string {
	if code := strings.TrimSpace(t.Language); code != "" {
		return code
	}
	return DefaultLanguage
}

// Credentials returns the WhatsApp credentials for this tenant.
func (t Tenant) Credentials() whatsapp.Credentials {
	return whatsapp.Credentials{PhoneNumberID: t.PhoneNumberID, AccessToken: t.AccessToken}
}

type rowsQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads tenants from Postgres.
type Store struct {
	db rowsQuerier
}

func NewStore(db rowsQuerier) *Store {
	if db == nil {
		panic("tenancy: db required")
	}
	return &Store{db: db}
}

const tenantColumns = `id, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, ''),
	COALESCE(website, ''), COALESCE(timezone, ''), COALESCE(whatsapp_phone_number_id, ''),
	COALESCE(whatsapp_access_token, ''), COALESCE(operator_email, ''), COALESCE(language, ''), is_active`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Phone, &t.Email, &t.Address, &t.Website, &t.Timezone,
		&t.PhoneNumberID, &t.AccessToken, &t.OperatorEmail, &t.Language, &t.IsActive)
	return t, err
}

// ByPhoneNumberID looks up the active tenant owning a WhatsApp number.
func (s *Store) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE whatsapp_phone_number_id = $1 AND is_active`, phoneNumberID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("tenancy: lookup by phone number id: %w", err)
	}
	return t, nil
}

// ByID loads a tenant regardless of its WhatsApp setup.
func (s *Store) ByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("tenancy: lookup by id: %w", err)
	}
	return t, nil
}

// ListActive returns active tenants that have a WhatsApp number configured.
func (s *Store) ListActive(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants
		WHERE is_active AND whatsapp_phone_number_id IS NOT NULL ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list active: %w", err)
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("tenancy: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Lookup is the read side the directory caches.
type Lookup interface {
	ByPhoneNumberID(ctx context.Context, phoneNumberID string) (Tenant, error)
}

// Directory resolves tenants by WhatsApp phone number id through a TTL cache.
type Directory struct {
	lookup Lookup
	cache  *expirable.LRU[string, Tenant]
	logger *logging.Logger
}

func NewDirectory(lookup Lookup, ttl time.Duration, logger *logging.Logger) *Directory {
	if lookup == nil {
		panic("tenancy: lookup required")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Directory{
		lookup: lookup,
		cache:  expirable.NewLRU[string, Tenant](cacheSize, nil, ttl),
		logger: logger,
	}
}

// Resolve returns the tenant for phoneNumberID, from cache when fresh.
func (d *Directory) Resolve(ctx context.Context, phoneNumberID string) (Tenant, error) {
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return Tenant{}, ErrTenantNotFound
	}
	if t, ok := d.cache.Get(phoneNumberID); ok {
		return t, nil
	}
	t, err := d.lookup.ByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		return Tenant{}, err
	}
	d.cache.Add(phoneNumberID, t)
	return t, nil
}

// Invalidate drops the cached entry so the next Resolve hits the store.
func (d *Directory) Invalidate(phoneNumberID string) {
	d.cache.Remove(strings.TrimSpace(phoneNumberID))
}

// RefreshCredentials reloads a tenant after its access token was rejected.
func (d *Directory) RefreshCredentials(ctx context.Context, phoneNumberID string) (whatsapp.Credentials, error) {
	d.Invalidate(phoneNumberID)
	t, err := d.Resolve(ctx, phoneNumberID)
	if err != nil {
		return whatsapp.Credentials{}, err
	}
	d.logger.Info("tenancy: reloaded credentials", "tenant_id", t.ID, "phone_number_id", phoneNumberID)
	return t.Credentials(), nil
}
