package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	calls  int
	tenant Tenant
	err    error
}

func (c *countingLookup) ByPhoneNumberID(_ context.Context, id string) (Tenant, error) {
	c.calls++
	if c.err != nil {
		return Tenant{}, c.err
	}
	t := c.tenant
	t.PhoneNumberID = id
	return t, nil
}

func TestDirectoryCachesLookups(t *testing.T) {
	lookup := &countingLookup{tenant: Tenant{ID: uuid.New(), AccessToken: "tok"}}
	dir := NewDirectory(lookup, time.Minute, nil)

	for i := 0; i < 3; i++ {
		got, err := dir.Resolve(context.Background(), "1111")
		require.NoError(t, err)
		assert.Equal(t, "1111", got.PhoneNumberID)
	}
	assert.Equal(t, 1, lookup.calls)
}

func TestDirectoryRefreshCredentialsReloads(t *testing.T) {
	lookup := &countingLookup{tenant: Tenant{ID: uuid.New(), AccessToken: "old"}}
	dir := NewDirectory(lookup, time.Minute, nil)
	_, err := dir.Resolve(context.Background(), "1111")
	require.NoError(t, err)

	lookup.tenant.AccessToken = "new"
	creds, err := dir.RefreshCredentials(context.Background(), "1111")
	require.NoError(t, err)
	assert.Equal(t, "new", creds.AccessToken)
	assert.Equal(t, 2, lookup.calls)
}

func TestDirectoryDoesNotCacheMisses(t *testing.T) {
	lookup := &countingLookup{err: ErrTenantNotFound}
	dir := NewDirectory(lookup, time.Minute, nil)

	_, err := dir.Resolve(context.Background(), "9999")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	_, err = dir.Resolve(context.Background(), "9999")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	assert.Equal(t, 2, lookup.calls)

	_, err = dir.Resolve(context.Background(), " ")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	assert.Equal(t, 2, lookup.calls)
}

func TestTenantLocation(t *testing.T) {
	assert.Equal(t, "Europe/Rome", Tenant{}.Location().String())
	assert.Equal(t, "America/New_York", Tenant{Timezone: "America/New_York"}.Location().String())
	assert.Equal(t, "Europe/Rome", Tenant{Timezone: "Not/AZone"}.Location().String())
}

func TestTenantLanguageCode(t *testing.T) {
	assert.Equal(t, DefaultLanguage, Tenant{}.LanguageCode())
	assert.Equal(t, "it", Tenant{Language: " it "}.LanguageCode())
}

var tenantCols = []string{"id", "name", "phone", "email", "address", "website", "timezone",
	"whatsapp_phone_number_id", "whatsapp_access_token", "operator_email", "language", "is_active"}

func TestStoreByPhoneNumberID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM tenants WHERE whatsapp_phone_number_id").
		WithArgs("1111").
		WillReturnRows(pgxmock.NewRows(tenantCols).
			AddRow(id, "Salone Bella", "+390600", "info@bella.it", "Via Roma 1", "", "Europe/Rome", "1111", "tok", "ops@bella.it", "it", true))

	got, err := NewStore(mock).ByPhoneNumberID(context.Background(), "1111")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "ops@bella.it", got.OperatorEmail)
	assert.Equal(t, "tok", got.Credentials().AccessToken)
	assert.Equal(t, "it", got.LanguageCode())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreByPhoneNumberIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM tenants").WithArgs("0000").WillReturnError(pgx.ErrNoRows)
	_, err = NewStore(mock).ByPhoneNumberID(context.Background(), "0000")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestStoreListActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM tenants").
		WillReturnRows(pgxmock.NewRows(tenantCols).
			AddRow(uuid.New(), "A", "", "", "", "", "", "1", "t1", "", "", true).
			AddRow(uuid.New(), "B", "", "", "", "", "", "2", "t2", "", "", true))

	got, err := NewStore(mock).ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
