package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var convCols = []string{"id", "tenant_id", "client_id", "client_phone", "status", "last_message_at", "expires_at", "created_at"}

func fixedNow() time.Time { return time.Date(2025, 5, 15, 10, 0, 0, 0, time.UTC) }

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewStore(mock).WithClock(fixedNow)
}

func TestGetOrCreateConversationReusesOpen(t *testing.T) {
	mock, store := newMockStore(t)
	tenant, client, id := uuid.New(), uuid.New(), uuid.New()
	last := fixedNow().Add(-time.Hour)

	mock.ExpectQuery("FROM whatsapp_conversations").
		WithArgs(tenant, client).
		WillReturnRows(pgxmock.NewRows(convCols).
			AddRow(id, tenant, client, "+39333", StatusWaitingHuman, last, last.Add(ConversationTTL), last))

	conv, err := store.GetOrCreateConversation(context.Background(), tenant, client, "+39333")
	require.NoError(t, err)
	assert.Equal(t, id, conv.ID)
	assert.True(t, conv.WaitingHuman())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateConversationReplacesExpired(t *testing.T) {
	mock, store := newMockStore(t)
	tenant, client, old := uuid.New(), uuid.New(), uuid.New()
	last := fixedNow().Add(-25 * time.Hour)

	mock.ExpectQuery("FROM whatsapp_conversations").
		WillReturnRows(pgxmock.NewRows(convCols).
			AddRow(old, tenant, client, "+39333", StatusActive, last, last.Add(ConversationTTL), last))
	mock.ExpectExec("UPDATE whatsapp_conversations SET status").
		WithArgs(old, "closed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO whatsapp_conversations").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	conv, err := store.GetOrCreateConversation(context.Background(), tenant, client, "+39333")
	require.NoError(t, err)
	assert.NotEqual(t, old, conv.ID)
	assert.Equal(t, StatusActive, conv.Status)
	assert.Equal(t, fixedNow().Add(ConversationTTL), conv.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateConversationCreatesFirst(t *testing.T) {
	mock, store := newMockStore(t)
	mock.ExpectQuery("FROM whatsapp_conversations").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO whatsapp_conversations").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := store.GetOrCreateConversation(context.Background(), uuid.New(), uuid.New(), "+39333")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogMessageTouchesConversation(t *testing.T) {
	mock, store := newMockStore(t)
	conv := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whatsapp_messages").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE whatsapp_conversations SET last_message_at").
		WithArgs(conv, fixedNow(), fixedNow().Add(ConversationTTL)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	id, err := store.LogMessage(context.Background(), MessageRecord{
		ConversationID: conv,
		Direction:      DirectionInbound,
		Content:        "ciao",
		WAMessageID:    "wamid.1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogMessageDuplicate(t *testing.T) {
	mock, store := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whatsapp_messages").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := store.LogMessage(context.Background(), MessageRecord{ConversationID: uuid.New(), WAMessageID: "wamid.1"})
	assert.ErrorIs(t, err, ErrDuplicateMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryCutsAtLongGap(t *testing.T) {
	mock, store := newMockStore(t)
	conv := uuid.New()
	base := fixedNow()

	mock.ExpectQuery("FROM whatsapp_messages").
		WithArgs(conv, HistoryLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "direction", "content", "created_at"}).
			AddRow(uuid.New(), "outbound", "see you", base).
			AddRow(uuid.New(), "inbound", "book me", base.Add(-time.Minute)).
			AddRow(uuid.New(), "outbound", "old reply", base.Add(-3*time.Hour)).
			AddRow(uuid.New(), "inbound", "old question", base.Add(-3*time.Hour-time.Minute)))

	hist, err := store.History(context.Background(), conv, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "book me", hist[0].Content)
	assert.Equal(t, DirectionInbound, hist[0].Direction)
	assert.Equal(t, "see you", hist[1].Content)
}

func TestTrimHistoryKeepsAllWithoutGap(t *testing.T) {
	base := fixedNow()
	msgs := []MessageRecord{
		{Content: "c", CreatedAt: base},
		{Content: "b", CreatedAt: base.Add(-time.Hour)},
		{Content: "a", CreatedAt: base.Add(-2 * time.Hour)},
	}
	out := TrimHistory(msgs, time.Time{}, HistoryGap)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].Content)
	assert.Empty(t, TrimHistory(nil, base, HistoryGap))
}

func TestTrimHistoryAnchorsOnCurrentMessage(t *testing.T) {
	base := fixedNow()
	msgs := []MessageRecord{
		{Content: "see you", CreatedAt: base.Add(-5 * time.Hour)},
		{Content: "book me", CreatedAt: base.Add(-5*time.Hour - time.Minute)},
	}
	assert.Empty(t, TrimHistory(msgs, base, HistoryGap), "silence before the new message drops everything")

	out := TrimHistory(msgs, base.Add(-4*time.Hour), HistoryGap)
	require.Len(t, out, 2)
	assert.Equal(t, "book me", out[0].Content)
}

func TestHistoryEmptyAfterSilence(t *testing.T) {
	mock, store := newMockStore(t)
	conv := uuid.New()
	base := fixedNow()

	mock.ExpectQuery("FROM whatsapp_messages").
		WithArgs(conv, HistoryLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "direction", "content", "created_at"}).
			AddRow(uuid.New(), "outbound", "see you", base.Add(-5*time.Hour)).
			AddRow(uuid.New(), "inbound", "book me", base.Add(-5*time.Hour-time.Minute)))

	hist, err := store.History(context.Background(), conv, base)
	require.NoError(t, err)
	assert.Empty(t, hist)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusNotFound(t *testing.T) {
	mock, store := newMockStore(t)
	mock.ExpectExec("UPDATE whatsapp_conversations SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.SetStatus(context.Background(), uuid.New(), StatusWaitingHuman), ErrConversationNotFound)
}
