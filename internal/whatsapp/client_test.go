package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{PhoneNumberID: "1111", AccessToken: "tok-old"}

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = server.URL
	cfg.APIVersion = "v21.0"
	cfg.HTTPClient = server.Client()
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	return New(cfg)
}

func okResponse(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"messaging_product":"whatsapp","messages":[{"id":"`+id+`"}]}`)
}

func TestSendText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/1111/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok-old", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text", body["type"])
		assert.Equal(t, "393331234567", body["to"])
		assert.Equal(t, "Ciao!", body["text"].(map[string]any)["body"])
		okResponse(w, "wamid.OUT1")
	}))
	defer server.Close()

	id, err := newTestClient(t, server, Config{}).SendText(context.Background(), testCreds, "393331234567", "Ciao!")
	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT1", id)
}

func TestSendButtonsTruncatesTitles(t *testing.T) {
	var captured sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		okResponse(w, "wamid.B")
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	_, err := client.SendButtons(context.Background(), testCreds, "39333", "Pick one", []Button{
		{ID: "slot_09:00_a", Title: "09:00 with Giulia Bianchi Rossi"},
		{ID: "slot_09:30_a", Title: "09:30"},
	})
	require.NoError(t, err)
	require.NotNil(t, captured.Interactive)
	assert.Equal(t, "button", captured.Interactive.Type)
	require.Len(t, captured.Interactive.Action.Buttons, 2)
	title := captured.Interactive.Action.Buttons[0].Reply.Title
	assert.LessOrEqual(t, len([]rune(title)), MaxButtonTitle)
	assert.Equal(t, "slot_09:00_a", captured.Interactive.Action.Buttons[0].Reply.ID)
}

func TestSendButtonsRejectsTooMany(t *testing.T) {
	client := New(Config{})
	buttons := []Button{{ID: "a", Title: "a"}, {ID: "b", Title: "b"}, {ID: "c", Title: "c"}, {ID: "d", Title: "d"}}
	_, err := client.SendButtons(context.Background(), testCreds, "39333", "x", buttons)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSendListRejectsMoreThanTenRows(t *testing.T) {
	rows := make([]Row, 11)
	for i := range rows {
		rows[i] = Row{ID: "r" + string(rune('a'+i)), Title: "row"}
	}
	_, err := New(Config{}).SendList(context.Background(), testCreds, "39333", "x", "", []Section{{Rows: rows}})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSendListBuildsSections(t *testing.T) {
	var captured sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		okResponse(w, "wamid.L")
	}))
	defer server.Close()

	_, err := newTestClient(t, server, Config{}).SendList(context.Background(), testCreds, "39333", "Services", "See services",
		[]Section{{Title: "Hair", Rows: []Row{{ID: "srv_1", Title: "Cut", Description: strings.Repeat("x", 100)}}}})
	require.NoError(t, err)
	require.NotNil(t, captured.Interactive)
	assert.Equal(t, "list", captured.Interactive.Type)
	assert.Equal(t, "See services", captured.Interactive.Action.Button)
	row := captured.Interactive.Action.Sections[0].Rows[0]
	assert.LessOrEqual(t, len([]rune(row.Description)), MaxRowDescription)
}

func TestSendTemplateParameters(t *testing.T) {
	var captured sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		okResponse(w, "wamid.T")
	}))
	defer server.Close()

	_, err := newTestClient(t, server, Config{}).SendTemplate(context.Background(), testCreds, "39333",
		"appointment_confirm_morning", "", []string{"Anna", "10:00"})
	require.NoError(t, err)
	require.NotNil(t, captured.Template)
	assert.Equal(t, "it", captured.Template.Language.Code)
	require.Len(t, captured.Template.Components, 1)
	assert.Equal(t, "10:00", captured.Template.Components[0].Parameters[1].Text)
}

func TestRetriesOnServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		okResponse(w, "wamid.R")
	}))
	defer server.Close()

	id, err := newTestClient(t, server, Config{}).SendText(context.Background(), testCreds, "39333", "hi")
	require.NoError(t, err)
	assert.Equal(t, "wamid.R", id)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGivesUpAfterThreeAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","code":130429}}`)
	}))
	defer server.Close()

	_, err := newTestClient(t, server, Config{}).SendText(context.Background(), testCreds, "39333", "hi")
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Re-engagement message","type":"OAuthException","code":131047}}`)
	}))
	defer server.Close()

	_, err := newTestClient(t, server, Config{}).SendText(context.Background(), testCreds, "39333", "hi")
	require.Error(t, err)
	assert.True(t, IsOutsideWindow(err))
	assert.False(t, IsAuth(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type stubRefresher struct {
	calls int32
	creds Credentials
}

func (s *stubRefresher) RefreshCredentials(_ context.Context, phoneNumberID string) (Credentials, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.creds, nil
}

func TestRefreshesCredentialsOnceOnUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-new" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"Invalid OAuth access token","code":190}}`)
			return
		}
		okResponse(w, "wamid.NEW")
	}))
	defer server.Close()

	refresher := &stubRefresher{creds: Credentials{PhoneNumberID: "1111", AccessToken: "tok-new"}}
	client := newTestClient(t, server, Config{Refresher: refresher})

	id, err := client.SendText(context.Background(), testCreds, "39333", "hi")
	require.NoError(t, err)
	assert.Equal(t, "wamid.NEW", id)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))
}

func TestRefreshFailsIfTokenStillRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresher := &stubRefresher{creds: testCreds}
	_, err := newTestClient(t, server, Config{Refresher: refresher}).SendText(context.Background(), testCreds, "39333", "hi")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))
}

func TestMarkRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body markReadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "read", body.Status)
		assert.Equal(t, "wamid.IN", body.MessageID)
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer server.Close()

	require.NoError(t, newTestClient(t, server, Config{}).MarkRead(context.Background(), testCreds, "wamid.IN"))
}

func TestMissingCredentials(t *testing.T) {
	_, err := New(Config{}).SendText(context.Background(), Credentials{}, "39333", "hi")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, 20, len([]rune(Truncate(strings.Repeat("è", 30), 20))))
}

func TestRetryDelayIsCapped(t *testing.T) {
	c := New(Config{Backoff: 500 * time.Millisecond})
	assert.Equal(t, 500*time.Millisecond, c.retryDelay(0))
	assert.Equal(t, time.Second, c.retryDelay(1))
	assert.Equal(t, 2*time.Second, c.retryDelay(2))
	assert.Equal(t, maxBackoff, c.retryDelay(5))
	assert.Equal(t, maxBackoff, c.retryDelay(70), "large attempts must not overflow")

	slow := New(Config{Backoff: time.Minute})
	assert.Equal(t, maxBackoff, slow.retryDelay(0))
}
