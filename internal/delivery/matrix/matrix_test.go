package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/message"
	"github.com/Kargones/alert-relay/internal/pkg/testutil"
)

// fakeHomeserver — минимальный client-server API для тестов.
type fakeHomeserver struct {
	t *testing.T

	mu         sync.Mutex
	password   string
	tokens     int
	validToken string
	logins     []loginRequest
	lookups    int
	sent       map[string][]TextEvent // room id → события
	txnIDs     []string
	rejectNext bool
}

func newFakeHomeserver(t *testing.T) (*fakeHomeserver, *httptest.Server) {
	f := &fakeHomeserver{t: t, password: "secret", sent: map[string][]TextEvent{}}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	if r.URL.Path == loginPath {
		var req loginRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.logins = append(f.logins, req)
		if req.Password != f.password {
			writeJSON(http.StatusForbidden, map[string]string{"errcode": "M_FORBIDDEN", "error": "Invalid password"})
			return
		}
		f.tokens++
		f.validToken = "token-" + strings.Repeat("x", f.tokens)
		writeJSON(http.StatusOK, loginResponse{AccessToken: f.validToken, UserID: "@relay:example.org", DeviceID: req.DeviceID})
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.validToken || f.rejectNext {
		f.rejectNext = false
		writeJSON(http.StatusUnauthorized, map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "Unknown token"})
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, directoryPath):
		f.lookups++
		alias := strings.TrimPrefix(r.URL.Path, directoryPath)
		if alias != "#ops:example.org" {
			writeJSON(http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND", "error": "Room alias not found"})
			return
		}
		writeJSON(http.StatusOK, directoryResponse{RoomID: "!ops:example.org"})
	case strings.HasPrefix(r.URL.Path, roomsPath) && r.Method == http.MethodPut:
		rest := strings.TrimPrefix(r.URL.Path, roomsPath)
		roomID, txn, ok := strings.Cut(rest, "/send/m.room.message/")
		assert.True(f.t, ok, "unexpected path %s", r.URL.Path)
		var ev TextEvent
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&ev))
		f.sent[roomID] = append(f.sent[roomID], ev)
		f.txnIDs = append(f.txnIDs, txn)
		writeJSON(http.StatusOK, map[string]string{"event_id": "$event"})
	default:
		writeJSON(http.StatusNotFound, map[string]string{"errcode": "M_UNRECOGNIZED", "error": "Unrecognized request"})
	}
}

func newTestSink(t *testing.T, server *httptest.Server, channel string) *Sink {
	t.Helper()
	sink, err := New(Config{
		Homeserver: server.URL,
		User:       "@relay:example.org",
		Password:   "secret",
		Channel:    channel,
	}, testutil.NewRecordingLogger())
	require.NoError(t, err)
	return sink
}

func TestSink_StartAndAttempt(t *testing.T) {
	hs, server := newFakeHomeserver(t)
	sink := newTestSink(t, server, "!default:example.org")

	require.NoError(t, sink.Start(context.Background()))
	require.Len(t, hs.logins, 1)
	assert.Equal(t, "m.login.password", hs.logins[0].Type)
	assert.Equal(t, "m.id.user", hs.logins[0].Identifier.Type)
	assert.Equal(t, "relay", hs.logins[0].Identifier.User)
	assert.Equal(t, sink.deviceID, hs.logins[0].DeviceID)

	require.NoError(t, sink.Attempt(context.Background(), testutil.Msg("A")))
	require.NoError(t, sink.Attempt(context.Background(), testutil.Msg("B")))

	events := hs.sent["!default:example.org"]
	require.Len(t, events, 2)
	assert.Equal(t, "m.text", events[0].MsgType)
	assert.Equal(t, "org.matrix.custom.html", events[0].Format)
	assert.Contains(t, events[0].Body, "[WARN] A")
	require.Len(t, hs.txnIDs, 2)
	assert.NotEqual(t, hs.txnIDs[0], hs.txnIDs[1], "каждая отправка использует новый transaction id")
}

func TestSink_Start_InvalidLogin(t *testing.T) {
	hs, server := newFakeHomeserver(t)
	hs.password = "other"
	sink := newTestSink(t, server, "!default:example.org")

	err := sink.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrDeliveryLogin))
	assert.Equal(t, apperrors.ExitStartup, apperrors.ExitCode(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "M_FORBIDDEN", apiErr.ErrCode)
}

func TestSink_AliasResolvedOnceAndChannelOverride(t *testing.T) {
	hs, server := newFakeHomeserver(t)
	sink := newTestSink(t, server, "!default:example.org")
	require.NoError(t, sink.Start(context.Background()))

	msg := testutil.Msg("A")
	msg.Channel = "#ops:example.org"
	require.NoError(t, sink.Attempt(context.Background(), msg))
	require.NoError(t, sink.Attempt(context.Background(), msg))

	assert.Len(t, hs.sent["!ops:example.org"], 2)
	assert.Empty(t, hs.sent["!default:example.org"])
	assert.Equal(t, 1, hs.lookups, "alias кэшируется")

	msg.Channel = "#missing:example.org"
	assert.Error(t, sink.Attempt(context.Background(), msg))
}

func TestSink_NonRoomChannelFallsBackToDefault(t *testing.T) {
	hs, server := newFakeHomeserver(t)
	sink := newTestSink(t, server, "!default:example.org")
	require.NoError(t, sink.Start(context.Background()))

	msg := testutil.Msg("A")
	msg.Channel = "ops"
	require.NoError(t, sink.Attempt(context.Background(), msg))
	assert.Len(t, hs.sent["!default:example.org"], 1)
}

func TestSink_UnauthorizedTriggersRelogin(t *testing.T) {
	hs, server := newFakeHomeserver(t)
	sink := newTestSink(t, server, "!default:example.org")
	require.NoError(t, sink.Start(context.Background()))

	hs.rejectNext = true
	err := sink.Attempt(context.Background(), testutil.Msg("A"))
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, sink.token)

	require.NoError(t, sink.Attempt(context.Background(), testutil.Msg("A")))
	assert.Len(t, hs.logins, 2)
	assert.Len(t, hs.sent["!default:example.org"], 1)
}

func TestSink_AttemptWithoutStartLogsIn(t *testing.T) {
	hs, server := newFakeHomeserver(t)
	sink := newTestSink(t, server, "!default:example.org")

	require.NoError(t, sink.Attempt(context.Background(), testutil.Msg("A")))
	assert.Len(t, hs.logins, 1)
}

func TestNewTextEvent(t *testing.T) {
	msg := testutil.Msg("CPU <high>")
	msg.Level = message.LevelError
	msg.Text = "load 12\nload 15"
	msg.Link = "https://grafana.example.com/d?a=1&b=2"
	msg.Fields = map[string]string{"host": "db-01"}

	ev := NewTextEvent(msg)
	assert.Equal(t, "[ERROR] CPU <high>\nload 12\nload 15\nhost: db-01\n-- alert-relay test", ev.Body)
	assert.Contains(t, ev.FormattedBody, `<a href="https://grafana.example.com/d?a=1&amp;b=2">CPU &lt;high&gt;</a>`)
	assert.Contains(t, ev.FormattedBody, "load 12<br/>load 15")
	assert.Contains(t, ev.FormattedBody, "<li><b>host</b>: db-01</li>")
	assert.Contains(t, ev.FormattedBody, "#a30200")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Homeserver: "https://matrix.example.org", User: "relay", Password: "p", Channel: "#ops:example.org"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "homeserver from user", mutate: func(c *Config) { c.Homeserver = ""; c.User = "relay:example.org" }},
		{name: "no user", mutate: func(c *Config) { c.User = "" }, wantErr: ErrUserRequired},
		{name: "no password", mutate: func(c *Config) { c.Password = "" }, wantErr: ErrPasswordRequired},
		{name: "no homeserver", mutate: func(c *Config) { c.Homeserver = "" }, wantErr: ErrHomeserverInvalid},
		{name: "bad scheme", mutate: func(c *Config) { c.Homeserver = "ftp://matrix.example.org" }, wantErr: ErrHomeserverInvalid},
		{name: "bad channel", mutate: func(c *Config) { c.Channel = "ops" }, wantErr: ErrChannelInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Derived(t *testing.T) {
	c := Config{User: "@relay:example.org"}
	assert.Equal(t, "relay", c.localpart())

	base, err := c.homeserverURL()
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", base)

	c.Homeserver = "https://matrix.example.org/"
	base, err = c.homeserverURL()
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.example.org", base)
}
