package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/auth"
	"github.com/friendsincode/grooveboat/internal/client"
	"github.com/friendsincode/grooveboat/internal/jukebox"
	"github.com/friendsincode/grooveboat/internal/logbuffer"
	"github.com/friendsincode/grooveboat/internal/room"
	"github.com/friendsincode/grooveboat/internal/rpc"
	"github.com/friendsincode/grooveboat/internal/session"
)

type fakeRoom struct {
	err     error
	calls   []string
	votes   []bool
	chats   []string
	profile room.Profile
	persist bool
}

func (f *fakeRoom) View() room.View { return room.View{ID: "r1", Name: "Lounge"} }

func (f *fakeRoom) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeRoom) BecomeDJ(context.Context) error { return f.record("becomeDj") }
func (f *fakeRoom) StepDown(context.Context) error { return f.record("stepDown") }
func (f *fakeRoom) SkipTurn(context.Context) error { return f.record("skipTurn") }

func (f *fakeRoom) Vote(_ context.Context, up bool) error {
	f.votes = append(f.votes, up)
	return f.record("vote")
}

func (f *fakeRoom) SendChat(_ context.Context, text string) error {
	f.chats = append(f.chats, text)
	return f.record("sendChat")
}

func (f *fakeRoom) SetProfile(_ context.Context, p room.Profile, persist bool) error {
	f.profile, f.persist = p, persist
	return f.record("setProfile")
}

type fakePlayback struct{}

func (fakePlayback) Snapshot() jukebox.Snapshot {
	return jukebox.Snapshot{Status: jukebox.StatusPlaying, Up: 2, Down: 1}
}

type fakeConnection struct{}

func (fakeConnection) Status() client.Status {
	return client.Status{State: "authenticated", Buoy: "ws://buoy", PeerID: "me"}
}

func newTestServer(r *fakeRoom) *Server {
	return New("127.0.0.1:0", Dependencies{
		Room:       r,
		Playback:   fakePlayback{},
		Connection: fakeConnection{},
		Dispatcher: rpc.New(zerolog.Nop()),
		Logs:       logbuffer.New(10),
	}, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestSecurityHeaders(t *testing.T) {
	rr := do(t, newTestServer(&fakeRoom{}), http.MethodGet, "/healthz", "")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options=%q, want DENY", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); !strings.Contains(got, "frame-ancestors 'none'") {
		t.Fatalf("Content-Security-Policy=%q", got)
	}
}

func TestStatusAggregatesState(t *testing.T) {
	rr := do(t, newTestServer(&fakeRoom{}), http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Connection.PeerID != "me" || body.Room.ID != "r1" || body.Playback.Up != 2 {
		t.Fatalf("status body = %+v", body)
	}
}

func TestIntents(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantCall string
	}{
		{name: "become dj", path: "/room/dj", wantCode: http.StatusNoContent, wantCall: "becomeDj"},
		{name: "step down", path: "/room/step-down", wantCode: http.StatusNoContent, wantCall: "stepDown"},
		{name: "skip", path: "/room/skip", wantCode: http.StatusNoContent, wantCall: "skipTurn"},
		{name: "vote up", path: "/room/vote", body: `{"direction":"up"}`, wantCode: http.StatusNoContent, wantCall: "vote"},
		{name: "vote sideways", path: "/room/vote", body: `{"direction":"left"}`, wantCode: http.StatusBadRequest},
		{name: "chat", path: "/room/chat", body: `{"message":"hi"}`, wantCode: http.StatusNoContent, wantCall: "sendChat"},
		{name: "empty chat", path: "/room/chat", body: `{"message":""}`, wantCode: http.StatusBadRequest},
		{name: "profile", path: "/room/profile", body: `{"profile":{"handle":"ana"},"persist":true}`, wantCode: http.StatusOK, wantCall: "setProfile"},
		{name: "bad json", path: "/room/chat", body: `{`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRoom{}
			rr := do(t, newTestServer(r), http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantCall == "" {
				if len(r.calls) != 0 {
					t.Fatalf("unexpected calls %v", r.calls)
				}
				return
			}
			if len(r.calls) != 1 || r.calls[0] != tt.wantCall {
				t.Fatalf("calls = %v, want %s", r.calls, tt.wantCall)
			}
		})
	}
}

func TestIntentErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "empty queue", err: room.ErrEmptyQueue, wantCode: http.StatusConflict, wantErr: "queue_empty"},
		{name: "not in room", err: room.ErrNotInRoom, wantCode: http.StatusConflict, wantErr: "not_in_room"},
		{name: "remote", err: &rpc.RemoteError{Call: "becomeDj", Message: "stage full"}, wantCode: http.StatusBadGateway, wantErr: "buoy_rejected"},
		{name: "timeout", err: session.ErrCallTimeout, wantCode: http.StatusGatewayTimeout, wantErr: "buoy_timeout"},
		{name: "disconnected", err: session.ErrDisconnected, wantCode: http.StatusServiceUnavailable, wantErr: "disconnected"},
		{name: "other", err: errors.New("boom"), wantCode: http.StatusInternalServerError, wantErr: "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, newTestServer(&fakeRoom{err: tt.err}), http.MethodPost, "/room/dj", "")
			if rr.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rr.Code, tt.wantCode)
			}
			var body map[string]string
			_ = json.Unmarshal(rr.Body.Bytes(), &body)
			if body["error"] != tt.wantErr {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantErr)
			}
		})
	}
}

func TestProfilePersistFailureStillSucceeds(t *testing.T) {
	r := &fakeRoom{err: &room.PersistError{Err: errors.New("disk full")}}
	rr := do(t, newTestServer(r), http.MethodPost, "/room/profile", `{"profile":{"handle":"ana"},"persist":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"persisted":false`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if r.profile.Handle != "ana" || !r.persist {
		t.Fatalf("profile = %+v persist=%v", r.profile, r.persist)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := do(t, newTestServer(&fakeRoom{}), http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "grooveboat_") {
		t.Fatalf("metrics code=%d", rr.Code)
	}
}

func TestControlSecretGuardsIntents(t *testing.T) {
	secret := []byte("local-secret")
	r := &fakeRoom{}
	s := New("127.0.0.1:0", Dependencies{
		Room:          r,
		Playback:      fakePlayback{},
		Connection:    fakeConnection{},
		Dispatcher:    rpc.New(zerolog.Nop()),
		Logs:          logbuffer.New(10),
		ControlSecret: secret,
	}, zerolog.Nop())

	if rr := do(t, s, http.MethodPost, "/room/skip", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated skip = %d, want 401", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/status", ""); rr.Code != http.StatusOK {
		t.Fatalf("status should stay open, got %d", rr.Code)
	}

	token, err := auth.Issue(secret, auth.Claims{Holder: "test", Scopes: []string{auth.ScopeControl}}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/room/skip", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("authorized skip = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(r.calls) != 1 || r.calls[0] != "skipTurn" {
		t.Fatalf("calls = %v", r.calls)
	}
}
