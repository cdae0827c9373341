/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the client's state and intents over a local HTTP
// surface for an external UI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/grooveboat/internal/auth"
	"github.com/friendsincode/grooveboat/internal/client"
	"github.com/friendsincode/grooveboat/internal/jukebox"
	"github.com/friendsincode/grooveboat/internal/logbuffer"
	"github.com/friendsincode/grooveboat/internal/notify"
	"github.com/friendsincode/grooveboat/internal/room"
	"github.com/friendsincode/grooveboat/internal/rpc"
	"github.com/friendsincode/grooveboat/internal/session"
	"github.com/friendsincode/grooveboat/internal/telemetry"
	"github.com/friendsincode/grooveboat/internal/version"
)

// Room is the reconciler surface the server reads and drives.
type Room interface {
	View() room.View
	BecomeDJ(ctx context.Context) error
	StepDown(ctx context.Context) error
	SkipTurn(ctx context.Context) error
	Vote(ctx context.Context, up bool) error
	SendChat(ctx context.Context, text string) error
	SetProfile(ctx context.Context, profile room.Profile, persist bool) error
}

// Playback reports the synchronizer state.
type Playback interface {
	Snapshot() jukebox.Snapshot
}

// Connection reports the buoy session.
type Connection interface {
	Status() client.Status
}

// Notifications lists visible notifications.
type Notifications interface {
	Active() []notify.Notification
}

// Dependencies wires the server. Logs may be nil.
type Dependencies struct {
	Room          Room
	Playback      Playback
	Connection    Connection
	Notifications Notifications
	Dispatcher    *rpc.Dispatcher
	Logs          *logbuffer.Buffer

	// ControlSecret signs tokens for /logs and /room. Empty leaves them open.
	ControlSecret []byte
}

// Server is the local status and intent surface.
type Server struct {
	deps       Dependencies
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New builds the router. Start serving with ListenAndServe.
func New(bind string, deps Dependencies, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.With().Str("component", "status_server").Logger(),
		router: chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeadersMiddleware)
	s.router.Use(telemetry.MetricsMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              bind,
		Handler:           otelhttp.NewHandler(s.router, "grooveboat-status"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler without the tracing wrapper.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed after
// Shutdown is reported as nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// securityHeadersMiddleware keeps browsers from framing or sniffing the
// status pages.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.With(auth.Require(s.deps.ControlSecret, auth.ScopeRead)).Get("/logs", s.handleLogs)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/room", func(r chi.Router) {
		r.Use(auth.Require(s.deps.ControlSecret, auth.ScopeControl))
		r.Post("/dj", s.intent(func(ctx context.Context, _ *http.Request) error {
			return s.deps.Room.BecomeDJ(ctx)
		}))
		r.Post("/step-down", s.intent(func(ctx context.Context, _ *http.Request) error {
			return s.deps.Room.StepDown(ctx)
		}))
		r.Post("/skip", s.intent(func(ctx context.Context, _ *http.Request) error {
			return s.deps.Room.SkipTurn(ctx)
		}))
		r.Post("/vote", s.handleVote)
		r.Post("/chat", s.handleChat)
		r.Post("/profile", s.handleProfile)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "version": version.Version}
	if s.deps.Connection != nil {
		resp["connection"] = s.deps.Connection.Status().State
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Connection    client.Status         `json:"connection"`
	Room          room.View             `json:"room"`
	Playback      jukebox.Snapshot      `json:"playback"`
	Notifications []notify.Notification `json:"notifications"`
	Dispatch      rpc.Stats             `json:"dispatch"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if s.deps.Connection != nil {
		resp.Connection = s.deps.Connection.Status()
	}
	if s.deps.Room != nil {
		resp.Room = s.deps.Room.View()
	}
	if s.deps.Playback != nil {
		resp.Playback = s.deps.Playback.Snapshot()
	}
	if s.deps.Notifications != nil {
		resp.Notifications = s.deps.Notifications.Active()
	}
	if s.deps.Dispatcher != nil {
		resp.Dispatch = s.deps.Dispatcher.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeError(w, http.StatusNotFound, "log_capture_disabled")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	writeJSON(w, http.StatusOK, s.deps.Logs.Find(logbuffer.Query{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		RoomID:    q.Get("room_id"),
		Search:    q.Get("q"),
		Limit:     limit,
	}))
}

// intent adapts a room operation into a handler answering 204 on success.
func (s *Server) intent(fn func(ctx context.Context, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Room == nil {
			writeError(w, http.StatusServiceUnavailable, "room_unavailable")
			return
		}
		if err := fn(r.Context(), r); err != nil {
			s.writeIntentError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type voteRequest struct {
	Direction string `json:"direction"` // "up" or "down"
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var up bool
	switch req.Direction {
	case "up":
		up = true
	case "down":
	default:
		writeError(w, http.StatusBadRequest, "direction_must_be_up_or_down")
		return
	}
	s.intent(func(ctx context.Context, _ *http.Request) error {
		return s.deps.Room.Vote(ctx, up)
	})(w, r)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message_required")
		return
	}
	s.intent(func(ctx context.Context, _ *http.Request) error {
		return s.deps.Room.SendChat(ctx, req.Message)
	})(w, r)
}

type profileRequest struct {
	Profile room.Profile `json:"profile"`
	Persist bool         `json:"persist"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if s.deps.Room == nil {
		writeError(w, http.StatusServiceUnavailable, "room_unavailable")
		return
	}
	err := s.deps.Room.SetProfile(r.Context(), req.Profile, req.Persist)
	var persistErr *room.PersistError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"persisted": req.Persist})
	case errors.As(err, &persistErr):
		// The buoy took the update; only local storage failed.
		writeJSON(w, http.StatusOK, map[string]bool{"persisted": false})
	default:
		s.writeIntentError(w, r, err)
	}
}

func (s *Server) writeIntentError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	s.logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("intent failed")

	body := map[string]string{"error": code}
	var remote *rpc.RemoteError
	if errors.As(err, &remote) {
		body["message"] = remote.Message
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	var remote *rpc.RemoteError
	switch {
	case errors.Is(err, room.ErrEmptyQueue):
		return http.StatusConflict, "queue_empty"
	case errors.Is(err, room.ErrNotInRoom):
		return http.StatusConflict, "not_in_room"
	case errors.Is(err, room.ErrPreconditionFailed):
		return http.StatusConflict, "precondition_failed"
	case errors.As(err, &remote):
		return http.StatusBadGateway, "buoy_rejected"
	case errors.Is(err, session.ErrCallTimeout):
		return http.StatusGatewayTimeout, "buoy_timeout"
	case errors.Is(err, session.ErrDisconnected):
		return http.StatusServiceUnavailable, "disconnected"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
