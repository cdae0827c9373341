/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session owns one websocket connection to a buoy: the handshake, the
// call correlation table and the ordered push stream. It never retries;
// reconnect policy belongs to the owner.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/grooveboat/internal/telemetry"
)

var (
	ErrConnectTimeout = errors.New("session: connect timeout")
	ErrConnectRefused = errors.New("session: connect refused")
	ErrCallTimeout    = errors.New("session: call timeout")
	ErrDisconnected   = errors.New("session: disconnected")
)

// State is the connection lifecycle stage.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// readLimit caps a single inbound frame. Room snapshots with long chat logs
// are the largest frames a buoy sends.
const readLimit = 1 << 20

// Options tune a connection attempt.
type Options struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	HTTPClient     *http.Client
	Header         http.Header
	Logger         zerolog.Logger
	// OnStateChange is invoked synchronously on every transition.
	OnStateChange func(State)
}

// DefaultOptions returns the stock timeouts.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 3 * time.Second,
		CallTimeout:    5 * time.Second,
		Logger:         zerolog.Nop(),
	}
}

// Session is one live connection.
type Session struct {
	url    string
	opts   Options
	logger zerolog.Logger
	conn   *websocket.Conn

	state  atomic.Int32
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Frame

	qmu     sync.Mutex
	queue   []*Push
	qsignal chan struct{}
	events  chan *Push

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	err       error
}

// Connect dials url and waits for the buoy's hello frame.
func Connect(ctx context.Context, url string, opts Options) (*Session, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}

	s := &Session{
		url:     url,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "session").Str("buoy", url).Logger(),
		pending: make(map[uint64]chan Frame),
		qsignal: make(chan struct{}, 1),
		events:  make(chan *Push),
		done:    make(chan struct{}),
	}
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: opts.Header,
	})
	if err != nil {
		s.setState(StateDisconnected)
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			telemetry.SessionConnectAttempts.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: dial %s", ErrConnectTimeout, url)
		}
		telemetry.SessionConnectAttempts.WithLabelValues("refused").Inc()
		return nil, fmt.Errorf("%w: %v", ErrConnectRefused, err)
	}
	conn.SetReadLimit(readLimit)

	var hello Frame
	if err := wsjson.Read(dialCtx, conn, &hello); err != nil {
		conn.CloseNow()
		s.setState(StateDisconnected)
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			telemetry.SessionConnectAttempts.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: no handshake from %s", ErrConnectTimeout, url)
		}
		telemetry.SessionConnectAttempts.WithLabelValues("refused").Inc()
		return nil, fmt.Errorf("%w: handshake: %v", ErrConnectRefused, err)
	}
	if hello.Type != FrameHello {
		conn.Close(websocket.StatusProtocolError, "expected hello")
		s.setState(StateDisconnected)
		telemetry.SessionConnectAttempts.WithLabelValues("refused").Inc()
		return nil, fmt.Errorf("%w: unexpected first frame %q", ErrConnectRefused, hello.Type)
	}

	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.setState(StateConnected)
	telemetry.SessionConnectAttempts.WithLabelValues("ok").Inc()
	s.logger.Info().Msg("connected to buoy")

	go s.readLoop()
	go s.pump()
	return s, nil
}

// URL returns the buoy URL this session is connected to.
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// MarkAuthenticated records a successful authenticate or join call.
func (s *Session) MarkAuthenticated() {
	if s.state.CompareAndSwap(int32(StateConnected), int32(StateAuthenticated)) {
		s.notifyState(StateAuthenticated)
	}
}

// Events yields pushes in arrival order. It is closed after disconnect.
func (s *Session) Events() <-chan *Push { return s.events }

// Done is closed once the session has disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended: nil after Close, otherwise the
// transport failure wrapped in ErrDisconnected.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Call sends a correlated request and waits for its result.
func (s *Session) Call(ctx context.Context, name string, params any) (json.RawMessage, error) {
	if st := s.State(); st != StateConnected && st != StateAuthenticated {
		return nil, ErrDisconnected
	}

	raw, err := marshalBody(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", name, err)
	}

	id := s.nextID.Add(1)
	ch := make(chan Frame, 1)
	s.mu.Lock()
	s.pending[id] = ch
	telemetry.SessionPendingCalls.Set(float64(len(s.pending)))
	s.mu.Unlock()

	if err := s.write(ctx, Frame{Type: FrameCall, ID: id, Name: name, Params: raw}); err != nil {
		s.forget(id)
		return nil, err
	}

	timer := time.NewTimer(s.opts.CallTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp.Result, nil
	case <-timer.C:
		s.forget(id)
		s.logger.Debug().Str("call", name).Uint64("id", id).Msg("call timed out")
		return nil, fmt.Errorf("%w: %s", ErrCallTimeout, name)
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("%w: %s", ErrDisconnected, name)
	}
}

// Close ends the session. Pending calls fail with ErrDisconnected.
func (s *Session) Close() error {
	s.closing.Store(true)
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.shutdown(nil)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

func (s *Session) write(ctx context.Context, f Frame) error {
	select {
	case <-s.done:
		return ErrDisconnected
	default:
	}
	// Writes are bounded by the session lifetime and the call timeout, not
	// the caller's ctx: nhooyr closes the connection when a write ctx expires.
	wctx, cancel := context.WithTimeout(s.ctx, s.opts.CallTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: write: %v", ErrDisconnected, err)
	}
	return nil
}

func (s *Session) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	telemetry.SessionPendingCalls.Set(float64(len(s.pending)))
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	for {
		var f Frame
		if err := wsjson.Read(s.ctx, s.conn, &f); err != nil {
			if s.closing.Load() {
				s.shutdown(nil)
			} else {
				s.logger.Warn().Err(err).Msg("buoy connection lost")
				s.shutdown(fmt.Errorf("%w: %v", ErrDisconnected, err))
			}
			return
		}

		switch f.Type {
		case FrameResult:
			s.mu.Lock()
			ch, ok := s.pending[f.ID]
			delete(s.pending, f.ID)
			telemetry.SessionPendingCalls.Set(float64(len(s.pending)))
			s.mu.Unlock()
			if !ok {
				s.logger.Debug().Uint64("id", f.ID).Msg("dropping result for unknown call")
				continue
			}
			ch <- f
		case FramePush:
			s.enqueue(&Push{ID: f.ID, Name: f.Name, Params: f.Params, WantsAck: f.Ack, session: s})
		default:
			s.logger.Debug().Str("type", f.Type).Msg("ignoring unexpected frame")
		}
	}
}

func (s *Session) enqueue(p *Push) {
	s.qmu.Lock()
	s.queue = append(s.queue, p)
	s.qmu.Unlock()
	select {
	case s.qsignal <- struct{}{}:
	default:
	}
}

// pump moves queued pushes to the events channel so the read loop never
// waits on a slow consumer.
func (s *Session) pump() {
	defer close(s.events)
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			s.qmu.Unlock()
			select {
			case <-s.qsignal:
				continue
			case <-s.done:
				return
			}
		}
		p := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		select {
		case s.events <- p:
		case <-s.done:
			return
		}
	}
}

func (s *Session) shutdown(reason error) {
	s.closeOnce.Do(func() {
		s.err = reason
		s.cancel()
		s.conn.CloseNow()

		s.mu.Lock()
		s.pending = make(map[uint64]chan Frame)
		telemetry.SessionPendingCalls.Set(0)
		s.mu.Unlock()

		s.setState(StateDisconnected)
		close(s.done)
		if reason != nil {
			s.logger.Info().Err(reason).Msg("session ended")
		} else {
			s.logger.Info().Msg("session closed")
		}
	})
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.notifyState(st)
}

func (s *Session) notifyState(st State) {
	telemetry.SessionState.Set(float64(st))
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}
