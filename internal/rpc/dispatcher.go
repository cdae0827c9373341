/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rpc routes buoy pushes to registered handlers and wraps outbound
// calls with error decoding, tracing and metrics.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/session"
	"github.com/friendsincode/grooveboat/internal/telemetry"
)

// PushName is a server initiated message name.
type PushName string

const (
	PushSetPeers       PushName = "setPeers"
	PushSetDJs         PushName = "setDjs"
	PushSetActiveDJ    PushName = "setActiveDj"
	PushNewChatMsg     PushName = "newChatMsg"
	PushSetPeerProfile PushName = "setPeerProfile"
	PushPlayTrack      PushName = "playTrack"
	PushStopTrack      PushName = "stopTrack"
	PushSetVotes       PushName = "setVotes"
	PushSetOnDeck      PushName = "setOnDeck"
	PushSetSkipWarning PushName = "setSkipWarning"
	PushSetRooms       PushName = "setRooms"
)

var knownPushes = map[PushName]struct{}{
	PushSetPeers: {}, PushSetDJs: {}, PushSetActiveDJ: {}, PushNewChatMsg: {},
	PushSetPeerProfile: {}, PushPlayTrack: {}, PushStopTrack: {}, PushSetVotes: {},
	PushSetOnDeck: {}, PushSetSkipWarning: {}, PushSetRooms: {},
}

// Known reports whether n is part of the protocol.
func (n PushName) Known() bool {
	_, ok := knownPushes[n]
	return ok
}

// Caller issues correlated calls. *session.Session implements it.
type Caller interface {
	Call(ctx context.Context, name string, params any) (json.RawMessage, error)
}

// Handler processes one push. Returning an error is logged; it never stops
// dispatch.
type Handler func(ctx context.Context, push *session.Push) error

// Dispatcher outlives individual sessions: handlers are registered once and
// the caller is swapped on reconnect.
type Dispatcher struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	caller   Caller
	handlers map[PushName]Handler

	decodeErrors atomic.Uint64
	handled      atomic.Uint64
}

// New creates a dispatcher with no caller.
func New(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With().Str("component", "rpc").Logger(),
		handlers: make(map[PushName]Handler),
	}
}

// SetCaller installs the session used by Send. nil detaches.
func (d *Dispatcher) SetCaller(c Caller) {
	d.mu.Lock()
	d.caller = c
	d.mu.Unlock()
}

// Register installs h for name, replacing any previous handler. Unknown names
// are rejected so a typo cannot silently swallow a push.
func (d *Dispatcher) Register(name PushName, h Handler) error {
	if !name.Known() {
		return fmt.Errorf("register handler: unknown push %q", name)
	}
	d.mu.Lock()
	d.handlers[name] = h
	d.mu.Unlock()
	return nil
}

// Handle registers fn for name with params decoded into T.
func Handle[T any](d *Dispatcher, name PushName, fn func(ctx context.Context, params T) error) error {
	return d.Register(name, func(ctx context.Context, push *session.Push) error {
		var params T
		if err := decodeParams(push.Params, &params); err != nil {
			return &DecodeError{Push: name, Err: err}
		}
		return fn(ctx, params)
	})
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	return json.Unmarshal(raw, out)
}

// Run dispatches pushes from events in order until events closes or ctx is
// done. Each handler runs to completion before the next push is taken.
func (d *Dispatcher) Run(ctx context.Context, events <-chan *session.Push) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case push, ok := <-events:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, push)
		}
	}
}

// Dispatch runs the handler for a single push and acks it afterwards if the
// handler did not.
func (d *Dispatcher) Dispatch(ctx context.Context, push *session.Push) {
	name := PushName(push.Name)

	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()

	if !ok {
		if name.Known() {
			d.logger.Debug().Str("push", push.Name).Msg("no handler registered")
		} else {
			d.logger.Debug().Str("push", push.Name).Msg("ignoring unknown push")
		}
		telemetry.RPCPushesTotal.WithLabelValues("unhandled").Inc()
		d.ack(ctx, push)
		return
	}

	telemetry.RPCPushesTotal.WithLabelValues(push.Name).Inc()
	if err := h(ctx, push); err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			d.decodeErrors.Add(1)
			telemetry.RPCDecodeErrors.WithLabelValues(push.Name).Inc()
			d.logger.Warn().Err(err).Str("push", push.Name).Msg("malformed push")
		} else {
			d.logger.Warn().Err(err).Str("push", push.Name).Msg("push handler failed")
		}
	} else {
		d.handled.Add(1)
	}
	d.ack(ctx, push)
}

func (d *Dispatcher) ack(ctx context.Context, push *session.Push) {
	if err := push.Ack(ctx, nil); err != nil {
		d.logger.Debug().Err(err).Str("push", push.Name).Msg("ack failed")
	}
}

// Send issues call name and decodes the result into out (which may be nil).
// A result of the {error, message} shape becomes a *RemoteError.
func (d *Dispatcher) Send(ctx context.Context, name string, params any, out any) (err error) {
	ctx, span := telemetry.StartCallSpan(ctx, name)
	started := time.Now()
	defer func() {
		telemetry.RPCCallDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
		telemetry.RPCCallsTotal.WithLabelValues(name, outcome(err)).Inc()
		telemetry.EndSpan(span, err)
	}()

	d.mu.RLock()
	caller := d.caller
	d.mu.RUnlock()
	if caller == nil {
		return fmt.Errorf("%s: %w", name, session.ErrDisconnected)
	}

	raw, err := caller.Call(ctx, name, params)
	if err != nil {
		return err
	}
	if remote := remoteError(name, raw); remote != nil {
		return remote
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", name, err)
	}
	return nil
}

// Stats is a snapshot of dispatch counters.
type Stats struct {
	Handled      uint64 `json:"handled"`
	DecodeErrors uint64 `json:"decode_errors"`
	Handlers     int    `json:"handlers"`
	Connected    bool   `json:"connected"`
}

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		Handled:      d.handled.Load(),
		DecodeErrors: d.decodeErrors.Load(),
		Handlers:     len(d.handlers),
		Connected:    d.caller != nil,
	}
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, session.ErrCallTimeout):
		return "timeout"
	case errors.Is(err, session.ErrDisconnected):
		return "disconnected"
	default:
		return "error"
	}
}
