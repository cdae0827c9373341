/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package client owns the buoy session: it redeems invites, authenticates
// stored credentials and reconnects after the transport drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/buoy"
	"github.com/friendsincode/grooveboat/internal/config"
	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/room"
	"github.com/friendsincode/grooveboat/internal/rpc"
	"github.com/friendsincode/grooveboat/internal/session"
	"github.com/friendsincode/grooveboat/internal/telemetry"
	"github.com/friendsincode/grooveboat/internal/version"
)

var (
	// ErrNoBuoys means no credential is stored yet; redeem an invite first.
	ErrNoBuoys = errors.New("client: no stored buoys")
	// ErrAuthRejected is a permanent refusal of a session or invite token.
	ErrAuthRejected = errors.New("client: buoy rejected credentials")
	ErrClosed       = errors.New("client: closed")
)

// Room is the part of the room reconciler the session owner drives.
type Room interface {
	SetSelf(peerID string)
	RoomID() string
	JoinRoom(ctx context.Context, id string) (room.Snapshot, error)
}

// Notifier surfaces user-visible failures.
type Notifier interface {
	Failure(message string)
}

// DialFunc opens a session to a buoy URL.
type DialFunc func(ctx context.Context, url string) (*session.Session, error)

// Options wires a Client.
type Options struct {
	Config     *config.Config
	Registry   *buoy.Registry
	Dispatcher *rpc.Dispatcher
	Room       Room
	Notifier   Notifier
	Bus        events.Publisher
	Logger     zerolog.Logger
	// Dial overrides session.Connect.
	Dial DialFunc
}

// Client is the single owner of the live session.
type Client struct {
	cfg        *config.Config
	registry   *buoy.Registry
	dispatcher *rpc.Dispatcher
	room       Room
	notifier   Notifier
	bus        events.Publisher
	logger     zerolog.Logger
	dial       DialFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	sess    *session.Session
	current *buoy.Buoy
	peerID  string
	gen     uint64 // bumped whenever the caller replaces or drops the session
}

// New creates a disconnected client.
func New(opts Options) *Client {
	c := &Client{
		cfg:        opts.Config,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		room:       opts.Room,
		notifier:   opts.Notifier,
		bus:        opts.Bus,
		logger:     opts.Logger.With().Str("component", "client").Logger(),
		dial:       opts.Dial,
	}
	if c.dial == nil {
		c.dial = c.defaultDial
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Client) defaultDial(ctx context.Context, url string) (*session.Session, error) {
	opts := session.DefaultOptions()
	opts.ConnectTimeout = c.cfg.ConnectTimeout
	opts.CallTimeout = c.cfg.CallTimeout
	opts.Logger = c.logger
	opts.Header = http.Header{"User-Agent": []string{version.UserAgent()}}
	opts.OnStateChange = func(st session.State) {
		c.publish(events.EventSessionState, events.Payload{"state": st.String(), "buoy": url})
	}
	return session.Connect(ctx, url, opts)
}

// Start connects to the first stored buoy.
func (c *Client) Start(ctx context.Context) (buoy.Buoy, error) {
	buoys, err := c.registry.List(ctx)
	if err != nil {
		return buoy.Buoy{}, fmt.Errorf("list buoys: %w", err)
	}
	if len(buoys) == 0 {
		return buoy.Buoy{}, ErrNoBuoys
	}
	b := buoys[0]
	if err := c.Connect(ctx, b); err != nil {
		return buoy.Buoy{}, err
	}
	return b, nil
}

// Connect authenticates with a stored buoy. A permanent rejection removes the
// credential from the registry.
func (c *Client) Connect(ctx context.Context, b buoy.Buoy) error {
	if err := c.ctx.Err(); err != nil {
		return ErrClosed
	}
	c.detach()

	sess, peerID, err := c.open(ctx, b)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			c.prune(ctx, b)
		}
		c.fail(fmt.Sprintf("couldn't connect to %s", displayName(b)))
		return err
	}
	c.attach(sess, b, peerID)
	return nil
}

type joinParams struct {
	InviteToken string `json:"inviteToken"`
}

type joinResult struct {
	SessionToken string `json:"sessionToken"`
}

// JoinInvite redeems an invite token and stores the resulting credential.
// Failures leave the registry untouched.
func (c *Client) JoinInvite(ctx context.Context, invite string) (buoy.Buoy, error) {
	if err := c.ctx.Err(); err != nil {
		return buoy.Buoy{}, ErrClosed
	}
	claims, err := buoy.DecodeToken(invite)
	if err != nil {
		return buoy.Buoy{}, err
	}
	c.detach()

	sess, err := c.dial(ctx, claims.URL)
	if err != nil {
		c.fail(fmt.Sprintf("couldn't reach %s", claims.URL))
		return buoy.Buoy{}, fmt.Errorf("connect %s: %w", claims.URL, err)
	}
	c.dispatcher.SetCaller(sess)

	var res joinResult
	err = c.dispatcher.Send(ctx, "join", joinParams{InviteToken: invite}, &res)
	if err == nil && res.SessionToken == "" {
		err = fmt.Errorf("%w: join returned no session token", ErrAuthRejected)
	}
	if err != nil {
		c.abandon(sess)
		c.fail("couldn't redeem the invite")
		var remote *rpc.RemoteError
		if errors.As(err, &remote) {
			return buoy.Buoy{}, fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return buoy.Buoy{}, err
	}

	b := buoy.Buoy{URL: claims.URL, Name: claims.Name, Token: res.SessionToken}
	peerID, err := c.authenticate(ctx, b)
	if err != nil {
		c.abandon(sess)
		c.fail(fmt.Sprintf("couldn't sign in to %s", displayName(b)))
		return buoy.Buoy{}, err
	}

	if err := c.registry.Add(ctx, b); err != nil {
		c.logger.Warn().Err(err).Str("buoy", b.URL).Msg("could not store buoy credential")
	}
	c.attach(sess, b, peerID)
	c.logger.Info().Str("buoy", b.URL).Str("name", b.Name).Msg("joined buoy")
	return b, nil
}

type authenticateParams struct {
	SessionToken string `json:"sessionToken"`
}

type authenticateResult struct {
	Success bool   `json:"success"`
	PeerID  string `json:"peerId"`
}

// open dials b and authenticates. The dispatcher points at the new session on
// success and is detached on failure.
func (c *Client) open(ctx context.Context, b buoy.Buoy) (*session.Session, string, error) {
	sess, err := c.dial(ctx, b.URL)
	if err != nil {
		return nil, "", fmt.Errorf("connect %s: %w", b.URL, err)
	}
	c.dispatcher.SetCaller(sess)

	peerID, err := c.authenticate(ctx, b)
	if err != nil {
		c.abandon(sess)
		return nil, "", err
	}
	return sess, peerID, nil
}

func (c *Client) authenticate(ctx context.Context, b buoy.Buoy) (string, error) {
	var res authenticateResult
	if err := c.dispatcher.Send(ctx, "authenticate", authenticateParams{SessionToken: b.Token}, &res); err != nil {
		var remote *rpc.RemoteError
		if errors.As(err, &remote) {
			return "", fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return "", fmt.Errorf("authenticate with %s: %w", b.URL, err)
	}
	if !res.Success {
		return "", fmt.Errorf("%w: %s", ErrAuthRejected, b.URL)
	}
	return res.PeerID, nil
}

func (c *Client) attach(sess *session.Session, b buoy.Buoy, peerID string) {
	sess.MarkAuthenticated()
	if c.room != nil && peerID != "" {
		c.room.SetSelf(peerID)
	}

	c.mu.Lock()
	c.sess = sess
	c.current = &b
	c.peerID = peerID
	c.mu.Unlock()

	c.wg.Add(1)
	go c.serve(sess, b)
}

func (c *Client) abandon(sess *session.Session) {
	c.dispatcher.SetCaller(nil)
	_ = sess.Close()
}

// detach closes the current session without triggering a reconnect.
func (c *Client) detach() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.current = nil
	c.peerID = ""
	c.gen++
	c.mu.Unlock()

	if sess != nil {
		c.dispatcher.SetCaller(nil)
		_ = sess.Close()
	}
}

// serve feeds pushes to the dispatcher until sess ends, then reconnects when
// the drop was not asked for.
func (c *Client) serve(sess *session.Session, b buoy.Buoy) {
	defer c.wg.Done()

	if err := c.dispatcher.Run(c.ctx, sess.Events()); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug().Err(err).Msg("dispatch loop ended")
	}
	<-sess.Done()

	c.mu.Lock()
	owned := c.sess == sess
	gen := c.gen
	c.mu.Unlock()
	if c.ctx.Err() != nil || !owned {
		return
	}
	c.logger.Warn().Err(sess.Err()).Str("buoy", b.URL).Msg("lost connection to buoy")
	c.dispatcher.SetCaller(nil)
	c.reconnect(b, gen)
}

// reconnect retries b with exponential backoff, then re-joins the room the
// client was in.
func (c *Client) reconnect(b buoy.Buoy, gen uint64) {
	bo := backoff.NewExponentialBackOff()
	if c.cfg.ReconnectMaxInterval > 0 {
		bo.MaxInterval = c.cfg.ReconnectMaxInterval
	}
	bo.MaxElapsedTime = c.cfg.ReconnectMaxElapsed

	var (
		attempt int
		sess    *session.Session
		peerID  string
	)
	op := func() error {
		attempt++
		telemetry.SessionReconnects.Inc()
		if !c.stillCurrent(gen) {
			return backoff.Permanent(context.Canceled)
		}
		s, id, err := c.open(c.ctx, b)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !c.stillCurrent(gen) {
			_ = s.Close()
			return backoff.Permanent(context.Canceled)
		}
		sess, peerID = s, id
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Info().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("reconnect attempt failed")
		c.publish(events.EventSessionReconnect, events.Payload{
			"buoy":     b.URL,
			"attempt":  attempt,
			"retry_ms": wait.Milliseconds(),
			"error":    err.Error(),
		})
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, c.ctx), notify)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || c.ctx.Err() != nil:
		return
	case errors.Is(err, ErrAuthRejected):
		c.logger.Warn().Err(err).Str("buoy", b.URL).Msg("buoy no longer accepts our credential")
		c.prune(c.ctx, b)
		c.clear(gen)
		c.fail(fmt.Sprintf("%s no longer accepts this client", displayName(b)))
		return
	default:
		c.logger.Error().Err(err).Str("buoy", b.URL).Int("attempts", attempt).Msg("giving up on buoy")
		c.clear(gen)
		c.fail(fmt.Sprintf("lost connection to %s", displayName(b)))
		return
	}

	if !c.stillCurrent(gen) {
		_ = sess.Close()
		return
	}
	c.attach(sess, b, peerID)
	c.logger.Info().Str("buoy", b.URL).Int("attempts", attempt).Msg("reconnected to buoy")

	if c.room == nil {
		return
	}
	if id := c.room.RoomID(); id != "" {
		if _, err := c.room.JoinRoom(c.ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("room_id", id).Msg("rejoin after reconnect failed")
			c.fail("couldn't rejoin the room")
		}
	}
}

// stillCurrent reports whether no Connect, JoinInvite or Close happened
// since the drop.
func (c *Client) stillCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx.Err() == nil && c.gen == gen
}

func (c *Client) clear(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.sess = nil
		c.current = nil
		c.peerID = ""
	}
}

func (c *Client) prune(ctx context.Context, b buoy.Buoy) {
	if err := c.registry.Remove(ctx, b.URL); err != nil && !errors.Is(err, buoy.ErrNotStored) {
		c.logger.Warn().Err(err).Str("buoy", b.URL).Msg("could not prune rejected buoy")
		return
	}
	c.logger.Info().Str("buoy", b.URL).Msg("pruned rejected buoy credential")
}

// Status describes the connection for display.
type Status struct {
	State  string `json:"state"`
	Buoy   string `json:"buoy,omitempty"`
	Name   string `json:"name,omitempty"`
	PeerID string `json:"peer_id,omitempty"`
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Status{State: session.StateDisconnected.String()}
	}
	st := Status{Buoy: c.current.URL, Name: c.current.Name, PeerID: c.peerID}
	if c.sess != nil {
		st.State = c.sess.State().String()
	} else {
		st.State = session.StateConnecting.String()
	}
	return st
}

// Connected reports whether an authenticated session is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.State() == session.StateAuthenticated
}

// Close ends the session and stops reconnecting.
func (c *Client) Close() error {
	c.cancel()
	c.detach()
	c.wg.Wait()
	return nil
}

func (c *Client) fail(message string) {
	if c.notifier != nil {
		c.notifier.Failure(message)
	}
}

func (c *Client) publish(t events.EventType, p events.Payload) {
	if c.bus != nil {
		c.bus.Publish(t, p)
	}
}

func displayName(b buoy.Buoy) string {
	if b.Name != "" {
		return b.Name
	}
	return b.URL
}
