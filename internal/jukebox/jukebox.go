/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package jukebox keeps the local player aligned with the room's declared
// track start time.
//
// Each playTrack owns one playback: a player plus a task group holding the
// load, the end listener and the clock-sync ticker. A newer playTrack, a
// stopTrack, a load timeout or the natural end cancels the group exactly once.
// A reaper waits for the group, then releases the player; trackEnded is sent
// only after every task of the playback has exited. Every task re-checks that
// its playback is still current under the jukebox lock before it touches
// shared state, so a superseded playback can never report trackEnded or
// correct the new player.
package jukebox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/telemetry"
)

// Jukebox is the single owner of the active player.
type Jukebox struct {
	clock     clock.Clock
	newPlayer PlayerFactory
	sender    Sender
	notifier  Notifier
	bus       events.Publisher
	cfg       Config
	logger    zerolog.Logger

	mu      sync.Mutex
	status  Status
	current *playback
	onDeck  *deck
	votes   Votes
	seq     uint64
}

// errTrackEnded is returned by the end listener when the current track
// finishes on its own. It cancels the rest of the group.
var errTrackEnded = errors.New("jukebox: track ended")

type playback struct {
	seq       uint64
	track     Track
	startedAt time.Time
	player    Player

	// parent is cancelled by supersession, stopTrack or abandonment only.
	// ctx is the group context and also ends when a task fails.
	parent     context.Context
	ctx        context.Context
	cancel     context.CancelFunc
	group      *errgroup.Group
	deckCancel context.CancelFunc
	stopOnce   sync.Once

	loaded  chan error    // load task result, buffered
	playing chan struct{} // closed once the player is running
	done    chan struct{} // closed after the tasks exited and the player was released
}

// stop cancels the playback's tasks. The reaper releases the player once they
// have exited.
func (p *playback) stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		if p.deckCancel != nil {
			p.deckCancel()
		}
	})
}

func (p *playback) superseded() bool {
	return p.parent.Err() != nil
}

type deck struct {
	track  Track
	player Player
	loaded chan struct{}
	err    error
	cancel context.CancelFunc
}

func (d *deck) discard() {
	d.cancel()
	_ = d.player.Stop()
}

// Options wires a Jukebox.
type Options struct {
	Clock     clock.Clock
	NewPlayer PlayerFactory
	Sender    Sender
	Notifier  Notifier
	Bus       events.Publisher
	Config    Config
	Logger    zerolog.Logger
}

// New creates an idle jukebox.
func New(opts Options) *Jukebox {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	return &Jukebox{
		clock:     opts.Clock,
		newPlayer: opts.NewPlayer,
		sender:    opts.Sender,
		notifier:  opts.Notifier,
		bus:       opts.Bus,
		cfg:       cfg,
		logger:    opts.Logger.With().Str("component", "jukebox").Logger(),
		status:    StatusIdle,
		votes:     Votes{},
	}
}

// PlayTrack supersedes whatever is playing and starts track aligned to
// startedAt. It returns at once; the channel yields the attempt's outcome:
// nil once playing, ErrSuperseded, ErrLoadTimeout or a load error.
func (j *Jukebox) PlayTrack(track Track, startedAt time.Time, votes Votes) <-chan error {
	result := make(chan error, 1)

	j.mu.Lock()
	if prev := j.current; prev != nil {
		j.current = nil
		prev.stop()
		j.logger.Debug().Str("track_id", prev.track.ID).Msg("superseded playback")
	}

	var adopted *deck
	if d := j.onDeck; d != nil {
		j.onDeck = nil
		if d.track.ID == track.ID {
			adopted = d
			telemetry.JukeboxOnDeckAdopted.Inc()
		} else {
			d.discard()
		}
	}

	player := j.adoptOrBuild(adopted, track)
	parent, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(parent)
	j.seq++
	pb := &playback{
		seq:       j.seq,
		track:     track,
		startedAt: startedAt,
		player:    player,
		parent:    parent,
		ctx:       gctx,
		cancel:    cancel,
		group:     group,
		loaded:    make(chan error, 1),
		playing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	if adopted != nil {
		pb.deckCancel = adopted.cancel
	}
	j.current = pb
	j.status = StatusLoading
	j.votes = votes.clone()
	j.mu.Unlock()

	j.publish(events.EventTrackLoading, events.Payload{"track_id": track.ID, "title": track.Title})
	pb.group.Go(func() error { return j.loadTask(pb, adopted) })
	pb.group.Go(func() error { return j.listenForEnd(pb) })
	pb.group.Go(func() error { return j.syncClock(pb) })
	go j.reap(pb)
	go j.run(pb, result)
	return result
}

func (j *Jukebox) adoptOrBuild(adopted *deck, track Track) Player {
	if adopted != nil {
		return adopted.player
	}
	return j.newPlayer(track)
}

func (j *Jukebox) run(pb *playback, result chan<- error) {
	err := j.awaitLoad(pb)
	switch {
	case err == nil:
	case errors.Is(err, ErrSuperseded):
		telemetry.JukeboxLoadOutcomes.WithLabelValues("superseded").Inc()
		result <- err
		return
	case errors.Is(err, ErrLoadTimeout):
		if !j.abandon(pb) {
			telemetry.JukeboxLoadOutcomes.WithLabelValues("superseded").Inc()
			result <- ErrSuperseded
			return
		}
		telemetry.JukeboxLoadOutcomes.WithLabelValues("timeout").Inc()
		j.logger.Warn().Str("track_id", pb.track.ID).Dur("timeout", j.cfg.LoadTimeout).Msg("track load timed out")
		j.notify(fmt.Sprintf("couldn't load %s in time", trackLabel(pb.track)))
		result <- err
		return
	default:
		if !j.abandon(pb) {
			telemetry.JukeboxLoadOutcomes.WithLabelValues("superseded").Inc()
			result <- ErrSuperseded
			return
		}
		telemetry.JukeboxLoadOutcomes.WithLabelValues("error").Inc()
		j.logger.Warn().Err(err).Str("track_id", pb.track.ID).Msg("track load failed")
		j.notify(fmt.Sprintf("couldn't load %s", trackLabel(pb.track)))
		result <- err
		return
	}

	// A start in the future means the buoy is giving every peer time to
	// buffer: wait for it and start from zero.
	if wait := pb.startedAt.Sub(j.clock.Now()); wait > 0 {
		timer := j.clock.Timer(wait)
		select {
		case <-timer.C:
		case <-pb.ctx.Done():
			timer.Stop()
			telemetry.JukeboxLoadOutcomes.WithLabelValues("superseded").Inc()
			result <- ErrSuperseded
			return
		}
	}

	j.mu.Lock()
	if j.current != pb {
		j.mu.Unlock()
		telemetry.JukeboxLoadOutcomes.WithLabelValues("superseded").Inc()
		result <- ErrSuperseded
		return
	}
	target := j.expectedOffset(pb)
	if target < 0 {
		target = 0
	}
	if err := pb.player.Seek(target); err != nil {
		j.logger.Debug().Err(err).Msg("initial seek failed")
	}
	if err := pb.player.Play(); err != nil {
		j.current = nil
		j.status = StatusIdle
		j.mu.Unlock()
		pb.stop()
		telemetry.JukeboxLoadOutcomes.WithLabelValues("error").Inc()
		j.notify(fmt.Sprintf("couldn't play %s", trackLabel(pb.track)))
		result <- fmt.Errorf("play: %w", err)
		return
	}
	j.status = StatusPlaying
	j.mu.Unlock()
	close(pb.playing)

	telemetry.JukeboxLoadOutcomes.WithLabelValues("started").Inc()
	j.logger.Info().Str("track_id", pb.track.ID).Dur("offset", target).Msg("track started")
	j.publish(events.EventTrackStarted, events.Payload{
		"track_id": pb.track.ID,
		"title":    pb.track.Title,
		"artist":   pb.track.Artist,
		"offset":   target.Seconds(),
	})
	result <- nil
}

// loadTask prepares the player, or waits for the adopted on-deck load. A
// failure ends the group.
func (j *Jukebox) loadTask(pb *playback, adopted *deck) error {
	var err error
	if adopted != nil {
		select {
		case <-adopted.loaded:
			err = adopted.err
		case <-pb.ctx.Done():
			err = pb.ctx.Err()
		}
	} else {
		err = pb.player.Load(pb.ctx)
	}
	pb.loaded <- err
	if err != nil {
		return fmt.Errorf("load %s: %w", pb.track.ID, err)
	}
	return nil
}

// awaitLoad races load completion against supersession and the load timeout.
// Supersession wins every tie.
func (j *Jukebox) awaitLoad(pb *playback) error {
	timer := j.clock.Timer(j.cfg.LoadTimeout)
	defer timer.Stop()

	select {
	case err := <-pb.loaded:
		if pb.superseded() {
			return ErrSuperseded
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", pb.track.ID, err)
		}
		return nil
	case <-pb.parent.Done():
		return ErrSuperseded
	case <-timer.C:
		if pb.superseded() {
			return ErrSuperseded
		}
		return ErrLoadTimeout
	}
}

// reap waits for every task of pb, releases the player and reports a natural
// end to the buoy.
func (j *Jukebox) reap(pb *playback) {
	err := pb.group.Wait()
	pb.stop()
	_ = pb.player.Stop()
	close(pb.done)

	if !errors.Is(err, errTrackEnded) {
		return
	}
	j.logger.Info().Str("track_id", pb.track.ID).Msg("track ended")
	j.publish(events.EventTrackEnded, events.Payload{"track_id": pb.track.ID})
	if j.sender != nil {
		if err := j.sender.Send(context.Background(), "trackEnded", struct{}{}, nil); err != nil {
			j.logger.Warn().Err(err).Str("track_id", pb.track.ID).Msg("trackEnded call failed")
		}
	}
}

// expectedOffset is where the playhead should be now. Caller holds mu.
func (j *Jukebox) expectedOffset(pb *playback) time.Duration {
	return j.clock.Now().Sub(pb.startedAt) + j.cfg.BufferingDelay
}

// abandon drops pb after a failed load. It reports false when pb was already
// superseded, in which case the failure is not the user's concern.
func (j *Jukebox) abandon(pb *playback) bool {
	j.mu.Lock()
	current := j.current == pb
	if current {
		j.current = nil
		j.status = StatusIdle
	}
	j.mu.Unlock()
	pb.stop()
	if !current {
		return false
	}
	j.publish(events.EventTrackStopped, events.Payload{"track_id": pb.track.ID, "reason": "load_failed"})
	return true
}

func (j *Jukebox) listenForEnd(pb *playback) error {
	select {
	case <-pb.ctx.Done():
		return nil
	case <-pb.playing:
	}
	select {
	case <-pb.ctx.Done():
		return nil
	case <-pb.player.Ended():
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current != pb {
		return nil
	}
	j.current = nil
	j.status = StatusIdle
	return errTrackEnded
}

func (j *Jukebox) syncClock(pb *playback) error {
	select {
	case <-pb.ctx.Done():
		return nil
	case <-pb.playing:
	}
	ticker := j.clock.Ticker(j.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-pb.ctx.Done():
			return nil
		case <-ticker.C:
			j.correct(pb)
		}
	}
}

// correct re-aligns the playhead when drift exceeds the tolerance.
func (j *Jukebox) correct(pb *playback) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current != pb || j.status != StatusPlaying {
		return
	}

	expected := j.expectedOffset(pb)
	actual := pb.player.Position()
	drift := expected - actual
	if drift < 0 {
		drift = -drift
	}
	telemetry.JukeboxDrift.Observe(drift.Seconds())
	if drift <= j.cfg.Tolerance {
		return
	}

	if err := pb.player.Pause(); err != nil {
		j.logger.Debug().Err(err).Msg("pause for correction failed")
	}
	if err := pb.player.Seek(expected); err != nil {
		j.logger.Debug().Err(err).Msg("seek for correction failed")
	}
	if err := pb.player.Play(); err != nil {
		j.logger.Debug().Err(err).Msg("resume after correction failed")
	}
	telemetry.JukeboxCorrections.Inc()
	j.logger.Debug().
		Str("track_id", pb.track.ID).
		Dur("expected", expected).
		Dur("actual", actual).
		Msg("clock correction")
	j.publish(events.EventClockCorrect, events.Payload{
		"track_id": pb.track.ID,
		"drift":    drift.Seconds(),
	})
}

// StopTrack ends playback on the buoy's word and returns once the playback's
// tasks have exited.
func (j *Jukebox) StopTrack() {
	j.mu.Lock()
	pb := j.current
	j.current = nil
	j.status = StatusIdle
	j.votes = Votes{}
	j.mu.Unlock()

	if pb == nil {
		return
	}
	pb.stop()
	<-pb.done
	j.logger.Info().Str("track_id", pb.track.ID).Msg("track stopped")
	j.publish(events.EventTrackStopped, events.Payload{"track_id": pb.track.ID, "reason": "stopped"})
}

// SetOnDeck preloads the track expected to play next. A previous on-deck
// player for another track is discarded.
func (j *Jukebox) SetOnDeck(track Track) {
	j.mu.Lock()
	if j.onDeck != nil && j.onDeck.track.ID == track.ID {
		j.mu.Unlock()
		return
	}
	old := j.onDeck
	ctx, cancel := context.WithCancel(context.Background())
	d := &deck{
		track:  track,
		player: j.newPlayer(track),
		loaded: make(chan struct{}),
		cancel: cancel,
	}
	j.onDeck = d
	j.mu.Unlock()

	if old != nil {
		old.discard()
	}
	go func() {
		d.err = d.player.Load(ctx)
		close(d.loaded)
	}()
	j.logger.Debug().Str("track_id", track.ID).Msg("preloading on-deck track")
}

// SetVotes replaces the current track's votes.
func (j *Jukebox) SetVotes(votes Votes) {
	j.mu.Lock()
	j.votes = votes.clone()
	up, down := j.votes.Tally()
	j.mu.Unlock()

	j.publish(events.EventVotesChanged, events.Payload{"up": up, "down": down})
}

// Tally counts votes on the current track.
func (j *Jukebox) Tally() (up, down int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.votes.Tally()
}

// Status returns the synchronizer state.
func (j *Jukebox) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot describes the jukebox for display.
func (j *Jukebox) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	up, down := j.votes.Tally()
	s := Snapshot{Status: j.status, Up: up, Down: down}
	if pb := j.current; pb != nil {
		track := pb.track
		s.Track = &track
		s.StartedAt = pb.startedAt
		if j.status == StatusPlaying {
			s.Position = pb.player.Position().Seconds()
		}
	}
	if j.onDeck != nil {
		s.OnDeck = j.onDeck.track.ID
	}
	return s
}

// Close stops playback and drops the on-deck player.
func (j *Jukebox) Close() {
	j.StopTrack()
	j.mu.Lock()
	d := j.onDeck
	j.onDeck = nil
	j.mu.Unlock()
	if d != nil {
		d.discard()
	}
}

func (j *Jukebox) notify(message string) {
	if j.notifier != nil {
		j.notifier.Failure(message)
	}
}

func (j *Jukebox) publish(t events.EventType, p events.Payload) {
	if j.bus != nil {
		j.bus.Publish(t, p)
	}
}

func trackLabel(t Track) string {
	switch {
	case t.Title != "" && t.Artist != "":
		return fmt.Sprintf("%q by %s", t.Title, t.Artist)
	case t.Title != "":
		return fmt.Sprintf("%q", t.Title)
	case t.Filename != "":
		return t.Filename
	default:
		return "the track"
	}
}
