/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jukebox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/media"
)

// ErrNotLoaded is returned by HeadlessPlayer operations before Load succeeds.
var ErrNotLoaded = errors.New("jukebox: player not loaded")

// estimated bitrate for tracks that carry no duration
const fallbackBitsPerSecond = 128_000

// estimateDuration guesses how long size bytes play at the fallback bitrate.
func estimateDuration(size int64) time.Duration {
	seconds := float64(size) * 8 / fallbackBitsPerSecond
	return time.Duration(seconds * float64(time.Second))
}

// HeadlessPlayer fetches a track and advances a virtual playhead on the clock.
// It backs the CLI, which has no audio output of its own.
type HeadlessPlayer struct {
	clock   clock.Clock
	fetcher media.Fetcher
	track   Track
	logger  zerolog.Logger

	mu       sync.Mutex
	loaded   bool
	duration time.Duration
	playing  bool
	base     time.Duration // playhead when playing last started or was set
	since    time.Time
	endTimer *clock.Timer
	ended    chan struct{}
	endOnce  sync.Once
	stopped  bool
}

// NewHeadlessPlayer creates an unloaded player for track.
func NewHeadlessPlayer(clk clock.Clock, fetcher media.Fetcher, track Track, logger zerolog.Logger) *HeadlessPlayer {
	return &HeadlessPlayer{
		clock:   clk,
		fetcher: fetcher,
		track:   track,
		logger:  logger,
		ended:   make(chan struct{}),
	}
}

// NewHeadlessFactory returns a PlayerFactory producing headless players.
func NewHeadlessFactory(clk clock.Clock, fetcher media.Fetcher, logger zerolog.Logger) PlayerFactory {
	logger = logger.With().Str("component", "headless_player").Logger()
	return func(track Track) Player {
		return NewHeadlessPlayer(clk, fetcher, track, logger)
	}
}

func (p *HeadlessPlayer) Load(ctx context.Context) error {
	body, err := p.fetcher.Fetch(ctx, p.track.URL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", p.track.URL, err)
	}

	duration := time.Duration(p.track.Duration * float64(time.Second))
	if duration <= 0 {
		duration = estimateDuration(int64(len(body)))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return context.Canceled
	}
	p.loaded = true
	p.duration = duration
	p.logger.Debug().Str("track_id", p.track.ID).Int("bytes", len(body)).Dur("duration", duration).Msg("track loaded")
	return nil
}

func (p *HeadlessPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return ErrNotLoaded
	}
	if p.playing {
		return nil
	}
	p.playing = true
	p.since = p.clock.Now()
	p.scheduleEnd()
	return nil
}

func (p *HeadlessPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}
	p.base = p.position()
	p.playing = false
	p.cancelEnd()
	return nil
}

func (p *HeadlessPlayer) Seek(offset time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return ErrNotLoaded
	}
	if offset < 0 {
		offset = 0
	}
	if offset > p.duration {
		offset = p.duration
	}
	p.base = offset
	p.since = p.clock.Now()
	if p.playing {
		p.scheduleEnd()
	}
	return nil
}

func (p *HeadlessPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position()
}

func (p *HeadlessPlayer) Ended() <-chan struct{} {
	return p.ended
}

func (p *HeadlessPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.playing = false
	p.cancelEnd()
	return nil
}

// Duration is the loaded track length.
func (p *HeadlessPlayer) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *HeadlessPlayer) position() time.Duration {
	pos := p.base
	if p.playing {
		pos += p.clock.Now().Sub(p.since)
	}
	if pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *HeadlessPlayer) scheduleEnd() {
	p.cancelEnd()
	remaining := p.duration - p.base
	if remaining < 0 {
		remaining = 0
	}
	p.endTimer = p.clock.AfterFunc(remaining, func() {
		p.endOnce.Do(func() { close(p.ended) })
	})
}

func (p *HeadlessPlayer) cancelEnd() {
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}
