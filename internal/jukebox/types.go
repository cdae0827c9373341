/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jukebox

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLoadTimeout = errors.New("jukebox: track load timed out")
	ErrSuperseded  = errors.New("jukebox: superseded by a newer track")
)

// Status is the synchronizer state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusPlaying Status = "playing"
)

// Track is the track the room is playing.
type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Filename string  `json:"filename,omitempty"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"` // seconds, 0 when unknown
}

// Votes maps peer id to up (true) or down (false).
type Votes map[string]bool

// Tally counts up and down votes.
func (v Votes) Tally() (up, down int) {
	for _, isUp := range v {
		if isUp {
			up++
		} else {
			down++
		}
	}
	return up, down
}

func (v Votes) clone() Votes {
	out := make(Votes, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Player is one playable resource. Implementations must not call back into
// the Jukebox.
type Player interface {
	// Load prepares the track and returns once it can play or ctx ends.
	Load(ctx context.Context) error
	Play() error
	Pause() error
	Seek(offset time.Duration) error
	// Position is the current playhead.
	Position() time.Duration
	// Ended is closed when playback reaches the end of the track.
	Ended() <-chan struct{}
	// Stop releases the resource. Calling it more than once is allowed.
	Stop() error
}

// PlayerFactory builds an unloaded player for track.
type PlayerFactory func(track Track) Player

// Sender issues calls to the buoy.
type Sender interface {
	Send(ctx context.Context, name string, params any, out any) error
}

// Notifier surfaces user-visible failures.
type Notifier interface {
	Failure(message string)
}

// Config is the sync policy.
type Config struct {
	LoadTimeout    time.Duration
	SyncInterval   time.Duration
	Tolerance      time.Duration
	BufferingDelay time.Duration
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		LoadTimeout:  25 * time.Second,
		SyncInterval: 3 * time.Second,
		Tolerance:    1500 * time.Millisecond,
	}
}

// Snapshot describes the jukebox for display.
type Snapshot struct {
	Status    Status    `json:"status"`
	Track     *Track    `json:"track,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Position  float64   `json:"position_seconds"`
	Up        int       `json:"up"`
	Down      int       `json:"down"`
	OnDeck    string    `json:"on_deck,omitempty"`
}
