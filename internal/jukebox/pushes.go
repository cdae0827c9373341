/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jukebox

import (
	"context"
	"math"
	"time"

	"github.com/friendsincode/grooveboat/internal/rpc"
)

type playTrackParams struct {
	Track     Track   `json:"track"`
	StartedAt float64 `json:"startedAt"` // server wall clock, seconds
	Votes     Votes   `json:"votes"`
}

// wallClock converts fractional epoch seconds to a time.
func wallClock(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9)))
}

type setVotesParams struct {
	Votes Votes `json:"votes"`
}

type setOnDeckParams struct {
	Track Track `json:"track"`
}

// Register installs the playback push handlers on d. playTrack returns as
// soon as loading has begun so later pushes are never held up by a slow load.
func (j *Jukebox) Register(d *rpc.Dispatcher) error {
	regs := []error{
		rpc.Handle(d, rpc.PushPlayTrack, func(_ context.Context, p playTrackParams) error {
			j.PlayTrack(p.Track, wallClock(p.StartedAt), p.Votes)
			return nil
		}),
		rpc.Handle(d, rpc.PushStopTrack, func(_ context.Context, _ struct{}) error {
			j.StopTrack()
			return nil
		}),
		rpc.Handle(d, rpc.PushSetVotes, func(_ context.Context, p setVotesParams) error {
			j.SetVotes(p.Votes)
			return nil
		}),
		rpc.Handle(d, rpc.PushSetOnDeck, func(_ context.Context, p setOnDeckParams) error {
			if p.Track.ID == "" {
				return nil
			}
			j.SetOnDeck(p.Track)
			return nil
		}),
	}
	for _, err := range regs {
		if err != nil {
			return err
		}
	}
	return nil
}
