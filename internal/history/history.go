/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history keeps a capped log of tracks heard in each room, built
// from jukebox events.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/docstore"
	"github.com/friendsincode/grooveboat/internal/events"
)

// DefaultLimit is how many plays are kept per room.
const DefaultLimit = 200

// Play is one heard track.
type Play struct {
	TrackID   string    `json:"trackId"`
	Title     string    `json:"title,omitempty"`
	Artist    string    `json:"artist,omitempty"`
	DJ        string    `json:"dj,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

type historyDoc struct {
	Plays []Play `json:"plays"`
}

// RoomInfo is what the recorder reads from the room at the moment a track
// starts.
type RoomInfo interface {
	RoomID() string
	ActiveDJ() string
}

// Subscriber is the bus surface the recorder needs.
type Subscriber interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Service records plays by subscribing to track events.
type Service struct {
	store  docstore.Store
	bus    Subscriber
	room   RoomInfo
	limit  int
	now    func() time.Time
	logger zerolog.Logger

	mu sync.Mutex
}

// NewService creates a history recorder.
func NewService(store docstore.Store, bus Subscriber, room RoomInfo, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		room:   room,
		limit:  DefaultLimit,
		now:    time.Now,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

func docID(roomID string) string {
	return "rooms/" + roomID + "/history"
}

// Start records track starts until ctx ends.
func (s *Service) Start(ctx context.Context) {
	started := s.bus.Subscribe(events.EventTrackStarted)
	defer s.bus.Unsubscribe(events.EventTrackStarted, started)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-started:
			if !ok {
				return
			}
			s.record(ctx, payload)
		}
	}
}

func (s *Service) record(ctx context.Context, payload events.Payload) {
	roomID := s.room.RoomID()
	trackID, _ := payload["track_id"].(string)
	if roomID == "" || trackID == "" {
		return
	}
	play := Play{
		TrackID:   trackID,
		DJ:        s.room.ActiveDJ(),
		StartedAt: s.now().UTC(),
	}
	play.Title, _ = payload["title"].(string)
	play.Artist, _ = payload["artist"].(string)

	if err := s.Append(ctx, roomID, play); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Str("track_id", trackID).Msg("failed to record play")
	}
}

// Append adds play to the room's history, dropping the oldest beyond the
// limit.
func (s *Service) Append(ctx context.Context, roomID string, play Play) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, roomID)
	if err != nil {
		return err
	}
	doc.Plays = append(doc.Plays, play)
	if over := len(doc.Plays) - s.limit; over > 0 {
		doc.Plays = doc.Plays[over:]
	}
	if err := s.store.Put(ctx, docID(roomID), doc); err != nil {
		return fmt.Errorf("store history: %w", err)
	}
	return nil
}

// List returns the room's plays, newest first, at most limit (0 for all).
func (s *Service) List(ctx context.Context, roomID string, limit int) ([]Play, error) {
	s.mu.Lock()
	doc, err := s.load(ctx, roomID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n := len(doc.Plays)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Play, 0, n)
	for i := len(doc.Plays) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, doc.Plays[i])
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, roomID string) (historyDoc, error) {
	var doc historyDoc
	err := s.store.Get(ctx, docID(roomID), &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return historyDoc{}, nil
	}
	if err != nil {
		return historyDoc{}, fmt.Errorf("load history: %w", err)
	}
	return doc, nil
}
