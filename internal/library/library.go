/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library manages the local track library and play queues. The
// queue length decides whether the user may step up as a DJ.
package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/docstore"
)

const (
	indexDocID       = "queues"
	queueDocPrefix   = "queues/"
	trackDocPrefix   = "track/"
	DefaultQueueName = "default"
)

var ErrTrackNotInQueue = errors.New("library: track not in queue")

// Track is a library entry.
type Track struct {
	ID        string  `json:"_id"`
	Filename  string  `json:"filename"`
	Artist    string  `json:"artist,omitempty"`
	Album     string  `json:"album,omitempty"`
	Title     string  `json:"title,omitempty"`
	URL       string  `json:"url"`
	Duration  float64 `json:"duration,omitempty"`
	CreatedAt int64   `json:"createdAt"`
}

// Queue is an ordered list of track ids.
type Queue struct {
	ID       string   `json:"_id"`
	Name     string   `json:"name"`
	TrackIDs []string `json:"trackIds"`
}

type index struct {
	SelectedID string   `json:"selectedId"`
	QueueIDs   []string `json:"queueIds"`
}

// TrackInput describes a track being added. Tags come from an external tag
// reader; Filename defaults to the URL's base name without extension.
type TrackInput struct {
	URL      string
	Filename string
	Artist   string
	Album    string
	Title    string
	Duration float64
}

// Library reads and writes queue and track documents.
type Library struct {
	store  docstore.Store
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New creates a library on store.
func New(store docstore.Store, logger zerolog.Logger) *Library {
	return &Library{
		store:  store,
		logger: logger.With().Str("component", "library").Logger(),
		now:    time.Now,
	}
}

// Init ensures a default queue exists and returns the selected queue.
func (l *Library) Init(ctx context.Context) (Queue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, err := l.ensureIndex(ctx)
	if err != nil {
		return Queue{}, err
	}
	return l.queue(ctx, idx.SelectedID)
}

// SelectedQueue returns the queue the user plays from.
func (l *Library) SelectedQueue(ctx context.Context) (Queue, error) {
	return l.Init(ctx)
}

// QueueLen is the number of tracks in the selected queue.
func (l *Library) QueueLen(ctx context.Context) (int, error) {
	q, err := l.SelectedQueue(ctx)
	if err != nil {
		return 0, err
	}
	return len(q.TrackIDs), nil
}

// AddTrack stores a new track and appends it to the selected queue.
func (l *Library) AddTrack(ctx context.Context, in TrackInput) (Track, error) {
	if strings.TrimSpace(in.URL) == "" {
		return Track{}, fmt.Errorf("add track: url is required")
	}
	filename := in.Filename
	if filename == "" {
		base := filepath.Base(in.URL)
		filename = strings.TrimSuffix(base, filepath.Ext(base))
	}

	track := Track{
		ID:        trackDocPrefix + uuid.NewString(),
		Filename:  filename,
		Artist:    strings.TrimSpace(in.Artist),
		Album:     strings.TrimSpace(in.Album),
		Title:     strings.TrimSpace(in.Title),
		URL:       in.URL,
		Duration:  in.Duration,
		CreatedAt: l.now().UnixMilli(),
	}
	if err := l.store.Put(ctx, track.ID, track); err != nil {
		return Track{}, fmt.Errorf("store track: %w", err)
	}

	q, err := l.SelectedQueue(ctx)
	if err != nil {
		return Track{}, err
	}
	if err := l.AddToQueue(ctx, track.ID, q.ID); err != nil {
		return Track{}, err
	}

	l.logger.Info().Str("track_id", track.ID).Str("filename", track.Filename).Msg("track added")
	return track, nil
}

// AddToQueue appends an existing track to queueID.
func (l *Library) AddToQueue(ctx context.Context, trackID, queueID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.track(ctx, trackID); err != nil {
		return err
	}
	q, err := l.queue(ctx, queueID)
	if err != nil {
		return err
	}
	q.TrackIDs = append(q.TrackIDs, trackID)
	if err := l.store.Put(ctx, q.ID, q); err != nil {
		return fmt.Errorf("store queue: %w", err)
	}
	return nil
}

// RemoveFromQueue drops the first occurrence of trackID from queueID. The
// track document itself is kept.
func (l *Library) RemoveFromQueue(ctx context.Context, trackID, queueID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, err := l.queue(ctx, queueID)
	if err != nil {
		return err
	}
	for i, id := range q.TrackIDs {
		if id == trackID {
			q.TrackIDs = append(q.TrackIDs[:i], q.TrackIDs[i+1:]...)
			if err := l.store.Put(ctx, q.ID, q); err != nil {
				return fmt.Errorf("store queue: %w", err)
			}
			return nil
		}
	}
	return ErrTrackNotInQueue
}

// QueueTracks resolves the tracks of q in order, skipping ids whose document
// is gone.
func (l *Library) QueueTracks(ctx context.Context, q Queue) ([]Track, error) {
	tracks := make([]Track, 0, len(q.TrackIDs))
	for _, id := range q.TrackIDs {
		t, err := l.track(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Track loads one track by id.
func (l *Library) Track(ctx context.Context, id string) (Track, error) {
	return l.track(ctx, id)
}

func (l *Library) ensureIndex(ctx context.Context) (index, error) {
	var idx index
	err := l.store.Get(ctx, indexDocID, &idx)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return index{}, fmt.Errorf("load queues: %w", err)
	}

	q := Queue{ID: queueDocPrefix + uuid.NewString(), Name: DefaultQueueName, TrackIDs: []string{}}
	if err := l.store.Put(ctx, q.ID, q); err != nil {
		return index{}, fmt.Errorf("create default queue: %w", err)
	}
	idx = index{SelectedID: q.ID, QueueIDs: []string{q.ID}}
	if err := l.store.Put(ctx, indexDocID, idx); err != nil {
		return index{}, fmt.Errorf("store queue index: %w", err)
	}
	l.logger.Info().Str("queue_id", q.ID).Msg("created default queue")
	return idx, nil
}

func (l *Library) queue(ctx context.Context, id string) (Queue, error) {
	var q Queue
	if err := l.store.Get(ctx, id, &q); err != nil {
		return Queue{}, fmt.Errorf("load queue %s: %w", id, err)
	}
	if q.TrackIDs == nil {
		q.TrackIDs = []string{}
	}
	return q, nil
}

func (l *Library) track(ctx context.Context, id string) (Track, error) {
	var t Track
	if err := l.store.Get(ctx, id, &t); err != nil {
		return Track{}, fmt.Errorf("load track %s: %w", id, err)
	}
	return t, nil
}
