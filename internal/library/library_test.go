package library

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/docstore"
)

func TestInitCreatesDefaultQueueOnce(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	lib := New(store, zerolog.Nop())

	first, err := lib.Init(ctx)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if first.Name != DefaultQueueName || !strings.HasPrefix(first.ID, "queues/") {
		t.Fatalf("unexpected default queue: %+v", first)
	}

	second, err := New(store, zerolog.Nop()).Init(ctx)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("init created a second default queue: %s != %s", second.ID, first.ID)
	}
}

func TestAddTrackAppendsToSelectedQueue(t *testing.T) {
	ctx := context.Background()
	lib := New(docstore.NewMemory(), zerolog.Nop())

	if n, err := lib.QueueLen(ctx); err != nil || n != 0 {
		t.Fatalf("empty queue len = %d, %v", n, err)
	}

	first, err := lib.AddTrack(ctx, TrackInput{URL: "/music/Blue Monday.mp3", Artist: " New Order "})
	if err != nil {
		t.Fatalf("add track: %v", err)
	}
	if first.Filename != "Blue Monday" || first.Artist != "New Order" {
		t.Fatalf("unexpected track: %+v", first)
	}
	if _, err := lib.AddTrack(ctx, TrackInput{URL: "https://cdn.example/b.mp3", Title: "B"}); err != nil {
		t.Fatalf("add second track: %v", err)
	}

	q, err := lib.SelectedQueue(ctx)
	if err != nil {
		t.Fatalf("selected queue: %v", err)
	}
	tracks, err := lib.QueueTracks(ctx, q)
	if err != nil {
		t.Fatalf("queue tracks: %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != first.ID || tracks[1].Title != "B" {
		t.Fatalf("unexpected queue tracks: %+v", tracks)
	}
}

func TestRemoveFromQueue(t *testing.T) {
	ctx := context.Background()
	lib := New(docstore.NewMemory(), zerolog.Nop())

	track, err := lib.AddTrack(ctx, TrackInput{URL: "a.mp3"})
	if err != nil {
		t.Fatalf("add track: %v", err)
	}
	q, _ := lib.SelectedQueue(ctx)

	if err := lib.RemoveFromQueue(ctx, track.ID, q.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := lib.RemoveFromQueue(ctx, track.ID, q.ID); !errors.Is(err, ErrTrackNotInQueue) {
		t.Fatalf("second remove err = %v", err)
	}
	if n, _ := lib.QueueLen(ctx); n != 0 {
		t.Fatalf("queue len = %d, want 0", n)
	}
	if _, err := lib.Track(ctx, track.ID); err != nil {
		t.Fatalf("track doc should survive queue removal: %v", err)
	}
}

func TestAddToQueueRequiresExistingTrack(t *testing.T) {
	ctx := context.Background()
	lib := New(docstore.NewMemory(), zerolog.Nop())
	q, _ := lib.Init(ctx)

	err := lib.AddToQueue(ctx, "track/missing", q.ID)
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
