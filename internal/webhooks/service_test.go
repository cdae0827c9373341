package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/events"
)

type fixedRoom string

func (r fixedRoom) RoomID() string { return string(r) }

func TestDeliverSignsPayload(t *testing.T) {
	var got struct {
		body      []byte
		signature string
		event     string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.body, _ = io.ReadAll(r.Body)
		got.signature = r.Header.Get(HeaderSignature)
		got.event = r.Header.Get(HeaderEvent)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewService(Config{URLs: []string{srv.URL}, Secret: "shh"}, events.NewBus(), fixedRoom("r1"), zerolog.Nop())
	p := s.payload(events.EventChatMessage, events.Payload{"body": "hi"})
	if err := s.Deliver(context.Background(), srv.URL, p); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if got.event != string(events.EventChatMessage) {
		t.Fatalf("event header = %q", got.event)
	}
	if got.signature != Sign(got.body, "shh") {
		t.Fatalf("signature = %q", got.signature)
	}
	var decoded Payload
	if err := json.Unmarshal(got.body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RoomID != "r1" || decoded.Data["body"] != "hi" {
		t.Fatalf("payload = %+v", decoded)
	}
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewService(Config{URLs: []string{srv.URL}, MaxElapsed: 5 * time.Second}, events.NewBus(), nil, zerolog.Nop())
	if err := s.Deliver(context.Background(), srv.URL, Payload{Event: events.EventTrackStarted}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	s := NewService(Config{URLs: []string{srv.URL}}, events.NewBus(), nil, zerolog.Nop())
	if err := s.Deliver(context.Background(), srv.URL, Payload{Event: events.EventTrackStarted}); err == nil {
		t.Fatal("expected error for 410")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestStartForwardsSelectedEvents(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	received := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get(HeaderEvent))
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	bus := events.NewBus()
	s := NewService(Config{URLs: []string{srv.URL}, Events: []events.EventType{events.EventTrackStarted}}, bus, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	// Subscriptions are made inside Start; publish until one is delivered.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case <-received:
			break wait
		case <-tick.C:
			bus.Publish(events.EventChatMessage, events.Payload{"body": "ignored"})
			bus.Publish(events.EventTrackStarted, events.Payload{"track_id": "t1"})
		case <-deadline:
			t.Fatal("no delivery")
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for _, e := range seen {
		if e != string(events.EventTrackStarted) {
			t.Fatalf("forwarded unselected event %q", e)
		}
	}
}
