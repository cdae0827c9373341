package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// fakeBuoy runs handler for every accepted connection after optionally
// sending the hello frame.
type fakeBuoy struct {
	srv *httptest.Server
}

func newFakeBuoy(t *testing.T, sendHello bool, handler func(ctx context.Context, conn *websocket.Conn)) *fakeBuoy {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		if sendHello {
			if err := wsjson.Write(ctx, conn, Frame{Type: FrameHello}); err != nil {
				return
			}
		}
		handler(ctx, conn)
	}))
	t.Cleanup(srv.Close)
	return &fakeBuoy{srv: srv}
}

// drain reads until the client goes away.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (b *fakeBuoy) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ConnectTimeout = 500 * time.Millisecond
	opts.CallTimeout = 300 * time.Millisecond
	return opts
}

func TestConnectAndCallsCorrelateOutOfOrder(t *testing.T) {
	buoy := newFakeBuoy(t, true, func(ctx context.Context, conn *websocket.Conn) {
		var calls []Frame
		for len(calls) < 2 {
			var f Frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return
			}
			calls = append(calls, f)
		}
		// Answer in reverse order.
		for i := len(calls) - 1; i >= 0; i-- {
			result, _ := json.Marshal(map[string]string{"echo": calls[i].Name})
			if err := wsjson.Write(ctx, conn, Frame{Type: FrameResult, ID: calls[i].ID, Result: result}); err != nil {
				return
			}
		}
		drain(ctx, conn)
	})

	var states []State
	var stateMu sync.Mutex
	opts := testOptions()
	opts.OnStateChange = func(st State) {
		stateMu.Lock()
		states = append(states, st)
		stateMu.Unlock()
	}

	s, err := Connect(context.Background(), buoy.url(), opts)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if s.State() != StateConnected {
		t.Fatalf("state = %v, want connected", s.State())
	}

	var wg sync.WaitGroup
	results := make(map[string]string)
	var mu sync.Mutex
	for _, name := range []string{"fetchRooms", "joinRoom"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			raw, err := s.Call(context.Background(), name, nil)
			if err != nil {
				t.Errorf("call %s: %v", name, err)
				return
			}
			var body map[string]string
			_ = json.Unmarshal(raw, &body)
			mu.Lock()
			results[name] = body["echo"]
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	for _, name := range []string{"fetchRooms", "joinRoom"} {
		if results[name] != name {
			t.Fatalf("call %s got result for %q", name, results[name])
		}
	}

	s.MarkAuthenticated()
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", s.State())
	}

	stateMu.Lock()
	defer stateMu.Unlock()
	if len(states) < 3 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Fatalf("unexpected state sequence: %v", states)
	}
}

func TestConnectTimeoutWithoutHello(t *testing.T) {
	buoy := newFakeBuoy(t, false, func(ctx context.Context, conn *websocket.Conn) {
		drain(ctx, conn)
	})

	opts := testOptions()
	opts.ConnectTimeout = 100 * time.Millisecond
	_, err := Connect(context.Background(), buoy.url(), opts)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("err = %v, want ErrConnectTimeout", err)
	}
}

func TestConnectRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := Connect(context.Background(), url, testOptions())
	if !errors.Is(err, ErrConnectRefused) {
		t.Fatalf("err = %v, want ErrConnectRefused", err)
	}
}

func TestCallTimeoutAndLateResultDropped(t *testing.T) {
	lateSent := make(chan struct{})
	buoy := newFakeBuoy(t, true, func(ctx context.Context, conn *websocket.Conn) {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		time.Sleep(400 * time.Millisecond)
		_ = wsjson.Write(ctx, conn, Frame{Type: FrameResult, ID: f.ID, Result: json.RawMessage(`{}`)})
		close(lateSent)

		// Still serving: answer the next call promptly.
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		_ = wsjson.Write(ctx, conn, Frame{Type: FrameResult, ID: f.ID, Result: json.RawMessage(`{"ok":true}`)})
		drain(ctx, conn)
	})

	s, err := Connect(context.Background(), buoy.url(), testOptions())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if _, err := s.Call(context.Background(), "becomeDj", nil); !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("err = %v, want ErrCallTimeout", err)
	}

	<-lateSent
	raw, err := s.Call(context.Background(), "stepDown", nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("second call got %s, late result must not be delivered to it", raw)
	}
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	buoy := newFakeBuoy(t, true, func(ctx context.Context, conn *websocket.Conn) {
		var f Frame
		_ = wsjson.Read(ctx, conn, &f)
		conn.Close(websocket.StatusGoingAway, "bye")
	})

	opts := testOptions()
	opts.CallTimeout = 2 * time.Second
	s, err := Connect(context.Background(), buoy.url(), opts)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if _, err := s.Call(context.Background(), "joinRoom", map[string]string{"id": "r1"}); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not report disconnect")
	}
	if !errors.Is(s.Err(), ErrDisconnected) {
		t.Fatalf("Err() = %v, want ErrDisconnected", s.Err())
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v", s.State())
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("expected events channel to be closed")
	}
}

func TestPushesArriveInOrderAndAck(t *testing.T) {
	acks := make(chan Frame, 1)
	buoy := newFakeBuoy(t, true, func(ctx context.Context, conn *websocket.Conn) {
		for i, name := range []string{"setPeers", "setDjs", "setActiveDj"} {
			f := Frame{Type: FramePush, ID: uint64(i + 1), Name: name, Params: json.RawMessage(`{}`), Ack: name == "setDjs"}
			if err := wsjson.Write(ctx, conn, f); err != nil {
				return
			}
		}
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		acks <- f
		drain(ctx, conn)
	})

	s, err := Connect(context.Background(), buoy.url(), testOptions())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	var names []string
	for len(names) < 3 {
		select {
		case p := <-s.Events():
			names = append(names, p.Name)
			if err := p.Ack(context.Background(), map[string]bool{"ok": true}); err != nil {
				t.Fatalf("ack %s: %v", p.Name, err)
			}
			// A second ack is ignored.
			_ = p.Ack(context.Background(), nil)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for pushes, got %v", names)
		}
	}
	if strings.Join(names, ",") != "setPeers,setDjs,setActiveDj" {
		t.Fatalf("push order = %v", names)
	}

	select {
	case ack := <-acks:
		if ack.Type != FrameAck || ack.ID != 2 {
			t.Fatalf("unexpected ack frame: %+v", ack)
		}
	case <-time.After(time.Second):
		t.Fatal("buoy never received the ack")
	}
}

func TestCloseIsCleanShutdown(t *testing.T) {
	buoy := newFakeBuoy(t, true, func(ctx context.Context, conn *websocket.Conn) {
		var f Frame
		_ = wsjson.Read(ctx, conn, &f)
	})

	s, err := Connect(context.Background(), buoy.url(), testOptions())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = s.Close()

	<-s.Done()
	if s.Err() != nil {
		t.Fatalf("Err() after Close = %v, want nil", s.Err())
	}
	if _, err := s.Call(context.Background(), "fetchRooms", nil); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("call after close err = %v", err)
	}
}
