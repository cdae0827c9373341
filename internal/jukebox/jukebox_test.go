package jukebox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/rpc"
	"github.com/friendsincode/grooveboat/internal/session"
)

type fakePlayer struct {
	gate      chan struct{} // nil loads immediately
	loadErr   error
	loadCalls chan struct{}
	ended     chan struct{}

	mu       sync.Mutex
	seeks    []time.Duration
	plays    int
	pauses   int
	stops    int
	position time.Duration
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		loadCalls: make(chan struct{}, 1),
		ended:     make(chan struct{}),
	}
}

func (p *fakePlayer) Load(ctx context.Context) error {
	select {
	case p.loadCalls <- struct{}{}:
	default:
	}
	if p.gate == nil {
		return p.loadErr
	}
	select {
	case <-p.gate:
		return p.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	return nil
}

func (p *fakePlayer) Seek(offset time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, offset)
	p.position = offset
	return nil
}

func (p *fakePlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Ended() <-chan struct{} { return p.ended }

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) setPosition(d time.Duration) {
	p.mu.Lock()
	p.position = d
	p.mu.Unlock()
}

func (p *fakePlayer) counts() (seeks []time.Duration, plays, pauses, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.seeks...), p.plays, p.pauses, p.stops
}

type countingSender struct {
	mu    sync.Mutex
	calls map[string]int
}

func (s *countingSender) Send(_ context.Context, name string, _ any, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[name]++
	return nil
}

func (s *countingSender) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []string
}

func (n *recordingNotifier) Failure(message string) {
	n.mu.Lock()
	n.failures = append(n.failures, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failures)
}

type fixture struct {
	mock     *clock.Mock
	sender   *countingSender
	notifier *recordingNotifier
	jukebox  *Jukebox

	mu      sync.Mutex
	players map[string]*fakePlayer
	built   int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		mock:     clock.NewMock(),
		sender:   &countingSender{},
		notifier: &recordingNotifier{},
		players:  make(map[string]*fakePlayer),
	}
	f.mock.Set(time.Unix(1_700_000_000, 0))
	f.jukebox = New(Options{
		Clock:     f.mock,
		NewPlayer: f.build,
		Sender:    f.sender,
		Notifier:  f.notifier,
		Config:    cfg,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(f.jukebox.Close)
	return f
}

// player pre-registers the fake handed out for trackID.
func (f *fixture) player(trackID string) *fakePlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[trackID]
	if !ok {
		p = newFakePlayer()
		f.players[trackID] = p
	}
	return p
}

func (f *fixture) build(track Track) Player {
	p := f.player(track.ID)
	f.mu.Lock()
	f.built++
	f.mu.Unlock()
	return p
}

func (f *fixture) builtCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

func testConfig() Config {
	return Config{
		LoadTimeout:  25 * time.Second,
		SyncInterval: 3 * time.Second,
		Tolerance:    1500 * time.Millisecond,
	}
}

func track(id string) Track {
	return Track{ID: id, Title: id, URL: "file:///tmp/" + id + ".mp3"}
}

// settle lets goroutines reach their next clock wait.
func settle() { time.Sleep(20 * time.Millisecond) }

func outcome(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for play outcome")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

func waitLoad(t *testing.T, p *fakePlayer) {
	t.Helper()
	select {
	case <-p.loadCalls:
	case <-time.After(2 * time.Second):
		t.Fatal("player was never loaded")
	}
}

func TestTallyCountsVotes(t *testing.T) {
	up, down := Votes{"p1": true, "p2": false, "p3": true}.Tally()
	if up != 2 || down != 1 {
		t.Fatalf("tally = %d/%d, want 2/1", up, down)
	}
}

func TestPlayTrackAlignsToElapsedTimeAfterSlowLoad(t *testing.T) {
	cfg := testConfig()
	cfg.BufferingDelay = time.Second
	f := newFixture(t, cfg)
	p := f.player("t1")
	p.gate = make(chan struct{})

	startedAt := f.mock.Now().Add(-5 * time.Second)
	ch := f.jukebox.PlayTrack(track("t1"), startedAt, nil)
	waitLoad(t, p)
	settle()
	if got := f.jukebox.Status(); got != StatusLoading {
		t.Fatalf("status while loading = %s", got)
	}

	f.mock.Add(time.Second)
	close(p.gate)
	if err := outcome(t, ch); err != nil {
		t.Fatalf("play outcome: %v", err)
	}

	seeks, plays, _, _ := p.counts()
	if len(seeks) != 1 || plays != 1 {
		t.Fatalf("seeks=%v plays=%d", seeks, plays)
	}
	elapsed := f.mock.Now().Sub(startedAt)
	if seeks[0] != 7*time.Second {
		t.Fatalf("seek target = %v, want 7s", seeks[0])
	}
	if drift := seeks[0] - elapsed; drift < -cfg.Tolerance || drift > cfg.Tolerance {
		t.Fatalf("seek %v is %v from elapsed %v", seeks[0], drift, elapsed)
	}
	if got := f.jukebox.Status(); got != StatusPlaying {
		t.Fatalf("status = %s, want playing", got)
	}
}

func TestClockCorrectionOnlyBeyondTolerance(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")

	if err := outcome(t, f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("play outcome: %v", err)
	}
	settle()

	cases := []struct {
		behind  time.Duration
		correct bool
	}{
		{behind: 1400 * time.Millisecond, correct: false},
		{behind: 1500 * time.Millisecond, correct: false},
		{behind: 1600 * time.Millisecond, correct: true},
	}
	corrections := 0
	for i, tc := range cases {
		expected := time.Duration(i+1) * 3 * time.Second
		p.setPosition(expected - tc.behind)
		f.mock.Add(3 * time.Second)
		settle()

		seeks, _, pauses, _ := p.counts()
		if tc.correct {
			corrections++
			if seeks[len(seeks)-1] != expected {
				t.Fatalf("case %d: corrected to %v, want %v", i, seeks[len(seeks)-1], expected)
			}
		}
		if len(seeks) != 1+corrections || pauses != corrections {
			t.Fatalf("case %d (behind %v): seeks=%v pauses=%d, want %d corrections", i, tc.behind, seeks, pauses, corrections)
		}
	}
}

func TestClockCorrectionWaitsForTick(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")

	if err := outcome(t, f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("play outcome: %v", err)
	}
	settle()

	p.setPosition(20 * time.Second)
	f.mock.Add(time.Second)
	settle()
	if seeks, _, _, _ := p.counts(); len(seeks) != 1 {
		t.Fatalf("corrected between ticks: seeks=%v", seeks)
	}

	f.mock.Add(2 * time.Second)
	settle()
	seeks, _, _, _ := p.counts()
	if len(seeks) != 2 || seeks[1] != 3*time.Second {
		t.Fatalf("seeks after tick = %v", seeks)
	}
}

func TestSupersededWhileLoading(t *testing.T) {
	f := newFixture(t, testConfig())
	p1 := f.player("t1")
	p1.gate = make(chan struct{})

	first := f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil)
	waitLoad(t, p1)
	second := f.jukebox.PlayTrack(track("t2"), f.mock.Now(), nil)

	if err := outcome(t, first); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first outcome = %v, want superseded", err)
	}
	if err := outcome(t, second); err != nil {
		t.Fatalf("second outcome: %v", err)
	}
	settle()

	if _, plays, _, stops := p1.counts(); stops != 1 || plays != 0 {
		t.Fatalf("old player plays=%d stops=%d", plays, stops)
	}
	if n := f.sender.count("trackEnded"); n != 0 {
		t.Fatalf("trackEnded sent %d times", n)
	}
	if n := f.notifier.count(); n != 0 {
		t.Fatalf("supersession surfaced %d failures", n)
	}
}

func currentPlayback(t *testing.T, j *Jukebox) *playback {
	t.Helper()
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == nil {
		t.Fatal("no current playback")
	}
	return j.current
}

func TestStopTrackWaitsForPlaybackTasks(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")

	if err := outcome(t, f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	pb := currentPlayback(t, f.jukebox)

	f.jukebox.StopTrack()
	select {
	case <-pb.done:
	default:
		t.Fatal("playback tasks still running after StopTrack returned")
	}
	if _, _, _, stops := p.counts(); stops != 1 {
		t.Fatalf("stops = %d, want player released before StopTrack returns", stops)
	}

	p.setPosition(time.Minute)
	f.mock.Add(10 * time.Second)
	settle()
	if _, _, pauses, _ := p.counts(); pauses != 0 {
		t.Fatalf("stopped playback was corrected %d times", pauses)
	}
}

func TestNaturalEndReportsAfterTasksExit(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")

	if err := outcome(t, f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	pb := currentPlayback(t, f.jukebox)

	close(p.ended)
	eventually(t, "trackEnded sent", func() bool { return f.sender.count("trackEnded") == 1 })
	select {
	case <-pb.done:
	default:
		t.Fatal("trackEnded sent before the playback tasks exited")
	}
	if _, _, _, stops := p.counts(); stops != 1 {
		t.Fatalf("stops = %d", stops)
	}
}

func TestSupersessionWinsOverLoadTimeout(t *testing.T) {
	j := New(Options{
		Clock:     clock.New(),
		NewPlayer: func(Track) Player { return newFakePlayer() },
		Config:    Config{LoadTimeout: time.Nanosecond},
		Logger:    zerolog.Nop(),
	})

	for i := 0; i < 100; i++ {
		parent, cancel := context.WithCancel(context.Background())
		cancel()
		pb := &playback{track: track("t1"), parent: parent, ctx: parent, loaded: make(chan error, 1)}
		if err := j.awaitLoad(pb); !errors.Is(err, ErrSuperseded) {
			t.Fatalf("attempt %d: awaitLoad = %v, want superseded", i, err)
		}
	}
}

func TestSupersededWhilePlayingSendsNoStaleEnd(t *testing.T) {
	f := newFixture(t, testConfig())
	p1, p2 := f.player("t1"), f.player("t2")

	if err := outcome(t, f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("first outcome: %v", err)
	}
	if err := outcome(t, f.jukebox.PlayTrack(track("t2"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("second outcome: %v", err)
	}

	close(p1.ended)
	settle()
	if n := f.sender.count("trackEnded"); n != 0 {
		t.Fatalf("stale end sent trackEnded %d times", n)
	}
	if _, _, _, stops := p1.counts(); stops != 1 {
		t.Fatalf("old player stopped %d times", stops)
	}

	close(p2.ended)
	eventually(t, "trackEnded sent", func() bool { return f.sender.count("trackEnded") == 1 })
	settle()
	if n := f.sender.count("trackEnded"); n != 1 {
		t.Fatalf("trackEnded sent %d times, want 1", n)
	}
	if got := f.jukebox.Status(); got != StatusIdle {
		t.Fatalf("status = %s, want idle", got)
	}
}

func TestLoadTimeoutGoesIdle(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")
	p.gate = make(chan struct{})

	ch := f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil)
	waitLoad(t, p)
	settle()
	f.mock.Add(25 * time.Second)

	if err := outcome(t, ch); !errors.Is(err, ErrLoadTimeout) {
		t.Fatalf("outcome = %v, want load timeout", err)
	}
	if got := f.jukebox.Status(); got != StatusIdle {
		t.Fatalf("status = %s, want idle", got)
	}
	if n := f.notifier.count(); n != 1 {
		t.Fatalf("failures = %d, want 1", n)
	}
	settle()
	if _, plays, _, stops := p.counts(); stops != 1 || plays != 0 {
		t.Fatalf("plays=%d stops=%d", plays, stops)
	}
}

func TestLoadErrorNotifies(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")
	p.loadErr = fmt.Errorf("404")

	err := outcome(t, f.jukebox.PlayTrack(track("t1"), f.mock.Now(), nil))
	if err == nil || errors.Is(err, ErrLoadTimeout) || errors.Is(err, ErrSuperseded) {
		t.Fatalf("outcome = %v, want load error", err)
	}
	if f.notifier.count() != 1 || f.jukebox.Status() != StatusIdle {
		t.Fatalf("failures=%d status=%s", f.notifier.count(), f.jukebox.Status())
	}
}

func TestFutureStartWaitsThenPlaysFromZero(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")

	ch := f.jukebox.PlayTrack(track("t1"), f.mock.Now().Add(2*time.Second), nil)
	settle()
	if seeks, plays, _, _ := p.counts(); len(seeks) != 0 || plays != 0 {
		t.Fatalf("started early: seeks=%v plays=%d", seeks, plays)
	}

	f.mock.Add(2 * time.Second)
	if err := outcome(t, ch); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	seeks, plays, _, _ := p.counts()
	if len(seeks) != 1 || seeks[0] != 0 || plays != 1 {
		t.Fatalf("seeks=%v plays=%d", seeks, plays)
	}
}

func TestStopTrackSilencesEnd(t *testing.T) {
	f := newFixture(t, testConfig())
	p := f.player("t1")

	if err := outcome(t, f.jukebox.PlayTrack(track("t1"), f.mock.Now(), Votes{"a": true})); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	f.jukebox.StopTrack()
	close(p.ended)
	settle()

	if f.jukebox.Status() != StatusIdle {
		t.Fatalf("status = %s", f.jukebox.Status())
	}
	if up, down := f.jukebox.Tally(); up != 0 || down != 0 {
		t.Fatalf("votes survived stop: %d/%d", up, down)
	}
	if _, _, _, stops := p.counts(); stops != 1 {
		t.Fatalf("stops = %d", stops)
	}
	if n := f.sender.count("trackEnded"); n != 0 {
		t.Fatalf("trackEnded sent after stop")
	}
}

func TestOnDeckPlayerIsAdopted(t *testing.T) {
	f := newFixture(t, testConfig())

	f.jukebox.SetOnDeck(track("t2"))
	f.jukebox.SetOnDeck(track("t2"))
	if n := f.builtCount(); n != 1 {
		t.Fatalf("built %d players for one on-deck track", n)
	}
	if err := outcome(t, f.jukebox.PlayTrack(track("t2"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if n := f.builtCount(); n != 1 {
		t.Fatalf("built %d players, want the on-deck one reused", n)
	}
	if _, plays, _, _ := f.player("t2").counts(); plays != 1 {
		t.Fatalf("adopted player plays = %d", plays)
	}

	f.jukebox.SetOnDeck(track("t3"))
	if err := outcome(t, f.jukebox.PlayTrack(track("t4"), f.mock.Now(), nil)); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if _, _, _, stops := f.player("t3").counts(); stops != 1 {
		t.Fatalf("mismatched on-deck player stops = %d", stops)
	}
	if n := f.builtCount(); n != 3 {
		t.Fatalf("built = %d, want 3", n)
	}
}

func TestRegisterRoutesPlaybackPushes(t *testing.T) {
	f := newFixture(t, testConfig())
	d := rpc.New(zerolog.Nop())
	if err := f.jukebox.Register(d); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	started := f.mock.Now().Add(-5 * time.Second).Unix()
	d.Dispatch(ctx, pushOf("playTrack", fmt.Sprintf(`{"track":{"id":"t1","url":"file:///t1.mp3"},"startedAt":%d,"votes":{"a":true,"b":false}}`, started)))
	eventually(t, "playing", func() bool { return f.jukebox.Status() == StatusPlaying })
	if seeks, _, _, _ := f.player("t1").counts(); len(seeks) != 1 || seeks[0] != 5*time.Second {
		t.Fatalf("seeks = %v, want [5s]", seeks)
	}
	if up, down := f.jukebox.Tally(); up != 1 || down != 1 {
		t.Fatalf("tally = %d/%d", up, down)
	}

	d.Dispatch(ctx, pushOf("setVotes", `{"votes":{"a":true,"b":true,"c":true}}`))
	if up, _ := f.jukebox.Tally(); up != 3 {
		t.Fatalf("up = %d after setVotes", up)
	}

	d.Dispatch(ctx, pushOf("setOnDeck", `{"track":{"id":"t2","url":"file:///t2.mp3"}}`))
	if snap := f.jukebox.Snapshot(); snap.OnDeck != "t2" || snap.Track == nil || snap.Track.ID != "t1" {
		t.Fatalf("snapshot = %+v", snap)
	}

	d.Dispatch(ctx, pushOf("stopTrack", `{}`))
	if f.jukebox.Status() != StatusIdle {
		t.Fatalf("status = %s after stopTrack", f.jukebox.Status())
	}
}

func TestPlayTrackPushAcceptsFractionalSeconds(t *testing.T) {
	f := newFixture(t, testConfig())
	d := rpc.New(zerolog.Nop())
	if err := f.jukebox.Register(d); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 1_700_000_000 is the fixture's now.
	d.Dispatch(context.Background(), pushOf("playTrack", `{"track":{"id":"t1","url":"file:///t1.mp3"},"startedAt":1699999994.75,"votes":{}}`))
	eventually(t, "playing", func() bool { return f.jukebox.Status() == StatusPlaying })

	seeks, _, _, _ := f.player("t1").counts()
	if len(seeks) != 1 {
		t.Fatalf("seeks = %v", seeks)
	}
	if drift := seeks[0] - 5250*time.Millisecond; drift < -time.Millisecond || drift > time.Millisecond {
		t.Fatalf("seek = %v, want 5.25s", seeks[0])
	}
}

func TestWallClockSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want time.Time
	}{
		{1_700_000_000, time.Unix(1_700_000_000, 0)},
		{1_699_999_995.25, time.Unix(1_699_999_995, 250_000_000)},
		{0, time.Unix(0, 0)},
	}
	for _, tt := range tests {
		got := wallClock(tt.in)
		if d := got.Sub(tt.want); d < -time.Microsecond || d > time.Microsecond {
			t.Fatalf("wallClock(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func pushOf(name, params string) *session.Push {
	return session.NewPush(name, json.RawMessage(params))
}
