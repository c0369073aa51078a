package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/notify"
	"github.com/park285/chess-rooms/internal/rules"
	"github.com/park285/chess-rooms/internal/session"
	"github.com/park285/chess-rooms/internal/store"
)

type chanSink struct{ ch chan Event }

func (s chanSink) Send(ctx context.Context, ev Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type env struct {
	store *store.MemoryStore
	coord *session.Coordinator
	hub   *Hub
	id    string
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	st := store.NewMemoryStore()
	n := notify.NewNotifier(st, 20*time.Millisecond)
	coord := session.NewCoordinator(st, rules.New(), session.WithSignaler(n))
	rec := game.NewRecord("12345678", time.Now().UTC())
	rec.White, rec.Black = "w", "b"
	rec.WhiteReady, rec.BlackReady = true, true
	rec.Status = game.StatusActive
	if err := st.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return &env{store: st, coord: coord, hub: New(n, coord, cfg), id: rec.ID}
}

func next(t *testing.T, ch <-chan Event, name string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", name)
		}
	}
}

func waitSpectators(t *testing.T, e *env, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, _ := e.store.Get(context.Background(), e.id)
		if rec.Spectators == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := e.store.Get(context.Background(), e.id)
	t.Fatalf("spectators=%d want %d", rec.Spectators, want)
}

func TestSpectatorPresenceFollowsStream(t *testing.T) {
	e := newEnv(t, Config{Heartbeat: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	sink := chanSink{ch: make(chan Event, 16)}
	done := make(chan error, 1)
	go func() { done <- e.hub.Subscribe(ctx, e.id, "watcher", sink) }()

	ev := next(t, sink.ch, EventState)
	if ev.Snapshot.Position != game.StartFEN || ev.Snapshot.SpectatorCount != 1 || ev.Snapshot.Role != "spectator" {
		t.Fatalf("unexpected first snapshot: %+v", ev.Snapshot)
	}
	if e.hub.Active() != 1 {
		t.Fatalf("expected one active stream")
	}

	if _, err := e.coord.SubmitMove(context.Background(), e.id, "w", session.MoveInput{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	ev = next(t, sink.ch, EventState)
	if ev.Snapshot.Turn != "black" || ev.Snapshot.LastMove == nil || ev.Snapshot.LastMove.To != "e4" {
		t.Fatalf("move not pushed: %+v", ev.Snapshot)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Subscribe returned %v", err)
	}
	waitSpectators(t, e, 0)
}

func TestPlayerStreamDoesNotCountAsSpectator(t *testing.T) {
	e := newEnv(t, Config{Heartbeat: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := chanSink{ch: make(chan Event, 16)}
	go func() { _ = e.hub.Subscribe(ctx, e.id, "w", sink) }()
	ev := next(t, sink.ch, EventState)
	if ev.Snapshot.SpectatorCount != 0 || ev.Snapshot.Role != "white" {
		t.Fatalf("unexpected snapshot: %+v", ev.Snapshot)
	}
}

func TestVersionsAreNonDecreasing(t *testing.T) {
	e := newEnv(t, Config{Heartbeat: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := chanSink{ch: make(chan Event, 64)}
	go func() { _ = e.hub.Subscribe(ctx, e.id, "watcher", sink) }()
	first := next(t, sink.ch, EventState)

	moves := [][2]string{{"e2", "e4"}, {"e7", "e5"}, {"g1", "f3"}, {"b8", "c6"}}
	for i, mv := range moves {
		tok := "w"
		if i%2 == 1 {
			tok = "b"
		}
		if _, err := e.coord.SubmitMove(context.Background(), e.id, tok, session.MoveInput{From: mv[0], To: mv[1]}); err != nil {
			t.Fatalf("SubmitMove %v: %v", mv, err)
		}
	}
	final, _ := e.store.Get(context.Background(), e.id)
	last := first.ID
	for last < final.Version {
		ev := next(t, sink.ch, EventState)
		if ev.ID < last {
			t.Fatalf("version went backwards: %d after %d", ev.ID, last)
		}
		last = ev.ID
	}
}

func TestHeartbeatWhenIdle(t *testing.T) {
	e := newEnv(t, Config{Heartbeat: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := chanSink{ch: make(chan Event, 16)}
	go func() { _ = e.hub.Subscribe(ctx, e.id, "w", sink) }()
	next(t, sink.ch, EventState)
	next(t, sink.ch, EventHeartbeat)
}

func TestUnknownGameSendsErrorEvent(t *testing.T) {
	e := newEnv(t, Config{})
	sink := chanSink{ch: make(chan Event, 4)}
	err := e.hub.Subscribe(context.Background(), "00000000", "x", sink)
	if !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ev := next(t, sink.ch, EventError)
	if ev.Error == nil || ev.Error.Error == "" {
		t.Fatalf("expected error payload, got %+v", ev)
	}
}

func TestMaxLifetimeClosesAndReleases(t *testing.T) {
	e := newEnv(t, Config{Heartbeat: time.Second, MaxLifetime: 100 * time.Millisecond})
	sink := chanSink{ch: make(chan Event, 16)}
	start := time.Now()
	if err := e.hub.Subscribe(context.Background(), e.id, "watcher", sink); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("lifetime cap not enforced")
	}
	waitSpectators(t, e, 0)
	if e.hub.Active() != 0 {
		t.Fatalf("stream still counted active")
	}
}

type failingSink struct{}

func (failingSink) Send(context.Context, Event) error { return errors.New("broken pipe") }

func TestBrokenSinkReleasesPresence(t *testing.T) {
	e := newEnv(t, Config{Heartbeat: time.Second})
	if err := e.hub.Subscribe(context.Background(), e.id, "watcher", failingSink{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitSpectators(t, e, 0)
}

// stalledSink never drains; every Send blocks until its write deadline.
type stalledSink struct{ entered chan struct{} }

func (s stalledSink) Send(ctx context.Context, ev Event) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestStalledViewerDoesNotDelayOthers(t *testing.T) {
	e := newEnv(t, Config{Heartbeat: time.Second, WriteTimeout: 10 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stalled := stalledSink{entered: make(chan struct{}, 1)}
	go func() { _ = e.hub.Subscribe(ctx, e.id, "slow-watcher", stalled) }()
	select {
	case <-stalled.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("stalled stream never started writing")
	}

	fast := chanSink{ch: make(chan Event, 16)}
	go func() { _ = e.hub.Subscribe(ctx, e.id, "w", fast) }()
	next(t, fast.ch, EventState)

	start := time.Now()
	if _, err := e.coord.SubmitMove(context.Background(), e.id, "w", session.MoveInput{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	for {
		ev := next(t, fast.ch, EventState)
		if ev.Snapshot.LastMove != nil && ev.Snapshot.LastMove.To == "e4" {
			break
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("move reached the healthy viewer after %v", elapsed)
	}
}
