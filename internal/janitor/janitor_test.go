package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/rules"
	"github.com/park285/chess-rooms/internal/session"
	"github.com/park285/chess-rooms/internal/store"
)

func seed(t *testing.T, st store.Store, id string, at time.Time, status game.Status) {
	t.Helper()
	rec := game.NewRecord(id, at)
	rec.Status = status
	if err := st.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
}

func TestSweepAbandonsIdleGames(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	coord := session.NewCoordinator(st, rules.New())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	seed(t, st, "00000001", now.Add(-2*time.Hour), game.StatusWaiting)
	seed(t, st, "00000002", now.Add(-2*time.Hour), game.StatusActive)
	seed(t, st, "00000003", now.Add(-time.Minute), game.StatusActive)
	seed(t, st, "00000004", now.Add(-3*time.Hour), game.StatusCheckmate)

	j := New(st, coord, time.Hour, time.Minute)
	j.now = func() time.Time { return now }

	n, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("abandoned=%d, want 2", n)
	}
	for id, want := range map[string]game.Status{
		"00000001": game.StatusAbandoned,
		"00000002": game.StatusAbandoned,
		"00000003": game.StatusActive,
		"00000004": game.StatusCheckmate,
	} {
		rec, err := st.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if rec.Status != want {
			t.Fatalf("%s status=%s, want %s", id, rec.Status, want)
		}
	}
	rec, _ := st.Get(ctx, "00000001")
	if rec.Result != game.ResultAbandoned || rec.Version != 2 {
		t.Fatalf("abandoned record: result=%s version=%d", rec.Result, rec.Version)
	}

	if n, err := j.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v", n, err)
	}
}

type failingLister struct{}

func (failingLister) ListStale(context.Context, time.Time, int) ([]string, error) {
	return nil, errors.New("boom")
}

func TestSweepListError(t *testing.T) {
	j := New(failingLister{}, nil, time.Hour, time.Minute)
	if _, err := j.Sweep(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunDisabledReturnsOnCancel(t *testing.T) {
	j := New(failingLister{}, nil, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return")
	}
}

func TestRunSweepsOnTick(t *testing.T) {
	st := store.NewMemoryStore()
	coord := session.NewCoordinator(st, rules.New())
	seed(t, st, "00000009", time.Now().Add(-time.Hour), game.StatusWaiting)

	j := New(st, coord, time.Minute, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.Get(context.Background(), "00000009")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status == game.StatusAbandoned {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("game was not abandoned")
}

func TestSweepHoldsReleasesUnreadySeats(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	coord := session.NewCoordinator(st, rules.New())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	lapsed := game.NewRecord("00000011", now.Add(-5*time.Minute))
	lapsed.White, lapsed.WhiteHoldUntil = "w", now.Add(-time.Second)
	lapsed.Black, lapsed.BlackHoldUntil, lapsed.BlackReady = "b", now.Add(-time.Minute), true
	held := game.NewRecord("00000012", now)
	held.White, held.WhiteHoldUntil = "w", now.Add(time.Minute)
	for _, r := range []*game.Record{lapsed, held} {
		if err := st.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s): %v", r.ID, err)
		}
	}

	j := New(st, coord, 0, time.Minute).WithSeatHolds(st, coord)
	j.now = func() time.Time { return now }
	n, err := j.SweepHolds(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepHolds = %d, %v; want 1", n, err)
	}
	rec, _ := st.Get(ctx, lapsed.ID)
	if rec.White != "" || rec.Black != "b" || rec.Status != game.StatusWaiting {
		t.Fatalf("lapsed game: %+v", rec)
	}
	rec, _ = st.Get(ctx, held.ID)
	if rec.White != "w" {
		t.Fatalf("seat released before its hold ended: %+v", rec)
	}
	// idle threshold is off: nothing is abandoned
	if n, err := j.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("Sweep with idle=0 = %d, %v", n, err)
	}
}
