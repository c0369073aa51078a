package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/rules"
	"github.com/park285/chess-rooms/internal/store"
)

type recordingSignaler struct {
	mu       sync.Mutex
	versions []int64
}

func (s *recordingSignaler) Signal(id string, version int64) {
	s.mu.Lock()
	s.versions = append(s.versions, version)
	s.mu.Unlock()
}

type recordingArchive struct {
	mu    sync.Mutex
	saved []*game.Record
}

func (a *recordingArchive) SaveResult(ctx context.Context, rec *game.Record) error {
	a.mu.Lock()
	a.saved = append(a.saved, rec)
	a.mu.Unlock()
	return nil
}

type fixture struct {
	store    *store.MemoryStore
	coord    *Coordinator
	resolver *Resolver
	signals  *recordingSignaler
	archive  *recordingArchive
}

func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	sig := &recordingSignaler{}
	arc := &recordingArchive{}
	coord := NewCoordinator(st, rules.New(), WithSignaler(sig), WithArchive(arc))
	var opts []AllocatorOption
	if len(codes) > 0 {
		i := 0
		opts = append(opts, WithCodeGenerator(func() (string, error) {
			c := codes[i%len(codes)]
			i++
			return c, nil
		}))
	}
	alloc := NewAllocator(st, 5, opts...)
	return &fixture{store: st, coord: coord, resolver: NewResolver(coord, alloc), signals: sig, archive: arc}
}

// startGame creates, seats and readies both players up to an active game and returns its id.
func (f *fixture) startGame(t *testing.T, white, black string) string {
	t.Helper()
	ctx := context.Background()
	res, err := f.resolver.CreateOrJoin(ctx, "", white)
	if err != nil {
		t.Fatalf("CreateOrJoin: %v", err)
	}
	id := res.Record.ID
	if _, err := f.coord.ChooseColor(ctx, id, white, game.White); err != nil {
		t.Fatalf("ChooseColor: %v", err)
	}
	if _, err := f.resolver.Resolve(ctx, id, black); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := f.coord.MarkReady(ctx, id, white); err != nil {
		t.Fatalf("MarkReady white: %v", err)
	}
	if _, err := f.coord.MarkReady(ctx, id, black); err != nil {
		t.Fatalf("MarkReady black: %v", err)
	}
	return id
}

func intp(n int) *int { return &n }

func TestCreateChooseJoinReady(t *testing.T) {
	f := newFixture(t, "12345678")
	ctx := context.Background()

	res, err := f.resolver.CreateOrJoin(ctx, "", "X")
	if err != nil {
		t.Fatalf("CreateOrJoin: %v", err)
	}
	if res.Record.ID != "12345678" || !res.Created || !res.CanChooseColor || res.Role != game.RoleSpectator {
		t.Fatalf("unexpected creation: %+v", res)
	}
	rec, err := f.coord.ChooseColor(ctx, "12345678", "X", game.White)
	if err != nil || rec.White != "X" || rec.Version != 2 {
		t.Fatalf("ChooseColor: rec=%+v err=%v", rec, err)
	}
	res, err = f.resolver.Resolve(ctx, "12345678", "Y")
	if err != nil || res.Role != game.RoleBlack || res.Record.Version != 3 {
		t.Fatalf("Resolve Y: %+v err=%v", res, err)
	}

	r1, err := f.coord.MarkReady(ctx, "12345678", "X")
	if err != nil || r1.Started {
		t.Fatalf("first MarkReady: %+v %v", r1, err)
	}
	r2, err := f.coord.MarkReady(ctx, "12345678", "Y")
	if err != nil || !r2.Started {
		t.Fatalf("second MarkReady: %+v %v", r2, err)
	}
	if r2.Record.Status != game.StatusActive || r2.Record.FEN != game.StartFEN || r2.Record.Version != 5 {
		t.Fatalf("unexpected started record: %+v", r2.Record)
	}
	if got := len(f.signals.versions); got != 4 {
		t.Fatalf("expected 4 signals, got %d (%v)", got, f.signals.versions)
	}
}

func TestResolveIsIdempotentAndThirdViewerSpectates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	before, _ := f.store.Get(ctx, id)

	for _, tok := range []string{"w", "b", "w"} {
		res, err := f.resolver.Resolve(ctx, id, tok)
		if err != nil || res.Role != game.RoleFor(before.ColorOf(tok)) {
			t.Fatalf("Resolve %s: %+v %v", tok, res, err)
		}
	}
	res, err := f.resolver.Resolve(ctx, id, "s")
	if err != nil || res.Role != game.RoleSpectator || res.CanChooseColor {
		t.Fatalf("third viewer: %+v %v", res, err)
	}
	after, _ := f.store.Get(ctx, id)
	if after.Version != before.Version {
		t.Fatalf("resolve of known viewers bumped version %d -> %d", before.Version, after.Version)
	}
}

func TestJoinUnknownGame(t *testing.T) {
	f := newFixture(t)
	if _, err := f.resolver.CreateOrJoin(context.Background(), "00000000", "x"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	f := newFixture(t, "11111111")
	ctx := context.Background()
	if _, err := f.resolver.CreateOrJoin(ctx, "", "a"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.resolver.CreateOrJoin(ctx, "", "b"); !errors.Is(err, game.ErrAllocationExhausted) {
		t.Fatalf("expected ErrAllocationExhausted, got %v", err)
	}
}

func TestRandomCodeShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := RandomCode()
		if err != nil || !ValidCode(c) {
			t.Fatalf("RandomCode = %q, %v", c, err)
		}
	}
	if ValidCode("1234567") || ValidCode("1234567a") {
		t.Fatalf("ValidCode accepted malformed code")
	}
}

func TestChooseColorRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.resolver.CreateOrJoin(ctx, "", "a")
	id := res.Record.ID

	if _, err := f.coord.ChooseColor(ctx, id, "a", game.Color("green")); !errors.Is(err, game.ErrInvalidColor) {
		t.Fatalf("expected ErrInvalidColor, got %v", err)
	}
	rec, err := f.coord.ChooseColor(ctx, id, "a", game.Black)
	if err != nil {
		t.Fatalf("ChooseColor: %v", err)
	}
	again, err := f.coord.ChooseColor(ctx, id, "a", game.Black)
	if err != nil || again.Version != rec.Version {
		t.Fatalf("re-choose should be a no-op: %+v %v", again, err)
	}
	if _, err := f.coord.ChooseColor(ctx, id, "a", game.White); !errors.Is(err, game.ErrAlreadyAssigned) {
		t.Fatalf("switching color should fail, got %v", err)
	}
	if _, err := f.coord.ChooseColor(ctx, id, "z", game.Black); !errors.Is(err, game.ErrAlreadyAssigned) {
		t.Fatalf("taken slot should fail, got %v", err)
	}
}

func TestSameColorRaceHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.resolver.CreateOrJoin(ctx, "", "creator")
	id := res.Record.ID

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coord.ChooseColor(ctx, id, string(rune('a'+i)), game.White)
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, game.ErrAlreadyAssigned), errors.Is(err, game.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one winner, got %d", ok)
	}
}

func TestMarkReadyIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.resolver.CreateOrJoin(ctx, "", "w")
	id := res.Record.ID
	if _, err := f.coord.MarkReady(ctx, id, "w"); !errors.Is(err, game.ErrNotAPlayer) {
		t.Fatalf("expected ErrNotAPlayer, got %v", err)
	}
	_, _ = f.coord.ChooseColor(ctx, id, "w", game.White)
	first, err := f.coord.MarkReady(ctx, id, "w")
	if err != nil || first.AlreadyReady {
		t.Fatalf("first ready: %+v %v", first, err)
	}
	second, err := f.coord.MarkReady(ctx, id, "w")
	if err != nil || !second.AlreadyReady || second.Record.Version != first.Record.Version {
		t.Fatalf("second ready should be a no-op: %+v %v", second, err)
	}
}

func TestReleaseColor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.resolver.CreateOrJoin(ctx, "", "w")
	id := res.Record.ID
	_, _ = f.coord.ChooseColor(ctx, id, "w", game.White)
	rec, err := f.coord.ReleaseColor(ctx, id, "w")
	if err != nil || rec.White != "" {
		t.Fatalf("ReleaseColor: %+v %v", rec, err)
	}
	_, _ = f.coord.ChooseColor(ctx, id, "w", game.White)
	_, _ = f.coord.MarkReady(ctx, id, "w")
	if _, err := f.coord.ReleaseColor(ctx, id, "w"); !errors.Is(err, game.ErrAlreadyReady) {
		t.Fatalf("expected ErrAlreadyReady, got %v", err)
	}
}

func TestMoveAdvancesTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	before, _ := f.store.Get(ctx, id)

	res, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	rec := res.Record
	if rec.Turn != game.Black || rec.LastMove == nil || rec.LastMove.From != "e2" || rec.LastMove.To != "e4" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Version != before.Version+1 {
		t.Fatalf("version %d -> %d", before.Version, rec.Version)
	}
	want, _ := rules.New().Apply(game.StartFEN, nil, "e2", "e4", "")
	if rec.FEN != want.FEN {
		t.Fatalf("FEN %q, rules engine says %q", rec.FEN, want.FEN)
	}
	if _, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "d2", To: "d4"}); !errors.Is(err, game.ErrTurnAdvanced) {
		t.Fatalf("expected ErrTurnAdvanced, got %v", err)
	}
	if _, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "d2", To: "d4", Ply: intp(1)}); !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn with current ply, got %v", err)
	}
	if _, err := f.coord.SubmitMove(ctx, id, "spectator", MoveInput{From: "e7", To: "e5"}); !errors.Is(err, game.ErrNotAPlayer) {
		t.Fatalf("expected ErrNotAPlayer, got %v", err)
	}
}

func TestSubmitMoveWhileWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.resolver.CreateOrJoin(ctx, "", "w")
	_, _ = f.coord.ChooseColor(ctx, res.Record.ID, "w", game.White)
	if _, err := f.coord.SubmitMove(ctx, res.Record.ID, "w", MoveInput{From: "e2", To: "e4"}); !errors.Is(err, game.ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
}

func TestSameTurnRaceWithPly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")

	moves := []MoveInput{
		{From: "e2", To: "e4", Ply: intp(0)},
		{From: "d2", To: "d4", Ply: intp(0)},
	}
	errs := make([]error, len(moves))
	var wg sync.WaitGroup
	for i, mv := range moves {
		wg.Add(1)
		go func(i int, mv MoveInput) {
			defer wg.Done()
			_, errs[i] = f.coord.SubmitMove(ctx, id, "w", mv)
		}(i, mv)
	}
	wg.Wait()
	assertOneWinnerTurnAdvanced(t, errs)
}

// barrierStore holds the first n reads until all of them have happened.
type barrierStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func (b *barrierStore) Get(ctx context.Context, id string) (*game.Record, error) {
	rec, err := b.MemoryStore.Get(ctx, id)
	b.mu.Lock()
	if b.pending > 0 {
		b.pending--
		if b.pending == 0 {
			close(b.release)
		}
		b.mu.Unlock()
		select {
		case <-b.release:
		case <-time.After(2 * time.Second):
		}
		return rec, err
	}
	b.mu.Unlock()
	return rec, err
}

func TestSameTurnRaceInterleaved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")

	bs := &barrierStore{MemoryStore: f.store, pending: 2, release: make(chan struct{})}
	coord := NewCoordinator(bs, rules.New())

	moves := []MoveInput{{From: "e2", To: "e4"}, {From: "g1", To: "f3"}}
	errs := make([]error, len(moves))
	var wg sync.WaitGroup
	for i, mv := range moves {
		wg.Add(1)
		go func(i int, mv MoveInput) {
			defer wg.Done()
			_, errs[i] = coord.SubmitMove(ctx, id, "w", mv)
		}(i, mv)
	}
	wg.Wait()
	assertOneWinnerTurnAdvanced(t, errs)
	rec, _ := f.store.Get(ctx, id)
	if rec.Ply() != 1 {
		t.Fatalf("expected exactly one applied move, got %v", rec.MovesUCI)
	}
}

func assertOneWinnerTurnAdvanced(t *testing.T, errs []error) {
	t.Helper()
	ok, advanced := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, game.ErrTurnAdvanced):
			advanced++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || advanced != 1 {
		t.Fatalf("expected one ok and one turn_advanced, got ok=%d advanced=%d", ok, advanced)
	}
}

func TestStalePlyIsTurnAdvanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	if _, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "e2", To: "e4", Ply: intp(0)}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if _, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "d2", To: "d4", Ply: intp(0)}); !errors.Is(err, game.ErrTurnAdvanced) {
		t.Fatalf("expected ErrTurnAdvanced, got %v", err)
	}
}

func TestSelfCheckIsIllegal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	play := func(tok, from, to string) {
		t.Helper()
		if _, err := f.coord.SubmitMove(ctx, id, tok, MoveInput{From: from, To: to}); err != nil {
			t.Fatalf("%s%s: %v", from, to, err)
		}
	}
	play("w", "e2", "e4")
	play("b", "e7", "e5")
	play("w", "d1", "h5")
	before, _ := f.store.Get(ctx, id)

	_, err := f.coord.SubmitMove(ctx, id, "b", MoveInput{From: "f7", To: "f6"})
	if !errors.Is(err, game.ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	after, _ := f.store.Get(ctx, id)
	if after.Version != before.Version {
		t.Fatalf("illegal move changed version %d -> %d", before.Version, after.Version)
	}
}

func TestCheckmateFinishesAndArchives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	seq := []struct{ tok, from, to string }{
		{"w", "f2", "f3"}, {"b", "e7", "e5"}, {"w", "g2", "g4"}, {"b", "d8", "h4"},
	}
	var last MoveResult
	for _, m := range seq {
		var err error
		last, err = f.coord.SubmitMove(ctx, id, m.tok, MoveInput{From: m.from, To: m.to})
		if err != nil {
			t.Fatalf("%s%s: %v", m.from, m.to, err)
		}
	}
	rec := last.Record
	if rec.Status != game.StatusCheckmate || rec.Result != game.ResultBlackWin || !rec.InCheck {
		t.Fatalf("unexpected final record: %+v", rec)
	}
	if len(f.archive.saved) != 1 || f.archive.saved[0].ID != id {
		t.Fatalf("expected one archived game, got %d", len(f.archive.saved))
	}
	if _, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "e2", To: "e4"}); !errors.Is(err, game.ErrGameOver) {
		t.Fatalf("expected ErrGameOver, got %v", err)
	}
}

func TestResign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	rec, err := f.coord.Resign(ctx, id, "w")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if rec.Status != game.StatusAbandoned || rec.Result != game.ResultBlackWin || rec.Termination != game.TerminationResignation {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := f.coord.Resign(ctx, id, "b"); !errors.Is(err, game.ErrGameOver) {
		t.Fatalf("expected ErrGameOver, got %v", err)
	}
}

func TestAbandonRespectsIdleCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")

	_, ok, err := f.coord.Abandon(ctx, id, "", time.Now().Add(-time.Hour))
	if err != nil || ok {
		t.Fatalf("recently updated game must not be abandoned: ok=%v err=%v", ok, err)
	}
	rec, ok, err := f.coord.Abandon(ctx, id, "", time.Now().Add(time.Minute))
	if err != nil || !ok || rec.Status != game.StatusAbandoned || rec.Result != game.ResultAbandoned {
		t.Fatalf("Abandon: %+v ok=%v err=%v", rec, ok, err)
	}
	_, ok, err = f.coord.Abandon(ctx, id, "", time.Time{})
	if err != nil || ok {
		t.Fatalf("second abandon should be a no-op: ok=%v err=%v", ok, err)
	}
}

func TestAdjustSpectatorsClamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.resolver.CreateOrJoin(ctx, "", "x")
	id := res.Record.ID
	rec, err := f.coord.AdjustSpectators(ctx, id, 1)
	if err != nil || rec.Spectators != 1 || rec.Version != 2 {
		t.Fatalf("+1: %+v %v", rec, err)
	}
	rec, _ = f.coord.AdjustSpectators(ctx, id, -5)
	if rec.Spectators != 0 || rec.Version != 3 {
		t.Fatalf("-5: %+v", rec)
	}
	rec, _ = f.coord.AdjustSpectators(ctx, id, -1)
	if rec.Spectators != 0 || rec.Version != 3 {
		t.Fatalf("clamped decrement must not bump version: %+v", rec)
	}
}

func TestOutOfTurnOpeningIsPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	_, err := f.coord.SubmitMove(ctx, id, "b", MoveInput{From: "e7", To: "e5"})
	if !errors.Is(err, game.ErrNotYourTurn) || game.KindOf(err) != game.KindPolicy {
		t.Fatalf("expected policy ErrNotYourTurn, got %v", err)
	}
}

func TestLateSameSideMoveIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startGame(t, "w", "b")
	if _, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	_, err := f.coord.SubmitMove(ctx, id, "w", MoveInput{From: "d2", To: "d4"})
	if !errors.Is(err, game.ErrTurnAdvanced) || game.KindOf(err) != game.KindConflict {
		t.Fatalf("expected conflict ErrTurnAdvanced, got %v", err)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSeatHoldExpiresUnreadySeats(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	coord := NewCoordinator(st, rules.New(), WithSeatHold(3*time.Minute), WithClock(clock.Now))
	resolver := NewResolver(coord, NewAllocator(st, 5, WithCodeGenerator(func() (string, error) { return "24682468", nil })))
	ctx := context.Background()

	res, err := resolver.CreateOrJoin(ctx, "", "w")
	if err != nil {
		t.Fatalf("CreateOrJoin: %v", err)
	}
	id := res.Record.ID
	rec, err := coord.ChooseColor(ctx, id, "w", game.White)
	if err != nil || !rec.WhiteHoldUntil.Equal(clock.Now().Add(3*time.Minute)) {
		t.Fatalf("ChooseColor: hold=%v err=%v", rec.WhiteHoldUntil, err)
	}
	clock.Advance(time.Minute)
	if _, err := resolver.Resolve(ctx, id, "b"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := coord.MarkReady(ctx, id, "b"); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	lastAction := clock.Now()

	_, released, err := coord.ExpireHolds(ctx, id, clock.Now().Add(time.Minute))
	if err != nil || len(released) != 0 {
		t.Fatalf("hold released early: %v %v", released, err)
	}
	clock.Advance(2 * time.Minute)
	rec, released, err = coord.ExpireHolds(ctx, id, clock.Now())
	if err != nil || len(released) != 1 || released[0] != game.White {
		t.Fatalf("ExpireHolds: %v %v", released, err)
	}
	if rec.White != "" || rec.Black != "b" || !rec.BlackReady || !rec.WhiteHoldUntil.IsZero() {
		t.Fatalf("unexpected record after expiry: %+v", rec)
	}
	if !rec.LastActionAt.Equal(lastAction) {
		t.Fatalf("expiry counted as a player action: %v", rec.LastActionAt)
	}

	// the freed seat goes to the next viewer
	res, err = resolver.Resolve(ctx, id, "late")
	if err != nil || res.Role != game.RoleWhite {
		t.Fatalf("Resolve late: %+v %v", res, err)
	}
}

func TestExpireHoldsLeavesStartedGames(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	st := store.NewMemoryStore()
	f := newFixture(t)
	f.coord = NewCoordinator(st, rules.New(), WithSeatHold(time.Minute), WithClock(clock.Now))
	f.store = st
	f.resolver = NewResolver(f.coord, NewAllocator(st, 5))
	id := f.startGame(t, "w", "b")
	clock.Advance(time.Hour)
	rec, released, err := f.coord.ExpireHolds(context.Background(), id, clock.Now())
	if err != nil || len(released) != 0 || rec.Status != game.StatusActive {
		t.Fatalf("ExpireHolds on active game: %+v %v %v", rec, released, err)
	}
}

func TestSpectatorsDoNotKeepGameAlive(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC().Add(-time.Hour)}
	st := store.NewMemoryStore()
	coord := NewCoordinator(st, rules.New(), WithClock(clock.Now))
	resolver := NewResolver(coord, NewAllocator(st, 5))
	ctx := context.Background()
	res, err := resolver.CreateOrJoin(ctx, "", "w")
	if err != nil {
		t.Fatalf("CreateOrJoin: %v", err)
	}
	id := res.Record.ID
	if _, err := coord.ChooseColor(ctx, id, "w", game.White); err != nil {
		t.Fatalf("ChooseColor: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := coord.AdjustSpectators(ctx, id, 1); err != nil {
			t.Fatalf("AdjustSpectators: %v", err)
		}
	}
	rec, ok, err := coord.Abandon(ctx, id, "", time.Now().Add(-30*time.Minute))
	if err != nil || !ok || rec.Status != game.StatusAbandoned {
		t.Fatalf("watched but idle game not abandoned: %+v ok=%v err=%v", rec, ok, err)
	}
}
