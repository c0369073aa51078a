// Package session implements the game state machine on top of store.Update.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/obslog"
	"github.com/park285/chess-rooms/internal/rules"
	"github.com/park285/chess-rooms/internal/store"
)

// Rules is the chess legality oracle.
type Rules interface {
	Apply(fen string, history []string, from, to, promo string) (rules.Outcome, error)
}

// Signaler is told about every committed version.
type Signaler interface {
	Signal(id string, version int64)
}

// Archiver persists finished games.
type Archiver interface {
	SaveResult(ctx context.Context, rec *game.Record) error
}

type Coordinator struct {
	store    store.Store
	rules    Rules
	signal   Signaler
	archive  Archiver
	attempts int
	seatHold time.Duration
	now      func() time.Time
}

type Option func(*Coordinator)

func WithSignaler(s Signaler) Option { return func(c *Coordinator) { c.signal = s } }

func WithArchive(a Archiver) Option { return func(c *Coordinator) { c.archive = a } }

// WithMaxAttempts bounds the CAS retry loop of every transition.
func WithMaxAttempts(n int) Option { return func(c *Coordinator) { c.attempts = n } }

// WithSeatHold releases a claimed seat that is not readied within d.
// Zero keeps seats until released or the game is abandoned.
func WithSeatHold(d time.Duration) Option { return func(c *Coordinator) { c.seatHold = d } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func NewCoordinator(s store.Store, r Rules, opts ...Option) *Coordinator {
	c := &Coordinator{store: s, rules: r, attempts: store.DefaultAttempts, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current record.
func (c *Coordinator) Get(ctx context.Context, id string) (*game.Record, error) {
	return c.store.Get(ctx, id)
}

func (c *Coordinator) update(ctx context.Context, id string, fn store.Mutator) (*game.Record, bool, error) {
	return store.Update(ctx, c.store, id, c.attempts, fn)
}

// committed fans out a new version and archives terminal games.
func (c *Coordinator) committed(ctx context.Context, rec *game.Record, event string, fields ...zap.Field) {
	if c.signal != nil {
		c.signal.Signal(rec.ID, rec.Version)
	}
	base := []zap.Field{
		zap.String("game_id", rec.ID),
		zap.Int64("version", rec.Version),
		zap.String("status", string(rec.Status)),
	}
	obslog.L().Info(event, append(base, fields...)...)
	if rec.Status.Terminal() {
		c.persistIfFinal(ctx, rec)
	}
}

func (c *Coordinator) persistIfFinal(ctx context.Context, rec *game.Record) {
	if c.archive == nil {
		return
	}
	if err := c.archive.SaveResult(context.WithoutCancel(ctx), rec); err != nil {
		obslog.L().Error("game_result_persist_error", zap.String("game_id", rec.ID), zap.String("result", rec.Result), zap.Error(err))
		return
	}
	obslog.L().Info("game_result_persist", zap.String("game_id", rec.ID), zap.String("result", rec.Result), zap.String("termination", rec.Termination))
}

// touch marks a player action.
func (c *Coordinator) touch(r *game.Record) { r.LastActionAt = c.now().UTC() }

// seat gives color to token and starts its hold.
func (c *Coordinator) seat(r *game.Record, color game.Color, token string) {
	r.SetHolder(color, token)
	var until time.Time
	if c.seatHold > 0 {
		until = c.now().UTC().Add(c.seatHold)
	}
	r.SetHoldUntil(color, until)
	c.touch(r)
}

func phaseErr(s game.Status) error {
	if s.Terminal() {
		return game.ErrGameOver
	}
	return game.ErrWrongPhase
}

// ChooseColor claims an empty color slot while the game is waiting.
// Re-choosing the color already held is a no-op.
func (c *Coordinator) ChooseColor(ctx context.Context, id, token string, color game.Color) (*game.Record, error) {
	if color != game.White && color != game.Black {
		return nil, game.ErrInvalidColor
	}
	if token == "" {
		return nil, game.ErrNotAPlayer
	}
	rec, ok, err := c.update(ctx, id, func(r *game.Record) error {
		if r.Status != game.StatusWaiting {
			return phaseErr(r.Status)
		}
		held := r.ColorOf(token)
		if held == color {
			return store.ErrNoop
		}
		if held != game.NoColor || r.Holder(color) != "" {
			return game.ErrAlreadyAssigned
		}
		c.seat(r, color, token)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ok {
		c.committed(ctx, rec, "game_color", zap.String("color", string(color)))
	}
	return rec, nil
}

// ReleaseColor frees the caller's slot while waiting and not yet ready.
func (c *Coordinator) ReleaseColor(ctx context.Context, id, token string) (*game.Record, error) {
	var released game.Color
	rec, ok, err := c.update(ctx, id, func(r *game.Record) error {
		if r.Status != game.StatusWaiting {
			return phaseErr(r.Status)
		}
		released = r.ColorOf(token)
		if released == game.NoColor {
			return game.ErrNotAPlayer
		}
		if r.Ready(released) {
			return game.ErrAlreadyReady
		}
		r.SetHolder(released, "")
		r.SetHoldUntil(released, time.Time{})
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ok {
		c.committed(ctx, rec, "game_color_release", zap.String("color", string(released)))
	}
	return rec, nil
}

type ReadyResult struct {
	Record       *game.Record
	Started      bool
	AlreadyReady bool
}

// MarkReady flags the caller's color ready; the second ready starts the game
// in the same step.
func (c *Coordinator) MarkReady(ctx context.Context, id, token string) (ReadyResult, error) {
	var res ReadyResult
	rec, ok, err := c.update(ctx, id, func(r *game.Record) error {
		res = ReadyResult{}
		color := r.ColorOf(token)
		if color == game.NoColor {
			return game.ErrNotAPlayer
		}
		if r.Ready(color) {
			res.AlreadyReady = true
			return store.ErrNoop
		}
		if r.Status != game.StatusWaiting {
			return phaseErr(r.Status)
		}
		r.SetReady(color, true)
		r.SetHoldUntil(color, time.Time{})
		c.touch(r)
		if r.WhiteReady && r.BlackReady {
			r.Status = game.StatusActive
			r.FEN = game.StartFEN
			r.Turn = game.White
			res.Started = true
		}
		return nil
	})
	if err != nil {
		return ReadyResult{}, err
	}
	res.Record = rec
	if ok {
		c.committed(ctx, rec, "game_ready", zap.Bool("started", res.Started))
	}
	return res, nil
}

// MoveInput is a move request. Ply, when set, is the half-move count the
// client based the move on.
type MoveInput struct {
	From      string
	To        string
	Promotion string
	Ply       *int
}

type MoveResult struct {
	Record  *game.Record
	Outcome rules.Outcome
}

// SubmitMove applies a move for the side to move. A move based on a position
// that another move has already superseded fails with game.ErrTurnAdvanced.
func (c *Coordinator) SubmitMove(ctx context.Context, id, token string, in MoveInput) (MoveResult, error) {
	baseline := -1
	if in.Ply != nil {
		baseline = *in.Ply
	}
	var out rules.Outcome
	var mover game.Color
	rec, _, err := c.update(ctx, id, func(r *game.Record) error {
		if r.Status.Terminal() {
			return game.ErrGameOver
		}
		if r.Status != game.StatusActive {
			return game.ErrWrongPhase
		}
		mover = r.ColorOf(token)
		if mover == game.NoColor {
			return game.ErrNotAPlayer
		}
		if baseline < 0 {
			baseline = r.Ply()
		} else if r.Ply() != baseline {
			return game.ErrTurnAdvanced
		}
		if r.Turn != mover {
			if in.Ply == nil && r.Ply() > 0 {
				// mover played the last move; a second move from the same
				// side lost the race to it
				return game.ErrTurnAdvanced
			}
			return game.ErrNotYourTurn
		}
		o, err := c.rules.Apply(r.FEN, r.MovesUCI, in.From, in.To, in.Promotion)
		if err != nil {
			return err
		}
		out = o
		r.FEN = o.FEN
		r.Turn = o.Turn
		r.InCheck = o.Check
		r.LastMove = &game.LastMove{From: o.UCI[0:2], To: o.UCI[2:4]}
		r.MovesUCI = append(r.MovesUCI, o.UCI)
		r.MovesSAN = append(r.MovesSAN, o.SAN)
		c.touch(r)
		if o.Terminal {
			r.Finish(o.Status, o.Result, o.Method)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, game.ErrIllegalMove) || errors.Is(err, game.ErrTurnAdvanced) {
			obslog.L().Debug("game_move_rejected", zap.String("game_id", id), zap.String("code", game.Code(err)),
				zap.String("from", in.From), zap.String("to", in.To))
		}
		return MoveResult{}, err
	}
	c.committed(ctx, rec, "game_move",
		zap.String("color", string(mover)),
		zap.String("uci", out.UCI),
		zap.String("san", out.SAN),
		zap.Int("ply", rec.Ply()),
	)
	return MoveResult{Record: rec, Outcome: out}, nil
}

// Resign ends an active game in the opponent's favour.
func (c *Coordinator) Resign(ctx context.Context, id, token string) (*game.Record, error) {
	var loser game.Color
	rec, _, err := c.update(ctx, id, func(r *game.Record) error {
		if r.Status != game.StatusActive {
			return phaseErr(r.Status)
		}
		loser = r.ColorOf(token)
		if loser == game.NoColor {
			return game.ErrNotAPlayer
		}
		r.Finish(game.StatusAbandoned, game.WinFor(loser.Opponent()), game.TerminationResignation)
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.committed(ctx, rec, "game_resign", zap.String("color", string(loser)))
	return rec, nil
}

// Abandon moves a waiting or active game to abandoned. When idleBefore is
// non-zero the game is left alone if a player acted at or after that time.
// Already finished games are returned unchanged.
func (c *Coordinator) Abandon(ctx context.Context, id, reason string, idleBefore time.Time) (*game.Record, bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = game.TerminationAbandoned
	}
	rec, ok, err := c.update(ctx, id, func(r *game.Record) error {
		if r.Status.Terminal() {
			return store.ErrNoop
		}
		if !idleBefore.IsZero() && !r.LastActive().Before(idleBefore) {
			return store.ErrNoop
		}
		r.Finish(game.StatusAbandoned, game.ResultAbandoned, reason)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.committed(ctx, rec, "game_abandon", zap.String("reason", reason))
	}
	return rec, ok, nil
}

// ExpireHolds releases every unready seat of a waiting game whose hold ended
// at or before now, and returns the released colors.
func (c *Coordinator) ExpireHolds(ctx context.Context, id string, now time.Time) (*game.Record, []game.Color, error) {
	var released []game.Color
	rec, ok, err := c.update(ctx, id, func(r *game.Record) error {
		released = released[:0]
		if r.Status != game.StatusWaiting {
			return store.ErrNoop
		}
		for _, color := range []game.Color{game.White, game.Black} {
			until := r.HoldUntil(color)
			if r.Holder(color) == "" || r.Ready(color) || until.IsZero() || until.After(now) {
				continue
			}
			r.SetHolder(color, "")
			r.SetHoldUntil(color, time.Time{})
			released = append(released, color)
		}
		if len(released) == 0 {
			return store.ErrNoop
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return rec, nil, nil
	}
	colors := make([]string, 0, len(released))
	for _, color := range released {
		colors = append(colors, string(color))
	}
	c.committed(ctx, rec, "game_seat_expire", zap.Strings("colors", colors))
	return rec, released, nil
}

// AdjustSpectators applies a presence delta, clamped at zero.
func (c *Coordinator) AdjustSpectators(ctx context.Context, id string, delta int) (*game.Record, error) {
	rec, ok, err := c.update(ctx, id, func(r *game.Record) error {
		n := r.Spectators + delta
		if n < 0 {
			n = 0
		}
		if n == r.Spectators {
			return store.ErrNoop
		}
		r.Spectators = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adjust spectators: %w", err)
	}
	if ok {
		c.committed(ctx, rec, "game_spectators", zap.Int("spectators", rec.Spectators), zap.Int("delta", delta))
	}
	return rec, nil
}
