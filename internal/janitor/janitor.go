// Package janitor abandons games whose players went quiet and frees seats
// that were claimed but never readied.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/obslog"
)

type Lister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type Abandoner interface {
	Abandon(ctx context.Context, id, reason string, idleBefore time.Time) (*game.Record, bool, error)
}

type HoldLister interface {
	ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type HoldExpirer interface {
	ExpireHolds(ctx context.Context, id string, now time.Time) (*game.Record, []game.Color, error)
}

type Janitor struct {
	list     Lister
	abandon  Abandoner
	holds    HoldLister
	expire   HoldExpirer
	idle     time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
}

const defaultBatch = 100

func New(l Lister, a Abandoner, idle, interval time.Duration) *Janitor {
	return &Janitor{list: l, abandon: a, idle: idle, interval: interval, batch: defaultBatch, now: time.Now}
}

// WithSeatHolds makes every tick release expired seat holds as well.
func (j *Janitor) WithSeatHolds(l HoldLister, e HoldExpirer) *Janitor {
	j.holds, j.expire = l, e
	return j
}

// Run sweeps every interval until ctx is done. A zero interval, or a zero
// idle threshold without seat holds, disables the janitor.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 || (j.idle <= 0 && j.holds == nil) {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := j.SweepHolds(ctx); err != nil && ctx.Err() == nil {
				obslog.L().Warn("janitor_hold_sweep_failed", zap.Error(err))
			}
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				obslog.L().Warn("janitor_sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep abandons every game idle longer than the threshold and returns how
// many were closed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	if j.idle <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-j.idle)
	ids, err := j.list.ListStale(ctx, cutoff, j.batch)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		_, ok, err := j.abandon.Abandon(ctx, id, game.TerminationAbandoned, cutoff)
		if err != nil {
			// 다른 요청과 경합 중일 수 있음. 다음 주기에 재시도
			obslog.L().Warn("janitor_abandon_failed", zap.String("game_id", id), zap.Error(err))
			continue
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		obslog.L().Info("janitor_sweep", zap.Int("abandoned", closed), zap.Int("candidates", len(ids)))
	}
	return closed, nil
}

// SweepHolds frees every seat whose hold has run out and returns how many
// seats were released.
func (j *Janitor) SweepHolds(ctx context.Context) (int, error) {
	if j.holds == nil || j.expire == nil {
		return 0, nil
	}
	now := j.now()
	ids, err := j.holds.ListExpiredHolds(ctx, now, j.batch)
	if err != nil {
		return 0, err
	}
	freed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return freed, ctx.Err()
		}
		_, released, err := j.expire.ExpireHolds(ctx, id, now)
		if err != nil {
			obslog.L().Warn("janitor_hold_expire_failed", zap.String("game_id", id), zap.Error(err))
			continue
		}
		freed += len(released)
	}
	if freed > 0 {
		obslog.L().Info("janitor_hold_sweep", zap.Int("released", freed), zap.Int("candidates", len(ids)))
	}
	return freed, nil
}
