// Package store persists game records behind a version-guarded compare-and-swap.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/chess-rooms/internal/game"
)

var (
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("store: record exists")
	// ErrNoop aborts an Update without writing; Update then reports committed=false.
	ErrNoop = errors.New("store: no change")
)

// Store is a durable map of game id to record with atomic single-row RMW.
type Store interface {
	// Get returns game.ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*game.Record, error)
	// Create inserts rec only if its id is absent.
	Create(ctx context.Context, rec *game.Record) error
	// CompareAndSwap writes rec iff the stored version equals expected.
	CompareAndSwap(ctx context.Context, rec *game.Record, expected int64) (bool, error)
	// ListStale returns ids of non-terminal games with no player action since before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]string, error)
	// ListExpiredHolds returns ids of waiting games whose earliest unready
	// seat hold ends at or before before.
	ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]string, error)
	Close() error
}

// DefaultAttempts bounds the CAS retry loop when the caller passes zero.
const DefaultAttempts = 5

// Mutator validates and mutates a private copy of the current record.
type Mutator func(rec *game.Record) error

// Update runs read → fn → CAS, re-reading and retrying on version mismatch.
// It returns the committed record, or the unchanged current record together
// with committed=false when fn returned ErrNoop. fn errors are returned as-is.
func Update(ctx context.Context, s Store, id string, attempts int, fn Mutator) (rec *game.Record, committed bool, err error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoop) {
				return cur, false, nil
			}
			return cur, false, err
		}
		if next.Status != cur.Status && !cur.Status.CanAdvanceTo(next.Status) {
			return cur, false, fmt.Errorf("status %s -> %s: %w", cur.Status, next.Status, game.ErrWrongPhase)
		}
		next.ID = cur.ID
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()
		ok, err := s.CompareAndSwap(ctx, next, cur.Version)
		if err != nil {
			return nil, false, fmt.Errorf("compare and swap %s: %w", id, err)
		}
		if ok {
			return next, true, nil
		}
	}
	return nil, false, game.ErrConflict
}
