package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/obslog"
	"github.com/park285/chess-rooms/internal/store"
)

// CodeLength is the number of decimal digits in a game code.
const CodeLength = 8

var codeSpace = big.NewInt(100_000_000)

// Allocator mints fresh 8-digit game codes and creates the waiting record.
type Allocator struct {
	store    store.Store
	attempts int
	gen      func() (string, error)
}

type AllocatorOption func(*Allocator)

// WithCodeGenerator replaces the crypto/rand generator (tests).
func WithCodeGenerator(gen func() (string, error)) AllocatorOption {
	return func(a *Allocator) { a.gen = gen }
}

func NewAllocator(s store.Store, attempts int, opts ...AllocatorOption) *Allocator {
	if attempts <= 0 {
		attempts = 5
	}
	a := &Allocator{store: s, attempts: attempts, gen: RandomCode}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate creates a new waiting game under an unused code.
func (a *Allocator) Allocate(ctx context.Context) (*game.Record, error) {
	for attempt := 1; attempt <= a.attempts; attempt++ {
		id, err := a.gen()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		rec := game.NewRecord(id, time.Now().UTC())
		err = a.store.Create(ctx, rec)
		if err == nil {
			obslog.L().Info("game_create", zap.String("game_id", id), zap.Int("attempt", attempt))
			return rec, nil
		}
		if !errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("create game: %w", err)
		}
		obslog.L().Debug("game_code_collision", zap.String("game_id", id), zap.Int("attempt", attempt))
	}
	return nil, game.ErrAllocationExhausted
}

// RandomCode returns a uniformly random zero-padded 8-digit code.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// ValidCode reports whether s looks like a game code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
