package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/store"
)

// Resolution is a viewer's standing in one game.
type Resolution struct {
	Record         *game.Record
	Role           game.Role
	CanChooseColor bool
	Created        bool
}

// Resolver maps a viewer token to a role, auto-seating the second player.
type Resolver struct {
	coord *Coordinator
	alloc *Allocator
}

func NewResolver(coord *Coordinator, alloc *Allocator) *Resolver {
	return &Resolver{coord: coord, alloc: alloc}
}

// Resolve is idempotent: a token keeps its color across calls, and a
// newcomer takes the remaining color only while exactly one is taken and the
// game is still waiting.
func (r *Resolver) Resolve(ctx context.Context, id, token string) (Resolution, error) {
	var seated game.Color
	rec, ok, err := r.coord.update(ctx, id, func(rec *game.Record) error {
		seated = game.NoColor
		if token == "" || rec.ColorOf(token) != game.NoColor {
			return store.ErrNoop
		}
		if rec.Status != game.StatusWaiting {
			return store.ErrNoop
		}
		switch {
		case rec.White != "" && rec.Black == "":
			seated = game.Black
		case rec.Black != "" && rec.White == "":
			seated = game.White
		default:
			return store.ErrNoop
		}
		r.coord.seat(rec, seated, token)
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		r.coord.committed(ctx, rec, "game_join", zap.String("color", string(seated)))
	}
	return resolutionOf(rec, token), nil
}

// CreateOrJoin allocates a new game when id is empty, then resolves token.
func (r *Resolver) CreateOrJoin(ctx context.Context, id, token string) (Resolution, error) {
	created := false
	if id == "" {
		rec, err := r.alloc.Allocate(ctx)
		if err != nil {
			return Resolution{}, err
		}
		id = rec.ID
		created = true
	}
	res, err := r.Resolve(ctx, id, token)
	if err != nil {
		return Resolution{}, err
	}
	res.Created = created
	return res, nil
}

func resolutionOf(rec *game.Record, token string) Resolution {
	color := rec.ColorOf(token)
	return Resolution{
		Record:         rec,
		Role:           game.RoleFor(color),
		CanChooseColor: color == game.NoColor && rec.Status == game.StatusWaiting && rec.White == "" && rec.Black == "",
	}
}

// RoleOf returns token's role without mutating anything.
func RoleOf(rec *game.Record, token string) game.Role {
	return game.RoleFor(rec.ColorOf(token))
}
