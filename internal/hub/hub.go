// Package hub runs one long-lived snapshot stream per connected viewer.
package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-rooms/internal/game"
	"github.com/park285/chess-rooms/internal/obslog"
	"github.com/park285/chess-rooms/pkg/chessdto"
)

// Event names on the wire.
const (
	EventState     = "state"
	EventHeartbeat = "heartbeat"
	EventError     = "error"
)

type Event struct {
	Name     string
	ID       int64
	Snapshot *chessdto.Snapshot
	Error    *chessdto.StreamError
}

// Sink writes one event to a transport; ctx carries the write deadline.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

type Waiter interface {
	WaitForChange(ctx context.Context, id string, since int64, timeout time.Duration) (*game.Record, bool, error)
}

type Presence interface {
	Get(ctx context.Context, id string) (*game.Record, error)
	AdjustSpectators(ctx context.Context, id string, delta int) (*game.Record, error)
}

type Config struct {
	Heartbeat    time.Duration
	MaxLifetime  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

type Hub struct {
	waiter   Waiter
	presence Presence
	cfg      Config
	active   atomic.Int64
}

func New(w Waiter, p Presence, cfg Config) *Hub {
	return &Hub{waiter: w, presence: p, cfg: cfg.withDefaults()}
}

// Active returns the number of open streams in this process.
func (h *Hub) Active() int64 { return h.active.Load() }

// Subscribe streams full snapshots of id to sink until ctx ends, the
// lifetime cap elapses or a write fails. Non-player viewers are counted as
// spectators for the lifetime of the stream.
func (h *Hub) Subscribe(ctx context.Context, id, token string, sink Sink) error {
	if h.cfg.MaxLifetime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.MaxLifetime)
		defer cancel()
	}
	h.active.Add(1)
	defer h.active.Add(-1)

	s := &stream{h: h, id: id, token: token, sink: sink}
	defer s.leave(ctx)

	rec, err := h.presence.Get(ctx, id)
	if err != nil {
		return s.fail(ctx, err)
	}
	if rec, err = s.reconcile(ctx, rec); err != nil {
		return s.fail(ctx, err)
	}
	obslog.L().Debug("stream_open", zap.String("game_id", id), zap.Bool("spectator", s.counted), zap.Int64("version", rec.Version))
	if err := s.emitState(ctx, rec); err != nil {
		return nil
	}
	last := rec.Version
	for {
		next, changed, err := h.waiter.WaitForChange(ctx, id, last, h.cfg.Heartbeat)
		if err != nil {
			return s.fail(ctx, err)
		}
		if !changed {
			if err := s.send(ctx, Event{Name: EventHeartbeat, ID: last}); err != nil {
				return nil
			}
			continue
		}
		if next, err = s.reconcile(ctx, next); err != nil {
			return s.fail(ctx, err)
		}
		if err := s.emitState(ctx, next); err != nil {
			return nil
		}
		last = next.Version
	}
}

type stream struct {
	h       *Hub
	id      string
	token   string
	sink    Sink
	counted bool
}

// reconcile keeps the spectator count in line with the viewer's current role.
func (s *stream) reconcile(ctx context.Context, rec *game.Record) (*game.Record, error) {
	isPlayer := rec.ColorOf(s.token) != game.NoColor
	delta := 0
	switch {
	case !isPlayer && !s.counted:
		delta = 1
	case isPlayer && s.counted:
		delta = -1
	default:
		return rec, nil
	}
	next, err := s.h.presence.AdjustSpectators(ctx, s.id, delta)
	if err != nil {
		return nil, err
	}
	s.counted = delta > 0
	return next, nil
}

func (s *stream) leave(ctx context.Context) {
	if !s.counted {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.h.presence.AdjustSpectators(dctx, s.id, -1); err != nil {
		obslog.L().Warn("stream_presence_release_error", zap.String("game_id", s.id), zap.Error(err))
		return
	}
	s.counted = false
}

func (s *stream) emitState(ctx context.Context, rec *game.Record) error {
	snap := rec.Snapshot(game.RoleFor(rec.ColorOf(s.token)))
	return s.send(ctx, Event{Name: EventState, ID: rec.Version, Snapshot: snap})
}

func (s *stream) send(ctx context.Context, ev Event) error {
	wctx, cancel := context.WithTimeout(ctx, s.h.cfg.WriteTimeout)
	defer cancel()
	return s.sink.Send(wctx, ev)
}

// fail ends the stream: context ends are clean closes, anything else gets a
// best-effort error event first.
func (s *stream) fail(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return nil
	}
	msg := "Server error"
	if errors.Is(err, game.ErrNotFound) {
		msg = "Game not found"
	}
	obslog.L().Warn("stream_error", zap.String("game_id", s.id), zap.Error(err))
	_ = s.send(context.WithoutCancel(ctx), Event{Name: EventError, Error: &chessdto.StreamError{Error: msg}})
	return err
}
