// Package notify wakes stream goroutines when a game's version moves on.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/park285/chess-rooms/internal/game"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	maxPollInterval     = time.Second
)

// Getter reads the durable record.
type Getter interface {
	Get(ctx context.Context, id string) (*game.Record, error)
}

// Publisher forwards a local signal to other processes.
type Publisher interface {
	Publish(id string, version int64)
}

type cond struct {
	ch      chan struct{}
	version int64
	refs    int
}

// Notifier is a per-game close-and-replace broadcast plus a polling fallback.
type Notifier struct {
	store Getter
	poll  time.Duration

	mu    sync.Mutex
	games map[string]*cond
	pub   Publisher
}

func NewNotifier(store Getter, poll time.Duration) *Notifier {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if poll > maxPollInterval {
		poll = maxPollInterval
	}
	return &Notifier{store: store, poll: poll, games: make(map[string]*cond)}
}

// UsePublisher enables cross-process fan-out.
func (n *Notifier) UsePublisher(p Publisher) {
	n.mu.Lock()
	n.pub = p
	n.mu.Unlock()
}

// Signal wakes local waiters on id and forwards to the publisher. Never blocks on waiters.
func (n *Notifier) Signal(id string, version int64) {
	n.Wake(id, version)
	n.mu.Lock()
	pub := n.pub
	n.mu.Unlock()
	if pub != nil {
		pub.Publish(id, version)
	}
}

// Wake wakes local waiters only; used by the relay for remote signals.
func (n *Notifier) Wake(id string, version int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.games[id]
	if !ok {
		return
	}
	if version > c.version {
		c.version = version
	}
	close(c.ch)
	c.ch = make(chan struct{})
}

// Waiters returns the number of goroutines currently parked on id.
func (n *Notifier) Waiters(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.games[id]; ok {
		return c.refs
	}
	return 0
}

func (n *Notifier) acquire(id string) {
	n.mu.Lock()
	c, ok := n.games[id]
	if !ok {
		c = &cond{ch: make(chan struct{})}
		n.games[id] = c
	}
	c.refs++
	n.mu.Unlock()
}

func (n *Notifier) release(id string) {
	n.mu.Lock()
	if c, ok := n.games[id]; ok {
		c.refs--
		if c.refs <= 0 {
			delete(n.games, id)
		}
	}
	n.mu.Unlock()
}

func (n *Notifier) current(id string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.games[id].ch
}

// WaitForChange returns the record once its version exceeds since.
// changed is false when timeout elapsed first; rec is then the latest read.
// A non-positive timeout waits until ctx is done.
func (n *Notifier) WaitForChange(ctx context.Context, id string, since int64, timeout time.Duration) (rec *game.Record, changed bool, err error) {
	n.acquire(id)
	defer n.release(id)

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(n.poll)
	defer tick.Stop()

	for {
		// channel first, read second: a signal between the two is not lost
		ch := n.current(id)
		rec, err = n.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if rec.Version > since {
			return rec, true, nil
		}
		select {
		case <-ch:
		case <-tick.C:
		case <-deadline:
			return rec, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
