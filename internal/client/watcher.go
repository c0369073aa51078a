package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-rooms/pkg/chessdto"
)

type WatchState int

const (
	WatchDisconnected WatchState = iota
	WatchConnecting
	WatchConnected
	WatchReconnecting
	WatchFailed
)

func (s WatchState) String() string {
	switch s {
	case WatchConnecting:
		return "connecting"
	case WatchConnected:
		return "connected"
	case WatchReconnecting:
		return "reconnecting"
	case WatchFailed:
		return "failed"
	}
	return "disconnected"
}

// Frame is one stream message; Snapshot is set for state frames and Error
// for error frames.
type Frame struct {
	Event    string
	ID       int64
	Snapshot *chessdto.Snapshot
	Error    *chessdto.StreamError
}

type wireFrame struct {
	Event string          `json:"event"`
	ID    int64           `json:"id"`
	Data  json.RawMessage `json:"data"`
}

var ErrStreamError = errors.New("stream reported an error")

// Watcher follows one game's WebSocket stream and redials on drops. State
// frames older than the last one delivered are skipped, so callers see a
// non-decreasing version sequence across reconnects. Delivered states also
// update the owning client's ply for Move.
type Watcher struct {
	url     string
	token   string
	observe func(*chessdto.Snapshot)

	maxReconnectAttempts int
	pingInterval         time.Duration

	mu       sync.Mutex
	state    WatchState
	onState  func(WatchState)
	lastSeen int64
}

func (c *Client) Watcher(gameID string, maxReconnectAttempts int) *Watcher {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &Watcher{
		url:                  u + "/api/games/" + gameID + "/ws",
		token:                c.Token(gameID),
		observe:              c.observe,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
	}
}

func (w *Watcher) OnStateChange(cb func(WatchState)) {
	w.mu.Lock()
	w.onState = cb
	w.mu.Unlock()
}

func (w *Watcher) State() WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s WatchState) {
	w.mu.Lock()
	w.state = s
	cb := w.onState
	w.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Run delivers frames to fn until ctx ends, fn returns an error, the server
// sends an error frame, or reconnect attempts are exhausted.
func (w *Watcher) Run(ctx context.Context, fn func(Frame) error) error {
	attempt := 0
	w.setState(WatchConnecting)
	for {
		err := w.session(ctx, fn, &attempt)
		if ctx.Err() != nil {
			w.setState(WatchDisconnected)
			return nil
		}
		var stop stopError
		if errors.As(err, &stop) {
			w.setState(WatchDisconnected)
			return stop.err
		}
		attempt++
		if attempt > w.maxReconnectAttempts {
			w.setState(WatchFailed)
			return err
		}
		w.setState(WatchReconnecting)
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			w.setState(WatchDisconnected)
			return nil
		}
	}
}

// stopError ends Run without reconnecting.
type stopError struct{ err error }

func (e stopError) Error() string { return e.err.Error() }

func (w *Watcher) session(ctx context.Context, fn func(Frame) error, attempt *int) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	hdr := http.Header{}
	if w.token != "" {
		hdr.Set(tokenHeader, w.token)
	}
	conn, _, err := websocket.Dial(dialCtx, w.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      hdr,
	})
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "close")
	*attempt = 0
	w.setState(WatchConnected)

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	go w.pingLoop(sctx, conn)

	for {
		var raw wireFrame
		if err := wsjson.Read(sctx, conn, &raw); err != nil {
			return err
		}
		f := Frame{Event: raw.Event, ID: raw.ID}
		switch raw.Event {
		case "state":
			var snap chessdto.Snapshot
			if err := json.Unmarshal(raw.Data, &snap); err != nil {
				return stopError{err}
			}
			if snap.Version < w.lastSeen {
				continue
			}
			w.lastSeen = snap.Version
			f.Snapshot = &snap
			if w.observe != nil {
				w.observe(&snap)
			}
		case "error":
			var se chessdto.StreamError
			_ = json.Unmarshal(raw.Data, &se)
			f.Error = &se
		}
		if err := fn(f); err != nil {
			return stopError{err}
		}
		if f.Error != nil {
			return stopError{ErrStreamError}
		}
	}
}

func (w *Watcher) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(w.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
