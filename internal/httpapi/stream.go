package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-rooms/internal/hub"
	"github.com/park285/chess-rooms/internal/obslog"
)

// sseRetry is the client reconnect delay advertised on every stream.
const sseRetry = 3 * time.Second

type heartbeatPayload struct {
	Version int64 `json:"version"`
}

func payloadOf(ev hub.Event) any {
	switch ev.Name {
	case hub.EventState:
		return ev.Snapshot
	case hub.EventError:
		return ev.Error
	default:
		return heartbeatPayload{Version: ev.ID}
	}
}

type sseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *sseSink) Send(ctx context.Context, ev hub.Event) error {
	data, err := json.Marshal(payloadOf(ev))
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.rc.SetWriteDeadline(dl)
	}
	if ev.ID > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", ev.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request) {
	id := gameID(r)
	if !s.validID(w, r, id) {
		return
	}
	viewer := s.viewer(r, id)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetry.Milliseconds()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		obslog.L().Warn("sse_flush_unsupported", zap.Error(err))
		return
	}

	// Subscribe reports failures to the client as an error event itself.
	if err := s.deps.Hub.Subscribe(r.Context(), id, viewer, &sseSink{w: w, rc: rc}); err != nil {
		obslog.L().Debug("sse_closed", zap.String("game_id", id), zap.Error(err))
	}
}

// wsSink writes each event as {"event": name, "id": n, "data": payload}.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

type wsFrame struct {
	Event string `json:"event"`
	ID    int64  `json:"id,omitempty"`
	Data  any    `json:"data"`
}

func (s *wsSink) Send(ctx context.Context, ev hub.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, wsFrame{Event: ev.Name, ID: ev.ID, Data: payloadOf(ev)})
}

func (s *Server) streamWS(w http.ResponseWriter, r *http.Request) {
	id := gameID(r)
	if !s.validID(w, r, id) {
		return
	}
	viewer := s.viewer(r, id)

	opts := &websocket.AcceptOptions{}
	if len(s.opts.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.opts.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("game_id", id), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	// 수신 메시지는 무시. 클라이언트가 닫으면 ctx 취소
	ctx := conn.CloseRead(r.Context())
	if err := s.deps.Hub.Subscribe(ctx, id, viewer, &wsSink{conn: conn}); err != nil {
		conn.Close(websocket.StatusInternalError, "server error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
