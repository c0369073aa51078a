// Package client talks to a chess-rooms server: a fasthttp JSON client for
// the game operations and a reconnecting WebSocket watcher for the stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/chess-rooms/pkg/chessdto"
)

const tokenHeader = "X-Viewer-Token"

// APIError is a rejected request; Body is the server's error document.
type APIError struct {
	StatusCode int
	Body       chessdto.DomainError
}

func (e *APIError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("chess api error: status=%d code=%s: %s", e.StatusCode, e.Body.Code, e.Body.Message)
	}
	return fmt.Sprintf("chess api error: status=%d", e.StatusCode)
}

// CodeOf returns the error code of an *APIError in err's chain.
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body.Code
	}
	return ""
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int

	mu     sync.RWMutex
	tokens map[string]string
	seen   map[string]position
}

// position is the newest game position this client has observed.
type position struct {
	version int64
	ply     int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		tokens:         make(map[string]string),
		seen:           make(map[string]position),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken remembers the viewer token for gameID; later calls send it.
func (c *Client) SetToken(gameID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" {
		delete(c.tokens, gameID)
		return
	}
	c.tokens[gameID] = token
}

func (c *Client) Token(gameID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[gameID]
}

func (c *Client) BaseURL() string { return c.baseURL }

// observe records the ply of the newest snapshot seen for its game.
func (c *Client) observe(snap *chessdto.Snapshot) {
	if snap == nil || snap.GameID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.seen[snap.GameID]; ok && cur.version > snap.Version {
		return
	}
	c.seen[snap.GameID] = position{version: snap.Version, ply: snap.Ply}
}

// LastPly returns the half-move count of the newest snapshot seen for gameID.
func (c *Client) LastPly(gameID string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.seen[gameID]
	return p.ply, ok
}

func (c *Client) Create(ctx context.Context) (*chessdto.JoinResponse, error) {
	var out chessdto.JoinResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games", "", nil, &out, false); err != nil {
		return nil, err
	}
	c.SetToken(out.GameID, out.Token)
	c.observe(out.Snapshot)
	return &out, nil
}

// Join resolves the caller in gameID, reusing a stored token when present.
func (c *Client) Join(ctx context.Context, gameID string) (*chessdto.JoinResponse, error) {
	var out chessdto.JoinResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/"+gameID+"/join", gameID, nil, &out, false); err != nil {
		return nil, err
	}
	c.SetToken(out.GameID, out.Token)
	c.observe(out.Snapshot)
	return &out, nil
}

func (c *Client) State(ctx context.Context, gameID string) (*chessdto.Snapshot, error) {
	var out chessdto.StateResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games/"+gameID, gameID, nil, &out, true); err != nil {
		return nil, err
	}
	c.observe(out.Snapshot)
	return out.Snapshot, nil
}

func (c *Client) ChooseColor(ctx context.Context, gameID, color string) (*chessdto.Snapshot, error) {
	var out chessdto.StateResponse
	req := chessdto.ChooseColorRequest{Color: color}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/"+gameID+"/color", gameID, req, &out, false); err != nil {
		return nil, err
	}
	c.observe(out.Snapshot)
	return out.Snapshot, nil
}

func (c *Client) ReleaseColor(ctx context.Context, gameID string) (*chessdto.Snapshot, error) {
	var out chessdto.StateResponse
	if err := c.doJSON(ctx, fasthttp.MethodDelete, "/api/games/"+gameID+"/color", gameID, nil, &out, false); err != nil {
		return nil, err
	}
	c.observe(out.Snapshot)
	return out.Snapshot, nil
}

func (c *Client) Ready(ctx context.Context, gameID string) (*chessdto.ReadyResponse, error) {
	var out chessdto.ReadyResponse
	// ready는 멱등이라 재시도 가능
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/"+gameID+"/ready", gameID, nil, &out, true); err != nil {
		return nil, err
	}
	c.observe(out.Snapshot)
	return &out, nil
}

// Move submits a move. Unless req.Ply is set, the ply of the newest snapshot
// this client has seen is sent, so a move overtaken by another one fails
// with turn_advanced.
func (c *Client) Move(ctx context.Context, gameID string, req chessdto.MoveRequest) (*chessdto.MoveResponse, error) {
	if req.Ply == nil {
		if ply, ok := c.LastPly(gameID); ok {
			req.Ply = &ply
		}
	}
	var out chessdto.MoveResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/"+gameID+"/move", gameID, req, &out, false); err != nil {
		return nil, err
	}
	c.observe(out.Snapshot)
	return &out, nil
}

func (c *Client) Resign(ctx context.Context, gameID string) (*chessdto.Snapshot, error) {
	var out chessdto.StateResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/"+gameID+"/resign", gameID, nil, &out, false); err != nil {
		return nil, err
	}
	c.observe(out.Snapshot)
	return out.Snapshot, nil
}

// BoardPNG downloads the rendered board; orientation may be empty.
func (c *Client) BoardPNG(ctx context.Context, gameID, orientation string) ([]byte, error) {
	path := "/api/games/" + gameID + "/board.png"
	if orientation != "" {
		path += "?orientation=" + orientation
	}
	var raw []byte
	err := c.do(ctx, fasthttp.MethodGet, path, gameID, nil, true, func(resp *fasthttp.Response) error {
		raw = append([]byte(nil), resp.Body()...)
		return nil
	})
	return raw, err
}

func (c *Client) doJSON(ctx context.Context, method, path, gameID string, in any, out any, retry bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, method, path, gameID, payload, retry, func(resp *fasthttp.Response) error {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) do(ctx context.Context, method, path, gameID string, payload []byte, retry bool, onOK func(*fasthttp.Response) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if gameID != "" {
		if tok := c.Token(gameID); tok != "" {
			req.Header.Set(tokenHeader, tok)
		}
	}
	if payload != nil {
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			apiErr := &APIError{StatusCode: status}
			if jerr := json.Unmarshal(resp.Body(), &apiErr.Body); jerr != nil {
				apiErr.Body.Message = truncate(string(resp.Body()), 512)
			}
			if !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
		} else {
			return onOK(resp)
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
