// Package httpapi exposes the game service over HTTP, SSE and WebSocket.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/park285/chess-rooms/internal/hub"
	"github.com/park285/chess-rooms/internal/msgcat"
	"github.com/park285/chess-rooms/internal/render"
	"github.com/park285/chess-rooms/internal/session"
	"github.com/park285/chess-rooms/internal/token"
)

type Deps struct {
	Resolver *session.Resolver
	Coord    *session.Coordinator
	Hub      *hub.Hub
	Tokens   *token.Issuer
	Renderer *render.Renderer
	Messages *msgcat.Catalog
	// Ping reports backend health for /healthz; nil means always healthy.
	Ping func(ctx context.Context) error
}

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
	SecureCookies  bool
	CookieMaxAge   time.Duration
}

type Server struct {
	router  *mux.Router
	deps    Deps
	opts    Options
	limiter *RateLimiter
}

func NewServer(deps Deps, opts Options) *Server {
	if deps.Messages == nil {
		deps.Messages = msgcat.Default()
	}
	if deps.Renderer == nil {
		deps.Renderer = render.New(0)
	}
	s := &Server{router: mux.NewRouter(), deps: deps, opts: opts}
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = NewRateLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware)
	s.router.Use(recoverMiddleware)
	s.router.Use(s.corsMiddleware)

	// 프리플라이트는 corsMiddleware가 처리
	s.router.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.Handle("/api/games", s.rateLimited(s.createGame)).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api/games").Subrouter()
	api.HandleFunc("/{id}", s.getGame).Methods(http.MethodGet)
	api.Handle("/{id}/join", s.rateLimited(s.joinGame)).Methods(http.MethodPost)
	api.Handle("/{id}/color", s.rateLimited(s.chooseColor)).Methods(http.MethodPost)
	api.Handle("/{id}/color", s.rateLimited(s.releaseColor)).Methods(http.MethodDelete)
	api.Handle("/{id}/ready", s.rateLimited(s.markReady)).Methods(http.MethodPost)
	api.Handle("/{id}/move", s.rateLimited(s.submitMove)).Methods(http.MethodPost)
	api.Handle("/{id}/resign", s.rateLimited(s.resign)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/events", s.streamSSE).Methods(http.MethodGet)
	api.HandleFunc("/{id}/ws", s.streamWS).Methods(http.MethodGet)
	api.HandleFunc("/{id}/board.png", s.board).Methods(http.MethodGet)

	s.router.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeCode(w, r, http.StatusNotFound, "not_found", false)
	})
}

func (s *Server) Handler() http.Handler { return s.router }

// Limiter returns the mutation rate limiter, nil when disabled.
func (s *Server) Limiter() *RateLimiter { return s.limiter }

// HTTPServer has no WriteTimeout; streams set per-write deadlines instead.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
