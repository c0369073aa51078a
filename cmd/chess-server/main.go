package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/chess-rooms/internal/archive"
	appcfg "github.com/park285/chess-rooms/internal/config"
	"github.com/park285/chess-rooms/internal/httpapi"
	"github.com/park285/chess-rooms/internal/hub"
	"github.com/park285/chess-rooms/internal/janitor"
	"github.com/park285/chess-rooms/internal/msgcat"
	"github.com/park285/chess-rooms/internal/notify"
	"github.com/park285/chess-rooms/internal/obslog"
	"github.com/park285/chess-rooms/internal/render"
	"github.com/park285/chess-rooms/internal/rules"
	"github.com/park285/chess-rooms/internal/session"
	"github.com/park285/chess-rooms/internal/store"
	"github.com/park285/chess-rooms/internal/token"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

// backends are the opened storage handles; any may be nil.
type backends struct {
	rdb *redis.Client
	db  *sql.DB
	st  store.Store
}

func (b *backends) Close() {
	if b.st != nil {
		_ = b.st.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}

func (b *backends) Ping(ctx context.Context) error {
	if b.rdb != nil {
		if err := b.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if b.db != nil {
		if err := b.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

func openBackends(ctx context.Context, cfg *appcfg.AppConfig) (*backends, error) {
	b := &backends{}
	var err error
	if cfg.RedisURL != "" {
		if b.rdb, err = store.OpenRedis(ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
	}
	if cfg.StoreDriver != appcfg.DriverRedis || cfg.ArchiveEnabled {
		if b.db, err = store.OpenSQL(ctx, cfg.ArchiveDriver(), cfg.DatabaseURL); err != nil {
			b.Close()
			return nil, err
		}
	}
	switch cfg.StoreDriver {
	case appcfg.DriverRedis:
		b.st = store.NewRedisStore(b.rdb, cfg.GameTTL)
	default:
		if b.st, err = store.NewSQLStore(ctx, b.db); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func run(ctx context.Context, cfg *appcfg.AppConfig) error {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}
	tokens, err := token.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	if cfg.TokenSecret == "" {
		obslog.L().Warn("token_secret_ephemeral", zap.String("hint", "set TOKEN_SECRET to keep viewer tokens valid across restarts and replicas"))
	}

	notifier := notify.NewNotifier(b.st, cfg.PollInterval)
	var relay *notify.Relay
	if b.rdb != nil {
		relay = notify.NewRelay(b.rdb, notifier)
		notifier.UsePublisher(relay)
	}

	coordOpts := []session.Option{
		session.WithSignaler(notifier),
		session.WithMaxAttempts(cfg.CASMaxAttempts),
		session.WithSeatHold(cfg.SeatHold),
	}
	if cfg.ArchiveEnabled {
		repo, err := archive.NewRepository(ctx, b.db)
		if err != nil {
			return err
		}
		coordOpts = append(coordOpts, session.WithArchive(repo))
	}
	coord := session.NewCoordinator(b.st, rules.New(), coordOpts...)
	alloc := session.NewAllocator(b.st, cfg.AllocAttempts)

	streams := hub.New(notifier, coord, hub.Config{
		Heartbeat:    cfg.Heartbeat,
		MaxLifetime:  cfg.StreamMaxLife,
		WriteTimeout: cfg.WriteTimeout,
	})
	api := httpapi.NewServer(httpapi.Deps{
		Resolver: session.NewResolver(coord, alloc),
		Coord:    coord,
		Hub:      streams,
		Tokens:   tokens,
		Renderer: render.New(cfg.BoardSquareSize),
		Messages: messages,
		Ping:     b.Ping,
	}, httpapi.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.SecureCookies,
		CookieMaxAge:   cfg.TokenTTL,
	})
	srv := api.HTTPServer(cfg.HTTPAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obslog.L().Info("server_listen",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
			zap.Bool("archive", cfg.ArchiveEnabled),
			zap.Bool("relay", relay != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
		defer cancel()
		obslog.L().Info("server_shutdown", zap.Int64("open_streams", streams.Active()))
		if err := srv.Shutdown(sctx); err != nil {
			// 스트림이 남아 있으면 강제 종료
			_ = srv.Close()
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if l := api.Limiter(); l != nil {
		g.Go(func() error { return l.Run(gctx) })
	}
	g.Go(func() error {
		j := janitor.New(b.st, coord, cfg.AbandonAfter, cfg.JanitorInterval)
		if cfg.SeatHold > 0 {
			j.WithSeatHolds(b.st, coord)
		}
		return j.Run(gctx)
	})

	return g.Wait()
}
