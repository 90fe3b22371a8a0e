package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/reservo/internal/auth"
	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/clock"
	"github.com/kirinyoku/reservo/internal/config"
	"github.com/kirinyoku/reservo/internal/notify"
	"github.com/kirinyoku/reservo/internal/postgres"
	redisx "github.com/kirinyoku/reservo/internal/redis"
	"github.com/kirinyoku/reservo/internal/repository"
	"github.com/kirinyoku/reservo/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/reservo/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/reservo/internal/repository/redis"
	"github.com/kirinyoku/reservo/internal/service"
	"github.com/kirinyoku/reservo/internal/service/approval"
	"github.com/kirinyoku/reservo/internal/service/facade"
	"github.com/kirinyoku/reservo/internal/service/query"
	httpgin "github.com/kirinyoku/reservo/internal/transport/http/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	layer      *cache.Layer
	bus        *redisx.InvalidationBus
	closers    []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.New"

	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisx.New(ctx, redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, rdb)
	}

	a.layer = a.buildCache(rdb)

	notifier, err := a.buildNotifier()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Interfaces stay nil when redis is off so downstream nil checks hold.
	var (
		limiter facade.Limiter
		idem    httpgin.Idempotency
	)
	if rdb != nil {
		if cfg.Limits.SubmitPerWindow > 0 {
			limiter = redisrepo.NewSlidingWindowLimiter(rdb, "submit", cfg.Limits.SubmitPerWindow, cfg.Limits.SubmitWindow)
		}
		idem = redisrepo.NewIdempotencyStore(rdb, cfg.Limits.IdempotencyTTL)
	}

	services := service.NewServices(store, a.layer, notifier, limiter, clock.NewSystem(), logger, service.Config{
		Query: query.Config{
			UpcomingHorizon: cfg.Query.UpcomingHorizon,
			MaxCalendarSpan: cfg.Query.MaxCalendarSpan,
		},
	})

	resolver := auth.NewResolver(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})

	router := httpgin.NewRouter(services, resolver, idem, logger, httpgin.TimeoutMiddleware(cfg.Server.RequestTimeout))

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Store == config.StoreMemory {
		a.logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.Postgres.DSN(),
		MaxConns: a.cfg.Postgres.MaxConns,
		Migrate:  a.cfg.Postgres.Migrate,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))

	return postgresrepo.NewStore(pool), nil
}

// buildCache picks the shared redis layer, or a per-process layer whose
// invalidations are fanned out over redis pub/sub when redis is available.
func (a *App) buildCache(rdb *redis.Client) *cache.Layer {
	log := a.logger.With("component", "cache")

	if a.cfg.Cache.Mode == config.CacheRedis {
		return cache.New(
			redisrepo.NewGenerations(rdb),
			redisrepo.NewPayloads(rdb, a.cfg.Cache.PayloadTTL),
			cache.WithLogger(log),
		)
	}

	gens := cache.NewLocalGenerations()
	payloads := cache.NewLocalPayloads(a.cfg.Cache.MaxEntries, a.cfg.Cache.PayloadTTL)

	if rdb == nil {
		return cache.New(gens, payloads, cache.WithLogger(log))
	}

	a.bus = redisx.NewInvalidationBus(rdb, uuid.NewString())
	return cache.New(gens, payloads, cache.WithBus(a.bus), cache.WithLogger(log))
}

func (a *App) buildNotifier() (approval.Notifier, error) {
	if !a.cfg.AMQP.Enabled {
		return notify.Nop{}, nil
	}

	pub, err := notify.NewPublisher(notify.Config{URL: a.cfg.AMQP.URL, Queue: a.cfg.AMQP.Queue})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub)

	return pub, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	if a.bus != nil {
		g.Go(func() error {
			a.logger.Info("listening for cache invalidations")
			watchInvalidations(gCtx, a.bus, a.layer, a.logger, time.Second)
			return nil
		})
	}

	g.Go(func() error {
		repairLoop(gCtx, a.layer, a.logger, a.cfg.Cache.RepairInterval)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

// close releases resources in reverse order of acquisition.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

type subscriber interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, tags []string)) error
}

// watchInvalidations applies remote invalidations until ctx is done. A lost
// subscription is re-established after backoff and the local views are
// dropped, since bumps published in between were never seen.
func watchInvalidations(ctx context.Context, bus subscriber, layer *cache.Layer, log *slog.Logger, backoff time.Duration) {
	for {
		err := bus.Subscribe(ctx, func(ctx context.Context, tags []string) {
			if err := layer.Apply(ctx, tags...); err != nil {
				log.Warn("apply remote invalidation failed", "tags", tags, "err", err)
			}
		})
		if ctx.Err() != nil {
			return
		}

		log.Warn("invalidation subscription lost, resubscribing", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := layer.ResetLocal(ctx); err != nil {
			log.Warn("local cache reset failed", "err", err)
		}
	}
}

// repairLoop retries failed generation bumps so other instances stop
// serving views a committed write has superseded.
func repairLoop(ctx context.Context, layer *cache.Layer, log *slog.Logger, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := layer.Repair(ctx); n > 0 {
				log.Warn("cache tags still awaiting invalidation", "count", n)
			}
		}
	}
}
