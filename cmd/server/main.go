package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/branch-reservation/internal/clock"
	"github.com/iliyamo/branch-reservation/internal/config"
	"github.com/iliyamo/branch-reservation/internal/database"
	"github.com/iliyamo/branch-reservation/internal/handler"
	"github.com/iliyamo/branch-reservation/internal/logging"
	"github.com/iliyamo/branch-reservation/internal/middleware"
	"github.com/iliyamo/branch-reservation/internal/queue"
	"github.com/iliyamo/branch-reservation/internal/repository"
	"github.com/iliyamo/branch-reservation/internal/router"
	"github.com/iliyamo/branch-reservation/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a failed run and flushes the logger; os.Exit skips defers.
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("server exited", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ping, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	// Redis is optional: the cache and rate limiter pass through without it.
	var rdb *redis.Client
	if cfg.Cache.Enabled || cfg.RateLimit.Enabled {
		rdb, err = config.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, caching and rate limiting disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	policy := service.Policy{
		Hours:              cfg.Booking.Hours,
		AdvanceDays:        cfg.Booking.AdvanceDays,
		CancellationCutoff: cfg.Booking.CancellationCutoff,
		NumberPrefix:       cfg.Booking.NumberPrefix,
		NumberWidth:        cfg.Booking.NumberWidth,
	}
	opts := []service.LedgerOption{
		service.WithLogger(log),
		service.WithMaxAttempts(cfg.Booking.TxMaxAttempts),
		service.WithRetryBackoff(cfg.Booking.TxRetryBackoff),
	}
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.AMQPURL, log)
		defer pub.Close()
		opts = append(opts, service.WithPublisher(pub))
	}

	clk := clock.NewSystem(cfg.Booking.Hours.Location)
	ledger := service.NewLedger(store, clk, policy, opts...)
	avail := service.NewAvailability(store, policy)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	router.Register(e, router.Handlers{
		Reservations: handler.NewReservationHandler(ledger, policy.Hours, log),
		Branches:     handler.NewBranchHandler(ledger, avail, policy.Hours, clk, log),
		Ping:         ping,
		JWTSecret:    cfg.JWTSecret,
		Cache:        middleware.NewRedisCache(cfg.Cache, rdb, log),
		RateLimit:    middleware.NewTokenBucket(cfg.RateLimit, rdb, log),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	})
	if cfg.EventsEnabled && cfg.EventConsumerEnabled {
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.ReservationLogPath, log)
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("reservation consumer: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// openStore returns the configured store and, for networked stores, a
// readiness ping.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repository.Store, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		dsn := database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		db, err := database.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		if _, err := database.Migrate(ctx, db, log); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("connected to mysql", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
		return repository.NewMySQLStore(db), db.PingContext, nil

	case config.DriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create bolt dir: %w", err)
		}
		s, err := repository.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("opened bolt store", zap.String("path", cfg.BoltPath))
		return s, nil, nil

	default:
		log.Warn("using in-memory store; reservations are lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}
}
