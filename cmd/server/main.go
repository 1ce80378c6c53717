package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/memory-match-backend/internal/auth"
	"github.com/DoyleJ11/memory-match-backend/internal/config"
	"github.com/DoyleJ11/memory-match-backend/internal/duel"
	"github.com/DoyleJ11/memory-match-backend/internal/engine"
	"github.com/DoyleJ11/memory-match-backend/internal/history"
	"github.com/DoyleJ11/memory-match-backend/internal/httpapi"
	"github.com/DoyleJ11/memory-match-backend/internal/hub"
	"github.com/DoyleJ11/memory-match-backend/internal/keylock"
	"github.com/DoyleJ11/memory-match-backend/internal/logging"
	"github.com/DoyleJ11/memory-match-backend/internal/matchmaking"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
	"github.com/DoyleJ11/memory-match-backend/internal/scheduler"
	"github.com/DoyleJ11/memory-match-backend/internal/store"
	"github.com/DoyleJ11/memory-match-backend/internal/timers"
	"github.com/DoyleJ11/memory-match-backend/internal/ws"
)

const (
	maxPendingHistory = 1000
	shutdownTimeout   = 10 * time.Second
)

type repository interface {
	duel.Repository
	royale.Repository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// backends picks postgres when DATABASE_URL is set, in-memory stores
// otherwise.
func backends(cfg config.Config, log *zap.Logger) (repository, history.Recorder, auth.IdentityLookup, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return store.NewMemory(), history.NewMemoryRecorder(), auth.NewStaticIdentities(), nil
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	repo := store.NewGorm(db)
	rec := history.NewGormRecorder(db)
	if err := multierr.Combine(repo.AutoMigrate(), rec.AutoMigrate()); err != nil {
		return nil, nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return repo, rec, auth.NewGormIdentities(db), nil
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, inner, identities, err := backends(cfg, log)
	if err != nil {
		return err
	}
	recorder := history.NewRetryingRecorder(inner, log, maxPendingHistory)

	clock := clockwork.NewRealClock()
	locks := keylock.New()
	registry := timers.NewRegistry(clock)
	defer registry.Stop()
	h := hub.NewHub(ctx)

	duels := duel.NewService(repo, locks, recorder, clock, log)
	queue := matchmaking.NewQueue(duels, matchmaking.Options{
		PairCount: cfg.DuelPairCount,
		Rules:     engine.Rules{PairPoints: cfg.DuelPairPoints},
		Clock:     clock,
		InMatch:   duels.InMatch,
	})
	royales := royale.NewService(repo, locks, recorder, log, royale.Options{
		Scoring: royale.Scoring{
			SpeedNumerator: cfg.ScoreSpeedNumerator,
			PairWeight:     cfg.ScorePairWeight,
			FlipPenalty:    cfg.ScoreFlipPenalty,
		},
		FlipMinInterval: cfg.FlipMinInterval,
		Clock:           clock,
	})

	authn := auth.NewAuthenticator(cfg.JWTSecret, clock)
	wsOpts := ws.Options{
		Auth:              authn,
		Identities:        identities,
		OriginPatterns:    cfg.AllowedOrigins,
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		Burst:             cfg.WSBurst,
		Clock:             clock,
		DisconnectGrace:   cfg.DisconnectGrace,
		RevealDelay:       cfg.RevealDelay,
		Countdown:         cfg.MatchCountdown,
	}
	duelGateway := ws.NewDuelGateway(ctx, queue, duels, h, registry, log, wsOpts)
	royaleGateway := ws.NewRoyaleGateway(ctx, royales, h, registry, log, wsOpts)

	router := httpapi.SetupRoutes(httpapi.Deps{
		API:            httpapi.NewAPI(royales, queue, royaleGateway, cfg.PublicBaseURL, log),
		Auth:           authn,
		Identities:     identities,
		OriginPatterns: cfg.AllowedOrigins,
		DuelSocket:     duelGateway.Handler(),
		RoyaleSocket:   royaleGateway.Handler(),
		Log:            log,
	})

	jobs, err := scheduler.New(log, clock)
	if err != nil {
		return err
	}
	err = multierr.Combine(
		jobs.Every("sweep-idle-rooms", cfg.SweepInterval, func(ctx context.Context) error {
			n, err := royales.SweepIdleRooms(ctx, cfg.RoomIdleTTL)
			if n > 0 {
				log.Info("swept idle rooms", zap.Int("count", n))
			}
			return err
		}),
		jobs.Every("purge-finished-duels", cfg.SweepInterval, func(ctx context.Context) error {
			_, err := duels.PurgeFinished(ctx, cfg.RoomIdleTTL)
			return err
		}),
		jobs.Every("retry-history", cfg.HistoryRetryInterval, recorder.Retry),
	)
	if err != nil {
		return err
	}
	jobs.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down",
			zap.Int("duelSockets", duelGateway.Connections()),
			zap.Int("royaleSockets", royaleGateway.Connections()),
			zap.Int("pendingHistory", recorder.Pending()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		h.Shutdown()
		err := multierr.Combine(srv.Shutdown(shutdownCtx), jobs.Shutdown())
		if retryErr := recorder.Retry(shutdownCtx); retryErr != nil {
			err = multierr.Append(err, fmt.Errorf("flush history: %w", retryErr))
		}
		return err
	})
	return g.Wait()
}
