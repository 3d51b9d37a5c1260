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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"retailcore/backend/internal/alert"
	"retailcore/backend/internal/cache"
	"retailcore/backend/internal/config"
	"retailcore/backend/internal/httpapi"
	"retailcore/backend/internal/metrics"
	"retailcore/backend/internal/revenue"
	"retailcore/backend/internal/service"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/store/memory"
	pgstore "retailcore/backend/internal/store/postgres"
	"retailcore/backend/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("server terminated with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", zap.Error(err))
			}
		}
	}()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startupCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	var events cache.EventCache = cache.NoopEventCache{}
	var alerts alert.Sink = alert.NewLogSink(logger)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(startupCtx).Err(); err != nil {
			logger.Warn("redis unavailable, using store-only deduplication", zap.Error(err))
			_ = client.Close()
		} else {
			events = cache.NewRedisEventCache(client)
			alerts = alert.Fanout{alert.NewLogSink(logger), alert.NewRedisSink(client)}
			closers = append(closers, client.Close)
			logger.Info("event cache: redis")
		}
	}

	var recorder revenue.Recorder = revenue.NewLogRecorder(logger)
	if cfg.RevenueLedgerURL != "" {
		recorder = revenue.NewClient(cfg.RevenueLedgerURL)
	}

	verifier := webhook.NewVerifier(cfg.PaymobHMACSecret)
	if !verifier.Configured() {
		logger.Warn("PAYMOB_HMAC_SECRET is not set; every payment webhook will be rejected")
	}

	metrics.Register()

	svc := service.New(repo, service.Options{
		Logger:                        logger,
		Verifier:                      verifier,
		EventCache:                    events,
		Alerts:                        alerts,
		Revenue:                       recorder,
		IntentTTL:                     cfg.IntentTTL,
		AmountToleranceCents:          cfg.AmountToleranceCents,
		DefaultMinStock:               cfg.DefaultMinStock,
		CashDiscrepancyThresholdCents: cfg.CashDiscrepancyThresholdCents,
		ProcessedEventTTL:             cfg.ProcessedEventTTL,
	})
	defer svc.Wait()

	auth := httpapi.NewAuthManager(startupCtx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("payment and inventory backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweepExpiredIntents(ctx, svc, cfg.IntentSweepInterval, logger)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}

// sweepExpiredIntents fails reservations past their window until ctx ends.
func sweepExpiredIntents(ctx context.Context, svc *service.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpirePendingIntents(ctx); err != nil && ctx.Err() == nil {
				logger.Error("intent expiry sweep failed", zap.Error(err))
			}
		}
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.PaymobHMACSecret != "" && len(cfg.PaymobHMACSecret) < 16 {
		return fmt.Errorf("PAYMOB_HMAC_SECRET must be at least 16 characters when set")
	}
	return nil
}
