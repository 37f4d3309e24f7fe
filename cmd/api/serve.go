package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/areta360/form-relay/env"
	formrelay "github.com/areta360/form-relay/internal"
)

var verifySMTP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&verifySMTP, "verify-smtp", false, "log in to the SMTP server with every sender identity before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	loaded, err := env.Load(envFile)
	if err != nil {
		return err
	}

	cfg, err := formrelay.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	formrelay.SetFallbackLogger(logger)

	logger.Info("configuration loaded", append(cfg.LogFields(), zap.Strings("env_files", loaded))...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger := formrelay.NewLedger(
		formrelay.WithSubmissionLimit(cfg.SubmissionLimit),
		formrelay.WithSubmissionWindow(cfg.SubmissionWindow),
	)

	intake := formrelay.NewIntake(cfg.UploadDir, cfg.MaxUploadBytes)
	if err := intake.EnsureDir(); err != nil {
		return err
	}

	senders, err := cfg.ResolveSenders()
	if err != nil {
		return err
	}
	mailer := formrelay.NewSMTPMailer(cfg.SMTP(), senders,
		formrelay.WithSendTimeout(cfg.SendTimeout),
		formrelay.WithSendRate(cfg.SendRatePerMinute, cfg.SendBurst),
	)
	if verifySMTP {
		for _, s := range mailer.Senders() {
			if err := mailer.Verify(ctx, s.Name); err != nil {
				logger.Warn("smtp verification failed", zap.String("sender", string(s.Name)), zap.Error(err))
				continue
			}
			logger.Info("smtp verification succeeded", zap.String("sender", string(s.Name)), zap.String("from", s.Address))
		}
	}

	stats, closeStats, err := newStatsStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStats()

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, admin endpoints are unauthenticated")
	}

	relay := formrelay.NewRelay(ledger, mailer, intake,
		formrelay.WithRecipients(cfg.CareerRecipient, cfg.ContactRecipient),
		formrelay.WithStats(stats),
		formrelay.WithAdminToken(cfg.AdminToken),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           newHandler(relay.Routes(), cfg.AllowedOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.SendTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newHandler wraps the relay routes with the process-wide middleware stack.
func newHandler(routes http.Handler, origins []string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(logger, next) })
	r.Use(secHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Mount("/", routes)
	return r
}

// newStatsStore returns a Redis-backed store when STATS_REDIS_ADDR is set and
// reachable, the in-memory store otherwise.
func newStatsStore(ctx context.Context, cfg *formrelay.Config, logger *zap.Logger) (formrelay.StatsStore, func(), error) {
	if cfg.StatsRedisAddr == "" {
		return formrelay.NewMemoryStatsStore(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.StatsRedisAddr,
		Password: cfg.StatsRedisPassword,
		DB:       cfg.StatsRedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		logger.Warn("stats redis unreachable, falling back to memory", zap.String("addr", cfg.StatsRedisAddr), zap.Error(err))
		return formrelay.NewMemoryStatsStore(), func() {}, nil
	}

	logger.Info("recording submission stats in redis", zap.String("addr", cfg.StatsRedisAddr), zap.String("prefix", cfg.StatsPrefix))
	return formrelay.NewRedisStatsStore(rdb, formrelay.WithStatsPrefix(cfg.StatsPrefix)), func() { _ = rdb.Close() }, nil
}
