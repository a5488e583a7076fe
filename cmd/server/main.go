package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ananyav-dev/coursepulse/internal/api"
	"github.com/ananyav-dev/coursepulse/internal/circuitbreaker"
	"github.com/ananyav-dev/coursepulse/internal/config"
	"github.com/ananyav-dev/coursepulse/internal/db"
	"github.com/ananyav-dev/coursepulse/internal/dispatch"
	"github.com/ananyav-dev/coursepulse/internal/eligibility"
	"github.com/ananyav-dev/coursepulse/internal/metrics"
	"github.com/ananyav-dev/coursepulse/internal/observ"
	"github.com/ananyav-dev/coursepulse/internal/redis"
	"github.com/ananyav-dev/coursepulse/internal/scheduler"
	"github.com/ananyav-dev/coursepulse/internal/sender"
	"github.com/ananyav-dev/coursepulse/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting coursepulse notifier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("transport", cfg.Transport),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for opt-out preferences and rate limiting. The
	// engine keeps working without it: opt-outs fail open, the admin
	// surface loses rate limiting.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, opt-out preferences and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var prefs *redis.PreferenceService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		prefs = redis.NewPreferenceService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per client IP
		})
		defer redisClient.Close()
	}

	// Outbound email transport
	var emailSender sender.Sender
	switch cfg.Transport {
	case "resend":
		emailSender = sender.NewResendSender(sender.ResendConfig{
			BaseURL:   cfg.ResendBaseURL,
			APIKey:    cfg.ResendAPIKey,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
		}, logger)
	case "ses":
		sesSender, err := sender.NewSESSender(ctx, sender.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.FromEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES email sender: %w", err)
		}
		emailSender = sesSender
	default:
		emailSender = sender.NewLogSender(logger)
	}

	// Wrap the transport in a circuit breaker so a provider outage
	// degrades into ordinary per-recipient failures.
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            cfg.Transport,
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}, logger)
	protected := circuitbreaker.NewProtectedSender(emailSender, breaker, logger)

	// Eligibility selection, dispatch and the scheduler around them.
	// prefs may be a typed nil here; pass the interface only when the
	// service exists.
	var selectorPrefs eligibility.Preferences
	if prefs != nil {
		selectorPrefs = prefs
	}
	selector := eligibility.New(repo, selectorPrefs, eligibility.Config{
		InactiveAfterDays: cfg.InactiveAfterDays,
		CooldownDays:      cfg.CooldownDays,
	}, logger)

	dispatcher := dispatch.New(protected, dispatch.NewPlainRenderer(), repo, repo, logger)

	sched := scheduler.New(repo, selector, dispatcher, scheduler.Config{
		NotificationType: db.TypeInactivityReminder,
	}, logger)

	// Optional in-process cron trigger. Most deployments drive the run
	// endpoint from an external scheduler instead.
	if cfg.CronSpec != "" {
		c, err := scheduler.StartCron(cfg.CronSpec, sched, logger)
		if err != nil {
			return fmt.Errorf("failed to start cron trigger: %w", err)
		}
		defer c.Stop()
		logger.Info("in-process cron trigger started", zap.String("spec", cfg.CronSpec))
	}

	webhookHandler := webhook.NewHandler(repo, cfg.WebhookSecret, logger)
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook signing secret not set, inbound events will not be verified")
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	var apiPrefs api.Preferences
	if prefs != nil {
		apiPrefs = prefs
	}
	handler := api.NewHandler(logger, sched, repo, repo, apiPrefs, cfg.CronSecret, cfg.Env)

	// Scheduler trigger, hit by the platform cron
	r.Get("/jobs/notifications/run", handler.RunNotifications)

	// Provider delivery events
	r.Post("/webhooks/email", webhookHandler.HandleEvent)
	r.Get("/webhooks/email", webhookHandler.Live)

	// Admin surface
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Get("/config", handler.GetConfig)
		r.Patch("/config", handler.UpdateConfig)
		r.Post("/config/reset-counter", handler.ResetDailyCounter)

		r.Get("/deliveries", handler.ListDeliveries)
		r.Get("/deliveries/{id}", handler.GetDelivery)

		r.Put("/users/{id}/optout/{type}", handler.OptOut)
		r.Delete("/users/{id}/optout/{type}", handler.OptIn)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
