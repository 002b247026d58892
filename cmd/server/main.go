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
	"time"

	"github.com/cadencehq/cadence/internal"
	"github.com/cadencehq/cadence/internal/auth"
	"github.com/cadencehq/cadence/internal/billing"
	"github.com/cadencehq/cadence/internal/email"
	"github.com/cadencehq/cadence/internal/handler"
	"github.com/cadencehq/cadence/internal/handler/webhook"
	"github.com/cadencehq/cadence/internal/jobs"
	"github.com/cadencehq/cadence/internal/middleware"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/cadencehq/cadence/internal/router"
	"github.com/cadencehq/cadence/internal/service"
	"github.com/cadencehq/cadence/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.Enabled,
		Environment: cfg.Sentry.Environment,
		SampleRate:  cfg.Sentry.SampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize repository
	repo := repository.New(pool)

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	billingProvider := billing.NewStripeProvider(billing.StripeProviderConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		CallTimeout:   time.Duration(cfg.Stripe.TimeoutSeconds) * time.Second,
		Logger:        logger,
	})

	// Initialize email notifier
	smtpSender := email.NewSMTPSender(&email.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     int(cfg.Email.Port),
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
	})
	notifier, err := email.NewService(smtpSender, cfg.Email.From, cfg.Email.FromName)
	if err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}

	// Business metrics
	businessMetrics := telemetry.NewBusinessMetrics("cadence")

	// Initialize services
	tokenService := auth.NewService(repo)
	resolver := service.NewIdentityResolver(repo, billingProvider, logger)
	invoiceService := service.NewInvoiceService(service.InvoiceServiceDeps{
		Repo:            repo,
		Resolver:        resolver,
		BillingProvider: billingProvider,
		Notifier:        notifier,
		Metrics:         businessMetrics,
		Logger:          logger,
		BaseURL:         cfg.BaseURL,
	})
	reconciler := service.NewReconciler(service.ReconcilerDeps{
		Repo:     repo,
		Notifier: notifier,
		Metrics:  businessMetrics,
		Logger:   logger,
	})

	// Initialize handlers
	billingHandler := handler.NewBillingHandler(invoiceService, logger)
	stripeWebhookHandler := webhook.NewStripeHandler(billingProvider, reconciler, businessMetrics, logger, webhook.StripeWebhookConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
	})

	// HTTP metrics
	httpMetrics := middleware.NewMetrics("cadence")

	// Create router with global middleware
	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		httpMetrics.Middleware,
		router.CORS(cfg.CORSOrigins),
		middleware.WithActor(tokenService),
		middleware.WithRequestLogger(logger),
	)

	// Metrics endpoint (protect via firewall in production)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		httpMetrics.Handler().ServeHTTP(w, req)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Payer-facing operations
	r.Post("/api/v1/payments/setup-intent", billingHandler.CreateSetupIntent)
	r.Post("/api/v1/payments/methods", billingHandler.GetPaymentMethods)
	r.Post("/api/v1/payments", billingHandler.ProcessImmediatePayment)
	r.Post("/api/v1/invoices/artifacts", billingHandler.CreateArtifact)

	// Authenticated invoice operations
	r.Get("/api/v1/invoices/{id}", billingHandler.GetInvoice, middleware.RequireAuth)
	r.Post("/api/v1/invoices/hosted", billingHandler.CreateHostedInvoice, middleware.RequireAuth)
	r.Post("/api/v1/invoices/checkout-link", billingHandler.CreateCheckoutLink, middleware.RequireAuth)
	r.Post("/api/v1/invoices/pay", billingHandler.PayHostedInvoice, middleware.RequireAuth)
	r.Post("/api/v1/invoices/mark-paid", billingHandler.MarkInvoicePaid, middleware.RequireAuth)

	// Webhooks
	r.Post("/webhooks/stripe", stripeWebhookHandler.HandleWebhook)

	// Start the reminder worker
	if cfg.Reminders.Enabled {
		reminderWorker := jobs.NewReminderWorker(invoiceService, notifier, businessMetrics, logger, jobs.ReminderConfig{
			PollInterval: cfg.Reminders.Interval,
			DueWithin:    time.Duration(cfg.Reminders.DaysBefore) * 24 * time.Hour,
			BaseURL:      cfg.BaseURL,
		})
		go func() {
			if err := reminderWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reminder worker stopped", "error", err)
			}
		}()
	}

	// Start server with graceful shutdown
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
