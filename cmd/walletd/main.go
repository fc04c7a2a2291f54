package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/apikey"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/cache"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/nats"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	ledgerapi "github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/api"
	ledgerstore "github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/store"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/outbox"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/payment"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/chapa"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/flutterwave"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/monnify"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/paystack"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/recon"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/virtualaccount"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/webhook"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/migrations"
)

// Config holds service configuration
type Config struct {
	Port            int            `envconfig:"PORT" default:"8085"`
	Environment     string         `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel        string         `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string         `envconfig:"LOG_FORMAT" default:"json"`
	AdminAPIKey     string         `envconfig:"ADMIN_API_KEY"`
	AllowedOrigins  []string       `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	DefaultCurrency money.Currency `envconfig:"DEFAULT_CURRENCY" default:"NGN"`

	TopUpProcessor          providers.Name `envconfig:"TOPUP_PROCESSOR" default:"flutterwave"`
	WithdrawalProcessor     providers.Name `envconfig:"WITHDRAWAL_PROCESSOR" default:"flutterwave"`
	VirtualAccountProcessor providers.Name `envconfig:"VIRTUAL_ACCOUNT_PROCESSOR" default:"flutterwave"`
	BankResolverProcessor   providers.Name `envconfig:"BANK_RESOLVER_PROCESSOR" default:"flutterwave"`
	WithdrawalCallbackURL   string         `envconfig:"WITHDRAWAL_CALLBACK_URL"`
	WithdrawalNarration     string         `envconfig:"WITHDRAWAL_NARRATION" default:"Glowtek Pay payout"`

	Database    database.Config
	NATS        nats.Config
	Cache       cache.Config
	Outbox      outbox.Config
	Recon       recon.Config
	Paystack    paystack.Config
	Flutterwave flutterwave.Config
	Monnify     monnify.Config
	Chapa       chapa.Config
}

func main() {
	// A local .env is optional
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(migrations.FS, cfg.Database.URL, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := cache.NewClient(ctx, cfg.Cache, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	if _, err := natsClient.EnsureStream(ctx, nats.EventStreamConfig(cfg.NATS)); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := setupRegistry(cfg, m, logger)

	// Stores
	ledgerStore := ledgerstore.New(db, cfg.Database.RetryAttempts)
	merchantStore := merchant.NewPostgresStore(db)
	paymentStore := payment.NewPostgresStore(db, cfg.Database.RetryAttempts)
	withdrawalStore := withdrawal.NewPostgresStore(db, cfg.Database.RetryAttempts)
	accountStore := virtualaccount.NewPostgresStore(db)
	activityLog := activity.NewLog(activity.NewPostgresStore(db), logger)

	// Services
	ledgerService := ledger.NewService(ledgerStore, cfg.DefaultCurrency, m, logger)
	merchantService := merchant.NewService(merchantStore, registry, cfg.BankResolverProcessor, activityLog, logger)
	keyService := apikey.NewService(apikey.NewPostgresStore(db), activityLog, logger)
	paymentService := payment.NewService(paymentStore, merchantStore, registry, payment.Config{
		TopUpProcessor:  cfg.TopUpProcessor,
		DefaultCurrency: cfg.DefaultCurrency,
	}, m, logger)
	withdrawalService := withdrawal.NewService(withdrawalStore, merchantStore, registry, withdrawal.Config{
		Processor:   cfg.WithdrawalProcessor,
		CallbackURL: cfg.WithdrawalCallbackURL,
		Narration:   cfg.WithdrawalNarration,
	}, m, logger).WithActivity(activityLog)
	accountService := virtualaccount.NewService(accountStore, merchantStore, registry, cfg.VirtualAccountProcessor, logger)
	reconciler := webhook.NewReconciler(registry, ledgerStore, accountService, paymentService, withdrawalService, m, logger)
	reconService := recon.NewService(recon.NewPostgresStore(db), ledgerStore, withdrawalService, cfg.Recon, m, logger)
	relay := outbox.NewRelay(outbox.NewPostgresStore(db), nats.NewPublisher(natsClient, logger), cfg.Outbox, m, logger)

	// Handlers
	ledgerHandler := ledgerapi.NewHandler(ledgerService)
	merchantHandler := merchant.NewHandler(merchantService, logger)
	paymentHandler := payment.NewHandler(paymentService, logger)
	withdrawalHandler := withdrawal.NewHandler(withdrawalService, logger)
	accountHandler := virtualaccount.NewHandler(accountService, logger)
	webhookHandler := webhook.NewHandler(reconciler, logger)
	reconHandler := recon.NewHandler(reconService, logger)
	keyHandler := apikey.NewHandler(keyService, logger)
	activityHandler := activity.NewHandler(activityLog, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.ClientAddress)
	r.Use(middleware.MerchantExtractor)
	r.Use(middleware.Logger(logger))
	r.Use(m.Middleware)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := natsClient.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", metrics.Handler(reg))

	// Processor notifications are authenticated by signature, not by merchant
	webhookLimiter := cache.NewRateLimiter(redisClient, cfg.Cache.WebhookRateLimit, cfg.Cache.RateLimitWindow)
	r.With(middleware.RateLimit(webhookLimiter, func(r *http.Request) string {
		return "webhook:" + chi.URLParam(r, "processor") + ":" + middleware.ClientIP(r)
	})).Post("/webhook-{processor}", webhookHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.MerchantAPIKey(keyService.Validate))
			r.Use(middleware.RequireMerchant)
			r.Use(middleware.Idempotency(cache.NewIdempotencyStore(redisClient), cfg.Cache.IdempotencyTTL, logger))

			walletRoutes := ledgerHandler.Routes()
			walletRoutes.Post("/topup", paymentHandler.InitializeTopUp)
			walletRoutes.Get("/reconciliation", reconHandler.GetReport)
			r.Mount("/wallet", walletRoutes)

			r.Mount("/transactions", paymentHandler.Routes())
			r.Mount("/withdrawals", withdrawalHandler.Routes())
			r.Mount("/merchant", merchantHandler.Routes())
			r.Mount("/virtual-accounts", accountHandler.Routes())
			r.Mount("/activity", activityHandler.Routes())
		})

		// Issued secrets must not be kept in the idempotency cache
		r.Group(func(r chi.Router) {
			r.Use(middleware.MerchantAPIKey(keyService.Validate))
			r.Use(middleware.RequireMerchant)
			r.Mount("/api-keys", keyHandler.Routes())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(middleware.StaticAPIKey(cfg.AdminAPIKey, "admin")))
			r.Mount("/ledger", ledgerHandler.AdminRoutes())
			r.Mount("/withdrawals", withdrawalHandler.AdminRoutes())
			r.Mount("/merchants", merchantHandler.AdminRoutes())
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		reconService.Run(ctx)
	}()

	go func() {
		logger.Info("starting wallet service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"processors", registry.Names(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	workers.Wait()

	logger.Info("server stopped")
}

// setupRegistry registers every processor with credentials configured
func setupRegistry(cfg Config, m *metrics.Metrics, logger *slog.Logger) *providers.Registry {
	registry := providers.NewRegistry()
	if cfg.Paystack.SecretKey != "" {
		registry.Register(providers.Paystack, paystack.NewAdapter(cfg.Paystack, m, logger))
	}
	if cfg.Flutterwave.SecretKey != "" {
		registry.Register(providers.Flutterwave, flutterwave.NewAdapter(cfg.Flutterwave, m, logger))
	}
	if cfg.Monnify.APIKey != "" {
		registry.Register(providers.Monnify, monnify.NewAdapter(cfg.Monnify, m, logger))
	}
	if cfg.Chapa.SecretKey != "" {
		registry.Register(providers.Chapa, chapa.NewAdapter(cfg.Chapa, m, logger))
	}
	if len(registry.Names()) == 0 {
		logger.Warn("no payment processors configured")
	}
	return registry
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
