// Command server runs the betledger billing service: the Stripe webhook
// endpoint that maintains entitlement records, plus the read API the
// application uses to gate paid features.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/betledger/internal/config"
	"github.com/mihaimyh/betledger/pkg/billing"
	prommetrics "github.com/mihaimyh/betledger/pkg/billing/metrics/prometheus"
	stripeprovider "github.com/mihaimyh/betledger/pkg/billing/stripe"
	"github.com/mihaimyh/betledger/pkg/entitlement"
	zerologadapter "github.com/mihaimyh/betledger/pkg/entitlement/logger/zerolog"
	"github.com/mihaimyh/betledger/storage/postgres"
	"github.com/mihaimyh/betledger/storage/rediscache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	pgStore, err := postgres.New(startCtx, pgConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pgStore.Close()

	var store entitlement.Store = pgStore
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		cacheConfig := rediscache.DefaultConfig()
		cacheConfig.Logger = zerologadapter.NewLogger(logger)
		store, err = rediscache.New(pgStore, redisClient, cacheConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("create entitlement cache")
		}
		logger.Info().Msg("entitlement cache enabled")
	}

	manager, err := entitlement.NewManager(store, &entitlement.Config{
		Logger: zerologadapter.NewLogger(logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create entitlement manager")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Config: billing.Config{
			Manager: manager,
			Logger:  zerologadapter.NewLogger(logger),
			Metrics: prommetrics.NewMetrics(registry, cfg.MetricsNamespace),
		},
		StripeAPIKey:        cfg.StripeAPIKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create stripe provider")
	}
	if cfg.StripeWebhookSecret == "" {
		logger.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, webhook endpoint will answer 500")
	}

	router := newRouter(cfg, logger, manager, provider, registry)

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out zerolog.Logger
	if cfg.AppEnv == "development" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		out = zerolog.New(os.Stderr)
	}
	return out.Level(level).With().Timestamp().Str("service", "betledger").Logger()
}

func newRouter(
	cfg *config.Config,
	logger zerolog.Logger,
	manager *entitlement.Manager,
	provider *stripeprovider.Provider,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodPost, "/webhooks/stripe", provider.WebhookHandler())

	r.Post("/v1/checkout", handleCheckout(cfg, logger, provider))
	r.Get("/v1/entitlements/{email}", handleGetEntitlement(manager))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := manager.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func handleCheckout(cfg *config.Config, logger zerolog.Logger, provider *stripeprovider.Provider) http.HandlerFunc {
	type request struct {
		Email string `json:"email"`
	}
	type response struct {
		URL string `json:"url"`
	}

	return func(w http.ResponseWriter, req *http.Request) {
		var body request
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		url, err := provider.CheckoutURL(req.Context(), body.Email,
			cfg.StripePriceID, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
		if err != nil {
			if errors.Is(err, entitlement.ErrInvalidEmail) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "valid email is required"})
				return
			}
			logger.Error().Err(err).Msg("create checkout session")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create checkout session"})
			return
		}

		writeJSON(w, http.StatusOK, response{URL: url})
	}
}

func handleGetEntitlement(manager *entitlement.Manager) http.HandlerFunc {
	type response struct {
		Email              string     `json:"email"`
		IsPaid             bool       `json:"isPaid"`
		PaymentStatus      string     `json:"paymentStatus,omitempty"`
		PaidAt             *time.Time `json:"paidAt,omitempty"`
		SubscriptionStatus string     `json:"subscriptionStatus,omitempty"`
		CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
		CancelAtPeriodEnd  *bool      `json:"cancelAtPeriodEnd,omitempty"`
		UpdatedAt          time.Time  `json:"updatedAt"`
	}

	return func(w http.ResponseWriter, req *http.Request) {
		email := chi.URLParam(req, "email")

		rec, err := manager.Get(req.Context(), email)
		switch {
		case errors.Is(err, entitlement.ErrRecordNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no entitlement record"})
		case errors.Is(err, entitlement.ErrInvalidEmail):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "valid email is required"})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		default:
			writeJSON(w, http.StatusOK, response{
				Email:              rec.Email,
				IsPaid:             rec.IsPaid,
				PaymentStatus:      rec.PaymentStatus,
				PaidAt:             rec.PaidAt,
				SubscriptionStatus: rec.SubscriptionStatus,
				CurrentPeriodEnd:   rec.CurrentPeriodEnd,
				CancelAtPeriodEnd:  rec.CancelAtPeriodEnd,
				UpdatedAt:          rec.UpdatedAt,
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
