package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cravekart/internal/broker/rabbitmq"
	"github.com/xenking/cravekart/internal/domain/checkout"
	"github.com/xenking/cravekart/internal/domain/offer"
	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/events"
	"github.com/xenking/cravekart/internal/handler"
	"github.com/xenking/cravekart/internal/provider/mock"
	"github.com/xenking/cravekart/internal/provider/resilience"
	"github.com/xenking/cravekart/internal/provider/stripe"
	"github.com/xenking/cravekart/internal/storage/memory"
	"github.com/xenking/cravekart/internal/storage/postgres"
	redisstore "github.com/xenking/cravekart/internal/storage/redis"
	"github.com/xenking/cravekart/pkg/health"
	"github.com/xenking/cravekart/pkg/httpmiddleware"
)

const (
	// warmUpEvents is how many recent webhook event ids seed the dedup filter.
	warmUpEvents = 10_000
	// sessionEvictInterval bounds how long expired in-memory sessions linger.
	sessionEvictInterval = time.Minute
)

// Run creates all dependencies, starts the HTTP server and the payment
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("payment_provider", cfg.Payment.Provider),
		zap.String("session_store", cfg.Session.Store),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.Add(health.Liveness, "runtime", time.Second, health.RuntimeCheck(health.RuntimeLimits{
		Goroutines: 10000,
		GCPause:    time.Second,
	}))

	// Repositories.
	userRepo := postgres.NewUserRepository(pool)
	shopRepo := postgres.NewShopRepository(pool)
	foodRepo := postgres.NewFoodItemRepository(pool)
	offerRepo := postgres.NewOfferRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)

	// Event publishing.
	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := rabbitmq.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "connect broker")
		}
		defer func() { _ = p.Close() }()
		// Publishing is best-effort, a broker outage only degrades.
		healthSvc.Add(health.Readiness, "amqp", time.Second, health.PingCheck("amqp", p), health.Optional())
		publisher = p
	} else {
		lg.Warn("AMQP URL not set, domain events are discarded")
	}

	// Domain services.
	pricingCfg, err := cfg.Pricing.Config()
	if err != nil {
		return err
	}
	orderService, err := order.NewService(
		order.NewValidator(userRepo, shopRepo, foodRepo),
		pricing.NewCalculator(pricingCfg),
		offer.NewRepoValidator(offerRepo),
		orderRepo,
		order.WithMeterProvider(m.MeterProvider()),
		order.WithPublisher(publisher),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	provider := newProvider(cfg, lg)
	healthSvc.Add(health.Readiness, "payment_provider", time.Second, health.PingCheck("payment_provider", provider),
		health.Optional(), health.Thresholds(1, 1))
	coordinator, err := payment.NewCoordinator(
		payment.Config{
			Currency:         cfg.Payment.Currency,
			PendingTTL:       cfg.Sweep.PendingTTL,
			SweepBatch:       cfg.Sweep.Batch,
			SweepConcurrency: cfg.Sweep.Concurrency,
			ExpectedEvents:   payment.DefaultConfig().ExpectedEvents,
		},
		orderService,
		paymentRepo,
		provider,
		payment.WithPublisher(publisher),
		payment.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create payment coordinator")
	}
	if err := coordinator.WarmUp(ctx, warmUpEvents); err != nil {
		// The database check still deduplicates; the filter only saves lookups.
		lg.Warn("Webhook filter warm-up failed", zap.Error(err))
	}

	store, closeStore, err := newSessionStore(ctx, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeStore()

	orchestrator := checkout.NewOrchestrator(store, userRepo, foodRepo, orderService, coordinator)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{Development: cfg.Development},
		handler.Deps{
			Orders:   orderService,
			Payments: coordinator,
			Webhooks: provider,
			Checkout: orchestrator,
			Users:    userRepo,
			Shops:    shopRepo,
			Foods:    foodRepo,
		},
	)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payment.Timeout*time.Duration(cfg.Payment.Retries+1) + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Routes(),
			httpmiddleware.Recovery(m.MeterProvider()),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "Idempotency-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Rules: []httpmiddleware.RateRule{
					{
						Name:   "mutations",
						Max:    cfg.RateLimit.MutationMax,
						Window: cfg.RateLimit.Window,
						Match: httpmiddleware.MethodPrefix(
							[]string{http.MethodPost, http.MethodPatch, http.MethodPut},
							"/api/orders", "/api/checkout", "/api/payments",
						),
					},
					{Name: "default", Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window},
				},
				KeyFunc: httpmiddleware.ClientIP(cfg.RateLimit.TrustProxy),
				Skip:    skipRateLimit,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("cravekart-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coordinator.RunSweeps(gCtx, cfg.Sweep.Interval)
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newProvider builds the configured payment provider behind the circuit
// breaker and retry.
func newProvider(cfg *Config, lg *zap.Logger) *resilience.Provider {
	rcfg := resilience.DefaultConfig()
	rcfg.MaxRequests = cfg.Breaker.MaxRequests
	rcfg.Interval = cfg.Breaker.Interval
	rcfg.Timeout = cfg.Breaker.Timeout
	rcfg.MinRequests = cfg.Breaker.MinRequests
	rcfg.FailureRatio = cfg.Breaker.FailureRatio
	rcfg.Retries = cfg.Payment.Retries
	rcfg.CallTimeout = cfg.Payment.Timeout

	if cfg.Payment.Provider == "stripe" {
		client := stripe.New(stripe.Config{
			SecretKey:     cfg.Payment.StripeSecretKey,
			WebhookSecret: cfg.Payment.WebhookSecret,
			BaseURL:       cfg.Payment.BaseURL,
			Timeout:       cfg.Payment.Timeout,
		})
		return resilience.Wrap(client, rcfg, stripe.IsRetryable, lg.Named("stripe"))
	}
	lg.Warn("Using mock payment provider", zap.Bool("auto_succeed", cfg.Payment.MockAutoSucceed))
	return resilience.Wrap(mock.New(cfg.Payment.MockAutoSucceed, cfg.Payment.WebhookSecret), rcfg, nil, lg.Named("mock"))
}

// newSessionStore builds the configured checkout session store. The returned
// func releases its connection.
func newSessionStore(ctx context.Context, cfg *Config, healthSvc *health.Health) (checkout.Store, func(), error) {
	if cfg.Session.Store != "redis" {
		store := memory.NewSessionStore(cfg.Session.TTL)
		if cfg.Session.TTL <= 0 {
			return store, func() {}, nil
		}
		evictCtx, stop := context.WithCancel(ctx)
		go store.RunEviction(evictCtx, min(cfg.Session.TTL, sessionEvictInterval))
		return store, stop, nil
	}
	rdb, err := redisstore.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect redis")
	}
	healthSvc.Add(health.Readiness, "redis", time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	return redisstore.NewSessionStore(rdb, cfg.Session.TTL), func() { _ = rdb.Close() }, nil
}

// skipRateLimit exempts probes and provider webhooks, which arrive in bursts
// from a few addresses.
func skipRateLimit(r *http.Request) bool {
	switch r.URL.Path {
	case "/livez", "/readyz", "/api/payments/webhook":
		return true
	}
	return false
}
