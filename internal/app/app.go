package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/dealhound/dealhound/internal/api"
	"github.com/dealhound/dealhound/internal/cache"
	"github.com/dealhound/dealhound/internal/domain/deals"
	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/product"
	"github.com/dealhound/dealhound/internal/domain/suggest"
	"github.com/dealhound/dealhound/internal/events"
	"github.com/dealhound/dealhound/internal/provider/serpapi"
	"github.com/dealhound/dealhound/internal/repository"
	"github.com/dealhound/dealhound/pkg/health"
	"github.com/dealhound/dealhound/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	dealCacheRepo := repository.NewDealCacheRepository(pool)
	historyRepo := repository.NewHistoryRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Product resolver with a warm known-name filter. Warming is best-effort:
	// without it every new name costs one extra lookup.
	resolver := product.NewResolver(productRepo)
	if err := resolver.WarmKnownNames(ctx); err != nil {
		lg.Warn("Known-name filter warmup failed", zap.Error(err))
	}

	// Shopping search provider.
	fetcher := serpapi.New(serpapi.Config{
		APIKey:         cfg.Provider.APIKey,
		BaseURL:        cfg.Provider.BaseURL,
		GoogleDomain:   cfg.Provider.GoogleDomain,
		Country:        cfg.Provider.Country,
		Language:       cfg.Provider.Language,
		FetchCount:     cfg.Provider.FetchCount,
		Timeout:        cfg.Provider.Timeout,
		AllowedSources: cfg.Sources.Allowed,
	})

	dealOpts := []deals.Option{
		deals.WithEntryTTL(cfg.Limits.CacheTTL),
		deals.WithFeaturedLimit(cfg.Limits.Featured),
		deals.WithMetrics(mustMetrics(m)),
		deals.WithTracer(m.TracerProvider().Tracer("dealhound/deals")),
	}

	// Optional Redis fast path; the suggestion cache falls back to an
	// in-process LRU when Redis is not configured.
	var suggestCache suggest.Cache = cache.NewSuggestLRU(cfg.Limits.SuggestTTL)
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL, cfg.Limits.CacheTTL, cfg.Limits.SuggestTTL)
		if err != nil {
			return errors.Wrap(err, "create redis cache")
		}
		defer func() { _ = redisCache.Close() }()
		healthSvc.AddReadinessCheck("redis", 5*time.Second, health.PingCheck(redisCache))
		dealOpts = append(dealOpts, deals.WithFastCache(redisCache))
		suggestCache = redisCache
	}

	// Optional Kafka search event publishing.
	if cfg.Kafka.Broker != "" {
		publisher := events.NewPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic)
		defer func() { _ = publisher.Close() }()
		dealOpts = append(dealOpts, deals.WithEvents(publisher))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	freshness := offer.NewFreshness(cfg.Sources.Cadences)
	dealService := deals.NewService(
		resolver,
		dealCacheRepo,
		historyRepo,
		fetcher,
		freshness,
		deals.Limits{
			Anonymous:     cfg.Limits.AnonymousBatch,
			Authenticated: cfg.Limits.AuthenticatedBatch,
		},
		dealOpts...,
	)
	suggestService := suggest.NewService(productRepo, suggestCache)

	// HTTP surface: health endpoints + API routes on one server.
	h := api.NewHandler(dealService, suggestService)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	var handler http.Handler = otelhttp.NewHandler(mux, "dealhound-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(handler,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "api_key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:         cfg.RateLimit.Max,
				Window:      cfg.RateLimit.Window,
				ExemptPaths: []string{"/livez", "/readyz"},
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			api.APIKeyAuth(apikeyRepo, cfg.APIKeyPepper),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func mustMetrics(m *app.Telemetry) *deals.Metrics {
	metrics, err := deals.NewMetrics(m.MeterProvider().Meter("dealhound/deals"))
	if err != nil {
		// Metric registration only fails on duplicate instrument names,
		// which would be a programming error. Resolution keeps working
		// without counters.
		return nil
	}
	return metrics
}
