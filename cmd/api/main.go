package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/qtybreak/internal/catalog"
	"github.com/noah-isme/qtybreak/internal/config"
	"github.com/noah-isme/qtybreak/internal/discount"
	"github.com/noah-isme/qtybreak/internal/health"
	"github.com/noah-isme/qtybreak/internal/migrations"
	"github.com/noah-isme/qtybreak/internal/obs"
	"github.com/noah-isme/qtybreak/internal/ratelimit"
	"github.com/noah-isme/qtybreak/internal/resilience"
	"github.com/noah-isme/qtybreak/internal/security"
)

const serviceName = "qtybreak-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool := connectDatabase(ctx, cfg, logger)
	if pool != nil {
		defer pool.Close()
	}
	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	source, err := buildSource(cfg, pool, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tier source")
	}

	evaluator := &discount.Evaluator{
		Source:            source,
		Logger:            logger,
		CombineQuantities: cfg.CombineQuantities,
		Concurrency:       cfg.Concurrency,
		Mode:              discount.ValueMode(cfg.DiscountValueMode),
	}
	discountHandler := &discount.Handler{Evaluator: evaluator, Source: source, Logger: logger}

	quoteLimiter, err := ratelimit.New(redisClient, cfg.QuoteRateLimit, "qtybreak:ratelimit:quote:")
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.QuoteRateLimit).Msg("initialise quote rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	router := newRouter(routerConfig{
		Logger:      logger,
		Discounts:   discountHandler,
		Health:      health.Handler{Checker: readinessChecker{db: pool, redis: redisClient}},
		HTTPMetrics: httpMetrics,
		Metrics:     cfg.Obs.MetricsEnabled,
		Tracing:     tracingEnabled,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Pprof:       cfg.Obs.PprofEnabled,
		PprofUser:   cfg.Obs.PprofUser,
		PprofPass:   cfg.Obs.PprofPass,
		MaxBody:     cfg.MaxBodyBytes,
		Headers:     security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTSEnabled},
		QuoteLimit:  quoteLimiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Bool("database", pool != nil).
			Bool("redis", redisClient != nil).
			Bool("combine_quantities", cfg.CombineQuantities).
			Str("value_mode", cfg.DiscountValueMode).
			Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-sigCtx.Done():
		health.SetReady(false)
		logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("server draining")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
		logger.Info().Msg("server stopped")
	}
}

func connectDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		return nil
	}
	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = serviceName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func connectRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("ping redis; tier cache will fall through until it recovers")
	}
	return client
}

// buildSource layers the tier record sources: cached, breaker-guarded Postgres
// first, then fixtures.
func buildSource(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger zerolog.Logger) (catalog.Chain, error) {
	var chain catalog.Chain
	if pool != nil {
		breaker := resilience.NewBreaker(cfg.Breaker.MinRequests, cfg.Breaker.FailureRatio, cfg.Breaker.OpenFor).
			WithTarget("tier_postgres").
			WithLogger(logger)
		var src catalog.Source = catalog.Guarded{Next: catalog.PGSource{DB: pool}, Breaker: breaker}
		if redisClient != nil {
			src = catalog.Cached{
				Next:   src,
				Cache:  catalog.NewCache(redisClient, cfg.TierCacheTTL),
				Prefix: cfg.TierCachePrefix,
			}
		}
		chain = append(chain, src)
	}
	if cfg.TierFixturesPath != "" {
		fixtures, err := catalog.LoadFixtures(cfg.TierFixturesPath)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fixtures)
	}
	return chain, nil
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return health.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return health.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}
