package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AfshinJalili/goinvest/libs/apikey"
	"github.com/AfshinJalili/goinvest/libs/health"
	"github.com/AfshinJalili/goinvest/libs/httpmiddleware"
	"github.com/AfshinJalili/goinvest/libs/kafka"
	"github.com/AfshinJalili/goinvest/libs/logging"
	"github.com/AfshinJalili/goinvest/libs/metrics"
	"github.com/AfshinJalili/goinvest/libs/trace"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/config"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/funding"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/handlers"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/investment"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/pricing"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/rate"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/service"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/settlement"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	walletMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	ready.AddCheck("storage", store.Ping)

	opts := service.Options{
		Store: store,
		Pricing: pricing.Options{
			CacheTTL:         cfg.Pricing.CacheTTL,
			CacheSize:        cfg.Pricing.CacheSize,
			FetchTimeout:     cfg.Pricing.FetchTimeout,
			BreakerThreshold: cfg.Pricing.BreakerThreshold,
			BreakerCooldown:  cfg.Pricing.BreakerCooldown,
		},
		Funding: funding.Options{
			CallTimeout: cfg.Collaborator.CallTimeout,
			CheckDelay:  cfg.Collaborator.CheckDelay,
		},
		Investment: investment.Options{
			MinLockDays:         cfg.Investment.MinLockDays,
			CancellationFeeRate: decimal.RequireFromString(cfg.Investment.CancellationFeeRate),
		},
		Worker: settlement.WorkerOptions{
			PollInterval: cfg.Scheduler.WorkerPoll,
			BatchSize:    cfg.Scheduler.BatchSize,
			MaxAttempts:  cfg.Scheduler.WorkerAttempts,
		},
		Schedules: service.Schedules{
			Reconcile: cfg.Scheduler.ReconcileSpec,
			Mature:    cfg.Scheduler.MatureSpec,
			Plans:     cfg.Scheduler.PlansSpec,
		},
		JobTimeout: cfg.Scheduler.JobTimeout,
		StaleAfter: cfg.Scheduler.StaleAfter,
		BatchSize:  cfg.Scheduler.BatchSize,
	}
	if cfg.Pricing.BaseURL != "" {
		opts.PriceSource = pricing.NewHTTPSource(cfg.Pricing.BaseURL, cfg.Pricing.APIKey, cfg.Pricing.FetchTimeout)
	}

	var limiter httpmiddleware.Limiter = rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.MaxKeys)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		ready.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		limiter = rate.NewRedisLimiter(rdb, cfg.RateLimit.Limit, cfg.RateLimit.Window, "invest:rl:")
		opts.Queue = settlement.NewRedisQueue(rdb, "invest:settlement")
		if cfg.Pricing.SharedCache {
			opts.SharedPrices = pricing.NewRedisCache(rdb, "invest:price:", cfg.Pricing.CacheTTL)
		}
	}

	var consumerGroup *kafka.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		opts.Publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)

		consumerGroup, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter).WithMaxAttempts(cfg.Kafka.MaxAttempts)
		defer consumerGroup.Close()
	}

	app, err := service.NewApp(ctx, opts, logger, walletMetrics)
	if err != nil {
		logger.Error("wallet init failed", "error", err)
		os.Exit(1)
	}

	gateways, err := webhookKeys(cfg.Webhook)
	if err != nil {
		logger.Error("webhook keys invalid", "error", err)
		os.Exit(1)
	}

	handler := handlers.New(handlers.Deps{
		Wallets:      app.Ledger,
		Prices:       app.Prices,
		Funding:      app.Funding,
		Transactions: app.Transactions,
		Investments:  app.Investments,
		Operations:   app,
	}, logger)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router, handlers.Routes{
		JWTSecret: []byte(cfg.JWTSecret),
		Limiter:   limiter,
		Gateways:  gateways,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	app.Start(runCtx)

	ready.SetReady(true)

	go func() {
		logger.Info("wallet http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if consumerGroup != nil {
		go func() {
			logger.Info("wallet consumer starting", "topic", cfg.Kafka.Topics.PaymentsConfirmed)
			if err := consumerGroup.Consume(runCtx, []string{cfg.Kafka.Topics.PaymentsConfirmed}, app.Payments); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	waitForShutdown(httpServer, ready, runCancel, app, cfg.App.HTTP.ShutdownTimeout, logger)
}

// openStore returns Postgres when a database host is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.Store, func(), error) {
	dsn := cfg.DB.DSN()
	if dsn == "" {
		logger.Warn("no database configured, using in-memory storage")
		return storage.NewMemory(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := storage.NewPostgres(pool, logger)
	if cfg.DB.Migrate {
		if err := store.Migrate(connectCtx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, pool.Close, nil
}

func webhookKeys(cfg config.WebhookConfig) (apikey.StaticLookup, error) {
	if err := apikey.ValidateIPWhitelist(cfg.AllowedIPs); err != nil {
		return nil, err
	}
	lookup := apikey.StaticLookup{}
	for _, key := range cfg.APIKeys {
		_, prefix, secret, err := apikey.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("webhook key: %w", err)
		}
		lookup[prefix] = apikey.Record{
			Prefix:      prefix,
			KeyHash:     apikey.Hash(prefix, secret),
			Gateway:     prefix,
			Scopes:      []string{apikey.ScopePaymentsNotify},
			IPWhitelist: cfg.AllowedIPs,
		}
	}
	return lookup, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, app *service.App, timeout time.Duration, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancelTimeout := context.WithTimeout(context.Background(), timeout)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	app.Stop()
	logger.Info("shutdown complete")
}
