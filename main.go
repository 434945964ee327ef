package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"loginsight/internal/alert"
	"loginsight/internal/config"
	"loginsight/internal/counter"
	"loginsight/internal/db"
	"loginsight/internal/http/handlers"
	appmw "loginsight/internal/http/middleware"
	"loginsight/internal/ingest"
	"loginsight/internal/keys"
	"loginsight/internal/logger"
	"loginsight/internal/metrics"
	"loginsight/internal/notify"
	"loginsight/internal/query"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	store := db.NewStore(sqlDB, cfg.StoreTimeout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var counters counter.Store = store
	if cfg.CounterBackend == "redis" {
		rdb, err := counter.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
		ttl := time.Duration(cfg.RetentionDays) * 24 * time.Hour
		counters = counter.NewRedis(rdb, ttl, cfg.StoreTimeout)
	}

	db.StartRetentionWorker(ctx, store, log)

	if err := db.EnsureBootstrapProject(ctx, store, cfg, log); err != nil {
		log.Fatal("failed to ensure bootstrap project", zap.Error(err))
	}

	keySvc := keys.NewService(store, log)

	evaluator := alert.NewEvaluator(store, counters, cfg.BucketWidthMinutes, m, log)
	queue := alert.NewQueue(evaluator, cfg.AlertQueueSize, cfg.AlertWorkers, m, log)
	go func() { _ = queue.Run(ctx) }()

	var notifier alert.Notifier = notify.NewWebhook(cfg.SMSGatewayURL, log)
	if cfg.Notifier == "log" {
		notifier = notify.NewLog(log)
	}
	dispatcher := alert.NewDispatcher(store, notifier, cfg.DispatchInterval, cfg.NotifyTimeout, m, log)
	go dispatcher.Run(ctx)

	writer := ingest.NewWriter(store, counters, queue, cfg, m, log)
	engine := query.NewEngine(store, counters, cfg.BucketWidthMinutes, cfg.MaxPageSize)

	r := router.New()
	r.SaveMatchedRoutePath = true

	internalURL := "http://localhost" + cfg.ListenAddr + "/v1/events"
	if cfg.ListenAddr != "" && cfg.ListenAddr[0] != ':' {
		internalURL = "http://" + cfg.ListenAddr + "/v1/events"
	}

	// Global middleware chain: request logger, then internal reporting, then router
	handler := appmw.RequestLogger(log, m)(appmw.InternalReporting(cfg, internalURL, log)(r.Handler))

	session := appmw.SessionAuth(store)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.MetricsHandler(reg))
	r.GET("/v1/metrics", handlers.ProjectMetricsHandler(keySvc, reg))

	r.POST("/v1/events", appmw.BearerAuth(keySvc)(handlers.IngestHandler(writer)))
	r.GET("/v1/events", session(handlers.EventsQuery(engine, store, cfg)))
	r.GET("/v1/events/{id}", session(handlers.EventDetail(store, store)))
	r.GET("/v1/buckets", session(handlers.BucketSeries(engine, store, cfg)))
	r.GET("/v1/alerts", session(handlers.AlertsList(store, store)))

	r.POST("/v1/projects/{projectId}/keys", session(handlers.CreateAPIKey(keySvc, store)))
	r.POST("/v1/keys/{keyId}/regenerate", session(handlers.RegenerateAPIKey(keySvc, store, cfg)))
	r.POST("/v1/keys/{keyId}/revoke", session(handlers.RevokeAPIKey(keySvc, store, cfg)))

	server := &fasthttp.Server{
		Handler:      handler,
		Name:         "loginsight",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("loginsight listening", zap.String("addr", cfg.ListenAddr))
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
