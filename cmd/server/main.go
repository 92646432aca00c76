package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/stock-reserve/internal/adapter/handler"
	"github.com/rl1809/stock-reserve/internal/adapter/storage"
	"github.com/rl1809/stock-reserve/internal/config"
	"github.com/rl1809/stock-reserve/internal/core/service"
	"github.com/rl1809/stock-reserve/internal/port"
	"github.com/rl1809/stock-reserve/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	var (
		adapter port.StorageAdapter
		txns    port.TxnSource
	)

	switch cfg.Backend {
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Error("mysql open failed", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Error("mysql ping failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		adapter = storage.NewMySQLAdapter(cfg.LockTimeout)
		txns = &storage.SQLTxnSource{DB: db}
		logger.Info("using row-lock storage", "backend", "mysql")

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logger.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		if err := client.Ping(ctx, nil); err != nil {
			logger.Error("mongo ping failed", "error", err)
			os.Exit(1)
		}
		defer client.Disconnect(context.Background())

		adapter = storage.NewMongoAdapter(client.Database(cfg.MongoDatabase))
		txns = storage.MongoTxnSource{}
		logger.Info("using optimistic storage", "backend", "mongo")

	default:
		logger.Error("unknown storage backend", "backend", cfg.Backend)
		os.Exit(1)
	}

	var dedupe port.DuplicateFilter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis ping failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		dedupe = storage.NewRedisDuplicateFilter(rdb, cfg.DedupeTTL)
		logger.Info("shared duplicate filter enabled", "addr", cfg.RedisAddr)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(registry)

	clock := port.SystemClock{}
	manager := service.NewReservationManager(adapter, clock, cfg.ReservationTimeout)
	guard := service.NewIdempotencyGuard()

	reaper := service.NewExpiryReaper(adapter, manager, txns, clock, service.ReaperOptions{
		Interval:  cfg.ReaperInterval,
		BatchSize: cfg.ReaperBatchSize,
		Logger:    logger,
		Metrics:   metrics,
	})
	go reaper.Run(ctx)

	coordinator := service.NewPurchaseCoordinator(adapter, manager, guard, service.CoordinatorOptions{
		Reaper:     reaper,
		Dedupe:     dedupe,
		RetryLimit: cfg.OptimisticRetryLimit,
		Logger:     logger,
		Metrics:    metrics,
	})

	httpHandler := handler.NewHTTPHandler(coordinator, txns)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/purchase", httpHandler.Purchase)
	mux.HandleFunc("/api/stats", httpHandler.Stats)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	cancel()
	logger.Info("stopped")
}
