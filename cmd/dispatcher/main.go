// cmd/dispatcher runs the dispatcher runner process: the bounded execution
// queue, the webhook executor, and the dispatcher's internal HTTP RPC
// surface consumed by scheduler cells.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cronback-oss/cronback/config"
	"github.com/cronback-oss/cronback/internal/clock"
	"github.com/cronback-oss/cronback/internal/dispatcher"
	"github.com/cronback-oss/cronback/internal/events"
	"github.com/cronback-oss/cronback/internal/health"
	ctxlog "github.com/cronback-oss/cronback/internal/log"
	"github.com/cronback-oss/cronback/internal/metrics"
	"github.com/cronback-oss/cronback/internal/postgres"
	"github.com/cronback-oss/cronback/internal/servicetoken"
	"github.com/cronback-oss/cronback/internal/transporthttp"
	"github.com/cronback-oss/cronback/internal/transporthttp/handler"
	"github.com/cronback-oss/cronback/internal/webhook"
)

func main() {
	cfg, err := config.LoadDispatcher()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, config.SlogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	triggerStore := postgres.NewTriggerStore(pool)

	executor, err := webhook.New(webhook.Config{
		ResponseBodyCapBytes: cfg.ResponseBodyCapBytes,
		ProxyURL:             cfg.ProxyURL,
	}, logger)
	if err != nil {
		stop()
		log.Fatalf("webhook executor: %v", err)
	}

	publisher := events.New(events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("close event publisher", "error", err)
		}
	}()

	runner := dispatcher.New(triggerStore, executor, publisher, clock.Real{}, dispatcher.Config{
		QueueDepth:  cfg.QueueDepth,
		Concurrency: cfg.MaxConcurrentAttempts,
	}, logger)
	runner.Start(ctx, cfg.MaxConcurrentAttempts)

	var verifier *servicetoken.Verifier
	if cfg.ServiceTokenKey != "" {
		verifier = servicetoken.NewVerifier([]byte(cfg.ServiceTokenKey))
	}

	dispatchHandler := handler.NewDispatchHandler(runner)
	router := transporthttp.NewDispatcherRouter(dispatchHandler, checker, verifier)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("dispatcher listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}()

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(drainCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("dispatcher shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
