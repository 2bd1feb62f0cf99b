// cmd/scheduler runs one scheduler cell: the trigger registry, the spinner,
// the leadership monitor, and the scheduler's public HTTP RPC surface.
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
	"github.com/cronback-oss/cronback/internal/dispatcherclient"
	"github.com/cronback-oss/cronback/internal/health"
	"github.com/cronback-oss/cronback/internal/leadership"
	ctxlog "github.com/cronback-oss/cronback/internal/log"
	"github.com/cronback-oss/cronback/internal/metrics"
	"github.com/cronback-oss/cronback/internal/postgres"
	"github.com/cronback-oss/cronback/internal/registry"
	"github.com/cronback-oss/cronback/internal/servicetoken"
	"github.com/cronback-oss/cronback/internal/shard"
	"github.com/cronback-oss/cronback/internal/spinner"
	"github.com/cronback-oss/cronback/internal/transporthttp"
	"github.com/cronback-oss/cronback/internal/transporthttp/handler"
)

func main() {
	cfg, err := config.LoadScheduler()
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

	self := shard.Cell(cfg.CellIndex)
	shardMap := shard.Map{NCells: cfg.NCells, Replicas: map[shard.Cell]string{self: cfg.Port}}
	owns := func(owner string) bool { return shardMap.Owns(owner, self) }

	reg := registry.New(triggerStore, clock.Real{}).WithDangerousFastForward(cfg.DangerousFastForward)
	if err := reg.Load(ctx, owns); err != nil {
		stop()
		log.Fatalf("registry load: %v", err)
	}
	logger.Info("registry loaded")

	var signer *servicetoken.Signer
	if cfg.ServiceTokenKey != "" {
		signer = servicetoken.NewSigner([]byte(cfg.ServiceTokenKey))
	}
	dispatchClient := dispatcherclient.New(cfg.DispatcherURL, cfg.MaxInFlightPerCell, signer, cfg.CellID, logger)

	sp := spinner.New(reg, dispatchClient, clock.Real{}, logger)
	if err := sp.Seed(ctx); err != nil {
		stop()
		log.Fatalf("spinner seed: %v", err)
	}

	shutdownCtx, shutdown := context.WithCancel(ctx)
	go sp.Run(shutdownCtx)
	go reportHeapDepth(shutdownCtx, sp)

	leader := leadership.NewMonitor(self, shardMap, time.Duration(cfg.LeadershipCheckIntervalSec)*time.Second, logger)
	leader.Owners = func() []string { return ownersInRegistry(reg) }
	leader.OnLeadershipLost = func(owner string) {
		logger.Error("shard leadership lost, draining and exiting", "owner", owner)
		shutdown()
	}
	go leader.Run(shutdownCtx)

	notify := func(owner, triggerID string) { sp.Notify(shutdownCtx, owner, triggerID) }
	triggerHandler := handler.NewTriggerHandler(reg, triggerStore, notify)
	runNowHandler := handler.NewRunNowHandler(triggerStore, dispatchClient)
	router := transporthttp.NewSchedulerRouter(triggerHandler, runNowHandler, checker, cfg.AdminAPIKeys)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("scheduler cell listening", "port", cfg.Port, "cell_id", cfg.CellID)
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

	<-shutdownCtx.Done()
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(drainCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler cell shut down")
}

// reportHeapDepth periodically samples the spinner's pending-firing count
// into the spinner_heap_depth gauge.
func reportHeapDepth(ctx context.Context, sp *spinner.Spinner) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SpinnerHeapDepth.Set(float64(sp.HeapDepth()))
		}
	}
}

// ownersInRegistry returns the distinct set of owners the registry currently
// holds triggers for, used by the leadership monitor to detect a shard
// mapping change affecting any of them.
func ownersInRegistry(reg *registry.Registry) []string {
	triggers, _ := reg.Snapshot()
	seen := make(map[string]struct{}, len(triggers))
	owners := make([]string, 0, len(triggers))
	for _, t := range triggers {
		if _, ok := seen[t.Owner]; ok {
			continue
		}
		seen[t.Owner] = struct{}{}
		owners = append(owners, t.Owner)
	}
	return owners
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
