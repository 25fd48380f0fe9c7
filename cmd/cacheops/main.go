// Package main wires together the cache operations service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lancachetools/cacheops/internal/api"
	"github.com/lancachetools/cacheops/internal/config"
	"github.com/lancachetools/cacheops/internal/events"
	"github.com/lancachetools/cacheops/internal/events/sinks"
	"github.com/lancachetools/cacheops/internal/logging"
	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/proc"
	"github.com/lancachetools/cacheops/internal/push"
	"github.com/lancachetools/cacheops/internal/store"
	"github.com/lancachetools/cacheops/internal/workers"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var catalog store.Catalog = store.NewNoopCatalog()
	var closeCatalog func()
	if cfg.Database.DSN != "" {
		pg, dbErr := store.NewPostgresCatalog(ctx, store.PostgresConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.ConnLifetime(),
		})
		if dbErr != nil {
			logger.Warn("database unavailable, continuing without it", zap.Error(dbErr))
		} else {
			catalog = pg
			closeCatalog = pg.Close
		}
	} else {
		logger.Info("no database configured, game names fall back to generic labels")
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("register metrics failed", zap.Error(err))
	}
	broadcaster := push.NewBroadcaster(push.Config{
		SendBuffer:   cfg.Push.SendBuffer,
		WriteTimeout: time.Duration(cfg.Push.WriteTimeoutSec) * time.Second,
		PingInterval: time.Duration(cfg.Push.PingIntervalSec) * time.Second,
		Logger:       logger.Named("push"),
	})
	hub := events.NewHub(events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		FlushInterval:  cfg.FlushInterval(),
		SinkTimeout:    time.Duration(cfg.Events.SinkTimeoutSec) * time.Second,
		Logger:         logger.Named("events"),
	},
		sinks.NewLogSink(logger.Named("opslog")),
		promSink,
		broadcaster,
	)

	registry := ops.NewRegistry(ops.Config{
		RetainCompleted: cfg.RetainCompleted(),
		BaseContext:     ctx,
		Notifier:        events.NewNotifier(hub),
		Logger:          logger.Named("ops"),
	})
	runner := workers.NewRunner(registry, logger.Named("workers"))

	processor, err := proc.NewRunner(proc.Config{
		Binary:         cfg.Processor.Binary,
		LaunchAttempts: cfg.Processor.LaunchAttempts,
		LaunchDelay:    cfg.LaunchDelay(),
		Logger:         logger.Named("proc"),
	})
	if err != nil {
		logger.Fatal("processor init failed", zap.Error(err))
	}

	starters := api.Starters{
		GameRemoval: &workers.GameRemovalWorker{
			Registry: registry, Runner: runner, Processor: processor,
			Catalog: catalog, Logger: logger.Named("gameremoval"),
		},
		DataImport: &workers.DataImportWorker{
			Registry: registry, Runner: runner, Processor: processor,
		},
		DepotRebuild: &workers.DepotRebuildWorker{
			Registry: registry, Runner: runner, Processor: processor,
			Catalog: catalog, Logger: logger.Named("depotrebuild"),
		},
		LogProcessing: &workers.LogProcessingWorker{
			Registry: registry, Runner: runner, Processor: processor,
		},
		ServiceLogRemoval: &workers.ServiceLogRemovalWorker{
			Registry: registry, Runner: runner, Processor: processor, Catalog: catalog,
		},
		DatabaseReset: &workers.DatabaseResetWorker{
			Registry: registry, Runner: runner, Catalog: catalog,
		},
	}

	apiServer := api.NewServer(registry, starters, catalog, broadcaster, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := runner.Wait(shutdownCtx); err != nil {
		logger.Warn("operations still running at shutdown", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("event hub close failed", zap.Error(err))
	}
	if closeCatalog != nil {
		closeCatalog()
	}
	logger.Info("shutdown complete")
}
