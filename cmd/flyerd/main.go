package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/core"
	"github.com/joseph-ayodele/flyerscan/internal/core/async"
	"github.com/joseph-ayodele/flyerscan/internal/export"
	"github.com/joseph-ayodele/flyerscan/internal/ingest"
	"github.com/joseph-ayodele/flyerscan/internal/metrics"
	"github.com/joseph-ayodele/flyerscan/internal/server"
	"github.com/joseph-ayodele/flyerscan/internal/session"
)

func main() {
	// Bootstrap logger
	boot, _ := zap.NewProduction()
	defer boot.Sync()
	log := boot.Sugar()

	cfg, err := common.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := common.NewLogger(cfg.Log, os.Stdout)

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counters := metrics.New()
	pipeline, err := core.NewPipeline(ctx, cfg, logger, counters)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.Warn("cache.close.failed", "error", err)
		}
	}()

	sessions := session.NewManager(
		session.WithLogger(logger),
		session.WithMetrics(counters),
		session.WithGracePeriod(cfg.Session.GracePeriod),
		session.WithJobRetention(cfg.Session.JobRetention),
		session.WithJanitorInterval(cfg.Session.JanitorInterval),
	)
	queue := async.NewProcessorQueue(pipeline.Orchestrator, sessions, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
	)

	srv := server.New(cfg, server.Deps{
		Sessions: sessions,
		Queue:    queue,
		Cache:    pipeline.Cache,
		Exporter: export.NewService(logger),
		Metrics:  counters,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.HTTPAddr) })
	if cfg.Server.GRPCAddr != "" {
		g.Go(func() error { return server.ServeGRPC(gctx, cfg.Server.GRPCAddr, logger) })
	}
	g.Go(func() error { sessions.Run(gctx); return nil })
	g.Go(func() error { pipeline.Cache.Run(gctx); return nil })
	if cfg.Ingest.Dir != "" {
		ingestor := ingest.NewFSIngestor(sessions, queue, cfg.Ingest.SessionID, cfg.Server.MaxImageMB, logger)
		g.Go(func() error { return ingestor.Run(gctx, cfg.Ingest.Dir, cfg.Ingest.Debounce) })
	}

	log.Infow("flyerd started",
		"http", cfg.Server.HTTPAddr,
		"grpc", cfg.Server.GRPCAddr,
		"workers", cfg.Queue.Workers,
		"ingest_dir", cfg.Ingest.Dir,
	)

	if err := g.Wait(); err != nil {
		logger.Error("flyerd.stopped", "error", err)
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	sessions.Shutdown()
	fmt.Println("stopped.")
}
