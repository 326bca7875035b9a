package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/db"
	"fleetsync/internal/engine"
	"fleetsync/internal/model"
	"fleetsync/internal/monitor"
	"fleetsync/internal/realtime"
	"fleetsync/internal/service"
	"fleetsync/internal/store"

	"go.uber.org/zap"
)

// cyclePublisher hands each cycle's batch to the client fan-out and, when
// configured, to the Kafka mirror. The hub delivery always happens first.
type cyclePublisher struct {
	hub    *realtime.Hub
	mirror *service.MirrorService
}

func (p cyclePublisher) Publish(batch model.BatchDelta) {
	p.hub.Publish(batch)
	if p.mirror != nil {
		p.mirror.Publish(batch)
	}
}

// StartSyncApp wires the whole pipeline and blocks until a shutdown
// signal: site config -> connection registry -> poll engine -> snapshot
// store -> hub -> clients.
func StartSyncApp(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// --- Site configuration (mapping + activation) ---
	sites := service.NewSiteService(cfg.SitesConfigPath, logger)
	if err := sites.Load(); err != nil {
		return err
	}

	// --- Connection registry, warmed from the enabled set ---
	registry := db.NewRegistry(cfg, sites, logger)
	registry.Reload(ctx)
	defer registry.ReleaseAll()

	sites.OnReload(func() {
		registry.Reload(ctx)
	})
	go sites.Watch(ctx, cfg.SitesReloadInterval)

	// --- Store, fan-out, optional mirror ---
	snapshots := store.NewSnapshotStore()
	hub := realtime.NewHub(snapshots, sites, cfg.KeepAliveTimeout, logger)
	go hub.RunKeepAliveSweeper(ctx)

	mirror := service.NewMirrorService(cfg, logger)
	if mirror != nil {
		defer mirror.Close()
	}

	// --- Poll engine ---
	stats := db.NewCycleStats(logger)
	fetcher := db.NewFetcher(registry, sites, logger)
	eng := engine.New(fetcher, sites, snapshots, cyclePublisher{hub: hub, mirror: mirror},
		stats, cfg.PollInterval, cfg.FetchTimeout, logger)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	// --- HTTP surface ---
	monitor.StartServer(registry, eng, hub, sites, snapshots, cfg.WSJWTSecret, cfg.ListenAddr, logger)

	// --- Graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Infow("signal received, shutting down", "signal", sig)
	cancel()

	select {
	case <-engineDone:
		logger.Info("poll engine stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("timeout waiting for poll engine to stop")
	}

	return nil
}
