// Package daemon wires the long-running service: scheduler, asset watcher,
// admin HTTP server, trigger gate and scanner.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghostpub/ghostd/internal/config"
	"github.com/ghostpub/ghostd/internal/events"
	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/metrics"
	"github.com/ghostpub/ghostd/internal/pipeline"
	"github.com/ghostpub/ghostd/internal/scan"
	"github.com/ghostpub/ghostd/internal/store"
)

// Daemon owns every long-lived component of the service.
type Daemon struct {
	cfg       *config.Config
	store     *store.Store
	gate      *pipeline.Gate
	scanner   *scan.Scanner
	scheduler *Scheduler
	watcher   *AssetWatcher
	server    *AdminServer
	announcer *events.Announcer
}

// New assembles a daemon from configuration.
func New(cfg *config.Config, s *store.Store) (*Daemon, error) {
	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	announcer, err := events.Connect(cfg.Events.NATSURL)
	if err != nil {
		// Telemetry must not keep the service down.
		slog.Warn("Event announcements disabled", logfields.Error(err))
		announcer = nil
	}

	pipe := pipeline.NewFromConfig(cfg, s, recorder)
	gate := pipeline.NewGate(s, pipe, recorder, announcer)

	factory := func() (scan.Prober, error) {
		return scan.NewGatewayProber(cfg.Scan.GatewayURL)
	}
	scanner := scan.New(s, factory, cfg.Scan.SampleSize, cfg.Scan.ProbeTimeout.Std(), recorder, announcer)

	scheduler, err := NewScheduler()
	if err != nil {
		return nil, err
	}

	watcher, err := NewAssetWatcher(cfg.Workdir, func(reason string) {
		if _, err := gate.RequestBuild(context.Background(), reason); err != nil {
			slog.Warn("Failed to mark dirty from watcher", logfields.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start asset watcher: %w", err)
	}

	server := NewAdminServer(cfg.Admin.Listen, gate, scanner, registry)

	return &Daemon{
		cfg:       cfg,
		store:     s,
		gate:      gate,
		scanner:   scanner,
		scheduler: scheduler,
		watcher:   watcher,
		server:    server,
		announcer: announcer,
	}, nil
}

// Run starts all components and blocks until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.Scheduler.Enabled {
		if err := d.scheduler.ScheduleBuildCheck(d.cfg.Scheduler.BuildInterval.Std(), func() {
			if _, err := d.gate.Run(context.Background()); err != nil {
				slog.Error("Scheduled build check failed", logfields.Error(err))
			}
		}); err != nil {
			return err
		}
		if err := d.scheduler.ScheduleScan(d.cfg.Scheduler.ScanInterval.Std(), func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if _, err := d.scanner.Run(ctx, scan.Options{}); err != nil {
				slog.Error("Scheduled scan failed", logfields.Error(err))
			}
		}); err != nil {
			return err
		}
		d.scheduler.Start()
	} else {
		slog.Info("Scheduler disabled; builds run only on demand")
	}

	go d.watcher.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- d.server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Admin server shutdown failed", logfields.Error(err))
	}
	if d.cfg.Scheduler.Enabled {
		if err := d.scheduler.Stop(shutdownCtx); err != nil {
			slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		}
	}
	d.announcer.Close()
	return nil
}
