package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghostpub/ghostd/internal/backup"
	"github.com/ghostpub/ghostd/internal/config"
	"github.com/ghostpub/ghostd/internal/daemon"
	"github.com/ghostpub/ghostd/internal/events"
	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/metrics"
	"github.com/ghostpub/ghostd/internal/pipeline"
	"github.com/ghostpub/ghostd/internal/scan"
	"github.com/ghostpub/ghostd/internal/store"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"ghostd.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the daemon: scheduler, scanner and admin API"`

	Build struct {
		Force bool `help:"Mark the site dirty before building"`
	} `cmd:"" help:"Run a single build if content has changed"`

	Scan struct {
		All     bool          `help:"Probe every item instead of a random sample"`
		Timeout time.Duration `help:"Per-item probe timeout override"`
	} `cmd:"" help:"Run an availability scan against the gateway"`

	Restore struct {
		Input    string `arg:"" help:"Encrypted backup file to restore"`
		Identity string `short:"i" required:"" help:"Age identity file for decryption"`
		Output   string `short:"o" help:"Destination database path (defaults to configured database)"`
	} `cmd:"" help:"Restore the content database from an encrypted backup"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a starter configuration file"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if kctx.Command() == "init" {
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", logfields.Error(err))
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		os.Exit(1)
	}

	switch kctx.Command() {
	case "serve":
		if err := runServe(cfg); err != nil {
			slog.Error("Daemon failed", logfields.Error(err))
			os.Exit(1)
		}
	case "build":
		if err := runBuild(cfg, CLI.Build.Force); err != nil {
			slog.Error("Build failed", logfields.Error(err))
			os.Exit(1)
		}
	case "scan":
		if err := runScan(cfg, CLI.Scan.All, CLI.Scan.Timeout); err != nil {
			slog.Error("Scan failed", logfields.Error(err))
			os.Exit(1)
		}
	case "restore <input>":
		if err := runRestore(cfg, CLI.Restore.Input, CLI.Restore.Identity, CLI.Restore.Output); err != nil {
			slog.Error("Restore failed", logfields.Error(err))
			os.Exit(1)
		}
	}
}

func runServe(cfg *config.Config) error {
	s, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("Failed to close store", logfields.Error(err))
		}
	}()

	d, err := daemon.New(cfg, s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("ghostd starting",
		logfields.Path(cfg.Workdir),
		slog.String("listen", cfg.Admin.Listen))
	return d.Run(ctx)
}

func runBuild(cfg *config.Config, force bool) error {
	s, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	recorder := metrics.NewPrometheusRecorder(prometheus.NewRegistry())
	announcer, err := events.Connect(cfg.Events.NATSURL)
	if err != nil {
		slog.Warn("Event announcements disabled", logfields.Error(err))
		announcer = nil
	}
	defer announcer.Close()

	pipe := pipeline.NewFromConfig(cfg, s, recorder)
	gate := pipeline.NewGate(s, pipe, recorder, announcer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if force {
		if _, err := gate.RequestBuild(ctx, "manual build"); err != nil {
			return err
		}
	}

	before, err := gate.Status(ctx)
	if err != nil {
		return err
	}
	if !before.Dirty {
		slog.Info("Nothing to build; site is up to date")
		return nil
	}

	state, err := gate.Run(ctx)
	if err != nil {
		return err
	}
	if state.LastError != nil {
		return fmt.Errorf("build did not complete: %s", *state.LastError)
	}
	commit := ""
	if state.LastCommit != nil {
		commit = *state.LastCommit
	}
	slog.Info("Build complete", slog.String("commit", commit))
	return nil
}

func runScan(cfg *config.Config, all bool, timeout time.Duration) error {
	s, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	factory := func() (scan.Prober, error) {
		return scan.NewGatewayProber(cfg.Scan.GatewayURL)
	}
	scanner := scan.New(s, factory, cfg.Scan.SampleSize, cfg.Scan.ProbeTimeout.Std(), metrics.NoopRecorder{}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := scanner.Run(ctx, scan.Options{All: all, Timeout: timeout})
	if err != nil {
		return err
	}
	slog.Info("Scan complete",
		slog.Int("probed", outcome.Probed),
		slog.Int("changed", outcome.Changed))
	return nil
}

func runRestore(cfg *config.Config, input, identity, output string) error {
	if output == "" {
		output = cfg.Database
	}
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("refusing to overwrite existing database %s; pass -o to choose another path", output)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := backup.Restore(ctx, cfg.Backup.AgeBin, identity, input, output)
	if res.Skipped {
		return fmt.Errorf("restore skipped: %s", res.Reason)
	}
	slog.Info("Database restored", logfields.Path(res.OutputPath))
	return nil
}

const starterConfig = `# ghostd configuration
database: var/ghost.db
workdir: var/site-workdir
base_url: https://example.org/
hugo_bin: hugo

scheduler:
  enabled: true
  build_interval: 1m
  scan_interval: 30m

scan:
  sample_size: 20
  probe_timeout: 20s
  gateway_url: http://127.0.0.1:8090

covers:
  fetch_timeout: 30s
  parallelism: 4

backup:
  dir: var/backups
  recipient: ""
  age_bin: age

deploy:
  mode: standard
  remote_url: ""
  branch: gh-pages
  cname: ""

events:
  nats_url: ""

admin:
  listen: 127.0.0.1:8787
`

func runInit(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return err
	}
	slog.Info("Configuration written", logfields.Path(path))
	return nil
}
