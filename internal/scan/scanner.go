// Package scan reconciles item availability status with the probing backend.
//
// Status is written back only on real change; a probe that reproduces the
// stored status never marks the build dirty. Scans therefore cannot cause
// rebuild loops by themselves.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghostpub/ghostd/internal/events"
	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/metrics"
	"github.com/ghostpub/ghostd/internal/store"
)

// Store is the subset of store operations the scanner needs.
type Store interface {
	ProbeTargets(ctx context.Context, limit int) ([]store.ProbeTarget, error)
	ApplyStatusUpdates(ctx context.Context, updates []store.StatusUpdate, checkedAt time.Time) (int, error)
}

// Options control a single scan.
type Options struct {
	// All probes every non-takedown item instead of a random sample.
	All bool
	// Timeout overrides the configured per-item probe timeout when positive.
	Timeout time.Duration
}

// Outcome reports a finished scan.
type Outcome struct {
	Probed  int
	Changed int
}

// Scanner runs sampled or full availability scans.
type Scanner struct {
	store      Store
	factory    ProberFactory
	sampleSize int
	timeout    time.Duration
	recorder   metrics.Recorder
	announcer  *events.Announcer

	// fullMu serializes on-demand full scans, matching their heavier cost.
	fullMu sync.Mutex
}

// New creates a Scanner. recorder and announcer may be nil-equivalents.
func New(s Store, factory ProberFactory, sampleSize int, timeout time.Duration, recorder metrics.Recorder, announcer *events.Announcer) *Scanner {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Scanner{
		store:      s,
		factory:    factory,
		sampleSize: sampleSize,
		timeout:    timeout,
		recorder:   recorder,
		announcer:  announcer,
	}
}

// Run executes one scan synchronously and returns how many items changed
// status.
func (s *Scanner) Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.All {
		s.fullMu.Lock()
		defer s.fullMu.Unlock()
	}

	scanID := uuid.NewString()
	limit := s.sampleSize
	if opts.All {
		limit = 0
	}
	timeout := s.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	targets, err := s.store.ProbeTargets(ctx, limit)
	if err != nil {
		return Outcome{}, fmt.Errorf("select probe targets: %w", err)
	}
	if len(targets) == 0 {
		return Outcome{}, nil
	}

	updates := s.probeAll(ctx, scanID, targets, timeout)

	changed, err := s.store.ApplyStatusUpdates(ctx, updates, time.Now())
	if err != nil {
		return Outcome{}, fmt.Errorf("apply status updates: %w", err)
	}

	s.recorder.ObserveScanChanged(changed)
	s.announcer.AnnounceScan(events.ScanCompleted{
		ScanID:     scanID,
		Full:       opts.All,
		Probed:     len(targets),
		Changed:    changed,
		FinishedAt: time.Now(),
	})
	slog.Info("Availability scan completed",
		logfields.ScanID(scanID),
		slog.Int("probed", len(targets)),
		slog.Int("changed", changed),
		slog.Bool("full", opts.All))
	return Outcome{Probed: len(targets), Changed: changed}, nil
}

// probeAll resolves a status for every target. When the probing backend is
// unavailable, every target resolves to Unknown; that is a normal scan
// outcome, not an error.
func (s *Scanner) probeAll(ctx context.Context, scanID string, targets []store.ProbeTarget, timeout time.Duration) []store.StatusUpdate {
	updates := make([]store.StatusUpdate, 0, len(targets))

	prober, err := s.factory()
	if err != nil {
		slog.Warn("Probing backend unavailable, resolving all to Unknown",
			logfields.ScanID(scanID), logfields.Error(err))
		for _, t := range targets {
			updates = append(updates, store.StatusUpdate{ItemID: t.ItemID, Status: store.StatusUnknown})
		}
		return updates
	}
	defer prober.Close()

	for _, t := range targets {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		status, err := prober.Probe(pctx, t.SourceURI)
		cancel()
		if err != nil {
			slog.Debug("Probe failed", logfields.ItemID(t.ItemID), logfields.Error(err))
			status = store.StatusUnknown
		}
		updates = append(updates, store.StatusUpdate{ItemID: t.ItemID, Status: status})
	}
	return updates
}

// Trigger starts a scan in the background and returns immediately. The caller
// gets no outcome; completion is observable via logs and events.
func (s *Scanner) Trigger(opts Options) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := s.Run(ctx, opts); err != nil {
			slog.Error("Background scan failed", logfields.Error(err))
		}
	}()
}
