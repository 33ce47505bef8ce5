// Package pipeline orchestrates a full site build and guards it with the
// single-flight trigger gate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ghostpub/ghostd/internal/backup"
	"github.com/ghostpub/ghostd/internal/config"
	"github.com/ghostpub/ghostd/internal/covers"
	"github.com/ghostpub/ghostd/internal/export"
	"github.com/ghostpub/ghostd/internal/index"
	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/metrics"
	"github.com/ghostpub/ghostd/internal/publish"
	"github.com/ghostpub/ghostd/internal/renderer"
	"github.com/ghostpub/ghostd/internal/site"
	"github.com/ghostpub/ghostd/internal/store"
)

// Renderer turns the prepared work directory into a public output tree.
type Renderer interface {
	Render(ctx context.Context, w *site.Workdir) error
}

// Publisher ships the rendered tree; returns the resulting revision id.
type Publisher interface {
	Deploy(ctx context.Context, publicDir, workdir string, buildStart time.Time) (string, error)
}

// CoverLocalizer mirrors external cover images; returns items updated.
type CoverLocalizer interface {
	Run(ctx context.Context, refresh bool) (int, error)
}

// BackupFunc produces a best-effort encrypted snapshot.
type BackupFunc func(ctx context.Context) backup.Result

// Pipeline executes the export -> index -> render -> publish sequence against
// one database snapshot.
type Pipeline struct {
	store    *store.Store
	workdir  *site.Workdir
	baseURL  string
	covers   CoverLocalizer
	renderer Renderer
	backup   BackupFunc
	publish  Publisher
	recorder metrics.Recorder
}

// New assembles a pipeline from explicit components. Tests inject fakes here.
func New(s *store.Store, w *site.Workdir, baseURL string, cl CoverLocalizer, r Renderer, b BackupFunc, p Publisher, rec metrics.Recorder) *Pipeline {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Pipeline{
		store:    s,
		workdir:  w,
		baseURL:  baseURL,
		covers:   cl,
		renderer: r,
		backup:   b,
		publish:  p,
		recorder: rec,
	}
}

// NewFromConfig assembles the production pipeline.
func NewFromConfig(cfg *config.Config, s *store.Store, rec metrics.Recorder) *Pipeline {
	w := site.NewWorkdir(cfg.Workdir)

	localizer := covers.New(s, w.CoversDir(), "assets/covers", cfg.Covers.FetchTimeout.Std(), cfg.Covers.Parallelism, rec)

	var pub Publisher = publish.Noop{}
	if cfg.Deploy.Mode == config.DeployStandard && cfg.Deploy.RemoteURL != "" {
		pub = publish.NewPages(publish.Config{
			RemoteURL: cfg.Deploy.RemoteURL,
			Branch:    cfg.Deploy.Branch,
			CNAME:     cfg.Deploy.CNAME,
			ForcePush: cfg.Deploy.ForcePush,
			UserName:  cfg.Deploy.UserName,
			UserEmail: cfg.Deploy.UserEmail,
		})
	} else if cfg.Deploy.Mode == config.DeployStandard {
		slog.Info("Standard deploy mode without a pages remote; publishing disabled")
	}

	backupFn := func(ctx context.Context) backup.Result {
		return backup.Create(ctx, backup.Config{
			DBPath:    cfg.Database,
			Dir:       cfg.Backup.Dir,
			Recipient: cfg.Backup.Recipient,
			AgeBin:    cfg.Backup.AgeBin,
		})
	}

	return New(s, w, cfg.BaseURL, localizer, renderer.NewHugo(cfg.HugoBin), backupFn, pub, rec)
}

// Run executes one build against a fresh snapshot and returns the publish
// revision (possibly empty when nothing was published).
func (p *Pipeline) Run(ctx context.Context, buildID string) (commit string, err error) {
	buildStart := time.Now()
	defer func() {
		p.recorder.ObserveBuildDuration(time.Since(buildStart))
	}()

	// Preparation stages form a barrier: all must finish before the renderer.
	if out := p.runStage(StageScaffold, func() StageOutcome {
		start := time.Now()
		if err := p.workdir.EnsureScaffold(p.baseURL); err != nil {
			return fatal(StageScaffold, err, time.Since(start))
		}
		return success(StageScaffold, time.Since(start))
	}, buildID); out.Fatal() {
		return "", out.Err
	}

	// Covers run before export so localized paths land in the frontmatter.
	// Cover failures are per-item and never fatal.
	if out := p.runStage(StageCovers, func() StageOutcome {
		start := time.Now()
		n, err := p.covers.Run(ctx, false)
		if err != nil {
			// Only context cancellation propagates out of the localizer.
			return fatal(StageCovers, err, time.Since(start))
		}
		if n == 0 {
			return skipped(StageCovers, "nothing to localize", time.Since(start))
		}
		slog.Info("Localized cover images", logfields.Count(n))
		return success(StageCovers, time.Since(start))
	}, buildID); out.Fatal() {
		return "", out.Err
	}

	snap, err := p.store.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}

	var items []export.PublicItem
	if out := p.runStage(StageExport, func() StageOutcome {
		start := time.Now()
		exported, err := export.New(p.workdir).Run(snap)
		if err != nil {
			return fatal(StageExport, err, time.Since(start))
		}
		items = exported
		return success(StageExport, time.Since(start))
	}, buildID); out.Fatal() {
		return "", out.Err
	}

	if out := p.runStage(StageIndex, func() StageOutcome {
		start := time.Now()
		if err := p.workdir.CleanIndexDirs(); err != nil {
			return fatal(StageIndex, err, time.Since(start))
		}
		if err := index.Build(items, snap, p.workdir.IndexDir()); err != nil {
			return fatal(StageIndex, err, time.Since(start))
		}
		return success(StageIndex, time.Since(start))
	}, buildID); out.Fatal() {
		return "", out.Err
	}

	if out := p.runStage(StageRender, func() StageOutcome {
		start := time.Now()
		if err := p.renderer.Render(ctx, p.workdir); err != nil {
			return fatal(StageRender, err, time.Since(start))
		}
		return success(StageRender, time.Since(start))
	}, buildID); out.Fatal() {
		return "", out.Err
	}

	// Backup has no ordering dependency on publish; run them in parallel once
	// rendered output exists. Backup failure never affects the outcome.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runStage(StageBackup, func() StageOutcome {
			start := time.Now()
			res := p.backup(ctx)
			if res.Skipped {
				return skipped(StageBackup, res.Reason, time.Since(start))
			}
			return success(StageBackup, time.Since(start))
		}, buildID)
	}()

	out := p.runStage(StagePublish, func() StageOutcome {
		start := time.Now()
		rev, err := p.publish.Deploy(ctx, p.workdir.PublicDir, p.workdir.Root, buildStart)
		if err != nil {
			return fatal(StagePublish, err, time.Since(start))
		}
		commit = rev
		return success(StagePublish, time.Since(start))
	}, buildID)
	wg.Wait()
	if out.Fatal() {
		return "", out.Err
	}

	return commit, nil
}

// runStage executes fn, records metrics and logs the outcome.
func (p *Pipeline) runStage(stage StageName, fn func() StageOutcome, buildID string) StageOutcome {
	out := fn()
	p.recorder.ObserveStageDuration(string(stage), out.Duration)
	p.recorder.IncStageResult(string(stage), out.Result)

	attrs := []any{
		logfields.BuildID(buildID),
		logfields.Stage(string(stage)),
		logfields.DurationMS(float64(out.Duration.Milliseconds())),
	}
	switch out.Result {
	case metrics.ResultFatal:
		slog.Error("Stage failed", append(attrs, logfields.Error(out.Err))...)
	case metrics.ResultSkipped:
		slog.Debug("Stage skipped", append(attrs, logfields.Reason(out.Reason))...)
	default:
		slog.Debug("Stage completed", attrs...)
	}
	return out
}
