package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ghostpub/ghostd/internal/events"
	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/metrics"
	"github.com/ghostpub/ghostd/internal/store"
)

// Runner executes one admitted build and reports the publish revision.
// *Pipeline is the production implementation.
type Runner interface {
	Run(ctx context.Context, buildID string) (commit string, err error)
}

// Gate is the single admission point for build execution. All methods are
// safe for concurrent use; a caller arriving while a build runs observes the
// in-progress state and returns immediately, it never blocks or duplicates
// work.
type Gate struct {
	store     *store.Store
	runner    Runner
	recorder  metrics.Recorder
	announcer *events.Announcer
}

// NewGate creates a Gate around a runner.
func NewGate(s *store.Store, runner Runner, rec metrics.Recorder, announcer *events.Announcer) *Gate {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Gate{store: s, runner: runner, recorder: rec, announcer: announcer}
}

// Status returns the current build state.
func (g *Gate) Status(ctx context.Context) (store.BuildState, error) {
	return g.store.State(ctx)
}

// RequestBuild marks the output dirty and returns the resulting state. It
// never executes a build itself; the scheduler's next tick (or an explicit
// Run call) picks the mark up.
func (g *Gate) RequestBuild(ctx context.Context, reason string) (store.BuildState, error) {
	if reason == "" {
		reason = "manual trigger"
	}
	if err := g.store.MarkDirty(ctx, reason); err != nil {
		return store.BuildState{}, err
	}
	slog.Info("Build requested", logfields.Reason(reason))
	return g.store.State(ctx)
}

// Run attempts the Dirty -> Running transition and, when admitted, executes
// the full pipeline inline. A concurrent caller or a clean state yields the
// current state unchanged; neither is an error.
func (g *Gate) Run(ctx context.Context) (store.BuildState, error) {
	admitted, startSeq, err := g.store.BeginRun(ctx)
	if err != nil {
		return store.BuildState{}, err
	}
	if !admitted {
		st, err := g.store.State(ctx)
		if err != nil {
			return store.BuildState{}, err
		}
		if st.Running {
			slog.Debug("Build already running, joining in-progress state")
		}
		return st, nil
	}

	buildID := uuid.NewString()
	start := time.Now()
	slog.Info("Build admitted", logfields.BuildID(buildID))

	commit, runErr := g.runner.Run(ctx, buildID)
	finished := time.Now()

	// The caller's context can be dead by now (an HTTP client disconnecting
	// mid-build cancels it); the Running -> finished transition must still
	// land or the gate refuses every future run.
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelFinish()

	ev := events.BuildCompleted{
		BuildID:    buildID,
		Success:    runErr == nil,
		Commit:     commit,
		StartedAt:  start,
		FinishedAt: finished,
	}

	if runErr != nil {
		ev.Error = runErr.Error()
		g.recorder.IncBuildOutcome("failed")
		slog.Error("Build failed", logfields.BuildID(buildID), logfields.Error(runErr))
		if err := g.store.FinishFailure(finishCtx, runErr); err != nil {
			return store.BuildState{}, err
		}
	} else {
		g.recorder.IncBuildOutcome("success")
		slog.Info("Build succeeded",
			logfields.BuildID(buildID),
			logfields.DurationMS(float64(finished.Sub(start).Milliseconds())))
		if err := g.store.FinishSuccess(finishCtx, startSeq, commit); err != nil {
			return store.BuildState{}, err
		}
	}
	g.announcer.AnnounceBuild(ev)

	return g.store.State(finishCtx)
}
