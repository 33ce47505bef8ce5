package pipeline

import (
	"time"

	"github.com/ghostpub/ghostd/internal/metrics"
)

// StageName identifies a pipeline stage in logs and metrics.
type StageName string

const (
	StageScaffold StageName = "scaffold"
	StageCovers   StageName = "covers"
	StageExport   StageName = "export"
	StageIndex    StageName = "index"
	StageRender   StageName = "render"
	StageBackup   StageName = "backup"
	StagePublish  StageName = "publish"
)

// StageOutcome is the tagged result of one stage: success, skipped with a
// reason, or fatal. The orchestrator aborts only on fatal outcomes.
type StageOutcome struct {
	Stage    StageName
	Result   metrics.ResultLabel
	Reason   string
	Err      error
	Duration time.Duration
}

func success(stage StageName, d time.Duration) StageOutcome {
	return StageOutcome{Stage: stage, Result: metrics.ResultSuccess, Duration: d}
}

func skipped(stage StageName, reason string, d time.Duration) StageOutcome {
	return StageOutcome{Stage: stage, Result: metrics.ResultSkipped, Reason: reason, Duration: d}
}

func fatal(stage StageName, err error, d time.Duration) StageOutcome {
	return StageOutcome{Stage: stage, Result: metrics.ResultFatal, Err: err, Duration: d}
}

// Fatal reports whether the outcome aborts the build.
func (o StageOutcome) Fatal() bool { return o.Result == metrics.ResultFatal }
