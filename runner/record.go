package runner

import (
	"fmt"
	"io"
	"log/slog"

	"stagego/events"
	"stagego/runner/storage"
)

// recorder fans run progress out to the optional store, event broker and
// terminal. Storage failures after the run record exists are logged, never
// fatal to the run.
type recorder struct {
	store   *storage.Storage
	broker  *events.EventBroker
	console io.Writer
	log     *slog.Logger
}

func (r *recorder) printf(format string, args ...any) {
	if r.console != nil {
		fmt.Fprintf(r.console, format, args...)
	}
}

func (r *recorder) runStarted(rep *RunReport) {
	r.log.Info("run started", "run_id", rep.RunID, "pipeline", rep.Pipeline, "branch", rep.Branch)
	r.printf("🚀 Pipeline: %s (run %d)\n", rep.Pipeline, rep.RunID)
	if r.broker != nil {
		r.broker.Broadcast(events.RunStarted, map[string]any{
			"run_id":   rep.RunID,
			"pipeline": rep.Pipeline,
			"project":  rep.Project,
		})
	}
}

// stageStarted returns the stored stage execution id, or 0 without storage.
func (r *recorder) stageStarted(runID int, stage string, position int) int {
	r.log.Info("stage started", "run_id", runID, "stage", stage)
	r.printf("\n📦 Stage: %s\n", stage)
	if r.broker != nil {
		r.broker.Broadcast(events.StageStarted, map[string]any{"run_id": runID, "stage": stage})
	}
	if r.store == nil {
		return 0
	}
	exec, err := r.store.CreateStageExecution(runID, stage, position, string(StageRunning))
	if err != nil {
		r.log.Warn("failed to record stage", "stage", stage, "error", err)
		return 0
	}
	return exec.ID
}

func (r *recorder) stageFinished(runID, stageID, position int, outcome StageOutcome) {
	switch outcome.Status {
	case StageSkipped:
		r.log.Info("stage skipped", "run_id", runID, "stage", outcome.Name, "reason", outcome.SkipReason)
		r.printf("\n⏭️  Skipped: %s (%s)\n", outcome.Name, outcome.SkipReason)
	case StageFailed:
		r.log.Warn("stage failed", "run_id", runID, "stage", outcome.Name, "reason", outcome.Reason, "step", outcome.FailedStep)
		if outcome.Advisory {
			r.printf("⚠️  Stage %s failed (continuing)\n", outcome.Name)
		}
	default:
		r.log.Info("stage finished", "run_id", runID, "stage", outcome.Name, "duration", outcome.Duration)
	}

	if r.broker != nil {
		r.broker.Broadcast(events.StageFinished, map[string]any{
			"run_id": runID,
			"stage":  outcome.Name,
			"status": outcome.Status,
			"reason": outcome.Reason,
		})
	}
	if r.store == nil {
		return
	}

	if stageID == 0 {
		exec, err := r.store.CreateStageExecution(runID, outcome.Name, position, string(outcome.Status))
		if err != nil {
			r.log.Warn("failed to record stage", "stage", outcome.Name, "error", err)
			return
		}
		stageID = exec.ID
	}
	reason := string(outcome.Reason)
	if outcome.Status == StageSkipped {
		reason = outcome.SkipReason
	}
	if err := r.store.UpdateStageExecution(stageID, string(outcome.Status), reason, outcome.ExitCode, outcome.Duration); err != nil {
		r.log.Warn("failed to update stage", "stage", outcome.Name, "error", err)
	}
}

// stepStarted returns the stored step execution id, or 0 without storage.
func (r *recorder) stepStarted(runID, stageID int, stage string, step StepDefinition) int {
	r.printf("→ %s\n", step.Name)
	if r.store == nil {
		return 0
	}
	exec, err := r.store.CreateStepExecution(runID, stageID, stage, step.Name, step.Describe())
	if err != nil {
		r.log.Warn("failed to record step", "step", step.Name, "error", err)
		return 0
	}
	return exec.ID
}

func (r *recorder) stepFinished(stepID int, outcome StepOutcome) {
	if outcome.Succeeded() {
		r.printf("✅ Done: %s\n", outcome.Name)
	} else {
		r.printf("❌ Step failed: %s (%s)\n", outcome.Name, outcome.Error)
	}
	if r.store == nil || stepID == 0 {
		return
	}
	err := r.store.UpdateStepExecution(stepID, string(outcome.Status), string(outcome.Reason), outcome.ExitCode, outcome.Output(), outcome.Duration)
	if err != nil {
		r.log.Warn("failed to update step", "step", outcome.Name, "error", err)
	}
}

func (r *recorder) artifactPublished(runID int, ref ArtifactRef) {
	r.log.Debug("artifact published", "run_id", runID, "name", ref.Name, "checksum", ref.Checksum, "size", ref.Size)
	if r.store == nil {
		return
	}
	if err := r.store.CreateArtifact(runID, ref.Stage, ref.Name, ref.Path, ref.Checksum, ref.Size); err != nil {
		r.log.Warn("failed to record artifact", "name", ref.Name, "error", err)
	}
}

func (r *recorder) runFinished(rep *RunReport) {
	r.log.Info("run finished", "run_id", rep.RunID, "status", rep.Status, "duration", rep.Duration)
	switch rep.Status {
	case RunSucceeded:
		r.printf("\n🏁 All stages finished successfully.\n")
	case RunAborted:
		r.printf("\n🛑 Pipeline aborted.\n")
	default:
		if failed := rep.FailedStage(); failed != nil {
			r.printf("\n💥 Pipeline failed at stage %s.\n", failed.Name)
		} else {
			r.printf("\n💥 Pipeline failed.\n")
		}
	}

	if r.broker != nil {
		r.broker.Broadcast(events.RunFinished, map[string]any{
			"run_id":   rep.RunID,
			"status":   rep.Status,
			"duration": rep.Duration.String(),
		})
	}
	if r.store != nil && rep.RunID != 0 {
		if err := r.store.UpdateRunStatus(rep.RunID, string(rep.Status), rep.Duration, rep.Error); err != nil {
			r.log.Warn("failed to update run", "run_id", rep.RunID, "error", err)
		}
	}
}
