package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// outputTailSize is how much failing output a stage outcome carries.
const outputTailSize = 4096

// RunContext is the state a stage sees: the run's metadata and the outcomes
// of the stages before it. Only the controller appends outcomes.
type RunContext struct {
	RunID    int
	Pipeline string
	Branch   string
	Tag      string

	// Env is the pipeline-level environment: process, env_file, then pipeline env.
	Env Environment

	graph    *Graph
	outcomes []StageOutcome
	failed   bool
}

// NewRunContext binds run metadata to a graph.
func NewRunContext(graph *Graph, runID int, branch, tag string, env Environment) *RunContext {
	return &RunContext{
		RunID:    runID,
		Pipeline: graph.def.Name,
		Branch:   branch,
		Tag:      tag,
		Env:      env,
		graph:    graph,
	}
}

// Failed reports whether a non-advisory stage has failed so far.
func (rc *RunContext) Failed() bool {
	return rc.failed
}

// Outcomes returns the outcomes recorded so far, in plan order.
func (rc *RunContext) Outcomes() []StageOutcome {
	out := make([]StageOutcome, len(rc.outcomes))
	copy(out, rc.outcomes)
	return out
}

// ResolveArtifact resolves a name in the run's artifact namespace.
func (rc *RunContext) ResolveArtifact(name string) (ArtifactRef, error) {
	return rc.graph.ResolveArtifact(name)
}

func (rc *RunContext) record(outcome StageOutcome) {
	rc.outcomes = append(rc.outcomes, outcome)
	if outcome.Status == StageFailed && !outcome.Advisory {
		rc.failed = true
	}
}

func (rc *RunContext) workDir(dir string) string {
	if dir == "" {
		return rc.graph.def.BaseDir
	}
	return rc.graph.def.resolvePath(dir)
}

// StageRunner executes one stage's steps in order.
type StageRunner struct {
	Steps *StepRunner
	rec   *recorder
}

// NewStageRunner returns a stage runner that only logs progress.
func NewStageRunner(steps *StepRunner) *StageRunner {
	return &StageRunner{Steps: steps, rec: &recorder{log: slog.Default()}}
}

// Execute runs stage against rc. The stage is skipped when its condition
// does not hold, stops at the first failing step, and publishes its outputs
// only when every step succeeded. The error is non-nil only for a
// *StepLaunchError, which the caller must treat as fatal.
func (s *StageRunner) Execute(ctx context.Context, stage StageDefinition, rc *RunContext) (StageOutcome, error) {
	outcome := StageOutcome{Name: stage.Name, Advisory: stage.ContinueOnFailure}
	position := len(rc.outcomes)

	if !stage.When.Allows(rc) {
		outcome.Status = StageSkipped
		outcome.SkipReason = SkipCondition
		s.rec.stageFinished(rc.RunID, 0, position, outcome)
		return outcome, nil
	}

	outcome.Status = StageRunning
	outcome.StartedAt = time.Now()
	stageID := s.rec.stageStarted(rc.RunID, stage.Name, position)

	finish := func() {
		outcome.FinishedAt = time.Now()
		outcome.Duration = outcome.FinishedAt.Sub(outcome.StartedAt)
		s.rec.stageFinished(rc.RunID, stageID, position, outcome)
	}
	fail := func(reason FailureReason, msg string) {
		outcome.Status = StageFailed
		outcome.Reason = reason
		outcome.Error = msg
	}

	runVars := map[string]string{
		"STAGEGO_RUN_ID":   strconv.Itoa(rc.RunID),
		"STAGEGO_PIPELINE": rc.Pipeline,
		"STAGEGO_STAGE":    stage.Name,
		"BRANCH_NAME":      rc.Branch,
		"TAG_NAME":         rc.Tag,
	}
	for _, in := range stage.Inputs {
		ref, err := rc.ResolveArtifact(in)
		if err != nil {
			fail(ReasonMissingArtifact, err.Error())
			finish()
			return outcome, nil
		}
		runVars[artifactEnvName(in)] = ref.Path
	}
	stageEnv := MergeEnv(rc.Env, runVars, stage.Env)

	for _, step := range stage.Steps {
		// cancellation is cooperative between steps; the runner kills the in-flight one
		if ctx.Err() != nil {
			outcome.FailedStep = step.Name
			fail(ReasonAborted, "run aborted")
			finish()
			return outcome, nil
		}

		stepID := s.rec.stepStarted(rc.RunID, stageID, stage.Name, step)
		so, err := s.Steps.Run(ctx, StepRequest{
			Stage:     stage.Name,
			Step:      step,
			Env:       MergeEnv(stageEnv, step.Env),
			Dir:       rc.workDir(step.Dir),
			Artifacts: rc,
		})
		s.rec.stepFinished(stepID, so)
		outcome.Steps = append(outcome.Steps, so)

		if err != nil || !so.Succeeded() {
			code := so.ExitCode
			outcome.ExitCode = &code
			outcome.FailedStep = step.Name
			outcome.OutputTail = tail(so.Output(), outputTailSize)
			fail(so.Reason, fmt.Sprintf("step %s: %s", step.Name, so.Error))

			var launchErr *StepLaunchError
			if errors.As(err, &launchErr) {
				launchErr.Stage = stage.Name
			}
			finish()
			return outcome, err
		}
	}

	if err := s.publish(stage, rc, &outcome); err != nil {
		fail(ReasonOutputMissing, err.Error())
		finish()
		return outcome, nil
	}

	zero := 0
	outcome.ExitCode = &zero
	outcome.Status = StageSucceeded
	finish()
	return outcome, nil
}

// publish checks every declared output before publishing any, so a stage
// never leaves a partial set behind.
func (s *StageRunner) publish(stage StageDefinition, rc *RunContext, outcome *StageOutcome) error {
	for _, out := range stage.Outputs {
		path := rc.graph.def.resolvePath(out.Path)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("output %s: %w", out.Name, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("output %s: %s is not a regular file", out.Name, path)
		}
	}

	names, err := rc.graph.publishOutputs(stage)
	outcome.Artifacts = names
	if err != nil {
		return err
	}
	for _, name := range names {
		if ref, err := rc.ResolveArtifact(name); err == nil {
			s.rec.artifactPublished(rc.RunID, ref)
		}
	}
	return nil
}
