package runner

import (
	"time"
)

// StageStatus is the lifecycle state of a stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// RunStatus is the lifecycle state of a whole run.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunAborted    RunStatus = "aborted"
)

// FailureReason explains a failed step or stage.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonExit            FailureReason = "exit"
	ReasonTimeout         FailureReason = "timeout"
	ReasonAborted         FailureReason = "aborted"
	ReasonLaunchError     FailureReason = "launch_error"
	ReasonMissingArtifact FailureReason = "missing_artifact"
	ReasonOutputMissing   FailureReason = "output_missing"
)

// Skip reasons recorded on skipped stages.
const (
	SkipCondition      = "condition"
	SkipPipelineFailed = "pipeline_failed"
	SkipAborted        = "aborted"
)

// Process exit codes derived from a run report.
const (
	ExitSucceeded = 0
	ExitFailed    = 1
	ExitInvalid   = 2
	ExitTimeout   = 124
	ExitAborted   = 130
)

// StepOutcome is the result of running one step.
type StepOutcome struct {
	Name      string        `json:"name"`
	Command   string        `json:"command"`
	Status    StageStatus   `json:"status"` // succeeded or failed
	Reason    FailureReason `json:"reason,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Attempts  int           `json:"attempts"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Succeeded reports whether the step exited 0 within its timeout.
func (o StepOutcome) Succeeded() bool {
	return o.Status == StageSucceeded
}

// Output returns stdout followed by stderr, the way step output is stored.
func (o StepOutcome) Output() string {
	out := o.Stdout + o.Stderr
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out += "\n"
	}
	return out
}

// StageOutcome is the result of one stage.
type StageOutcome struct {
	Name       string        `json:"name"`
	Status     StageStatus   `json:"status"`
	Reason     FailureReason `json:"reason,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Advisory   bool          `json:"advisory,omitempty"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	FailedStep string        `json:"failed_step,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
	Error      string        `json:"error,omitempty"`
	Steps      []StepOutcome `json:"steps,omitempty"`
	Artifacts  []string      `json:"artifacts,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunReport is the finalized record of one run.
type RunReport struct {
	RunID      int            `json:"run_id"`
	Pipeline   string         `json:"pipeline"`
	Project    string         `json:"project,omitempty"`
	Branch     string         `json:"branch,omitempty"`
	Tag        string         `json:"tag,omitempty"`
	Status     RunStatus      `json:"status"`
	Stages     []StageOutcome `json:"stages"`
	Artifacts  []ArtifactRef  `json:"artifacts"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"`
}

// FailedStage returns the first failed stage that failed the run, or nil.
// Advisory failures are ignored.
func (r *RunReport) FailedStage() *StageOutcome {
	for i := range r.Stages {
		if r.Stages[i].Status == StageFailed && !r.Stages[i].Advisory {
			return &r.Stages[i]
		}
	}
	return nil
}

// ExitCode maps the run's final state to a process exit code, keeping
// timeouts and aborts apart from ordinary failures.
func (r *RunReport) ExitCode() int {
	switch r.Status {
	case RunSucceeded:
		return ExitSucceeded
	case RunAborted:
		return ExitAborted
	}
	if failed := r.FailedStage(); failed != nil && failed.Reason == ReasonTimeout {
		return ExitTimeout
	}
	return ExitFailed
}

// Statuses returns stage statuses in plan order.
func (r *RunReport) Statuses() []StageStatus {
	out := make([]StageStatus, len(r.Stages))
	for i, s := range r.Stages {
		out[i] = s.Status
	}
	return out
}
