package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"stagego/ctxlog"
	"stagego/events"
	"stagego/runner/storage"
)

// RunPipelineOptions configures how runs are executed and where their
// progress goes. The zero value runs quietly without persistence.
type RunPipelineOptions struct {
	Storage          *storage.Storage
	Events           *events.EventBroker
	StreamToTerminal bool
	Stdout           io.Writer // defaults to os.Stdout when streaming
	Stderr           io.Writer // defaults to os.Stderr when streaming
	Logger           *slog.Logger

	Executors   *Registry
	OutputLimit int
	Retry       RetryPolicy

	// ArtifactDir holds the run-scoped artifact stores; defaults to the OS temp dir.
	ArtifactDir string

	ConfigPath  string
	ProjectName string
	Branch      string
	Tag         string
}

// Run IDs handed out when no storage assigns them.
var localRunIDs atomic.Int64

// Controller drives pipeline runs: stages in plan order, the failure and
// abort policy, and the final report.
type Controller struct {
	opts RunPipelineOptions
	reg  *Registry
}

// NewController returns a controller for opts.
func NewController(opts RunPipelineOptions) *Controller {
	reg := opts.Executors
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Controller{opts: opts, reg: reg}
}

// Run is a prepared pipeline run. It has an ID before it starts, so callers
// can hand it out and abort it by ID. A Run executes at most once.
type Run struct {
	c       *Controller
	def     *PipelineDefinition
	report  *RunReport
	started atomic.Bool
}

// ID returns the run's identifier.
func (r *Run) ID() int {
	return r.report.RunID
}

// Pipeline returns the name of the pipeline being run.
func (r *Run) Pipeline() string {
	return r.def.Name
}

// Prepare validates def and allocates a run for it. An invalid definition
// never produces a run.
func (c *Controller) Prepare(def *PipelineDefinition) (*Run, error) {
	if err := def.ValidateWith(c.reg); err != nil {
		return nil, err
	}

	report := &RunReport{
		Pipeline:  def.Name,
		Project:   c.opts.ProjectName,
		Branch:    c.opts.Branch,
		Tag:       c.opts.Tag,
		Status:    RunNotStarted,
		Stages:    make([]StageOutcome, len(def.Stages)),
		Artifacts: []ArtifactRef{},
	}
	for i, stage := range def.Stages {
		report.Stages[i] = StageOutcome{Name: stage.Name, Status: StagePending}
	}

	if c.opts.Storage != nil {
		run, err := c.opts.Storage.CreateRun(c.opts.ConfigPath, c.opts.ProjectName, def.Name, c.opts.Branch)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		report.RunID = run.ID
	} else {
		report.RunID = int(localRunIDs.Add(1))
	}

	return &Run{c: c, def: def, report: report}, nil
}

// RunPipeline prepares and executes def.
func (c *Controller) RunPipeline(ctx context.Context, def *PipelineDefinition) (*RunReport, error) {
	run, err := c.Prepare(def)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

func (c *Controller) logger() *slog.Logger {
	if c.opts.Logger != nil {
		return c.opts.Logger
	}
	return slog.Default()
}

func (c *Controller) liveOutput() (io.Writer, io.Writer) {
	if !c.opts.StreamToTerminal {
		return nil, nil
	}
	stdout, stderr := c.opts.Stdout, c.opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

// Execute runs every stage in plan order and returns the finalized report.
//
// A failed stage fails the run, and later stages are skipped unless their
// condition runs them after a failure. Cancelling ctx aborts the run: the
// in-flight step is killed and the remaining stages are skipped. The error is
// non-nil when a step could not be launched or the run could not be set up;
// the report is returned in both cases.
func (r *Run) Execute(ctx context.Context) (*RunReport, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrRunStarted
	}

	c := r.c
	rep := r.report
	log := c.logger().With("run_id", rep.RunID, "pipeline", rep.Pipeline)
	ctx = ctxlog.WithLogger(ctx, log)

	stdout, stderr := c.liveOutput()
	rec := &recorder{store: c.opts.Storage, broker: c.opts.Events, console: stdout, log: log}

	rep.Status = RunRunning
	rep.StartedAt = time.Now()
	rec.runStarted(rep)

	skip := func(from int, reason string) {
		for i := from; i < len(rep.Stages); i++ {
			rep.Stages[i] = StageOutcome{Name: rep.Stages[i].Name, Status: StageSkipped, SkipReason: reason}
			rec.stageFinished(rep.RunID, 0, i, rep.Stages[i])
		}
	}
	finish := func(status RunStatus, runErr error) (*RunReport, error) {
		rep.Status = status
		rep.FinishedAt = time.Now()
		rep.Duration = rep.FinishedAt.Sub(rep.StartedAt)
		if runErr != nil {
			rep.Error = runErr.Error()
		}
		rec.runFinished(rep)
		return rep, runErr
	}

	ns, graph, env, err := r.setup()
	if err != nil {
		skip(0, SkipPipelineFailed)
		return finish(RunFailed, err)
	}
	defer func() {
		if r.def.Retention == RetainAlways {
			return
		}
		if err := ns.Discard(); err != nil {
			log.Warn("failed to discard artifact store", "dir", ns.Dir(), "error", err)
		}
	}()

	rc := NewRunContext(graph, rep.RunID, c.opts.Branch, c.opts.Tag, env)
	stages := &StageRunner{
		Steps: &StepRunner{
			Executors:   c.reg,
			OutputLimit: c.opts.OutputLimit,
			Stdout:      stdout,
			Stderr:      stderr,
			Retry:       c.opts.Retry,
		},
		rec: rec,
	}

	var launchErr error
	for i, stage := range graph.Plan() {
		var outcome StageOutcome
		switch {
		case launchErr != nil:
			outcome = StageOutcome{Name: stage.Name, Status: StageSkipped, SkipReason: SkipPipelineFailed}
			rec.stageFinished(rep.RunID, 0, i, outcome)
		case ctx.Err() != nil:
			outcome = StageOutcome{Name: stage.Name, Status: StageSkipped, SkipReason: SkipAborted}
			rec.stageFinished(rep.RunID, 0, i, outcome)
		case rc.Failed() && !stage.When.RunsAfterFailure():
			outcome = StageOutcome{Name: stage.Name, Status: StageSkipped, SkipReason: SkipPipelineFailed}
			rec.stageFinished(rep.RunID, 0, i, outcome)
		default:
			outcome, err = stages.Execute(ctx, stage, rc)
			if err != nil {
				launchErr = err
			}
		}
		rc.record(outcome)
		rep.Stages[i] = outcome
	}

	rep.Artifacts = ns.Snapshot()

	status := RunSucceeded
	switch {
	case launchErr != nil:
		status = RunFailed
	case wasAborted(rep.Stages):
		status = RunAborted
	case rc.Failed():
		status = RunFailed
	}
	if launchErr == nil && status == RunFailed {
		if failed := rep.FailedStage(); failed != nil {
			rep.Error = fmt.Sprintf("stage %s failed: %s", failed.Name, failed.Error)
		}
	}
	return finish(status, launchErr)
}

// setup creates the run's artifact store, publishes the external artifacts
// and resolves the pipeline-level environment.
func (r *Run) setup() (*ArtifactNamespace, *Graph, Environment, error) {
	root := r.c.opts.ArtifactDir
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	dir, err := os.MkdirTemp(root, fmt.Sprintf("run-%d-*", r.report.RunID))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create artifact store: %w", err)
	}
	ns, err := NewArtifactNamespace(dir)
	if err != nil {
		return nil, nil, nil, err
	}

	fail := func(err error) (*ArtifactNamespace, *Graph, Environment, error) {
		ns.Discard()
		return nil, nil, nil, err
	}

	graph, err := NewGraph(r.def, r.c.reg, ns)
	if err != nil {
		return fail(err)
	}
	if err := graph.publishExternal(); err != nil {
		return fail(err)
	}

	fileEnv, err := loadEnvFile(r.def.resolvePath(r.def.EnvFile))
	if err != nil {
		return fail(err)
	}
	return ns, graph, MergeEnv(ProcessEnv(), fileEnv, r.def.Env), nil
}

func wasAborted(stages []StageOutcome) bool {
	for _, s := range stages {
		if s.Reason == ReasonAborted || s.SkipReason == SkipAborted {
			return true
		}
	}
	return false
}

// RunPipelineWithOptions loads the pipeline at configPath and runs it.
func RunPipelineWithOptions(ctx context.Context, configPath string, opts RunPipelineOptions) (*RunReport, error) {
	def, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = configPath
	}
	return NewController(opts).RunPipeline(ctx, def)
}
