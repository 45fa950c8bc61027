package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"stagego/ctxlog"
)

// RetryPolicy decides whether a failed step is attempted again. attempt is
// the number of attempts made so far. Runs never retry unless one is set.
type RetryPolicy func(step StepDefinition, outcome StepOutcome, attempt int) bool

// StepRunner runs a single step with bounded output capture and its timeout.
type StepRunner struct {
	Executors   *Registry
	OutputLimit int

	// Stdout and Stderr, when set, receive the step's output live.
	Stdout io.Writer
	Stderr io.Writer

	Retry RetryPolicy
}

// Run executes req.Step. A non-zero exit, a timeout or an abort is a failed
// outcome, not an error; the error is non-nil only when the step could not be
// launched, and is then a *StepLaunchError.
func (r *StepRunner) Run(ctx context.Context, req StepRequest) (StepOutcome, error) {
	log := ctxlog.FromContext(ctx).With("stage", req.Stage, "step", req.Step.Name)
	for attempt := 1; ; attempt++ {
		log.Debug("step started", "executor", req.Step.Executor(), "attempt", attempt)
		outcome, err := r.runOnce(ctx, req)
		outcome.Attempts = attempt
		log.Debug("step finished", "status", outcome.Status, "exit_code", outcome.ExitCode, "duration", outcome.Duration)
		if err != nil || outcome.Succeeded() || ctx.Err() != nil {
			return outcome, err
		}
		if r.Retry == nil || !r.Retry(req.Step, outcome, attempt) {
			return outcome, nil
		}
		log.Info("retrying step", "attempt", attempt+1, "reason", outcome.Reason)
	}
}

func (r *StepRunner) runOnce(ctx context.Context, req StepRequest) (StepOutcome, error) {
	outcome := StepOutcome{
		Name:      req.Step.Name,
		Command:   req.Step.Describe(),
		StartedAt: time.Now(),
	}

	reg := r.Executors
	if reg == nil {
		reg = DefaultRegistry()
	}
	exe, ok := reg.Lookup(req.Step.Executor())
	if !ok {
		err := launchError(req.Step.Name, fmt.Errorf("unknown executor %q", req.Step.Executor()))
		outcome.Status = StageFailed
		outcome.Reason = ReasonLaunchError
		outcome.ExitCode = -1
		outcome.Error = err.Error()
		return outcome, err
	}

	stepCtx, cancel := ctx, context.CancelFunc(func() {})
	timeout := req.Step.TimeoutDuration()
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	stdout := newTailBuffer(r.OutputLimit)
	stderr := newTailBuffer(r.OutputLimit)
	req.Stdout = tee(stdout, r.Stdout)
	req.Stderr = tee(stderr, r.Stderr)

	code, err := exe.Execute(stepCtx, req)

	outcome.Duration = time.Since(outcome.StartedAt)
	outcome.ExitCode = code
	outcome.Stdout = stdout.String()
	outcome.Stderr = stderr.String()
	outcome.Truncated = stdout.Truncated() || stderr.Truncated()

	var launchErr *StepLaunchError
	if errors.As(err, &launchErr) {
		outcome.Status = StageFailed
		outcome.Reason = ReasonLaunchError
		outcome.Error = err.Error()
		return outcome, err
	}
	if err == nil && code == 0 {
		outcome.Status = StageSucceeded
		return outcome, nil
	}

	outcome.Status = StageFailed
	switch {
	case ctx.Err() != nil:
		outcome.Reason = ReasonAborted
		outcome.Error = "step aborted"
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		outcome.Reason = ReasonTimeout
		outcome.Error = fmt.Sprintf("step timed out after %s", timeout)
	default:
		outcome.Reason = ReasonExit
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Error = fmt.Sprintf("exit status %d", code)
		}
	}
	return outcome, nil
}

func tee(buf io.Writer, live io.Writer) io.Writer {
	if live == nil {
		return buf
	}
	return io.MultiWriter(buf, live)
}
