package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// waitDelay bounds how long a cancelled step may take to exit, and how long
// output is drained after it has.
const waitDelay = 2 * time.Second

// ShellExecutor runs `run` through a shell, `bash -c` unless overridden.
type ShellExecutor struct{}

type shellOptions struct {
	Shell string `yaml:"shell"`
}

func (ShellExecutor) Validate(step StepDefinition) error {
	if step.Run == "" {
		return fmt.Errorf("shell step requires run")
	}
	if step.Command != "" {
		return fmt.Errorf("shell step cannot also set command")
	}
	var opts shellOptions
	return decodeOptions(step.With, &opts)
}

func (ShellExecutor) Execute(ctx context.Context, req StepRequest) (int, error) {
	var opts shellOptions
	if err := decodeOptions(req.Step.With, &opts); err != nil {
		return -1, launchError(req.Step.Name, err)
	}
	shell := opts.Shell
	if shell == "" {
		shell = "bash"
	}
	return runProcess(ctx, req, shell, "-c", req.Step.Run)
}

// ExecExecutor runs `command` with `args` directly, without a shell.
// ${VAR} references in the command and arguments expand from the step environment;
// write $$ for a literal $.
type ExecExecutor struct{}

func (ExecExecutor) Validate(step StepDefinition) error {
	if step.Command == "" {
		return fmt.Errorf("exec step requires command")
	}
	if step.Run != "" {
		return fmt.Errorf("exec step cannot also set run")
	}
	if len(step.With) > 0 {
		return fmt.Errorf("exec step takes no options")
	}
	return nil
}

func (ExecExecutor) Execute(ctx context.Context, req StepRequest) (int, error) {
	args := make([]string, len(req.Step.Args))
	for i, a := range req.Step.Args {
		args[i] = req.Env.Expand(a)
	}
	return runProcess(ctx, req, req.Env.Expand(req.Step.Command), args...)
}

// runProcess starts the command and waits for it. Only failures to start are
// returned as errors; a non-zero or signalled exit is reported through the code.
// Once the command exits, whatever it left running in its process group is killed.
func runProcess(ctx context.Context, req StepRequest, name string, args ...string) (int, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return -1, launchError(req.Step.Name, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return -1, launchError(req.Step.Name, err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env.List()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	startErr := cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		if ctx.Err() != nil {
			return -1, nil
		}
		return -1, launchError(req.Step.Name, startErr)
	}

	copied := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go drain(&wg, req.Stdout, stdoutR)
		go drain(&wg, req.Stderr, stderrR)
		wg.Wait()
		close(copied)
	}()

	err = cmd.Wait()
	killGroup(cmd)

	select {
	case <-copied:
	case <-time.After(waitDelay):
		// something outside the group still holds the pipes
		stdoutR.Close()
		stderrR.Close()
		<-copied
	}
	stdoutR.Close()
	stderrR.Close()

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, nil
	}
	return -1, fmt.Errorf("failed to wait for step: %w", err)
}

func drain(wg *sync.WaitGroup, w io.Writer, r io.Reader) {
	defer wg.Done()
	if w == nil {
		w = io.Discard
	}
	io.Copy(w, r)
}
