package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepRequest(t *testing.T, step StepDefinition) StepRequest {
	t.Helper()
	return StepRequest{
		Stage: "test",
		Step:  step,
		Env:   MergeEnv(ProcessEnv()),
		Dir:   t.TempDir(),
	}
}

func TestStepRunner_Success(t *testing.T) {
	var live bytes.Buffer
	r := &StepRunner{Stdout: &live}

	out, err := r.Run(context.Background(), stepRequest(t, sh("hello", "echo hello; echo warn >&2")))
	require.NoError(t, err)

	assert.True(t, out.Succeeded())
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "warn\n", out.Stderr)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "echo hello; echo warn >&2", out.Command)
	assert.Equal(t, "hello\n", live.String(), "stdout is streamed live")
}

func TestStepRunner_NonZeroExit(t *testing.T) {
	r := &StepRunner{}

	out, err := r.Run(context.Background(), stepRequest(t, sh("fail", "exit 7")))
	require.NoError(t, err)

	assert.False(t, out.Succeeded())
	assert.Equal(t, ReasonExit, out.Reason)
	assert.Equal(t, 7, out.ExitCode)
	assert.Equal(t, "exit status 7", out.Error)
}

func TestStepRunner_Timeout(t *testing.T) {
	r := &StepRunner{}
	step := StepDefinition{Name: "slow", Run: "sleep 10", Timeout: "100ms"}

	start := time.Now()
	out, err := r.Run(context.Background(), stepRequest(t, step))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StageFailed, out.Status)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.Contains(t, out.Error, "timed out after 100ms")
}

func TestStepRunner_FinishesJustBeforeTimeout(t *testing.T) {
	r := &StepRunner{}
	step := StepDefinition{Name: "quick", Run: "sleep 0.1", Timeout: "2s"}

	out, err := r.Run(context.Background(), stepRequest(t, step))
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
}

func TestStepRunner_TimeoutKillsChildren(t *testing.T) {
	r := &StepRunner{}
	// the background sleep holds stdout open; killing the group must release it
	step := StepDefinition{Name: "forks", Run: "sleep 10 & sleep 10; wait", Timeout: "200ms"}

	start := time.Now()
	out, err := r.Run(context.Background(), stepRequest(t, step))
	require.NoError(t, err)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStepRunner_Aborted(t *testing.T) {
	r := &StepRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	out, err := r.Run(ctx, stepRequest(t, sh("slow", "sleep 10")))
	require.NoError(t, err)
	assert.Equal(t, ReasonAborted, out.Reason)
}

func TestStepRunner_TruncatesOutput(t *testing.T) {
	r := &StepRunner{OutputLimit: 1024}

	out, err := r.Run(context.Background(), stepRequest(t, sh("noisy", "for i in $(seq 1 2000); do echo line-$i; done")))
	require.NoError(t, err)

	assert.True(t, out.Truncated)
	assert.True(t, strings.HasPrefix(out.Stdout, "[... "))
	assert.Contains(t, out.Stdout, "bytes truncated ...]")
	assert.True(t, strings.HasSuffix(out.Stdout, "line-2000\n"), "the tail of the output is kept")
	assert.Less(t, len(out.Stdout), 1100)
}

func TestStepRunner_LaunchError(t *testing.T) {
	r := &StepRunner{}

	out, err := r.Run(context.Background(), stepRequest(t, StepDefinition{Name: "missing", Command: "/nonexistent/tool"}))
	require.Error(t, err)

	var launchErr *StepLaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Equal(t, "missing", launchErr.Step)
	assert.Equal(t, ReasonLaunchError, out.Reason)
	assert.Equal(t, -1, out.ExitCode)
}

func TestStepRunner_UnknownExecutorIsLaunchError(t *testing.T) {
	r := &StepRunner{Executors: NewRegistry()}

	_, err := r.Run(context.Background(), stepRequest(t, sh("hello", "true")))
	var launchErr *StepLaunchError
	assert.True(t, errors.As(err, &launchErr))
}

func TestStepRunner_Retry(t *testing.T) {
	dir := t.TempDir()
	var attempts []int
	r := &StepRunner{Retry: func(step StepDefinition, outcome StepOutcome, attempt int) bool {
		attempts = append(attempts, attempt)
		return attempt < 3
	}}

	req := stepRequest(t, sh("flaky", `n=$(cat count 2>/dev/null || echo 0); n=$((n+1)); echo $n > count; [ $n -ge 2 ]`))
	req.Dir = dir

	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []int{1}, attempts)
}

func TestStepRunner_NoRetryByDefault(t *testing.T) {
	r := &StepRunner{}
	out, err := r.Run(context.Background(), stepRequest(t, sh("fail", "exit 1")))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
}

func TestExecExecutor_ExpandsVariables(t *testing.T) {
	r := &StepRunner{}
	req := stepRequest(t, StepDefinition{Name: "echo", Command: "echo", Args: []string{"${GREETING}", "$NAME"}})
	req.Env = MergeEnv(req.Env, map[string]string{"GREETING": "hello", "NAME": "stagego"})

	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello stagego\n", out.Stdout)

	req.Step.Args = []string{"cost $$5", "$$NAME"}
	out, err = r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cost $5 $NAME\n", out.Stdout)
}

func TestShellExecutor_CustomShell(t *testing.T) {
	r := &StepRunner{}
	req := stepRequest(t, StepDefinition{Name: "sh", Run: "echo $0", With: map[string]any{"shell": "sh"}})

	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sh\n", out.Stdout)
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(10)
	_, _ = b.Write([]byte("0123456789"))
	assert.False(t, b.Truncated())
	assert.Equal(t, "0123456789", b.String())

	_, _ = b.Write([]byte("abc"))
	assert.True(t, b.Truncated())
	assert.Equal(t, "[... 3 bytes truncated ...]\n3456789abc", b.String())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "line3\n", tail("line1\nline2\nline3\n", 8))
}
