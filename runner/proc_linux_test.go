package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// running reports whether pid exists and is not a zombie.
func running(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z"
}

func TestStepRunner_SuccessKillsBackgroundChildren(t *testing.T) {
	r := &StepRunner{}
	req := stepRequest(t, sh("daemon", "sleep 30 & echo $! > pid"))

	start := time.Now()
	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Less(t, time.Since(start), time.Second, "the step does not wait for its background child")

	data, err := os.ReadFile(filepath.Join(req.Dir, "pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !running(pid) }, 2*time.Second, 10*time.Millisecond)
}

func TestStepRunner_FailureKillsBackgroundChildren(t *testing.T) {
	r := &StepRunner{}
	req := stepRequest(t, sh("daemon", "sleep 30 & echo $! > pid; exit 3"))

	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)

	data, err := os.ReadFile(filepath.Join(req.Dir, "pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !running(pid) }, 2*time.Second, 10*time.Millisecond)
}
