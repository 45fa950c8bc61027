package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagego/runner"
)

const demoPipeline = `
name: demo
stages:
  - name: compile
    steps:
      - name: build
        run: echo built > app.bin
    outputs:
      - name: app
        path: app.bin
  - name: test
    inputs: [app]
    steps:
      - name: unit
        run: test -s "$ARTIFACT_APP"
      - name: lint
        run: "echo 'lint: 2 warnings' >&2; exit 4"
  - name: deploy
    steps:
      - name: ship
        run: echo shipping
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("STAGEGO_DATA_DIR", filepath.Join(t.TempDir(), "data"))
	t.Setenv("STAGEGO_LOG_LEVEL", "error")

	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stagego.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exit *ExitError
	require.True(t, errors.As(err, &exit), "expected an ExitError, got %v", err)
	return exit.Code
}

func TestValidateCommand(t *testing.T) {
	stdout, _, err := execute(t, "validate", writePipeline(t, demoPipeline))
	require.NoError(t, err)
	assert.Equal(t, "✅ demo: 3 stage(s), 4 step(s)\n", stdout)
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writePipeline(t, `
stages:
  - name: test
    inputs: [app]
    steps:
      - name: unit
`)
	_, stderr, err := execute(t, "validate", path)
	assert.Equal(t, runner.ExitInvalid, exitCode(t, err))
	assert.Contains(t, stderr, "❌ "+path+" is invalid:\n")
	assert.Contains(t, stderr, "  - stage test step unit: one of run, command or uses is required\n")
	assert.Contains(t, stderr, "  - stage test: input artifact app is not produced by an earlier stage\n")
}

func TestValidateCommand_Unreadable(t *testing.T) {
	_, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing.yml"))
	assert.Equal(t, runner.ExitInvalid, exitCode(t, err))
}

func TestPlanCommand(t *testing.T) {
	stdout, _, err := execute(t, "plan", writePipeline(t, demoPipeline))
	require.NoError(t, err)
	assert.Contains(t, stdout, "1. 📦 compile [out: app]\n")
	assert.Contains(t, stdout, "2. 📦 test [in: app]\n")
	assert.Contains(t, stdout, "   → lint: echo 'lint: 2 warnings' >&2; exit 4\n")
}

func TestRunCommand_JSONReport(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.json")
	stdout, _, err := execute(t, "run", "--no-store", "--json", "--report", reportPath, writePipeline(t, demoPipeline))
	assert.Equal(t, runner.ExitFailed, exitCode(t, err))

	var report runner.RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report), stdout)
	assert.Equal(t, runner.RunFailed, report.Status)
	assert.Equal(t, []runner.StageStatus{runner.StageSucceeded, runner.StageFailed, runner.StageSkipped}, report.Statuses())
	assert.Equal(t, "lint", report.Stages[1].FailedStep)
	assert.Contains(t, report.Stages[1].OutputTail, "lint: 2 warnings")

	written, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var fromFile runner.RunReport
	require.NoError(t, json.Unmarshal(written, &fromFile))
	assert.Equal(t, report.RunID, fromFile.RunID)
}

func TestRunCommand_RecordsHistory(t *testing.T) {
	t.Setenv("STAGEGO_DATA_DIR", filepath.Join(t.TempDir(), "data"))
	t.Setenv("STAGEGO_LOG_LEVEL", "error")
	path := writePipeline(t, `
name: ok
stages:
  - name: build
    steps:
      - name: make
        run: echo done
`)

	run := func(args ...string) (string, error) {
		var stdout bytes.Buffer
		root := NewRootCommand()
		root.SetOut(&stdout)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(args)
		err := root.Execute()
		return stdout.String(), err
	}

	stdout, err := run("run", "--branch", "main", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "🚀 Pipeline: ok")
	assert.Contains(t, stdout, "📊 Run ID: 1 | Status: succeeded")

	stdout, err = run("runs")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ID  STATUS")
	assert.Regexp(t, `1\s+succeeded\s+ok\s+-\s+main`, stdout)

	stdout, err = run("runs", "show", "1", "--json")
	require.NoError(t, err)
	var details struct {
		Run struct {
			Status string `json:"status"`
		} `json:"run"`
		Steps []struct {
			Output string `json:"output"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &details), stdout)
	assert.Equal(t, "succeeded", details.Run.Status)
	require.Len(t, details.Steps, 1)
	assert.Equal(t, "done\n", details.Steps[0].Output)

	_, err = run("runs", "show", "42")
	assert.Error(t, err)
}
