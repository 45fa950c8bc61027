package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "stagego.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStorage(t)

	run, err := s.CreateRun("/srv/webapp/stagego.yml", "webapp", "webapp", "main")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)

	stage, err := s.CreateStageExecution(run.ID, "compile", 0, "running")
	require.NoError(t, err)
	step, err := s.CreateStepExecution(run.ID, stage.ID, "compile", "build", "mvn compile")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStepExecution(step.ID, "failed", "exit", 2, "BUILD FAILURE", time.Second))
	code := 2
	require.NoError(t, s.UpdateStageExecution(stage.ID, "failed", "exit", &code, time.Second))
	skipped, err := s.CreateStageExecution(run.ID, "package", 1, "skipped")
	require.NoError(t, err)
	require.NoError(t, s.UpdateStageExecution(skipped.ID, "skipped", "pipeline_failed", nil, 0))
	require.NoError(t, s.UpdateRunStatus(run.ID, "failed", 2*time.Second, "stage compile failed"))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "stage compile failed", got.Error)
	assert.Equal(t, "main", got.Branch)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.Duration)
	assert.Equal(t, "2s", *got.Duration)

	stages, err := s.GetStageExecutions(run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "compile", stages[0].Name)
	require.NotNil(t, stages[0].ExitCode)
	assert.Equal(t, 2, *stages[0].ExitCode)
	assert.Equal(t, "pipeline_failed", stages[1].Reason)
	assert.Nil(t, stages[1].ExitCode)

	steps, err := s.GetStepExecutions(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "BUILD FAILURE", steps[0].Output)
	assert.Equal(t, stage.ID, steps[0].StageID)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetRun(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunsOrderingAndProjects(t *testing.T) {
	s := newTestStorage(t)

	first, err := s.CreateRun("a.yml", "api", "api", "")
	require.NoError(t, err)
	second, err := s.CreateRun("b.yml", "webapp", "webapp", "")
	require.NoError(t, err)
	third, err := s.CreateRun("a.yml", "api", "api", "")
	require.NoError(t, err)

	runs, err := s.GetRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []int{third.ID, second.ID, first.ID}, []int{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = s.GetRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	api, err := s.GetProjectRuns("api", 10)
	require.NoError(t, err)
	assert.Len(t, api, 2)
}

func TestMarkInterruptedRuns(t *testing.T) {
	s := newTestStorage(t)

	stale, err := s.CreateRun("a.yml", "", "a", "")
	require.NoError(t, err)
	done, err := s.CreateRun("a.yml", "", "a", "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(done.ID, "succeeded", time.Second, ""))

	n, err := s.MarkInterruptedRuns()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRun(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, "aborted", got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	got, err = s.GetRun(done.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
}

func TestArtifacts(t *testing.T) {
	s := newTestStorage(t)
	run, err := s.CreateRun("a.yml", "", "a", "")
	require.NoError(t, err)

	require.NoError(t, s.CreateArtifact(run.ID, "package", "app.war", "/data/objects/ab/abc.war", "abc", 1024))

	artifacts, err := s.GetArtifacts(run.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "app.war", artifacts[0].Name)
	assert.Equal(t, "package", artifacts[0].Stage)
	assert.Equal(t, int64(1024), artifacts[0].Size)
}

func TestGetStageStats_LimitsPerStage(t *testing.T) {
	s := newTestStorage(t)

	for i := 0; i < 4; i++ {
		run, err := s.CreateRun("a.yml", "webapp", "webapp", "")
		require.NoError(t, err)
		build, err := s.CreateStageExecution(run.ID, "build", 0, "running")
		require.NoError(t, err)
		_, err = s.CreateStepExecution(run.ID, build.ID, "build", "make", "make")
		require.NoError(t, err)
		_, err = s.CreateStepExecution(run.ID, build.ID, "build", "lint", "make lint")
		require.NoError(t, err)
		_, err = s.CreateStageExecution(run.ID, "deploy", 1, "skipped")
		require.NoError(t, err)
	}
	other, err := s.CreateRun("b.yml", "api", "api", "")
	require.NoError(t, err)
	_, err = s.CreateStageExecution(other.ID, "build", 0, "running")
	require.NoError(t, err)

	stats, err := s.GetStageStats("webapp", 3)
	require.NoError(t, err)
	require.Len(t, stats, 6)

	perStage := map[string]int{}
	for _, st := range stats {
		perStage[st.Stage]++
		if st.Stage == "build" {
			assert.Equal(t, 2, st.StepCount)
		}
	}
	assert.Equal(t, map[string]int{"build": 3, "deploy": 3}, perStage)
}
