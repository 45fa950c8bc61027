package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_AbortByID(t *testing.T) {
	sup := NewSupervisor(context.Background())
	def := newDef(t,
		newStage("test", sh("slow", "sleep 10")),
		newStage("deploy", sh("ship", "true")),
	)

	reports := make(chan *RunReport, 1)
	id, err := sup.Start(def, RunPipelineOptions{ArtifactDir: t.TempDir(), ProjectName: "webapp"}, func(rep *RunReport, err error) {
		reports <- rep
	})
	require.NoError(t, err)

	assert.True(t, sup.IsActive("webapp"))
	active := sup.Active()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, "test", active[0].Pipeline)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sup.Abort(id))

	select {
	case rep := <-reports:
		assert.Equal(t, RunAborted, rep.Status)
		assert.Equal(t, id, rep.RunID)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not aborted")
	}

	sup.Wait()
	assert.Empty(t, sup.Active())
	assert.ErrorIs(t, sup.Abort(id), ErrRunNotActive)
}

func TestSupervisor_StartRejectsInvalidDefinition(t *testing.T) {
	sup := NewSupervisor(context.Background())
	def := newDef(t, StageDefinition{Name: "empty"})

	_, err := sup.Start(def, RunPipelineOptions{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPipeline)
	assert.Empty(t, sup.Active())
}

func TestSupervisor_CancelledParentAbortsRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(ctx)

	reports := make(chan *RunReport, 2)
	for i := 0; i < 2; i++ {
		_, err := sup.Start(newDef(t, newStage("slow", sh("sleep", "sleep 10"))), RunPipelineOptions{ArtifactDir: t.TempDir()}, func(rep *RunReport, err error) {
			reports <- rep
		})
		require.NoError(t, err)
	}

	time.Sleep(100 * time.Millisecond)
	cancel()
	sup.Wait()

	close(reports)
	for rep := range reports {
		assert.Equal(t, RunAborted, rep.Status)
	}
}
