package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrRunNotActive is returned when aborting a run that is not in flight.
var ErrRunNotActive = errors.New("run is not active")

// ActiveRun describes a run the supervisor is executing.
type ActiveRun struct {
	ID       int    `json:"run_id"`
	Pipeline string `json:"pipeline"`
	Project  string `json:"project,omitempty"`
}

type activeRun struct {
	info   ActiveRun
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs pipelines in the background and lets callers abort them
// by run ID. It is safe for concurrent use.
type Supervisor struct {
	ctx    context.Context
	mu     sync.Mutex
	active map[int]*activeRun
	wg     sync.WaitGroup
}

// NewSupervisor returns a supervisor whose runs are cancelled when ctx is.
func NewSupervisor(ctx context.Context) *Supervisor {
	return &Supervisor{ctx: ctx, active: make(map[int]*activeRun)}
}

// Start prepares def with opts and executes it in the background. The run ID
// is available as soon as Start returns; onDone, if set, receives the
// finished report.
func (s *Supervisor) Start(def *PipelineDefinition, opts RunPipelineOptions, onDone func(*RunReport, error)) (int, error) {
	run, err := NewController(opts).Prepare(def)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(s.ctx)
	ar := &activeRun{
		info:   ActiveRun{ID: run.ID(), Pipeline: def.Name, Project: opts.ProjectName},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.active[run.ID()] = ar
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		report, err := run.Execute(ctx)
		if err != nil {
			slog.Warn("background run ended with error", "run_id", run.ID(), "error", err)
		}

		s.mu.Lock()
		delete(s.active, run.ID())
		s.mu.Unlock()
		close(ar.done)

		if onDone != nil {
			onDone(report, err)
		}
	}()

	return run.ID(), nil
}

// Abort cancels the run with the given ID. It returns once cancellation has
// been requested; use Wait to block until the run has finished.
func (s *Supervisor) Abort(id int) error {
	s.mu.Lock()
	ar, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrRunNotActive, id)
	}
	ar.cancel()
	return nil
}

// Active lists the runs currently executing.
func (s *Supervisor) Active() []ActiveRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveRun, 0, len(s.active))
	for _, ar := range s.active {
		out = append(out, ar.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsActive reports whether a run for project is in flight.
func (s *Supervisor) IsActive(project string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ar := range s.active {
		if ar.info.Project == project {
			return true
		}
	}
	return false
}

// Wait blocks until every started run has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
