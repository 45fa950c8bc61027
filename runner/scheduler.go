package runner

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Scheduler triggers project pipelines from the schedules in their definitions.
type Scheduler struct {
	projects   *ProjectsConfig
	supervisor *Supervisor
	opts       RunPipelineOptions
	baseDir    string

	stopChan chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	lastRuns map[string]time.Time // last trigger per schedule
	running  map[string]int       // run ID per schedule currently in flight

	now func() time.Time
}

// NewScheduler creates a scheduler. opts is the template for every run it
// starts; the project name and config path are filled in per run.
func NewScheduler(projects *ProjectsConfig, supervisor *Supervisor, opts RunPipelineOptions, baseDir string) *Scheduler {
	return &Scheduler{
		projects:   projects,
		supervisor: supervisor,
		opts:       opts,
		baseDir:    baseDir,
		stopChan:   make(chan struct{}),
		lastRuns:   make(map[string]time.Time),
		running:    make(map[string]int),
		now:        time.Now,
	}
}

// Start runs the scheduler loop until Stop is called.
func (s *Scheduler) Start() {
	slog.Info("📅 Scheduler started", "projects", len(s.projects.Projects))
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			slog.Info("📅 Scheduler stopped")
			return
		}
	}
}

// Stop ends the scheduler loop. Runs already started keep going.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// tick checks every project's schedules and starts the runs that are due.
func (s *Scheduler) tick() {
	for _, project := range s.projects.Projects {
		configPath, err := project.ConfigPath(s.baseDir)
		if err != nil {
			continue
		}
		def, err := LoadConfig(configPath)
		if err != nil {
			slog.Warn("skipping schedules of invalid pipeline", "project", project.Name, "error", err)
			continue
		}

		for i, schedule := range def.Schedules {
			key := fmt.Sprintf("%s-schedule-%d", project.Name, i)

			s.mu.Lock()
			lastRun := s.lastRuns[key]
			_, isRunning := s.running[key]
			s.mu.Unlock()

			if isRunning || !s.shouldRun(schedule, lastRun) {
				continue
			}
			s.trigger(project, configPath, def, schedule, key)
		}
	}
}

func (s *Scheduler) trigger(project Project, configPath string, def *PipelineDefinition, schedule Schedule, key string) {
	opts := s.opts
	opts.ProjectName = project.Name
	opts.ConfigPath = configPath
	opts.StreamToTerminal = false

	s.mu.Lock()
	s.lastRuns[key] = s.now()
	s.running[key] = 0
	s.mu.Unlock()

	id, err := s.supervisor.Start(def, opts, func(rep *RunReport, err error) {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()

		switch {
		case err != nil:
			slog.Error("❌ Scheduled run failed", "project", project.Name, "error", err)
		case rep.Status == RunSucceeded:
			slog.Info("✅ Scheduled run completed", "project", project.Name, "run_id", rep.RunID)
		default:
			slog.Warn("❌ Scheduled run finished", "project", project.Name, "run_id", rep.RunID, "status", rep.Status)
		}
	})

	s.mu.Lock()
	if err != nil {
		delete(s.running, key)
	} else if _, ok := s.running[key]; ok {
		// the run may already have finished
		s.running[key] = id
	}
	s.mu.Unlock()
	if err != nil {
		slog.Error("❌ Schedule execution failed", "project", project.Name, "error", err)
		return
	}

	slog.Info("⏰ Schedule triggered", "project", project.Name, "schedule", schedule.String(), "run_id", id)
}

// shouldRun reports whether schedule is due given when it last triggered.
func (s *Scheduler) shouldRun(schedule Schedule, lastRun time.Time) bool {
	now := s.now()

	if schedule.At != "" {
		hour, minute, err := parseAtTime(schedule.At)
		if err != nil {
			return false
		}
		if now.Hour() != hour || now.Minute() != minute {
			return false
		}
		// once per day at this time
		return lastRun.IsZero() || now.Sub(lastRun) >= 23*time.Hour
	}

	if schedule.Every != "" {
		interval, err := parseInterval(schedule.Every)
		if err != nil {
			return false
		}
		return lastRun.IsZero() || now.Sub(lastRun) >= interval
	}
	return false
}

// String returns the schedule's trigger as written.
func (s Schedule) String() string {
	if s.At != "" {
		return "at " + s.At
	}
	return "every " + s.Every
}

func (s Schedule) validate() error {
	switch {
	case s.At != "" && s.Every != "":
		return errors.New("set either at or every, not both")
	case s.At != "":
		_, _, err := parseAtTime(s.At)
		return err
	case s.Every != "":
		_, err := parseInterval(s.Every)
		return err
	default:
		return errors.New("one of at or every is required")
	}
}

// parseAtTime parses "HH:MM".
func parseAtTime(at string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(at, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", at)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", at)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", at)
	}
	return hour, minute, nil
}

// parseInterval parses durations like "30m" or "1h30m". Intervals under a
// minute are rejected since the scheduler ticks once a minute.
func parseInterval(every string) (time.Duration, error) {
	d, err := time.ParseDuration(every)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", every)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("interval %q is shorter than a minute", every)
	}
	return d, nil
}
