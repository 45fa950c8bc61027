package storage

import "time"

// Run represents a pipeline execution
type Run struct {
	ID          int        `json:"id"`
	Status      string     `json:"status"` // "running", "succeeded", "failed", "aborted"
	ConfigPath  string     `json:"config_path"`
	ProjectName string     `json:"project_name"`
	Pipeline    string     `json:"pipeline"`
	Branch      string     `json:"branch,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Duration    *string    `json:"duration,omitempty"`
}

// StageExecution represents execution of one stage of a run
type StageExecution struct {
	ID         int        `json:"id"`
	RunID      int        `json:"run_id"`
	Name       string     `json:"name"`
	Position   int        `json:"position"`
	Status     string     `json:"status"` // "running", "succeeded", "failed", "skipped"
	Reason     string     `json:"reason,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}

// StepExecution represents execution of a single step
type StepExecution struct {
	ID         int        `json:"id"`
	RunID      int        `json:"run_id"`
	StageID    int        `json:"stage_id"`
	Stage      string     `json:"stage"`
	Name       string     `json:"name"`
	Status     string     `json:"status"` // "running", "succeeded", "failed"
	Reason     string     `json:"reason,omitempty"`
	Command    string     `json:"command"`
	Output     string     `json:"output"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}

// Artifact represents an artifact published during a run
type Artifact struct {
	ID        int       `json:"id"`
	RunID     int       `json:"run_id"`
	Stage     string    `json:"stage"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
