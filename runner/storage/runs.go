package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "id, status, config_path, project_name, pipeline, branch, error, started_at, finished_at, duration"

// CreateRun creates a new run record
func (s *Storage) CreateRun(configPath, projectName, pipeline, branch string) (*Run, error) {
	now := time.Now()
	result, err := s.db.Exec(
		"INSERT INTO runs (status, config_path, project_name, pipeline, branch, started_at) VALUES (?, ?, ?, ?, ?, ?)",
		"running", configPath, projectName, pipeline, branch, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get run ID: %w", err)
	}

	return &Run{
		ID:          int(id),
		Status:      "running",
		ConfigPath:  configPath,
		ProjectName: projectName,
		Pipeline:    pipeline,
		Branch:      branch,
		StartedAt:   now,
	}, nil
}

// UpdateRunStatus updates the status, error and finish time of a run
func (s *Storage) UpdateRunStatus(runID int, status string, duration time.Duration, runErr string) error {
	now := time.Now()
	durationStr := duration.String()
	_, err := s.db.Exec(
		"UPDATE runs SET status = ?, finished_at = ?, duration = ?, error = ? WHERE id = ?",
		status, now, durationStr, runErr, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// MarkInterruptedRuns marks runs still "running" from a previous process as aborted
func (s *Storage) MarkInterruptedRuns() (int, error) {
	result, err := s.db.Exec(
		"UPDATE runs SET status = 'aborted', finished_at = ?, error = 'interrupted by restart' WHERE status = 'running'",
		time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count interrupted runs: %w", err)
	}
	return int(n), nil
}

// GetRuns retrieves all runs, ordered by most recent first
func (s *Storage) GetRuns(limit int) ([]*Run, error) {
	return s.queryRuns("SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
}

// GetProjectRuns retrieves the runs of one project, most recent first
func (s *Storage) GetProjectRuns(projectName string, limit int) ([]*Run, error) {
	return s.queryRuns("SELECT "+runColumns+" FROM runs WHERE project_name = ? ORDER BY started_at DESC, id DESC LIMIT ?", projectName, limit)
}

func (s *Storage) queryRuns(query string, args ...any) ([]*Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRun retrieves a single run by ID
func (s *Storage) GetRun(runID int) (*Run, error) {
	row := s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var finishedAt sql.NullTime
	var duration sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.ConfigPath, &r.ProjectName, &r.Pipeline, &r.Branch, &r.Error, &r.StartedAt, &finishedAt, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	r.FinishedAt = timePtr(finishedAt)
	r.Duration = durationPtr(duration)
	return &r, nil
}
