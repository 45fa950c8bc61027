package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateStepExecution creates a new step execution record
func (s *Storage) CreateStepExecution(runID, stageID int, stage, name, command string) (*StepExecution, error) {
	now := time.Now()
	result, err := s.db.Exec(
		"INSERT INTO step_executions (run_id, stage_id, stage, name, status, command, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		runID, stageID, stage, name, "running", command, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get step execution ID: %w", err)
	}

	return &StepExecution{
		ID:        int(id),
		RunID:     runID,
		StageID:   stageID,
		Stage:     stage,
		Name:      name,
		Status:    "running",
		Command:   command,
		StartedAt: now,
	}, nil
}

// UpdateStepExecution updates step execution with output, status, and finish time
func (s *Storage) UpdateStepExecution(stepID int, status, reason string, exitCode int, output string, duration time.Duration) error {
	now := time.Now()
	durationStr := duration.String()
	_, err := s.db.Exec(
		"UPDATE step_executions SET status = ?, reason = ?, exit_code = ?, output = ?, finished_at = ?, duration = ? WHERE id = ?",
		status, reason, exitCode, output, now, durationStr, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}
	return nil
}

// GetStepExecutions retrieves all step executions for a run
func (s *Storage) GetStepExecutions(runID int) ([]*StepExecution, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, stage_id, stage, name, status, reason, command, output, exit_code, started_at, finished_at, duration FROM step_executions WHERE run_id = ? ORDER BY id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}
	defer rows.Close()

	steps := make([]*StepExecution, 0)
	for rows.Next() {
		var step StepExecution
		var output sql.NullString
		var exitCode sql.NullInt64
		var finishedAt sql.NullTime
		var duration sql.NullString

		err := rows.Scan(&step.ID, &step.RunID, &step.StageID, &step.Stage, &step.Name, &step.Status, &step.Reason, &step.Command, &output, &exitCode, &step.StartedAt, &finishedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		if output.Valid {
			step.Output = output.String
		}
		step.ExitCode = intPtr(exitCode)
		step.FinishedAt = timePtr(finishedAt)
		step.Duration = durationPtr(duration)

		steps = append(steps, &step)
	}

	return steps, rows.Err()
}
