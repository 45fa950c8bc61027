package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateStageExecution creates a stage record; skipped stages are created finished
func (s *Storage) CreateStageExecution(runID int, name string, position int, status string) (*StageExecution, error) {
	now := time.Now()
	result, err := s.db.Exec(
		"INSERT INTO stage_executions (run_id, name, position, status, started_at) VALUES (?, ?, ?, ?, ?)",
		runID, name, position, status, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get stage execution ID: %w", err)
	}

	return &StageExecution{
		ID:        int(id),
		RunID:     runID,
		Name:      name,
		Position:  position,
		Status:    status,
		StartedAt: now,
	}, nil
}

// UpdateStageExecution records the final state of a stage
func (s *Storage) UpdateStageExecution(stageID int, status, reason string, exitCode *int, duration time.Duration) error {
	now := time.Now()
	_, err := s.db.Exec(
		"UPDATE stage_executions SET status = ?, reason = ?, exit_code = ?, finished_at = ?, duration = ? WHERE id = ?",
		status, reason, exitCode, now, duration.String(), stageID,
	)
	if err != nil {
		return fmt.Errorf("failed to update stage execution: %w", err)
	}
	return nil
}

// GetStageExecutions retrieves all stages of a run in plan order
func (s *Storage) GetStageExecutions(runID int) ([]*StageExecution, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, name, position, status, reason, exit_code, started_at, finished_at, duration FROM stage_executions WHERE run_id = ? ORDER BY position ASC, id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage executions: %w", err)
	}
	defer rows.Close()

	stages := make([]*StageExecution, 0)
	for rows.Next() {
		var st StageExecution
		var exitCode sql.NullInt64
		var finishedAt sql.NullTime
		var duration sql.NullString

		err := rows.Scan(&st.ID, &st.RunID, &st.Name, &st.Position, &st.Status, &st.Reason, &exitCode, &st.StartedAt, &finishedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage execution: %w", err)
		}

		st.ExitCode = intPtr(exitCode)
		st.FinishedAt = timePtr(finishedAt)
		st.Duration = durationPtr(duration)
		stages = append(stages, &st)
	}

	return stages, rows.Err()
}
