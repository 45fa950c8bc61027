package storage

import (
	"database/sql"
	"fmt"
)

// StageRunStats is one recent outcome of a stage within a project
type StageRunStats struct {
	Stage     string  `json:"stage"`
	RunID     int     `json:"run_id"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
	Duration  *string `json:"duration,omitempty"`
	StartedAt string  `json:"started_at"`
	StepCount int     `json:"step_count"`
}

// GetStageStats returns up to limit latest outcomes for each stage of a project
func (s *Storage) GetStageStats(projectName string, limit int) ([]StageRunStats, error) {
	// Simple query without window functions for better SQLite compatibility
	query := `
		SELECT
			st.name,
			st.run_id,
			st.status,
			st.reason,
			st.duration,
			st.started_at,
			COUNT(se.id) as step_count
		FROM stage_executions st
		JOIN runs r ON r.id = st.run_id
		LEFT JOIN step_executions se ON se.stage_id = st.id
		WHERE r.project_name = ?
		GROUP BY st.id, st.name, st.run_id, st.status, st.reason, st.duration, st.started_at
		ORDER BY st.name, st.started_at DESC, st.id DESC
	`

	rows, err := s.db.Query(query, projectName)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage stats: %w", err)
	}
	defer rows.Close()

	// Group by stage and limit per stage
	stageCounts := make(map[string]int)
	stats := make([]StageRunStats, 0)

	for rows.Next() {
		var stat StageRunStats
		var duration sql.NullString

		err := rows.Scan(
			&stat.Stage,
			&stat.RunID,
			&stat.Status,
			&stat.Reason,
			&duration,
			&stat.StartedAt,
			&stat.StepCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage stats: %w", err)
		}

		if stageCounts[stat.Stage] >= limit {
			continue
		}
		stageCounts[stat.Stage]++

		stat.Duration = durationPtr(duration)
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}
