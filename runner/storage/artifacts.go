package storage

import (
	"fmt"
	"time"
)

// CreateArtifact records an artifact published during a run
func (s *Storage) CreateArtifact(runID int, stage, name, path, checksum string, size int64) error {
	_, err := s.db.Exec(
		"INSERT INTO artifacts (run_id, stage, name, path, checksum, size, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		runID, stage, name, path, checksum, size, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

// GetArtifacts retrieves the artifacts of a run in publish order
func (s *Storage) GetArtifacts(runID int) ([]*Artifact, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, stage, name, path, checksum, size, created_at FROM artifacts WHERE run_id = ? ORDER BY id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make([]*Artifact, 0)
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &a.Name, &a.Path, &a.Checksum, &a.Size, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
	}

	return artifacts, rows.Err()
}
