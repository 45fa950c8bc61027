package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stagego/runner"
	"stagego/runner/storage"
)

const defaultRunLimit = 100

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeStartError maps a run that could not be started to a response.
func writeStartError(w http.ResponseWriter, err error) {
	var invalid *runner.ValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "invalid pipeline",
			"problems": invalid.Problems,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func runIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid run ID")
		return 0, false
	}
	return id, true
}

func limitParam(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultRunLimit
}

// GetRuns returns the most recent runs
func (s *Server) GetRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Store.GetRuns(limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get runs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// RunDetails is a stored run with everything recorded for it.
type RunDetails struct {
	Run       *storage.Run              `json:"run"`
	Stages    []*storage.StageExecution `json:"stages"`
	Steps     []*storage.StepExecution  `json:"steps"`
	Artifacts []*storage.Artifact       `json:"artifacts"`
}

// LoadRunDetails reads a run and its stages, steps and artifacts.
func LoadRunDetails(store *storage.Storage, runID int) (*RunDetails, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	stages, err := store.GetStageExecutions(runID)
	if err != nil {
		return nil, err
	}
	steps, err := store.GetStepExecutions(runID)
	if err != nil {
		return nil, err
	}
	artifacts, err := store.GetArtifacts(runID)
	if err != nil {
		return nil, err
	}
	return &RunDetails{Run: run, Stages: stages, Steps: steps, Artifacts: artifacts}, nil
}

// GetRun returns a single run with its stages, steps and artifacts
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}

	details, err := LoadRunDetails(s.Store, runID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %d", runID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get run: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GetRunStatus returns just the status of a run (lightweight for polling)
func (s *Server) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}

	run, err := s.Store.GetRun(runID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %d", runID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get run: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     run.ID,
		"status": run.Status,
	})
}

// GetActiveRuns lists the runs currently executing
func (s *Server) GetActiveRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Supervisor.Active())
}

// PostAbortRun cancels an in-flight run
func (s *Server) PostAbortRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}

	if err := s.Supervisor.Abort(runID); err != nil {
		if errors.Is(err, runner.ErrRunNotActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("🛑 Abort requested", "run_id", runID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "aborting",
	})
}

type runRequest struct {
	ConfigPath string `json:"config_path"`
	Branch     string `json:"branch"`
	Tag        string `json:"tag"`
}

// PostRun starts a pipeline run in the background
func (s *Server) PostRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	if req.ConfigPath == "" {
		writeError(w, http.StatusBadRequest, "config_path is required")
		return
	}

	configPath := req.ConfigPath
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(s.BaseDir, configPath)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Config file not found: %s", configPath))
		return
	}

	s.start(w, configPath, "", req)
}

// GetProjects returns all configured projects
func (s *Server) GetProjects(w http.ResponseWriter, r *http.Request) {
	type projectResponse struct {
		runner.Project
		Valid   bool   `json:"valid"`
		Running bool   `json:"running"`
		Error   string `json:"error,omitempty"`
	}

	projects := make([]projectResponse, 0, len(s.Projects.Projects))
	for _, project := range s.Projects.Projects {
		pr := projectResponse{Project: project, Valid: true, Running: s.Supervisor.IsActive(project.Name)}
		if _, err := project.ConfigPath(s.BaseDir); err != nil {
			pr.Valid = false
			pr.Error = err.Error()
		}
		projects = append(projects, pr)
	}
	writeJSON(w, http.StatusOK, projects)
}

// GetProjectRuns returns runs for a specific project
func (s *Server) GetProjectRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Store.GetProjectRuns(chi.URLParam(r, "name"), limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get runs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// PostProjectRun starts a pipeline run for a specific project
func (s *Server) PostProjectRun(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "name")
	project, err := s.Projects.GetProject(projectName)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Project not found: %v", err))
		return
	}

	configPath, err := project.ConfigPath(s.BaseDir)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid project: %v", err))
		return
	}

	req := runRequest{
		Branch: r.URL.Query().Get("branch"),
		Tag:    r.URL.Query().Get("tag"),
	}
	s.start(w, configPath, project.Name, req)
}

func (s *Server) start(w http.ResponseWriter, configPath, projectName string, req runRequest) {
	def, err := runner.LoadConfig(configPath)
	if err != nil {
		writeStartError(w, err)
		return
	}

	opts := s.RunOptions
	opts.ConfigPath = configPath
	opts.ProjectName = projectName
	opts.Branch = req.Branch
	opts.Tag = req.Tag
	opts.StreamToTerminal = false

	runID, err := s.Supervisor.Start(def, opts, func(rep *runner.RunReport, err error) {
		if err != nil {
			slog.Error("❌ Pipeline execution failed", "run_id", rep.RunID, "error", err)
			return
		}
		slog.Info("🏁 Pipeline finished", "run_id", rep.RunID, "status", rep.Status)
	})
	if err != nil {
		writeStartError(w, err)
		return
	}

	slog.Info("🚀 Triggering pipeline", "run_id", runID, "project", projectName, "config", configPath)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  runID,
		"status":  runner.RunRunning,
		"message": fmt.Sprintf("Pipeline %s started", def.Name),
	})
}

// GetProjectStats returns the latest outcomes per stage for a project
func (s *Server) GetProjectStats(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "name")

	stats, err := s.Store.GetStageStats(projectName, 5)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get project stats: %v", err))
		return
	}

	// placeholders for stages that have never run
	if project, err := s.Projects.GetProject(projectName); err == nil {
		if configPath, err := project.ConfigPath(s.BaseDir); err == nil {
			if def, err := runner.LoadConfig(configPath); err == nil {
				seen := make(map[string]bool)
				for _, stat := range stats {
					seen[stat.Stage] = true
				}
				for _, stage := range def.Stages {
					if !seen[stage.Name] {
						stats = append(stats, storage.StageRunStats{Stage: stage.Name})
					}
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, stats)
}
