package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"stagego/ctxlog"
	"stagego/runner"
	"stagego/runner/storage"
)

// Settings are read from the environment, after an optional .env file.
type Settings struct {
	Port         string
	DataDir      string
	ProjectsPath string
	OutputLimit  int
	LogLevel     slog.Level
}

// LoadSettings loads .env if present and reads the settings.
func LoadSettings() Settings {
	// a missing .env is fine
	_ = godotenv.Load()

	limit, err := strconv.Atoi(getEnv("STAGEGO_OUTPUT_LIMIT", ""))
	if err != nil || limit <= 0 {
		limit = runner.DefaultOutputLimit
	}

	return Settings{
		Port:         getEnv("PORT", "8080"),
		DataDir:      getEnv("STAGEGO_DATA_DIR", "data"),
		ProjectsPath: getEnv("STAGEGO_PROJECTS", "projects.yml"),
		OutputLimit:  limit,
		LogLevel:     ctxlog.ParseLevel(getEnv("STAGEGO_LOG_LEVEL", "info")),
	}
}

// Logger returns a text logger on stderr at the configured level.
func (s Settings) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: s.LogLevel}))
}

// ArtifactDir is where run-scoped artifact stores are created.
func (s Settings) ArtifactDir() string {
	return filepath.Join(s.DataDir, "artifacts")
}

// OpenStore creates the data directory and opens the run history database.
func (s Settings) OpenStore() (*storage.Storage, error) {
	if err := os.MkdirAll(s.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewStorage(filepath.Join(s.DataDir, "stagego.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// getEnv gets environment variable or returns default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// findConfig returns args[0], or the first pipeline file in the working directory.
func findConfig(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	for _, name := range runner.ConfigFileNames {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", &ExitError{Code: runner.ExitInvalid, Message: "no pipeline file found (looked for stagego.yml, stagego.yaml, stagego.hcl)"}
}
