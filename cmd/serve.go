package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stagego/api"
	"stagego/events"
	"stagego/runner"
)

func newServeCommand(settings *Settings) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = settings.Port
			}
			return Serve(cmd.Context(), *settings, port)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "port to listen on (default $PORT or 8080)")
	return cmd
}

// Serve starts the HTTP server and the scheduler, and blocks until ctx is
// cancelled or the process is interrupted. Runs in flight are aborted on exit.
func Serve(ctx context.Context, settings Settings, port string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	store, err := settings.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if n, err := store.MarkInterruptedRuns(); err != nil {
		slog.Warn("failed to mark interrupted runs", "error", err)
	} else if n > 0 {
		slog.Info("marked interrupted runs as aborted", "count", n)
	}

	projects, err := runner.LoadProjects(settings.ProjectsPath)
	if err != nil {
		slog.Warn("failed to load projects config", "path", settings.ProjectsPath, "error", err)
		projects = &runner.ProjectsConfig{Projects: []runner.Project{}}
	} else {
		slog.Info("📁 Loaded projects", "count", len(projects.Projects))
	}

	broker := events.GetBroker()
	supervisor := runner.NewSupervisor(ctx)
	runOpts := runner.RunPipelineOptions{
		Storage:     store,
		Events:      broker,
		Logger:      slog.Default(),
		OutputLimit: settings.OutputLimit,
		ArtifactDir: settings.ArtifactDir(),
	}

	scheduler := runner.NewScheduler(projects, supervisor, runOpts, cwd)
	go scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr: ":" + port,
		Handler: api.NewRouter(&api.Server{
			Store:      store,
			Projects:   projects,
			Supervisor: supervisor,
			Events:     broker,
			BaseDir:    cwd,
			RunOptions: runOpts,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end when the server stops
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("🚀 Starting StageGo server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
	// ctx is done, so every active run has been asked to abort
	supervisor.Wait()
	return nil
}
