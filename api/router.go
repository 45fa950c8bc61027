package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stagego/events"
	"stagego/runner"
	"stagego/runner/storage"
)

// Server holds what the handlers need.
type Server struct {
	Store      *storage.Storage
	Projects   *runner.ProjectsConfig
	Supervisor *runner.Supervisor
	Events     *events.EventBroker
	BaseDir    string

	// RunOptions is the template for runs started through the API.
	RunOptions runner.RunPipelineOptions
}

// NewRouter wires the API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", SSEHandler(s.Events))

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.GetRuns)
			r.Post("/", s.PostRun)
			r.Get("/active", s.GetActiveRuns)
			r.Get("/{id}", s.GetRun)
			r.Get("/{id}/status", s.GetRunStatus)
			r.Post("/{id}/abort", s.PostAbortRun)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.GetProjects)
			r.Get("/{name}/runs", s.GetProjectRuns)
			r.Post("/{name}/run", s.PostProjectRun)
			r.Get("/{name}/stats", s.GetProjectStats)
		})
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
