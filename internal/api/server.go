package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/manivault/mvcore/internal/core"
	"github.com/manivault/mvcore/internal/metrics"
)

// Version is reported by /health
var Version = "dev"

// Server exposes one core over HTTP. Every handler that touches core state
// runs inside core.Do.
type Server struct {
	core    *core.Core
	hub     *Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	started time.Time
}

// NewServer creates a server for c. hub and m may be nil, in which case
// /ws and /metrics are not served.
func NewServer(c *core.Core, hub *Hub, m *metrics.Metrics) *Server {
	return &Server{
		core:    c,
		hub:     hub,
		metrics: m,
		logger:  c.Logger.With("component", "api"),
		started: time.Now(),
	}
}

// do runs fn against the core on behalf of r
func (s *Server) do(r *http.Request, fn func() error) error {
	return s.core.Do(r.Context(), fn)
}

// Router creates the HTTP router with all routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := s.core.Config.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler(s.Sample))
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.listPlugins)
			r.Post("/", s.requestPlugin)
			r.Get("/factories", s.listFactories)
			r.Get("/unresolved", s.listUnresolved)
			r.Get("/{id}", s.getPlugin)
			r.Delete("/{id}", s.destroyPlugin)
			r.Get("/{id}/logs", s.pluginLogs)
			r.Post("/{id}/load", s.runLoader)
			r.Post("/{id}/write", s.runWriter)
			r.Post("/{id}/compute", s.runAnalysis)
		})

		r.Route("/datasets", func(r chi.Router) {
			r.Get("/", s.listDatasets)
			r.Get("/{id}", s.getDataset)
			r.Delete("/{id}", s.removeDataset)
		})
		r.Get("/hierarchy", s.getHierarchy)

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.listActions)
			r.Get("/public", s.listPublicActions)
			r.Get("/{id}", s.getAction)
			r.Put("/{id}/value", s.setActionValue)
			r.Post("/{id}/publish", s.publishAction)
			r.Post("/{id}/connect", s.connectAction)
			r.Post("/{id}/disconnect", s.disconnectAction)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Post("/", s.saveProject)
			r.Get("/{name}", s.getProject)
			r.Delete("/{name}", s.deleteProject)
			r.Post("/{name}/load", s.loadProject)
			r.Get("/{name}/revisions", s.projectRevisions)
			r.Post("/{name}/rollback", s.rollbackProject)
			r.Post("/{name}/export", s.exportProject)
		})

		r.Get("/messages", s.listMessages)
		r.Get("/logs", s.listLogs)
	})

	return r
}

// Sample reads the gauges' values from the core
func (s *Server) Sample() (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := s.core.Do(context.Background(), func() error {
		snap = metrics.Snapshot{
			Datasets:      s.core.Data.Count(),
			PublicActions: len(s.core.Actions.PublicActions()),
			Factories:     len(s.core.Registry.Factories()),
			Unresolved:    len(s.core.Registry.Unresolved()),
			Instances:     make(map[string]int),
		}
		for _, p := range s.core.Lifecycle.Plugins() {
			snap.Instances[p.Kind()]++
		}
		return nil
	})
	return snap, err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var plugins, unresolved int
	err := s.do(r, func() error {
		plugins = len(s.core.Registry.Factories())
		unresolved = len(s.core.Registry.Unresolved())
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	if unresolved > 0 {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":     status,
		"version":    Version,
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"plugins":    plugins,
		"unresolved": unresolved,
		"project":    s.core.CurrentProject(),
	}
	if bus := s.core.Bus; bus != nil {
		if err := bus.HealthCheck(r.Context()); err != nil {
			health["status"] = "degraded"
			health["event_bus"] = err.Error()
		} else {
			health["event_bus"] = "ok"
		}
	}
	if s.hub != nil {
		health["clients"] = s.hub.ClientCount()
	}
	OK(w, health)
}
