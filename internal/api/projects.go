package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/project"
)

func (s *Server) store() (*project.Store, error) {
	if s.core.Projects == nil {
		return nil, mverr.New(mverr.CodeInvalidArgument, "project store is not configured")
	}
	return s.core.Projects, nil
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	store, err := s.store()
	if err != nil {
		FromError(w, err)
		return
	}
	projects, err := store.List(r.Context())
	if err != nil {
		FromError(w, err)
		return
	}
	if projects == nil {
		projects = []project.Summary{}
	}
	List(w, projects, len(projects))
}

func (s *Server) saveProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}
	if errs := NewRequestValidator().Project(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	p, err := s.core.SaveProject(r.Context(), req.Name, req.Title, req.Description)
	if err != nil {
		FromError(w, err)
		return
	}
	Created(w, p.Summary())
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store, err := s.store()
	if err != nil {
		FromError(w, err)
		return
	}
	p, err := store.Get(r.Context(), name)
	if err != nil {
		FromError(w, err)
		return
	}
	if r.URL.Query().Get("body") == "true" {
		OK(w, p)
		return
	}
	OK(w, p.Summary())
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store, err := s.store()
	if err != nil {
		FromError(w, err)
		return
	}
	if err := store.Delete(r.Context(), name); err != nil {
		FromError(w, err)
		return
	}
	NoContent(w)
}

func (s *Server) loadProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, err := s.core.LoadProject(r.Context(), name)
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, p.Summary())
}

func (s *Server) projectRevisions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store, err := s.store()
	if err != nil {
		FromError(w, err)
		return
	}
	revisions, err := store.Revisions(r.Context(), name)
	if err != nil {
		FromError(w, err)
		return
	}
	if revisions == nil {
		revisions = []time.Time{}
	}
	List(w, revisions, len(revisions))
}

// rollbackProject replaces the stored project with its latest revision.
// The running state is not touched until the project is loaded again.
func (s *Server) rollbackProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store, err := s.store()
	if err != nil {
		FromError(w, err)
		return
	}
	if err := store.Rollback(r.Context(), name); err != nil {
		FromError(w, err)
		return
	}
	p, err := store.Get(r.Context(), name)
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, p.Summary())
}

func (s *Server) exportProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store, err := s.store()
	if err != nil {
		FromError(w, err)
		return
	}
	path, err := store.Export(r.Context(), name)
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, map[string]string{"path": path})
}

// listMessages returns the recent user-facing messages, oldest first
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	messages := s.core.Reporter.Messages(queryLimit(r, 100, 1000))
	if messages == nil {
		messages = []logging.Message{}
	}
	List(w, messages, len(messages))
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	component := r.URL.Query().Get("component")
	level := r.URL.Query().Get("level")

	entries := s.core.Logs.Recent(queryLimit(r, 100, 1000))
	filtered := make([]logging.LogEntry, 0, len(entries))
	for _, e := range entries {
		if component != "" && e.Component != component {
			continue
		}
		if level != "" && e.Level != level {
			continue
		}
		filtered = append(filtered, e)
	}
	List(w, filtered, len(filtered))
}
