package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/manivault/mvcore/internal/actions"
)

// ActionView describes an action and its connection state
type ActionView struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Type           string `json:"type"`
	Value          any    `json:"value,omitempty"`
	Public         bool   `json:"public"`
	PublicActionID string `json:"public_action_id,omitempty"`
	Connected      int    `json:"connected,omitempty"`
	Permissions    int    `json:"permissions"`
	ParentID       string `json:"parent_id,omitempty"`
}

func viewAction(a actions.WidgetAction) ActionView {
	base := a.Base()
	v := ActionView{
		ID:          base.ID(),
		Title:       base.Title(),
		Type:        a.TypeName(),
		Value:       a.Value(),
		Public:      base.IsPublic(),
		Connected:   len(base.ConnectedActions()),
		Permissions: int(base.Permissions()),
	}
	if pub := base.PublicAction(); pub != nil {
		v.PublicActionID = pub.Base().ID()
	}
	if parent := base.Parent(); parent != nil {
		v.ParentID = parent.Base().ID()
	}
	return v
}

func viewActions(list []actions.WidgetAction) []ActionView {
	out := make([]ActionView, 0, len(list))
	for _, a := range list {
		out = append(out, viewAction(a))
	}
	return out
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	var views []ActionView
	err := s.do(r, func() error {
		views = viewActions(s.core.Actions.Actions())
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	List(w, views, len(views))
}

func (s *Server) listPublicActions(w http.ResponseWriter, r *http.Request) {
	var views []ActionView
	err := s.do(r, func() error {
		views = viewActions(s.core.Actions.PublicActions())
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	List(w, views, len(views))
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var view ActionView
	err := s.do(r, func() error {
		a, err := s.core.Actions.Action(id)
		if err != nil {
			return err
		}
		view = viewAction(a)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, view)
}

func (s *Server) setActionValue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ValueRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}

	var view ActionView
	err := s.do(r, func() error {
		a, err := s.core.Actions.Action(id)
		if err != nil {
			return err
		}
		if err := a.SetValue(req.Value); err != nil {
			return s.core.Reporter.Report("actions", err)
		}
		view = viewAction(a)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, view)
}

func (s *Server) publishAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req PublishRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}
	if errs := NewRequestValidator().Publish(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	var view ActionView
	err := s.do(r, func() error {
		a, err := s.core.Actions.Action(id)
		if err != nil {
			return err
		}
		public, err := s.core.Actions.PublishVia(actions.ViaAPI, a, req.Name)
		if err != nil {
			return err
		}
		view = viewAction(public)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	Created(w, view)
}

func (s *Server) connectAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}
	if errs := NewRequestValidator().Connect(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	var view ActionView
	err := s.do(r, func() error {
		private, err := s.core.Actions.Action(id)
		if err != nil {
			return err
		}
		public, err := s.core.Actions.Action(req.PublicActionID)
		if err != nil {
			return err
		}
		if err := s.core.Actions.ConnectVia(actions.ViaAPI, private, public, req.Recursive); err != nil {
			return err
		}
		view = viewAction(private)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, view)
}

func (s *Server) disconnectAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req DisconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}

	var view ActionView
	err := s.do(r, func() error {
		private, err := s.core.Actions.Action(id)
		if err != nil {
			return err
		}
		if err := s.core.Actions.DisconnectVia(actions.ViaAPI, private, req.Recursive); err != nil {
			return err
		}
		view = viewAction(private)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, view)
}
