package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/manivault/mvcore/internal/core"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/sdk"
)

// PluginView describes a live plugin instance
type PluginView struct {
	ID     string         `json:"id"`
	Kind   string         `json:"kind"`
	Type   sdk.PluginType `json:"type"`
	Input  string         `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
}

type boundDatasets interface {
	InputDataset() *sdk.Dataset
	OutputDataset() *sdk.Dataset
}

func viewPlugin(p sdk.Plugin) PluginView {
	v := PluginView{ID: p.ID(), Kind: p.Kind(), Type: p.Type()}
	if b, ok := p.(boundDatasets); ok {
		if in := b.InputDataset(); in.Valid() {
			v.Input = in.ID
		}
		if out := b.OutputDataset(); out.Valid() {
			v.Output = out.ID
		}
	}
	return v
}

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	var types []sdk.PluginType
	if t := r.URL.Query().Get("type"); t != "" {
		pt, err := sdk.ParsePluginType(t)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		types = append(types, pt)
	}

	var views []PluginView
	err := s.do(r, func() error {
		plugins := s.core.Lifecycle.Plugins()
		if len(types) > 0 {
			plugins = s.core.Lifecycle.PluginsByType(types...)
		}
		views = make([]PluginView, 0, len(plugins))
		for _, p := range plugins {
			views = append(views, viewPlugin(p))
		}
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	List(w, views, len(views))
}

func (s *Server) listFactories(w http.ResponseWriter, r *http.Request) {
	var factories []core.FactoryInfo
	err := s.do(r, func() error {
		factories = s.core.Registry.Factories()
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	List(w, factories, len(factories))
}

func (s *Server) listUnresolved(w http.ResponseWriter, r *http.Request) {
	var unresolved []core.Unresolved
	err := s.do(r, func() error {
		unresolved = s.core.Registry.Unresolved()
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	if unresolved == nil {
		unresolved = []core.Unresolved{}
	}
	List(w, unresolved, len(unresolved))
}

// datasetList looks up ids; the caller holds Do
func (s *Server) datasetList(ids []string) ([]*sdk.Dataset, error) {
	out := make([]*sdk.Dataset, 0, len(ids))
	for _, id := range ids {
		d, err := s.core.Data.Dataset(id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Server) requestPlugin(w http.ResponseWriter, r *http.Request) {
	var req PluginRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}
	if errs := NewRequestValidator().Plugin(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	var view PluginView
	err := s.do(r, func() error {
		inputs, err := s.datasetList(req.Inputs)
		if err != nil {
			return err
		}
		outputs, err := s.datasetList(req.Outputs)
		if err != nil {
			return err
		}

		var p sdk.Plugin
		if meta, ok := s.core.Registry.Metadata(req.Kind); ok && meta.Type == sdk.TypeView {
			p, err = s.core.Lifecycle.RequestViewPlugin(r.Context(), req.Kind, nil, core.DockCenter, inputs)
		} else {
			p, err = s.core.Lifecycle.RequestPlugin(r.Context(), req.Kind, inputs, outputs)
		}
		if err != nil {
			return err
		}
		view = viewPlugin(p)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	Created(w, view)
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var view PluginView
	err := s.do(r, func() error {
		p, err := s.core.Lifecycle.Plugin(id)
		if err != nil {
			return err
		}
		view = viewPlugin(p)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, view)
}

func (s *Server) destroyPlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.do(r, func() error {
		return s.core.Lifecycle.DestroyPluginByID(id)
	})
	if err != nil {
		FromError(w, err)
		return
	}
	NoContent(w)
}

func (s *Server) pluginLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryLimit(r, 100, 500)

	var entries interface{}
	err := s.do(r, func() error {
		p, err := s.core.Lifecycle.Plugin(id)
		if err != nil {
			return err
		}
		rt := s.core.Registry.Runtime(p.Kind())
		if rt == nil {
			return mverr.New(mverr.CodeNotFound, "plugin %s has no runtime", p.Kind())
		}
		entries = rt.Logs(limit)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, entries)
}

// instance looks up the plugin id and asserts it implements T; the caller
// holds Do
func instance[T any](s *Server, id string) (T, error) {
	var zero T
	p, err := s.core.Lifecycle.Plugin(id)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, mverr.New(mverr.CodeInvalidArgument, "plugin %s (%s) does not support this operation", id, p.Kind())
	}
	return typed, nil
}

func (s *Server) runLoader(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req LoadRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}
	if errs := NewRequestValidator().Load(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	var views []DatasetView
	err := s.do(r, func() error {
		loader, err := instance[sdk.LoaderPlugin](s, id)
		if err != nil {
			return err
		}
		loaded, err := loader.Load(r.Context(), req.Source)
		if err != nil {
			return s.core.Reporter.Report(loader.Kind(), err)
		}
		for _, d := range loaded {
			views = append(views, viewDataset(d))
		}
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	Created(w, views)
}

func (s *Server) runWriter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req WriteRequest
	if err := decodeJSON(r, &req); err != nil {
		FromError(w, err)
		return
	}
	if errs := NewRequestValidator().Write(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	err := s.do(r, func() error {
		writer, err := instance[sdk.WriterPlugin](s, id)
		if err != nil {
			return err
		}
		if err := writer.Write(r.Context(), req.Destination); err != nil {
			return s.core.Reporter.Report(writer.Kind(), err)
		}
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, map[string]string{"destination": req.Destination})
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var view PluginView
	err := s.do(r, func() error {
		analysis, err := instance[sdk.AnalysisPlugin](s, id)
		if err != nil {
			return err
		}
		if err := analysis.Compute(r.Context()); err != nil {
			return s.core.Reporter.Report(analysis.Kind(), err)
		}
		view = viewPlugin(analysis)
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, view)
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}
