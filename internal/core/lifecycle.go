package core

import (
	"context"
	"log/slog"

	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/sdk"
)

const lifecycleComponent = "plugin-lifecycle"

// DockArea is where a view is placed relative to its dock target
type DockArea string

const (
	DockLeft   DockArea = "left"
	DockRight  DockArea = "right"
	DockTop    DockArea = "top"
	DockBottom DockArea = "bottom"
	DockCenter DockArea = "center"
)

// ViewDocker places view plugins in a window layout. target may be nil to
// dock relative to the whole layout.
type ViewDocker interface {
	Dock(view sdk.ViewPlugin, target sdk.Plugin, area DockArea) error
}

// ViewUndocker is implemented by dockers that need to know when a view goes
// away
type ViewUndocker interface {
	Undock(view sdk.ViewPlugin)
}

// Lifecycle creates and destroys plugin instances and keeps the factory
// instance counts equal to the number of live instances of each kind.
type Lifecycle struct {
	registry   *Registry
	docker     ViewDocker
	plugins    map[string]sdk.Plugin
	kinds      map[string]string
	order      []string
	dispatcher *events.Dispatcher
	reporter   *logging.Reporter
	logger     *slog.Logger
}

// NewLifecycle creates a lifecycle manager over registry
func NewLifecycle(registry *Registry, dispatcher *events.Dispatcher, reporter *logging.Reporter, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		registry:   registry,
		plugins:    make(map[string]sdk.Plugin),
		kinds:      make(map[string]string),
		dispatcher: dispatcher,
		reporter:   reporter,
		logger:     logger.With("component", lifecycleComponent),
	}
}

// SetDocker sets the layout collaborator used by RequestViewPlugin
func (l *Lifecycle) SetDocker(d ViewDocker) {
	l.docker = d
}

func (l *Lifecycle) fail(err error) error {
	return l.reporter.Report(lifecycleComponent, err)
}

// RequestPlugin creates, initializes and registers an instance of kind.
// Analysis and writer instances get the first input and output dataset
// bound. On failure nothing is registered.
func (l *Lifecycle) RequestPlugin(ctx context.Context, kind string, inputs, outputs []*sdk.Dataset) (sdk.Plugin, error) {
	p, err := l.request(ctx, kind, inputs, outputs)
	if err != nil {
		return nil, l.fail(err)
	}
	return p, nil
}

func (l *Lifecycle) request(ctx context.Context, kind string, inputs, outputs []*sdk.Dataset) (sdk.Plugin, error) {
	if kind == "" {
		return nil, mverr.New(mverr.CodeInvalidArgument, "plugin kind is empty")
	}
	factory, err := l.registry.Factory(kind)
	if err != nil {
		return nil, err
	}
	meta, _ := l.registry.Metadata(kind)

	for _, d := range append(append([]*sdk.Dataset(nil), inputs...), outputs...) {
		if !d.Valid() {
			return nil, mverr.New(mverr.CodeInvalidArgument, "invalid dataset handle passed to %s", kind)
		}
	}

	p, err := produce(factory, kind)
	if err != nil {
		return nil, err
	}

	if meta.Type.BindsDatasets() {
		if binder, ok := p.(sdk.DatasetBinder); ok {
			if len(inputs) > 0 {
				binder.SetInputDataset(inputs[0])
			}
			if len(outputs) > 0 {
				binder.SetOutputDataset(outputs[0])
			}
		}
	}

	if err := initPlugin(ctx, p, kind); err != nil {
		safeDestroy(p, l.logger)
		return nil, err
	}

	l.plugins[p.ID()] = p
	l.kinds[p.ID()] = kind
	l.order = append(l.order, p.ID())
	l.registry.acquire(kind)

	l.logger.Info("Plugin created", "id", p.ID(), "kind", kind, "instances", l.registry.InstanceCount(kind))
	l.dispatcher.Dispatch(events.PluginAdded{PluginID: p.ID(), Kind: kind, Type: string(meta.Type)})
	return p, nil
}

func produce(factory sdk.Factory, kind string) (p sdk.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, mverr.Recovered("produce "+kind, r)
		}
	}()
	p, err = factory.Produce()
	if err != nil {
		return nil, mverr.Wrap(mverr.CodeInternal, err, "factory %s failed to produce an instance", kind)
	}
	if p == nil {
		return nil, mverr.New(mverr.CodeInternal, "factory %s produced no instance", kind)
	}
	return p, nil
}

func initPlugin(ctx context.Context, p sdk.Plugin, kind string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = mverr.Recovered("init "+kind, r)
		}
	}()
	if err := p.Init(ctx); err != nil {
		return mverr.Wrap(mverr.CodeInternal, err, "plugin %s failed to initialize", kind)
	}
	return nil
}

func safeDestroy(p sdk.Plugin, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Plugin panicked while being destroyed", "id", p.ID(), "error", mverr.Recovered("destroy", r))
		}
	}()
	p.Destroy()
}

// RequestViewPlugin creates a view instance, docks it next to target and
// hands it datasets to display
func (l *Lifecycle) RequestViewPlugin(ctx context.Context, kind string, target sdk.Plugin, area DockArea, datasets []*sdk.Dataset) (sdk.ViewPlugin, error) {
	meta, ok := l.registry.Metadata(kind)
	if !ok {
		return nil, l.fail(mverr.New(mverr.CodeNotFound, "plugin kind %s is not loaded", kind))
	}
	if meta.Type != sdk.TypeView {
		return nil, l.fail(mverr.New(mverr.CodeInvalidArgument, "plugin %s is a %s plugin, not a view", kind, meta.Type))
	}
	if target != nil {
		if _, ok := l.plugins[target.ID()]; !ok {
			return nil, l.fail(mverr.New(mverr.CodeNotFound, "dock target %s is not a live plugin", target.ID()))
		}
	}

	p, err := l.request(ctx, kind, nil, nil)
	if err != nil {
		return nil, l.fail(err)
	}
	view, ok := p.(sdk.ViewPlugin)
	if !ok {
		l.DestroyPlugin(p)
		return nil, l.fail(mverr.New(mverr.CodeInternal, "plugin %s does not implement a view", kind))
	}

	if l.docker != nil {
		if area == "" {
			area = DockCenter
		}
		if err := l.docker.Dock(view, target, area); err != nil {
			l.fail(mverr.Wrap(mverr.CodeInternal, err, "failed to dock view %s", kind))
		}
	}

	if len(datasets) > 0 {
		if err := view.LoadData(datasets); err != nil {
			l.fail(mverr.Wrap(mverr.CodeInternal, err, "view %s could not load data", kind))
		}
	}
	return view, nil
}

// DestroyPlugin destroys a live instance. Listeners of
// PluginAboutToBeDestroyed still find it registered.
func (l *Lifecycle) DestroyPlugin(p sdk.Plugin) error {
	if p == nil {
		return l.fail(mverr.New(mverr.CodeInvalidArgument, "plugin is nil"))
	}
	id := p.ID()
	if _, ok := l.plugins[id]; !ok {
		return l.fail(mverr.New(mverr.CodeNotFound, "plugin %s is not registered", id))
	}
	kind := l.kinds[id]

	l.dispatcher.Dispatch(events.PluginAboutToBeDestroyed{PluginID: id, Kind: kind})

	if view, ok := p.(sdk.ViewPlugin); ok {
		if u, ok := l.docker.(ViewUndocker); ok {
			u.Undock(view)
		}
	}

	l.registry.release(kind)
	delete(l.plugins, id)
	delete(l.kinds, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	safeDestroy(p, l.logger)

	l.logger.Info("Plugin destroyed", "id", id, "kind", kind, "instances", l.registry.InstanceCount(kind))
	l.dispatcher.Dispatch(events.PluginDestroyed{PluginID: id, Kind: kind})
	return nil
}

// DestroyPluginByID destroys the live instance with id
func (l *Lifecycle) DestroyPluginByID(id string) error {
	p, ok := l.plugins[id]
	if !ok {
		return l.fail(mverr.New(mverr.CodeNotFound, "plugin %s is not registered", id))
	}
	return l.DestroyPlugin(p)
}

// DestroyAll destroys every instance, newest first
func (l *Lifecycle) DestroyAll() {
	for len(l.order) > 0 {
		id := l.order[len(l.order)-1]
		if err := l.DestroyPlugin(l.plugins[id]); err != nil {
			// Keep going even if the bookkeeping disagrees
			l.order = l.order[:len(l.order)-1]
		}
	}
}

// Plugin returns the live instance with id
func (l *Lifecycle) Plugin(id string) (sdk.Plugin, error) {
	p, ok := l.plugins[id]
	if !ok {
		return nil, mverr.New(mverr.CodeNotFound, "plugin %s is not registered", id)
	}
	return p, nil
}

// Plugins returns every live instance in creation order
func (l *Lifecycle) Plugins() []sdk.Plugin {
	out := make([]sdk.Plugin, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.plugins[id])
	}
	return out
}

// PluginsByType returns the live instances of the given types
func (l *Lifecycle) PluginsByType(types ...sdk.PluginType) []sdk.Plugin {
	var out []sdk.Plugin
	for _, id := range l.order {
		p := l.plugins[id]
		if matchesType(p.Type(), types) {
			out = append(out, p)
		}
	}
	return out
}

// PluginsByKind returns the live instances of kind
func (l *Lifecycle) PluginsByKind(kind string) []sdk.Plugin {
	var out []sdk.Plugin
	for _, id := range l.order {
		if l.kinds[id] == kind {
			out = append(out, l.plugins[id])
		}
	}
	return out
}

// InstanceCount returns the number of live instances of kind
func (l *Lifecycle) InstanceCount(kind string) int {
	return l.registry.InstanceCount(kind)
}

// Count returns the number of live instances
func (l *Lifecycle) Count() int {
	return len(l.plugins)
}
