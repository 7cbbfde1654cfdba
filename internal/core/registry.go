package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/sdk"
)

const registryComponent = "plugin-registry"

// RuntimeProvider builds the runtime handed to a factory of kind
type RuntimeProvider func(kind string) *sdk.Runtime

// Guard runs fn with exclusive access to the core
type Guard func(ctx context.Context, fn func() error) error

// factoryEntry is a loaded factory and its live instance count. Only the
// lifecycle manager changes instances.
type factoryEntry struct {
	factory   sdk.Factory
	metadata  sdk.Metadata
	runtime   *sdk.Runtime
	instances int
	loadedAt  time.Time
}

// FactoryInfo describes a loaded factory
type FactoryInfo struct {
	Kind         string         `json:"kind"`
	MenuName     string         `json:"menu_name"`
	Version      string         `json:"version"`
	Type         sdk.PluginType `json:"type"`
	Description  string         `json:"description,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Runtime      string         `json:"runtime"`
	Instances    int            `json:"instances"`
	LoadedAt     time.Time      `json:"loaded_at"`
}

// LoadReport summarizes one LoadAll call
type LoadReport struct {
	Loaded     []string     `json:"loaded"`
	Unresolved []Unresolved `json:"unresolved,omitempty"`
}

// Registry discovers plugin factories, resolves their load order and keeps
// them for the lifetime of the process.
type Registry struct {
	factories  map[string]*factoryEntry
	order      []string
	unresolved map[string]Unresolved
	builtins   map[string]sdk.Factory

	opener     Opener
	processes  Opener
	runtimes   RuntimeProvider
	guard      Guard
	enabled    func(kind string) bool
	dispatcher *events.Dispatcher
	reporter   *logging.Reporter
	logger     *slog.Logger
}

// NewRegistry creates an empty registry. A nil opener uses
// SharedObjectOpener; a nil runtime provider gives factories a bare runtime.
func NewRegistry(opener Opener, runtimes RuntimeProvider, dispatcher *events.Dispatcher, reporter *logging.Reporter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if opener == nil {
		opener = SharedObjectOpener{}
	}
	if runtimes == nil {
		runtimes = func(kind string) *sdk.Runtime {
			return sdk.NewRuntime(kind, sdk.RuntimeOptions{Dispatcher: dispatcher, Logger: logger})
		}
	}
	return &Registry{
		factories:  make(map[string]*factoryEntry),
		unresolved: make(map[string]Unresolved),
		builtins:   make(map[string]sdk.Factory),
		opener:     opener,
		processes:  ProcessOpener{},
		runtimes:   runtimes,
		dispatcher: dispatcher,
		reporter:   reporter,
		logger:     logger.With("component", registryComponent),
	}
}

// SetGuard sets how the directory watcher gets exclusive access before
// reloading
func (r *Registry) SetGuard(g Guard) {
	r.guard = g
}

// SetProcessOpener replaces how process plugins are started
func (r *Registry) SetProcessOpener(o Opener) {
	r.processes = o
}

// SetEnabled sets the filter deciding which kinds may be loaded. Disabled
// kinds are skipped silently; their dependents stay unresolved.
func (r *Registry) SetEnabled(fn func(kind string) bool) {
	r.enabled = fn
}

func (r *Registry) fail(err error) error {
	return r.reporter.Report(registryComponent, err)
}

// RegisterBuiltin adds a factory compiled into the binary. It is loaded by
// the next LoadAll, with or without a manifest.
func (r *Registry) RegisterBuiltin(f sdk.Factory) error {
	if f == nil {
		return r.fail(mverr.New(mverr.CodeInvalidArgument, "builtin factory is nil"))
	}
	m := f.Metadata()
	if err := m.Validate(); err != nil {
		return r.fail(mverr.Wrap(mverr.CodeInvalidArgument, err, "invalid builtin metadata"))
	}
	if _, exists := r.builtins[m.Kind]; exists {
		return r.fail(mverr.New(mverr.CodeAlreadyInState, "builtin plugin %s already registered", m.Kind))
	}
	r.builtins[m.Kind] = f
	r.logger.Debug("Registered builtin plugin", "kind", m.Kind, "version", m.Version)
	return nil
}

// LoadAll scans dir for plugin manifests, adds every registered builtin and
// loads whatever is not loaded yet, dependencies first. Plugins that cannot
// be resolved or fail to load are reported and skipped; the error return is
// reserved for an unreadable plugin directory.
func (r *Registry) LoadAll(ctx context.Context, dir string) (LoadReport, error) {
	var report LoadReport

	metas, scanErrs, err := ScanManifests(dir)
	if err != nil {
		return report, r.fail(mverr.Wrap(mverr.CodeInternal, err, "cannot scan %s", dir))
	}
	for _, se := range scanErrs {
		r.logger.Warn("Invalid plugin manifest", "dir", se.Dir, "error", se.Err)
		r.fail(mverr.Wrap(mverr.CodeInvalidArgument, se.Err, "invalid plugin manifest in %s", se.Dir))
	}

	declared := make(map[string]bool, len(metas))
	for _, m := range metas {
		declared[m.Kind] = true
	}
	builtinKinds := make([]string, 0, len(r.builtins))
	for kind := range r.builtins {
		if !declared[kind] {
			builtinKinds = append(builtinKinds, kind)
		}
	}
	sort.Strings(builtinKinds)
	for _, kind := range builtinKinds {
		m := r.builtins[kind].Metadata()
		_ = m.Validate()
		metas = append(metas, m)
	}

	if r.enabled != nil {
		kept := metas[:0]
		for _, m := range metas {
			if r.enabled(m.Kind) {
				kept = append(kept, m)
				continue
			}
			r.logger.Debug("Plugin disabled by configuration", "kind", m.Kind)
		}
		metas = kept
	}

	res := ResolveLoadOrder(metas, r.order...)
	for _, u := range res.Unresolved {
		r.markUnresolved(u)
		report.Unresolved = append(report.Unresolved, u)
	}

	for _, m := range res.Order {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if missing := r.missingDeps(m); len(missing) > 0 {
			u := Unresolved{Kind: m.Kind, Reason: ReasonMissingDependency, Missing: missing, Dir: m.Dir}
			r.markUnresolved(u)
			report.Unresolved = append(report.Unresolved, u)
			continue
		}

		if err := r.load(ctx, m); err != nil {
			u := Unresolved{Kind: m.Kind, Reason: ReasonLoadFailed, Dir: m.Dir, Detail: err.Error()}
			r.markUnresolved(u)
			report.Unresolved = append(report.Unresolved, u)
			continue
		}
		report.Loaded = append(report.Loaded, m.Kind)
	}

	r.logger.Info("Plugins loaded",
		"dir", dir,
		"loaded", len(report.Loaded),
		"unresolved", len(report.Unresolved),
		"total", len(r.factories))
	return report, nil
}

// missingDeps returns the dependencies of m that are not loaded. A
// dependency that failed to load leaves its dependents here.
func (r *Registry) missingDeps(m sdk.Metadata) []string {
	var missing []string
	for _, dep := range m.Dependencies {
		if _, ok := r.factories[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (r *Registry) markUnresolved(u Unresolved) {
	r.unresolved[u.Kind] = u
	r.logger.Warn("Plugin not loaded", "kind", u.Kind, "reason", u.Reason, "missing", u.Missing, "detail", u.Detail)
	r.dispatcher.Dispatch(events.PluginUnresolved{Kind: u.Kind, Reason: u.Reason, Missing: u.Missing})
	r.fail(u.Err())
}

// load opens, checks and initializes one factory
func (r *Registry) load(ctx context.Context, m sdk.Metadata) (err error) {
	factory, err := r.open(m)
	if err != nil {
		return err
	}

	got := factory.Metadata()
	if got.Kind != m.Kind {
		return fmt.Errorf("factory reports kind %q, manifest declares %q", got.Kind, m.Kind)
	}
	if got.Version != "" {
		m.Version = got.Version
	}

	rt := r.runtimes(m.Kind)
	defer func() {
		if rec := recover(); rec != nil {
			err = mverr.Recovered("initialize "+m.Kind, rec)
		}
	}()
	if err := factory.Initialize(ctx, rt); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	r.factories[m.Kind] = &factoryEntry{
		factory:  factory,
		metadata: m,
		runtime:  rt,
		loadedAt: time.Now(),
	}
	r.order = append(r.order, m.Kind)
	delete(r.unresolved, m.Kind)

	r.logger.Info("Loaded plugin", "kind", m.Kind, "version", m.Version, "type", m.Type, "runtime", m.Runtime)
	r.dispatcher.Dispatch(events.FactoryLoaded{Kind: m.Kind, Version: m.Version, Type: string(m.Type)})
	return nil
}

func (r *Registry) open(m sdk.Metadata) (sdk.Factory, error) {
	switch m.Runtime {
	case sdk.RuntimeSharedObject:
		return r.opener.Open(m)
	case sdk.RuntimeProcess:
		return r.processes.Open(m)
	default:
		f, ok := r.builtins[m.Kind]
		if !ok {
			return nil, fmt.Errorf("no builtin factory for %s", m.Kind)
		}
		return f, nil
	}
}

// IsLoaded reports whether a factory of kind is available
func (r *Registry) IsLoaded(kind string) bool {
	_, ok := r.factories[kind]
	return ok
}

// Factory returns the factory of kind
func (r *Registry) Factory(kind string) (sdk.Factory, error) {
	e, ok := r.factories[kind]
	if !ok {
		return nil, mverr.New(mverr.CodeNotFound, "plugin kind %s is not loaded", kind)
	}
	return e.factory, nil
}

// Metadata returns the recorded metadata of kind
func (r *Registry) Metadata(kind string) (sdk.Metadata, bool) {
	e, ok := r.factories[kind]
	if !ok {
		return sdk.Metadata{}, false
	}
	return e.metadata, true
}

// Runtime returns the runtime the factory of kind was initialized with
func (r *Registry) Runtime(kind string) *sdk.Runtime {
	if e, ok := r.factories[kind]; ok {
		return e.runtime
	}
	return nil
}

func matchesType(t sdk.PluginType, types []sdk.PluginType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// FactoriesByType returns the factories of the given types in load order.
// No types means all.
func (r *Registry) FactoriesByType(types ...sdk.PluginType) []sdk.Factory {
	var out []sdk.Factory
	for _, kind := range r.order {
		e := r.factories[kind]
		if matchesType(e.metadata.Type, types) {
			out = append(out, e.factory)
		}
	}
	return out
}

// KindsByTypes returns the kinds of the given types in load order
func (r *Registry) KindsByTypes(types ...sdk.PluginType) []string {
	var out []string
	for _, kind := range r.order {
		if matchesType(r.factories[kind].metadata.Type, types) {
			out = append(out, kind)
		}
	}
	return out
}

// Factories describes every loaded factory in load order
func (r *Registry) Factories() []FactoryInfo {
	out := make([]FactoryInfo, 0, len(r.order))
	for _, kind := range r.order {
		e := r.factories[kind]
		out = append(out, FactoryInfo{
			Kind:         kind,
			MenuName:     e.metadata.MenuName,
			Version:      e.metadata.Version,
			Type:         e.metadata.Type,
			Description:  e.metadata.Description,
			Dependencies: e.metadata.Dependencies,
			Runtime:      e.metadata.Runtime,
			Instances:    e.instances,
			LoadedAt:     e.loadedAt,
		})
	}
	return out
}

// Unresolved returns the plugins that are currently not loaded, by kind
func (r *Registry) Unresolved() []Unresolved {
	out := make([]Unresolved, 0, len(r.unresolved))
	for _, u := range r.unresolved {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// InstanceCount returns the number of live instances of kind
func (r *Registry) InstanceCount(kind string) int {
	if e, ok := r.factories[kind]; ok {
		return e.instances
	}
	return 0
}

func (r *Registry) acquire(kind string) {
	if e, ok := r.factories[kind]; ok {
		e.instances++
	}
}

func (r *Registry) release(kind string) {
	if e, ok := r.factories[kind]; ok && e.instances > 0 {
		e.instances--
	}
}

// Close releases factories holding outside resources, such as plugin
// processes, in reverse load order. The factories stay registered.
func (r *Registry) Close() {
	for i := len(r.order) - 1; i >= 0; i-- {
		kind := r.order[i]
		if c, ok := r.factories[kind].factory.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Warn("Failed to close plugin", "kind", kind, "error", err)
			}
		}
	}
}

// Watch reloads dir whenever a plugin directory or manifest appears in it.
// Loaded factories are never unloaded. The watcher stops with ctx.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	reload := func() {
		run := func() error {
			_, err := r.LoadAll(ctx, dir)
			return err
		}
		var err error
		if r.guard != nil {
			err = r.guard(ctx, run)
		} else {
			err = run()
		}
		if err != nil && ctx.Err() == nil {
			r.logger.Error("Plugin reload failed", "dir", dir, "error", err)
		}
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				// New plugin directories get their manifest written later
				if event.Op&fsnotify.Create == fsnotify.Create {
					_ = watcher.Add(event.Name)
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("Plugin watch error", "error", err)
			}
		}
	}()

	r.logger.Info("Watching plugins directory", "dir", dir)
	return nil
}
