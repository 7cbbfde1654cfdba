// Package core wires the plugin registry, the instance lifecycle and the
// data, hierarchy and action managers into one process-wide core.
//
// The core is single threaded: components hold no locks of their own and
// notifications are delivered synchronously. Callers on other goroutines
// (HTTP handlers, the plugin directory watcher) go through Do.
package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/manivault/mvcore/internal/actions"
	"github.com/manivault/mvcore/internal/config"
	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/hierarchy"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/project"
	"github.com/manivault/mvcore/sdk"
)

// Options customizes New
type Options struct {
	// Builtins are registered before the first load
	Builtins []sdk.Factory
	// Opener loads shared-object plugins (default SharedObjectOpener)
	Opener Opener
	// Docker places view plugins
	Docker ViewDocker
	// Confirmer is asked before supervised dataset removals
	Confirmer data.RemovalConfirmer
	// LogOutput receives the process log (default stdout)
	LogOutput io.Writer
	// Logger replaces the logger built from the config
	Logger *slog.Logger
	// Projects enables SaveProject and LoadProject
	Projects *project.Store
}

// Core owns every component of a running instance
type Core struct {
	Config    *config.Config
	Logger    *slog.Logger
	Logs      *logging.RingBuffer[logging.LogEntry]
	Reporter  *logging.Reporter
	Events    *events.Dispatcher
	Data      *data.Manager
	Hierarchy *hierarchy.Manager
	Actions   *actions.Manager
	Registry  *Registry
	Lifecycle *Lifecycle
	Ports     *PortManager
	Bus       *EventBus
	Projects  *project.Store

	mu         sync.Mutex
	cancel     context.CancelFunc
	stopMirror func()
	autosaver  *project.Autosaver
	current    string
	started    bool
}

// New builds a core from cfg. Nothing is loaded until Start.
func New(cfg *config.Config, opts Options) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stdout
	}

	logs := logging.NewRingBuffer[logging.LogEntry](1000)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logs, opts.LogOutput,
			logging.ParseLevel(cfg.System.Logging.Level), cfg.System.Logging.Format)
	}

	c := &Core{
		Config:   cfg,
		Logger:   logger,
		Logs:     logs,
		Ports:    NewPortManager(cfg.EventBus.Host),
		Projects: opts.Projects,
	}
	c.Reporter = logging.NewReporter(logger, cfg.System.Logging.Messages)
	c.Events = events.NewDispatcher(logger)
	c.Data = data.NewManager(c.Events, c.Reporter, logger)
	c.Hierarchy = hierarchy.NewManager(c.Data, c.Events, c.Reporter, logger)
	c.Actions = actions.NewManager(c.Events, c.Reporter, logger)
	if opts.Confirmer != nil {
		c.Data.SetConfirmer(opts.Confirmer)
	}

	c.Registry = NewRegistry(opts.Opener, c.runtimeFor, c.Events, c.Reporter, logger)
	c.Registry.SetGuard(c.Do)
	c.Registry.SetEnabled(cfg.PluginEnabled)
	c.Lifecycle = NewLifecycle(c.Registry, c.Events, c.Reporter, logger)
	if opts.Docker != nil {
		c.Lifecycle.SetDocker(opts.Docker)
	}

	for _, f := range opts.Builtins {
		if err := c.Registry.RegisterBuiltin(f); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// runtimeFor gives each factory access to the core services
func (c *Core) runtimeFor(kind string) *sdk.Runtime {
	opts := sdk.RuntimeOptions{
		Data:       c.Data,
		Actions:    c.Actions,
		Dispatcher: c.Events,
		Config:     c.Config.PluginRuntimeConfig(kind),
		Logger:     c.Logger,
	}
	if c.Bus != nil {
		opts.Conn = c.Bus.Conn()
	}
	return sdk.NewRuntime(kind, opts)
}

// Start brings up the event bus when enabled, loads every plugin and
// optionally watches the plugin directory for new ones
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return mverr.New(mverr.CodeAlreadyInState, "core already started")
	}
	c.started = true
	c.mu.Unlock()

	ctx, c.cancel = context.WithCancel(ctx)

	if c.Config.EventBus.Enabled {
		bus, err := NewEventBus(EventBusConfig{
			Host:            c.Config.EventBus.Host,
			Port:            c.Config.EventBus.Port,
			EnableJetStream: c.Config.EventBus.JetStream,
			Ports:           c.Ports,
		}, c.Logger)
		if err != nil {
			c.cancel()
			c.setStarted(false)
			return err
		}
		c.Bus = bus
		c.stopMirror = bus.Mirror(c.Events)
	}

	dir := c.Config.System.PluginsDir
	err := c.Do(ctx, func() error {
		_, err := c.Registry.LoadAll(ctx, dir)
		return err
	})
	if err != nil {
		c.shutdownBus()
		c.cancel()
		c.setStarted(false)
		return err
	}

	if c.Config.System.WatchDir {
		if err := os.MkdirAll(dir, 0755); err != nil {
			c.Logger.Warn("Cannot create plugins directory", "dir", dir, "error", err)
		} else if err := c.Registry.Watch(ctx, dir); err != nil {
			c.Logger.Warn("Cannot watch plugins directory", "dir", dir, "error", err)
		}
	}

	c.startAutosave(ctx)

	c.Logger.Info("Core started",
		"plugins", len(c.Registry.Factories()),
		"unresolved", len(c.Registry.Unresolved()),
		"event_bus", c.Bus != nil)
	return nil
}

// Do runs fn with exclusive access to the core. fn must not call Do.
func (c *Core) Do(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return mverr.Wrap(mverr.CodeAborted, err, "operation cancelled")
	}
	return fn()
}

// Stop destroys every plugin instance and shuts down the event bus
func (c *Core) Stop() {
	if c.autosaver != nil {
		c.autosaver.Stop()
		c.autosaver = nil
	}

	c.mu.Lock()
	c.Lifecycle.DestroyAll()
	c.Hierarchy.Close()
	c.Registry.Close()
	c.started = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.shutdownBus()
	c.Logger.Info("Core stopped")
}

func (c *Core) setStarted(v bool) {
	c.mu.Lock()
	c.started = v
	c.mu.Unlock()
}

// Started reports whether Start succeeded and Stop has not been called
func (c *Core) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Core) shutdownBus() {
	if c.stopMirror != nil {
		c.stopMirror()
		c.stopMirror = nil
	}
	if c.Bus != nil {
		c.Bus.Stop()
		c.Bus = nil
	}
}

// Reset removes every dataset and public action, as when a project is
// closed. Plugin instances are destroyed first so none outlives its data.
// The caller holds Do.
func (c *Core) Reset() {
	c.Lifecycle.DestroyAll()
	c.Data.Clear()
	c.Actions.Clear()
	c.current = ""
}
