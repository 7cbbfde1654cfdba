package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/variant"
)

// RuntimeOptions wires a runtime to the core services
type RuntimeOptions struct {
	Data       DataService
	Actions    ActionService
	Dispatcher *events.Dispatcher
	Conn       *nats.Conn
	Config     VariantMap
	Logger     *slog.Logger
	MaxLogs    int
}

// Runtime is the environment handed to a factory and shared by its
// instances. It replaces ambient global lookups: everything a plugin may
// touch in the core is reachable from here.
type Runtime struct {
	kind       string
	data       DataService
	actions    ActionService
	dispatcher *events.Dispatcher
	nats       *nats.Conn
	config     VariantMap
	logger     *slog.Logger
	logs       *logging.RingBuffer[logging.LogEntry]
}

// NewRuntime creates the runtime for a plugin kind
func NewRuntime(kind string, opts RuntimeOptions) *Runtime {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config == nil {
		opts.Config = make(VariantMap)
	}
	if opts.MaxLogs <= 0 {
		opts.MaxLogs = 500
	}

	r := &Runtime{
		kind:       kind,
		data:       opts.Data,
		actions:    opts.Actions,
		dispatcher: opts.Dispatcher,
		nats:       opts.Conn,
		config:     opts.Config,
		logs:       logging.NewRingBuffer[logging.LogEntry](opts.MaxLogs),
	}
	r.logger = slog.New(&logCaptureHandler{
		logs:  r.logs,
		kind:  kind,
		inner: opts.Logger.With("plugin", kind).Handler(),
	})
	return r
}

// logCaptureHandler keeps a copy of every record at Info or above in the
// runtime's buffer, whatever the level of the process log
type logCaptureHandler struct {
	logs  *logging.RingBuffer[logging.LogEntry]
	kind  string
	inner slog.Handler
}

func (h *logCaptureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.inner.Enabled(ctx, level)
}

func (h *logCaptureHandler) Handle(ctx context.Context, record slog.Record) error {
	entry := logging.LogEntry{
		Time:      record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
		Component: h.kind,
		Attrs:     make(map[string]interface{}),
	}
	record.Attrs(func(a slog.Attr) bool {
		entry.Attrs[a.Key] = a.Value.Any()
		return true
	})
	h.logs.Add(entry)

	if !h.inner.Enabled(ctx, record.Level) {
		return nil
	}
	return h.inner.Handle(ctx, record)
}

func (h *logCaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logCaptureHandler{logs: h.logs, kind: h.kind, inner: h.inner.WithAttrs(attrs)}
}

func (h *logCaptureHandler) WithGroup(name string) slog.Handler {
	return &logCaptureHandler{logs: h.logs, kind: h.kind, inner: h.inner.WithGroup(name)}
}

// Kind returns the plugin kind the runtime belongs to
func (r *Runtime) Kind() string { return r.kind }

// Logger returns the plugin's logger
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Logs returns the last n captured log entries
func (r *Runtime) Logs(n int) []logging.LogEntry { return r.logs.Recent(n) }

// Data returns the data service, nil when the runtime has none
func (r *Runtime) Data() DataService { return r.data }

// Actions returns the action service, nil when the runtime has none
func (r *Runtime) Actions() ActionService { return r.actions }

// NotifyDatasetChanged tells listeners that field of a dataset changed
// in place
func (r *Runtime) NotifyDatasetChanged(datasetID, field string) {
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(events.DatasetChanged{DatasetID: datasetID, Field: field})
	}
}

// Config returns the plugin's configuration
func (r *Runtime) Config() VariantMap { return r.config }

// ConfigString returns a string config value
func (r *Runtime) ConfigString(key string, defaultVal string) string {
	return variant.String(r.config, key, defaultVal)
}

// ConfigInt returns an int config value
func (r *Runtime) ConfigInt(key string, defaultVal int) int {
	return variant.Int(r.config, key, defaultVal)
}

// ConfigFloat returns a float config value
func (r *Runtime) ConfigFloat(key string, defaultVal float64) float64 {
	return variant.Float(r.config, key, defaultVal)
}

// ConfigBool returns a bool config value
func (r *Runtime) ConfigBool(key string, defaultVal bool) bool {
	return variant.Bool(r.config, key, defaultVal)
}

// Broadcast publishes data as JSON on plugins.<kind>.<topic> of the event
// bus, for observers outside the process.
func (r *Runtime) Broadcast(topic string, data interface{}) error {
	if r.nats == nil {
		return fmt.Errorf("event bus not connected")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast data: %w", err)
	}
	return r.nats.Publish(fmt.Sprintf("plugins.%s.%s", r.kind, topic), payload)
}
