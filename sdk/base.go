package sdk

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// BaseFactory provides the bookkeeping every factory needs. Embed it and
// implement Produce.
type BaseFactory struct {
	metadata Metadata
	runtime  *Runtime
}

// NewBaseFactory creates a base factory for metadata
func NewBaseFactory(metadata Metadata) BaseFactory {
	return BaseFactory{metadata: metadata}
}

// Metadata returns the factory's metadata
func (f *BaseFactory) Metadata() Metadata {
	return f.metadata
}

// Initialize stores the runtime
func (f *BaseFactory) Initialize(ctx context.Context, runtime *Runtime) error {
	f.runtime = runtime
	return nil
}

// Runtime returns the runtime passed to Initialize
func (f *BaseFactory) Runtime() *Runtime {
	return f.runtime
}

// BasePlugin provides default implementations for Plugin and DatasetBinder.
// Embed it in your plugin struct.
type BasePlugin struct {
	id       string
	metadata Metadata
	runtime  *Runtime
	input    *Dataset
	output   *Dataset
}

// NewBasePlugin creates the shared state for a new instance
func NewBasePlugin(metadata Metadata, runtime *Runtime) BasePlugin {
	return BasePlugin{
		id:       uuid.New().String(),
		metadata: metadata,
		runtime:  runtime,
	}
}

// ID returns the instance id
func (p *BasePlugin) ID() string { return p.id }

// Kind returns the plugin kind
func (p *BasePlugin) Kind() string { return p.metadata.Kind }

// Type returns the plugin type
func (p *BasePlugin) Type() PluginType { return p.metadata.Type }

// Metadata returns the metadata of the producing factory
func (p *BasePlugin) Metadata() Metadata { return p.metadata }

// Init is a no-op (override in your plugin)
func (p *BasePlugin) Init(ctx context.Context) error { return nil }

// Destroy is a no-op (override in your plugin)
func (p *BasePlugin) Destroy() {}

// SetInputDataset binds the dataset the plugin reads
func (p *BasePlugin) SetInputDataset(d *Dataset) { p.input = d }

// InputDataset returns the bound input dataset, if any
func (p *BasePlugin) InputDataset() *Dataset { return p.input }

// SetOutputDataset binds the dataset the plugin writes
func (p *BasePlugin) SetOutputDataset(d *Dataset) { p.output = d }

// OutputDataset returns the bound output dataset, if any
func (p *BasePlugin) OutputDataset() *Dataset { return p.output }

// Runtime returns the plugin runtime
func (p *BasePlugin) Runtime() *Runtime { return p.runtime }

// Logger returns the plugin's logger
func (p *BasePlugin) Logger() *slog.Logger {
	if p.runtime != nil {
		return p.runtime.Logger().With("instance", p.id)
	}
	return slog.Default()
}

// ConfigString returns a string config value
func (p *BasePlugin) ConfigString(key string, defaultVal string) string {
	if p.runtime == nil {
		return defaultVal
	}
	return p.runtime.ConfigString(key, defaultVal)
}

// ConfigInt returns an int config value
func (p *BasePlugin) ConfigInt(key string, defaultVal int) int {
	if p.runtime == nil {
		return defaultVal
	}
	return p.runtime.ConfigInt(key, defaultVal)
}

// ConfigFloat returns a float config value
func (p *BasePlugin) ConfigFloat(key string, defaultVal float64) float64 {
	if p.runtime == nil {
		return defaultVal
	}
	return p.runtime.ConfigFloat(key, defaultVal)
}

// ConfigBool returns a bool config value
func (p *BasePlugin) ConfigBool(key string, defaultVal bool) bool {
	if p.runtime == nil {
		return defaultVal
	}
	return p.runtime.ConfigBool(key, defaultVal)
}
