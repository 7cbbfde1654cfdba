// Package sdk is the API plugins compile against. Factories are discovered
// through their manifest, initialized once, and produce plugin instances on
// request.
package sdk

import (
	"context"
	"fmt"
	"strings"

	"github.com/manivault/mvcore/internal/actions"
	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/variant"
)

// Core types plugins work with
type (
	Dataset      = data.Dataset
	RawData      = data.RawData
	WidgetAction = actions.WidgetAction
	VariantMap   = variant.Map
)

// NewRawData creates raw data from point-major values
var NewRawData = data.NewRawData

// PluginType classifies what a plugin does
type PluginType string

const (
	TypeAnalysis       PluginType = "analysis"
	TypeData           PluginType = "data"
	TypeLoader         PluginType = "loader"
	TypeWriter         PluginType = "writer"
	TypeView           PluginType = "view"
	TypeTransformation PluginType = "transformation"
)

// AllTypes lists every plugin type
var AllTypes = []PluginType{TypeAnalysis, TypeData, TypeLoader, TypeWriter, TypeView, TypeTransformation}

// ParsePluginType parses a type name, case-insensitively
func ParsePluginType(s string) (PluginType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "raw" || name == "data/raw" {
		return TypeData, nil
	}
	for _, t := range AllTypes {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown plugin type %q", s)
}

// BindsDatasets reports whether instances get input/output datasets bound
// on creation
func (t PluginType) BindsDatasets() bool {
	return t == TypeAnalysis || t == TypeWriter
}

// Runtime kinds
const (
	RuntimeBuiltin      = "builtin"
	RuntimeSharedObject = "shared-object"
	RuntimeProcess      = "process"
)

// Metadata describes a plugin kind. It is read from the manifest.yaml or
// manifest.json next to the plugin binary.
type Metadata struct {
	Kind         string     `json:"name" yaml:"name" toml:"name"`
	MenuName     string     `json:"menu_name,omitempty" yaml:"menu_name,omitempty" toml:"menu_name"`
	Version      string     `json:"version" yaml:"version" toml:"version"`
	Type         PluginType `json:"type" yaml:"type" toml:"type"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Dependencies []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies"`

	// Runtime is "builtin" (default), "shared-object" or "process"
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty" toml:"runtime"`
	// Binary is the shared object or executable, relative to the manifest
	Binary string `json:"binary,omitempty" yaml:"binary,omitempty" toml:"binary"`

	// Dir is the directory the manifest was found in
	Dir string `json:"-" yaml:"-" toml:"-"`
}

// Validate checks required fields and normalizes defaults
func (m *Metadata) Validate() error {
	if m.Kind == "" {
		return fmt.Errorf("plugin metadata has no name")
	}
	t, err := ParsePluginType(string(m.Type))
	if err != nil {
		return fmt.Errorf("plugin %s: %w", m.Kind, err)
	}
	m.Type = t
	if m.MenuName == "" {
		m.MenuName = m.Kind
	}
	switch m.Runtime {
	case "":
		m.Runtime = RuntimeBuiltin
	case RuntimeBuiltin:
	case RuntimeSharedObject:
		if m.Binary == "" {
			return fmt.Errorf("plugin %s: shared-object runtime needs a binary", m.Kind)
		}
	case RuntimeProcess:
		if m.Binary == "" {
			return fmt.Errorf("plugin %s: process runtime needs a binary", m.Kind)
		}
		switch m.Type {
		case TypeLoader, TypeAnalysis, TypeWriter:
		default:
			return fmt.Errorf("plugin %s: process runtime does not support %s plugins", m.Kind, m.Type)
		}
	default:
		return fmt.Errorf("plugin %s: unknown runtime %q", m.Kind, m.Runtime)
	}
	for _, dep := range m.Dependencies {
		if dep == m.Kind {
			return fmt.Errorf("plugin %s depends on itself", m.Kind)
		}
	}
	return nil
}

// Factory produces instances of one plugin kind
type Factory interface {
	Metadata() Metadata

	// Initialize is called once, after every dependency has been loaded
	Initialize(ctx context.Context, runtime *Runtime) error

	// Produce creates a new, uninitialized instance
	Produce() (Plugin, error)
}

// Plugin is a live instance
type Plugin interface {
	ID() string
	Kind() string
	Type() PluginType

	// Init is called once the instance is registered
	Init(ctx context.Context) error

	// Destroy releases the instance's resources
	Destroy()
}

// DatasetBinder is implemented by plugins that accept bound datasets
type DatasetBinder interface {
	SetInputDataset(d *Dataset)
	SetOutputDataset(d *Dataset)
}

// ViewPlugin displays datasets
type ViewPlugin interface {
	Plugin
	LoadData(datasets []*Dataset) error
}

// LoaderPlugin imports data into the core
type LoaderPlugin interface {
	Plugin
	Load(ctx context.Context, source string) ([]*Dataset, error)
}

// WriterPlugin exports its input dataset
type WriterPlugin interface {
	Plugin
	Write(ctx context.Context, destination string) error
}

// AnalysisPlugin computes its output dataset from its input dataset
type AnalysisPlugin interface {
	Plugin
	Compute(ctx context.Context) error
}

// FactoryConstructor is the symbol shared-object plugins export as NewFactory
type FactoryConstructor = func() Factory
