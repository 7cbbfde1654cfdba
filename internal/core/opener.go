package core

import (
	"fmt"
	"path/filepath"
	"plugin"

	"github.com/manivault/mvcore/sdk"
)

// Opener turns the metadata of a shared-object plugin into its factory
type Opener interface {
	Open(meta sdk.Metadata) (sdk.Factory, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(meta sdk.Metadata) (sdk.Factory, error)

// Open calls f
func (f OpenerFunc) Open(meta sdk.Metadata) (sdk.Factory, error) { return f(meta) }

// SharedObjectOpener loads Go plugins built with -buildmode=plugin. The
// shared object must export NewFactory as a sdk.FactoryConstructor.
type SharedObjectOpener struct{}

// Open loads meta.Binary from the manifest directory
func (SharedObjectOpener) Open(meta sdk.Metadata) (sdk.Factory, error) {
	path := meta.Binary
	if !filepath.IsAbs(path) {
		path = filepath.Join(meta.Dir, path)
	}

	so, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	sym, err := so.Lookup("NewFactory")
	if err != nil {
		return nil, fmt.Errorf("%s does not export NewFactory: %w", path, err)
	}

	var factory sdk.Factory
	switch ctor := sym.(type) {
	case func() sdk.Factory:
		factory = ctor()
	case *func() sdk.Factory:
		factory = (*ctor)()
	default:
		return nil, fmt.Errorf("%s: NewFactory has type %T, want func() sdk.Factory", path, sym)
	}
	if factory == nil {
		return nil, fmt.Errorf("%s: NewFactory returned nil", path)
	}
	return factory, nil
}
