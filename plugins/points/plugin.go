// Package points provides the PointData plugin, which registers the Points
// data type, and helpers other plugins use to build point datasets.
package points

import (
	"context"
	"fmt"

	"github.com/manivault/mvcore/sdk"
)

const (
	// Kind is the plugin kind other plugins depend on
	Kind = "PointData"
	// DataType is the data type name datasets carry
	DataType = "Points"
)

// Factory registers the Points data type on initialization
type Factory struct {
	sdk.BaseFactory
}

// NewFactory creates the PointData factory
func NewFactory() sdk.Factory {
	return &Factory{BaseFactory: sdk.NewBaseFactory(sdk.Metadata{
		Kind:        Kind,
		MenuName:    "Points",
		Version:     "1.0.0",
		Type:        sdk.TypeData,
		Description: "Dense float32 point data with named dimensions",
	})}
}

// Initialize registers the data type with the data manager
func (f *Factory) Initialize(ctx context.Context, runtime *sdk.Runtime) error {
	if err := f.BaseFactory.Initialize(ctx, runtime); err != nil {
		return err
	}
	if dm := runtime.Data(); dm != nil {
		if err := dm.RegisterDataType(DataType); err != nil {
			return err
		}
	}
	return nil
}

// Produce creates a data plugin instance. It carries no state of its own.
func (f *Factory) Produce() (sdk.Plugin, error) {
	return &Plugin{BasePlugin: sdk.NewBasePlugin(f.Metadata(), f.Runtime())}, nil
}

// Plugin is a PointData instance
type Plugin struct {
	sdk.BasePlugin
}

// Create adds raw point data and a dataset over it. values are point-major
// and dims names the dimensions. parent may be nil.
func Create(dm sdk.DataService, kind, name string, dims []string, values []float32, parent *sdk.Dataset) (*sdk.Dataset, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("point data %q has no dimensions", name)
	}
	raw, err := sdk.NewRawData(dm.UniqueRawDataName(name), DataType, len(dims), values)
	if err != nil {
		return nil, err
	}
	raw.PluginKind = kind
	raw.DimensionNames = append([]string(nil), dims...)
	if err := dm.AddRawData(raw); err != nil {
		return nil, err
	}
	d, err := dm.CreateDataset(raw.Name, name, parent)
	if err != nil {
		_ = dm.RemoveRawData(raw.Name)
		return nil, err
	}
	return d, nil
}

// Points returns the values of d's points, honoring subset indices, along
// with the dimension names
func Points(dm sdk.DataService, d *sdk.Dataset) ([][]float32, []string, error) {
	if !d.Valid() {
		return nil, nil, fmt.Errorf("invalid dataset")
	}
	raw, err := dm.RawData(d.RawDataName)
	if err != nil {
		return nil, nil, err
	}

	dims := raw.DimensionNames
	if len(dims) != raw.NumDimensions {
		dims = make([]string, raw.NumDimensions)
		for i := range dims {
			dims[i] = fmt.Sprintf("dim%d", i)
		}
	}

	if d.IsFull() {
		out := make([][]float32, raw.NumPoints)
		for i := range out {
			out[i] = raw.Point(i)
		}
		return out, dims, nil
	}
	out := make([][]float32, 0, len(d.Indices))
	for _, idx := range d.Indices {
		out = append(out, raw.Point(idx))
	}
	return out, dims, nil
}
