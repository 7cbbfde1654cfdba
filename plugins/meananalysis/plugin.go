// Package meananalysis provides the MeanAnalysis plugin. It reduces its
// input dataset to one point holding the per-dimension means, multiplied
// by a Scale parameter that is shared between instances as a public action.
package meananalysis

import (
	"context"
	"fmt"

	"github.com/manivault/mvcore/plugins/points"
	"github.com/manivault/mvcore/sdk"
)

const (
	// Kind is the plugin kind
	Kind = "MeanAnalysis"
	// DefaultPublicName is the public action the Scale parameter joins
	DefaultPublicName = "Mean scale"
)

// Factory produces mean analyses
type Factory struct {
	sdk.BaseFactory
}

// NewFactory creates the MeanAnalysis factory
func NewFactory() sdk.Factory {
	return &Factory{BaseFactory: sdk.NewBaseFactory(sdk.Metadata{
		Kind:         Kind,
		MenuName:     "Mean",
		Version:      "1.0.0",
		Type:         sdk.TypeAnalysis,
		Description:  "Per-dimension mean of a Points dataset",
		Dependencies: []string{points.Kind},
	})}
}

// Produce creates an analysis instance
func (f *Factory) Produce() (sdk.Plugin, error) {
	return &Analysis{BasePlugin: sdk.NewBasePlugin(f.Metadata(), f.Runtime())}, nil
}

// Analysis computes the mean of its input into its output dataset
type Analysis struct {
	sdk.BasePlugin

	scale *sdk.DecimalAction
}

// Init creates the output dataset when none is bound, publishes the Scale
// parameter (or connects it to an existing public Scale) and computes once
func (a *Analysis) Init(ctx context.Context) error {
	in := a.InputDataset()
	if !in.Valid() {
		return sdk.Errorf(sdk.CodeInvalidArgument, "%s needs an input dataset", Kind)
	}
	dm := a.Runtime().Data()
	rows, dims, err := points.Points(dm, in)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return sdk.Errorf(sdk.CodeInvalidArgument, "dataset %s has no points", in.GuiName)
	}

	if !a.OutputDataset().Valid() {
		out, err := points.Create(dm, Kind, fmt.Sprintf("%s (mean)", in.GuiName), dims, make([]float32, len(dims)), in)
		if err != nil {
			return err
		}
		a.SetOutputDataset(out)
	}

	if err := a.setupScale(); err != nil {
		return err
	}
	return a.Compute(ctx)
}

func (a *Analysis) setupScale() error {
	am := a.Runtime().Actions()
	a.scale = sdk.NewDecimalAction(nil, "Scale", 0, 10, a.ConfigFloat("scale", 1), 2)
	if err := am.AddAction(a.scale); err != nil {
		return err
	}

	name := a.ConfigString("publish_as", DefaultPublicName)
	if public, err := am.PublicAction(name); err == nil {
		if err := am.ConnectPrivateActionToPublicAction(a.scale, public, false); err != nil {
			return err
		}
	} else if _, err := am.Publish(a.scale, name); err != nil {
		return err
	}

	a.scale.OnValueChanged(func(any) {
		if err := a.Compute(context.Background()); err != nil {
			a.Logger().Warn("Recompute failed", "error", err)
		}
	})
	return nil
}

// Scale returns the current Scale parameter
func (a *Analysis) Scale() float64 {
	if a.scale == nil {
		return 1
	}
	return a.scale.Float()
}

// Compute writes the scaled means into the output dataset's raw data
func (a *Analysis) Compute(ctx context.Context) error {
	in, out := a.InputDataset(), a.OutputDataset()
	if !in.Valid() || !out.Valid() {
		return sdk.Errorf(sdk.CodeInvalidArgument, "%s has no input or output dataset", Kind)
	}
	if err := ctx.Err(); err != nil {
		return sdk.WrapError(sdk.CodeAborted, err, "mean of %s cancelled", in.GuiName)
	}

	dm := a.Runtime().Data()
	rows, dims, err := points.Points(dm, in)
	if err != nil {
		return err
	}
	raw, err := dm.RawData(out.RawDataName)
	if err != nil {
		return err
	}
	if raw.PluginKind != Kind {
		return sdk.Errorf(sdk.CodeInvalidArgument, "output %s was not created by %s", out.GuiName, Kind)
	}
	if raw.NumDimensions != len(dims) || raw.NumPoints < 1 {
		return sdk.Errorf(sdk.CodeInvalidArgument, "output %s does not have %d dimensions", out.GuiName, len(dims))
	}

	sums := make([]float64, len(dims))
	for _, row := range rows {
		for j, v := range row {
			sums[j] += float64(v)
		}
	}
	scale := a.Scale()
	for j := range sums {
		mean := 0.0
		if len(rows) > 0 {
			mean = sums[j] / float64(len(rows))
		}
		raw.Values[j] = float32(mean * scale)
	}

	a.Runtime().NotifyDatasetChanged(out.ID, "Values")
	a.Logger().Debug("Computed mean", "input", in.ID, "output", out.ID, "points", len(rows), "scale", scale)
	return nil
}

// Destroy removes the Scale parameter. The output dataset outlives the
// analysis.
func (a *Analysis) Destroy() {
	if a.scale != nil && !a.scale.IsDestroyed() {
		_ = a.Runtime().Actions().RemoveAction(a.scale)
	}
}
