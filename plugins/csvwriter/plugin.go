// Package csvwriter provides the CsvWriter plugin, which exports its input
// dataset as CSV
package csvwriter

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/manivault/mvcore/plugins/points"
	"github.com/manivault/mvcore/sdk"
)

// Kind is the plugin kind
const Kind = "CsvWriter"

// Factory produces CSV writers
type Factory struct {
	sdk.BaseFactory
}

// NewFactory creates the CsvWriter factory
func NewFactory() sdk.Factory {
	return &Factory{BaseFactory: sdk.NewBaseFactory(sdk.Metadata{
		Kind:         Kind,
		MenuName:     "CSV",
		Version:      "1.0.0",
		Type:         sdk.TypeWriter,
		Description:  "Writes a Points dataset as comma separated values",
		Dependencies: []string{points.Kind},
	})}
}

// Produce creates a writer instance
func (f *Factory) Produce() (sdk.Plugin, error) {
	return &Writer{BasePlugin: sdk.NewBasePlugin(f.Metadata(), f.Runtime())}, nil
}

// Writer exports the bound input dataset
type Writer struct {
	sdk.BasePlugin
}

// Write writes the input dataset to destination, replacing it atomically.
// The first row holds the dimension names.
func (w *Writer) Write(ctx context.Context, destination string) error {
	in := w.InputDataset()
	if !in.Valid() {
		return sdk.Errorf(sdk.CodeInvalidArgument, "%s has no input dataset", Kind)
	}
	rows, dims, err := points.Points(w.Runtime().Data(), in)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return sdk.WrapError(sdk.CodeInternal, err, "failed to create directory for %s", destination)
	}
	tmp := destination + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return sdk.WrapError(sdk.CodeInternal, err, "failed to create %s", destination)
	}

	abort := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return err
	}

	cw := csv.NewWriter(f)
	if w.ConfigString("delimiter", ",") == "\t" {
		cw.Comma = '\t'
	}
	if err := cw.Write(dims); err != nil {
		return abort(sdk.WrapError(sdk.CodeInternal, err, "failed to write %s", destination))
	}
	record := make([]string, len(dims))
	for i, point := range rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return abort(sdk.WrapError(sdk.CodeAborted, err, "export of %s cancelled", in.GuiName))
			}
		}
		for j, v := range point {
			record[j] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		if err := cw.Write(record); err != nil {
			return abort(sdk.WrapError(sdk.CodeInternal, err, "failed to write %s", destination))
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return abort(sdk.WrapError(sdk.CodeInternal, err, "failed to write %s", destination))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return sdk.WrapError(sdk.CodeInternal, err, "failed to write %s", destination)
	}
	if err := os.Rename(tmp, destination); err != nil {
		os.Remove(tmp)
		return sdk.WrapError(sdk.CodeInternal, err, "failed to write %s", destination)
	}

	w.Logger().Info("Wrote CSV", "dataset", in.ID, "destination", destination, "points", len(rows))
	return nil
}
