// Package csvloader provides the CsvLoader plugin, which imports CSV files
// as Points datasets
package csvloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/manivault/mvcore/plugins/points"
	"github.com/manivault/mvcore/sdk"
)

// Kind is the plugin kind
const Kind = "CsvLoader"

// Factory produces CSV loaders
type Factory struct {
	sdk.BaseFactory
}

// NewFactory creates the CsvLoader factory
func NewFactory() sdk.Factory {
	return &Factory{BaseFactory: sdk.NewBaseFactory(sdk.Metadata{
		Kind:         Kind,
		MenuName:     "CSV",
		Version:      "1.0.0",
		Type:         sdk.TypeLoader,
		Description:  "Loads comma separated values into a Points dataset",
		Dependencies: []string{points.Kind},
	})}
}

// Produce creates a loader instance
func (f *Factory) Produce() (sdk.Plugin, error) {
	return &Loader{BasePlugin: sdk.NewBasePlugin(f.Metadata(), f.Runtime())}, nil
}

// Loader reads one CSV file per Load call. Configuration:
//
//	delimiter   single character, default ","
//	has_header  first row names the dimensions, default true
type Loader struct {
	sdk.BasePlugin

	delimiter rune
	header    bool
}

// Init reads the loader configuration
func (l *Loader) Init(ctx context.Context) error {
	delim := l.ConfigString("delimiter", ",")
	if delim == `\t` {
		delim = "\t"
	}
	if len([]rune(delim)) != 1 {
		return sdk.Errorf(sdk.CodeInvalidArgument, "csv delimiter must be a single character, got %q", delim)
	}
	l.delimiter = []rune(delim)[0]
	l.header = l.ConfigBool("has_header", true)
	return nil
}

// Load imports source as a new top-level dataset named after the file
func (l *Loader) Load(ctx context.Context, source string) ([]*sdk.Dataset, error) {
	f, err := os.Open(source)
	if errors.Is(err, os.ErrNotExist) {
		return nil, sdk.Errorf(sdk.CodeNotFound, "file %s not found", source)
	}
	if err != nil {
		return nil, sdk.WrapError(sdk.CodeInternal, err, "failed to open %s", source)
	}
	defer f.Close()

	dims, values, err := l.read(ctx, f)
	if err != nil {
		return nil, sdk.WrapError(sdk.CodeInvalidArgument, err, "failed to read %s", source)
	}

	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	d, err := points.Create(l.Runtime().Data(), Kind, name, dims, values, nil)
	if err != nil {
		return nil, err
	}

	l.Logger().Info("Loaded CSV", "source", source, "dataset", d.ID, "points", len(values)/len(dims), "dimensions", len(dims))
	return []*sdk.Dataset{d}, nil
}

func (l *Loader) read(ctx context.Context, r io.Reader) ([]string, []float32, error) {
	cr := csv.NewReader(r)
	cr.Comma = l.delimiter
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var dims []string
	var values []float32
	for row := 1; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if row%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}

		if dims == nil {
			if l.header {
				dims = append([]string(nil), record...)
				continue
			}
			dims = make([]string, len(record))
			for i := range dims {
				dims[i] = fmt.Sprintf("dim%d", i)
			}
		}

		for col, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("row %d column %d: %q is not a finite number", row, col+1, field)
			}
			values = append(values, float32(v))
		}
	}

	if len(values) == 0 {
		return nil, nil, fmt.Errorf("no data rows")
	}
	return dims, values, nil
}
