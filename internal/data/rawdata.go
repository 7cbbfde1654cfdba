package data

import (
	"fmt"
	"math"

	"github.com/manivault/mvcore/internal/variant"
)

// RawData is the named backing object datasets point into. Values are
// stored point-major: point i, dimension j lives at i*NumDimensions+j.
type RawData struct {
	Name           string
	DataType       string
	PluginKind     string
	NumPoints      int
	NumDimensions  int
	DimensionNames []string
	Values         []float32
}

// NewRawData creates a raw data object from point-major values. NaN and
// infinite values are rejected since projects cannot store them.
func NewRawData(name, dataType string, numDimensions int, values []float32) (*RawData, error) {
	if numDimensions <= 0 {
		return nil, fmt.Errorf("number of dimensions must be positive, got %d", numDimensions)
	}
	if len(values)%numDimensions != 0 {
		return nil, fmt.Errorf("%d values do not divide into %d dimensions", len(values), numDimensions)
	}
	if err := checkFinite(values, numDimensions); err != nil {
		return nil, err
	}
	return &RawData{
		Name:          name,
		DataType:      dataType,
		NumPoints:     len(values) / numDimensions,
		NumDimensions: numDimensions,
		Values:        values,
	}, nil
}

func checkFinite(values []float32, numDimensions int) error {
	for i, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("dimension %d of point %d is not finite", i%numDimensions, i/numDimensions)
		}
	}
	return nil
}

// Value returns the value of dimension dim for point
func (r *RawData) Value(point, dim int) float32 {
	return r.Values[point*r.NumDimensions+dim]
}

// Point returns a copy of all dimension values of point
func (r *RawData) Point(point int) []float32 {
	start := point * r.NumDimensions
	out := make([]float32, r.NumDimensions)
	copy(out, r.Values[start:start+r.NumDimensions])
	return out
}

// ToVariantMap serializes the raw data
func (r *RawData) ToVariantMap() variant.Map {
	return variant.Map{
		"Name":           r.Name,
		"DataType":       r.DataType,
		"PluginKind":     r.PluginKind,
		"NumPoints":      r.NumPoints,
		"NumDimensions":  r.NumDimensions,
		"DimensionNames": append([]string(nil), r.DimensionNames...),
		"Values":         append([]float32(nil), r.Values...),
	}
}

// RawDataFromVariantMap rebuilds raw data from its serialized form
func RawDataFromVariantMap(m variant.Map) (*RawData, error) {
	if err := variant.Require(m, "Name", "NumDimensions"); err != nil {
		return nil, err
	}
	r, err := NewRawData(
		variant.String(m, "Name", ""),
		variant.String(m, "DataType", ""),
		variant.Int(m, "NumDimensions", 0),
		variant.Float32s(m, "Values"),
	)
	if err != nil {
		return nil, err
	}
	r.PluginKind = variant.String(m, "PluginKind", "")
	r.DimensionNames = variant.Strings(m, "DimensionNames")
	return r, nil
}

// Selection is the index set selected in one raw data object
type Selection struct {
	RawDataName string
	Indices     []int
}
