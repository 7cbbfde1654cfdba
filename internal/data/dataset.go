// Package data owns the live datasets, the raw data objects backing them and
// the per-raw-data selections.
package data

import (
	"github.com/google/uuid"

	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/variant"
)

// Dataset is a handle onto a unit of data exposed to the rest of the system.
// Several datasets may share one raw data object; subsets restrict it to a
// list of point indices.
type Dataset struct {
	ID          string
	GuiName     string
	RawDataName string
	DataType    string
	PluginKind  string
	Locked      bool
	Indices     []int
	Properties  variant.Map

	derived        bool
	sourceID       string
	proxy          bool
	proxyMemberIDs []string

	aboutToBeRemoved bool
	removed          bool
}

// NewDataset creates an unregistered dataset handle with a fresh id
func NewDataset(guiName, rawDataName, dataType string) *Dataset {
	return &Dataset{
		ID:          uuid.New().String(),
		GuiName:     guiName,
		RawDataName: rawDataName,
		DataType:    dataType,
		Properties:  make(variant.Map),
	}
}

// Valid reports whether the handle may still be used
func (d *Dataset) Valid() bool {
	return d != nil && d.ID != "" && !d.removed
}

// IsDerived reports whether the dataset is computed from a source dataset
func (d *Dataset) IsDerived() bool {
	return d.derived
}

// SourceID returns the source dataset id, or "" when not derived
func (d *Dataset) SourceID() string {
	return d.sourceID
}

// IsProxy reports whether the dataset aggregates member datasets
func (d *Dataset) IsProxy() bool {
	return d.proxy
}

// ProxyMemberIDs returns the ids of the aggregated datasets
func (d *Dataset) ProxyMemberIDs() []string {
	out := make([]string, len(d.proxyMemberIDs))
	copy(out, d.proxyMemberIDs)
	return out
}

// IsFull reports whether the dataset covers all points of its raw data
func (d *Dataset) IsFull() bool {
	return d.Indices == nil
}

// AboutToBeRemoved reports whether a removal of this dataset is in progress
func (d *Dataset) AboutToBeRemoved() bool {
	return d.aboutToBeRemoved
}

func (d *Dataset) hasProxyMember(id string) bool {
	for _, m := range d.proxyMemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

func (d *Dataset) underive() {
	d.derived = false
	d.sourceID = ""
}

// ToVariantMap serializes the dataset attributes
func (d *Dataset) ToVariantMap() variant.Map {
	m := variant.Map{
		"ID":          d.ID,
		"Name":        d.GuiName,
		"RawDataName": d.RawDataName,
		"DataType":    d.DataType,
		"PluginKind":  d.PluginKind,
		"Locked":      d.Locked,
		"Derived":     d.derived,
		"Proxy":       d.proxy,
	}
	if d.derived {
		m["SourceID"] = d.sourceID
	}
	if d.proxy {
		m["ProxyMembers"] = d.ProxyMemberIDs()
	}
	if d.Indices != nil {
		m["Indices"] = append([]int(nil), d.Indices...)
	}
	if len(d.Properties) > 0 {
		m["Properties"] = d.Properties
	}
	return m
}

// DatasetFromVariantMap rebuilds an unregistered dataset handle, keeping the
// serialized id.
func DatasetFromVariantMap(m variant.Map) (*Dataset, error) {
	if err := variant.Require(m, "ID", "Name"); err != nil {
		return nil, mverr.Wrap(mverr.CodeInvalidArgument, err, "invalid dataset record")
	}

	d := &Dataset{
		ID:          variant.String(m, "ID", ""),
		GuiName:     variant.String(m, "Name", ""),
		RawDataName: variant.String(m, "RawDataName", ""),
		DataType:    variant.String(m, "DataType", ""),
		PluginKind:  variant.String(m, "PluginKind", ""),
		Locked:      variant.Bool(m, "Locked", false),
		Indices:     variant.Ints(m, "Indices"),
		Properties:  variant.Sub(m, "Properties"),
		derived:     variant.Bool(m, "Derived", false),
		proxy:       variant.Bool(m, "Proxy", false),
	}
	if _, ok := m["Indices"]; ok && d.Indices == nil {
		d.Indices = []int{}
	}
	if d.Properties == nil {
		d.Properties = make(variant.Map)
	}
	if d.derived {
		d.sourceID = variant.String(m, "SourceID", "")
	}
	if d.proxy {
		d.proxyMemberIDs = variant.Strings(m, "ProxyMembers")
	}
	return d, nil
}
