package data

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/variant"
)

// HierarchyProvider answers tree queries on behalf of the data manager. The
// data hierarchy implements it; Descendants returns ids deepest-first.
type HierarchyProvider interface {
	Descendants(datasetID string) []string
}

// RemovalConfirmer is asked before a supervised removal starts. Returning
// false aborts the removal with no state change.
type RemovalConfirmer interface {
	ConfirmRemoval(target *Dataset, descendants []*Dataset) bool
}

// Manager owns the live datasets and raw data objects. It is not safe for
// concurrent use; callers serialize access.
type Manager struct {
	datasets   map[string]*Dataset
	order      []string
	rawData    map[string]*RawData
	selections map[string]*Selection
	dataTypes  map[string]struct{}

	dispatcher *events.Dispatcher
	reporter   *logging.Reporter
	hierarchy  HierarchyProvider
	confirmer  RemovalConfirmer
	logger     *slog.Logger

	// set between BeginRestore and EndRestore
	restoring bool
}

// NewManager creates a data manager
func NewManager(dispatcher *events.Dispatcher, reporter *logging.Reporter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		datasets:   make(map[string]*Dataset),
		rawData:    make(map[string]*RawData),
		selections: make(map[string]*Selection),
		dataTypes:  make(map[string]struct{}),
		dispatcher: dispatcher,
		reporter:   reporter,
		logger:     logger.With("component", "data"),
	}
}

// SetHierarchy injects the tree used to cascade removals
func (m *Manager) SetHierarchy(h HierarchyProvider) {
	m.hierarchy = h
}

// SetConfirmer injects the collaborator consulted by supervised removals
func (m *Manager) SetConfirmer(c RemovalConfirmer) {
	m.confirmer = c
}

func (m *Manager) fail(err error) error {
	return m.reporter.Report("data", err)
}

// RegisterDataType makes a data type known to the manager
func (m *Manager) RegisterDataType(name string) error {
	if name == "" {
		return m.fail(mverr.New(mverr.CodeInvalidArgument, "data type name is empty"))
	}
	m.dataTypes[name] = struct{}{}
	return nil
}

// DataTypes returns the registered data types, sorted
func (m *Manager) DataTypes() []string {
	out := make([]string, 0, len(m.dataTypes))
	for name := range m.dataTypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddRawData takes ownership of a raw data object
func (m *Manager) AddRawData(raw *RawData) error {
	if raw == nil || raw.Name == "" {
		return m.fail(mverr.New(mverr.CodeInvalidArgument, "raw data has no name"))
	}
	if _, exists := m.rawData[raw.Name]; exists {
		return m.fail(mverr.New(mverr.CodeAlreadyInState, "raw data %q already exists", raw.Name))
	}
	if raw.NumDimensions > 0 {
		if err := checkFinite(raw.Values, raw.NumDimensions); err != nil {
			return m.fail(mverr.Wrap(mverr.CodeInvalidArgument, err, "raw data %q", raw.Name))
		}
	}
	if len(m.dataTypes) > 0 {
		if _, ok := m.dataTypes[raw.DataType]; !ok {
			return m.fail(mverr.New(mverr.CodeInvalidArgument, "unknown data type %q", raw.DataType))
		}
	}
	m.rawData[raw.Name] = raw
	m.logger.Debug("Added raw data", "name", raw.Name, "points", raw.NumPoints)
	return nil
}

// RawData looks up a raw data object by name
func (m *Manager) RawData(name string) (*RawData, error) {
	raw, ok := m.rawData[name]
	if !ok {
		return nil, m.fail(mverr.New(mverr.CodeNotFound, "raw data %q not found", name))
	}
	return raw, nil
}

// RawDataNames returns all raw data names, sorted
func (m *Manager) RawDataNames() []string {
	out := make([]string, 0, len(m.rawData))
	for name := range m.rawData {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// UniqueRawDataName returns name, or name with a numeric suffix when raw
// data called name already exists
func (m *Manager) UniqueRawDataName(name string) string {
	if _, taken := m.rawData[name]; !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s (%d)", name, i)
		if _, taken := m.rawData[candidate]; !taken {
			return candidate
		}
	}
}

// RemoveRawData drops a raw data object no dataset refers to any more
func (m *Manager) RemoveRawData(name string) error {
	if _, ok := m.rawData[name]; !ok {
		return m.fail(mverr.New(mverr.CodeNotFound, "raw data %q not found", name))
	}
	for _, id := range m.order {
		if m.datasets[id].RawDataName == name {
			return m.fail(mverr.New(mverr.CodeInvalidArgument, "raw data %q is still used by dataset %s", name, id))
		}
	}
	delete(m.rawData, name)
	delete(m.selections, name)
	return nil
}

// CreateDataset registers a new dataset over existing raw data
func (m *Manager) CreateDataset(rawDataName, guiName string, parent *Dataset) (*Dataset, error) {
	raw, ok := m.rawData[rawDataName]
	if !ok {
		return nil, m.fail(mverr.New(mverr.CodeNotFound, "raw data %q not found", rawDataName))
	}
	d := NewDataset(guiName, rawDataName, raw.DataType)
	d.PluginKind = raw.PluginKind
	if err := m.AddDataset(d, parent, true, true); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDerivedDataset registers a dataset computed from source. The new
// dataset shares the source's raw data; parent may be nil.
func (m *Manager) CreateDerivedDataset(guiName string, source, parent *Dataset) (*Dataset, error) {
	if err := m.checkUsable(source); err != nil {
		return nil, m.fail(err)
	}
	d := NewDataset(guiName, source.RawDataName, source.DataType)
	d.PluginKind = source.PluginKind
	d.derived = true
	d.sourceID = source.ID
	if err := m.AddDataset(d, parent, true, true); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateSubset registers a dataset restricted to indices of source's raw
// data, placed under source in the hierarchy.
func (m *Manager) CreateSubset(source *Dataset, guiName string, indices []int) (*Dataset, error) {
	if err := m.checkUsable(source); err != nil {
		return nil, m.fail(err)
	}
	raw, ok := m.rawData[source.RawDataName]
	if !ok {
		return nil, m.fail(mverr.New(mverr.CodeNotFound, "raw data %q not found", source.RawDataName))
	}
	for _, idx := range indices {
		if idx < 0 || idx >= raw.NumPoints {
			return nil, m.fail(mverr.New(mverr.CodeInvalidArgument, "index %d out of range [0,%d)", idx, raw.NumPoints))
		}
	}

	d := NewDataset(guiName, source.RawDataName, source.DataType)
	d.PluginKind = source.PluginKind
	d.Indices = append([]int{}, indices...)
	if err := m.AddDataset(d, source, true, true); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateProxyDataset registers a dataset aggregating members, which must
// all share one data type.
func (m *Manager) CreateProxyDataset(guiName string, members []*Dataset, parent *Dataset) (*Dataset, error) {
	if len(members) == 0 {
		return nil, m.fail(mverr.New(mverr.CodeInvalidArgument, "proxy dataset needs at least one member"))
	}
	ids := make([]string, 0, len(members))
	for _, member := range members {
		if err := m.checkUsable(member); err != nil {
			return nil, m.fail(err)
		}
		if member.DataType != members[0].DataType {
			return nil, m.fail(mverr.New(mverr.CodeInvalidArgument,
				"proxy members must share one data type, got %q and %q", members[0].DataType, member.DataType))
		}
		ids = append(ids, member.ID)
	}

	d := NewDataset(guiName, "", members[0].DataType)
	d.PluginKind = members[0].PluginKind
	d.proxy = true
	d.proxyMemberIDs = ids
	if err := m.AddDataset(d, parent, true, true); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Manager) checkUsable(d *Dataset) error {
	if !d.Valid() {
		return mverr.New(mverr.CodeInvalidArgument, "invalid dataset handle")
	}
	if _, ok := m.datasets[d.ID]; !ok {
		return mverr.New(mverr.CodeNotFound, "dataset %s not found", d.ID)
	}
	if d.aboutToBeRemoved {
		return mverr.New(mverr.CodeInvalidArgument, "dataset %s is being removed", d.ID)
	}
	return nil
}

// AddDataset takes ownership of d. The hierarchy is told first, through the
// registration signal, so that core-wide listeners of DatasetAdded already
// find the dataset positioned in the tree. notify=false registers silently.
func (m *Manager) AddDataset(d *Dataset, parent *Dataset, visible, notify bool) error {
	if !d.Valid() {
		return m.fail(mverr.New(mverr.CodeInvalidArgument, "invalid dataset handle"))
	}
	if _, exists := m.datasets[d.ID]; exists {
		return m.fail(mverr.New(mverr.CodeAlreadyInState, "dataset %s already added", d.ID))
	}
	parentID := ""
	if parent != nil {
		if err := m.checkUsable(parent); err != nil {
			return m.fail(err)
		}
		parentID = parent.ID
	}
	if err := m.checkIndices(d); err != nil {
		return m.fail(err)
	}
	underivedFrom := ""
	if !m.restoring {
		if d.proxy {
			for _, id := range d.proxyMemberIDs {
				if m.live(id) == nil {
					return m.fail(mverr.New(mverr.CodeInvalidArgument, "proxy dataset %s refers to missing member %s", d.ID, id))
				}
			}
		}
		if d.derived && m.live(d.sourceID) == nil {
			underivedFrom = d.sourceID
			d.underive()
		}
	}
	if d.Properties == nil {
		d.Properties = make(variant.Map)
	}

	m.datasets[d.ID] = d
	m.order = append(m.order, d.ID)

	m.logger.Info("Added dataset", "id", d.ID, "name", d.GuiName, "type", d.DataType, "parent", parentID)

	m.dispatcher.Dispatch(events.DatasetRegistered{DatasetID: d.ID, ParentID: parentID, Visible: visible})
	if notify {
		m.dispatcher.Dispatch(events.DatasetAdded{
			DatasetID: d.ID,
			GuiName:   d.GuiName,
			DataType:  d.DataType,
			ParentID:  parentID,
			Visible:   visible,
		})
	}
	if underivedFrom != "" {
		m.logger.Warn("Source of derived dataset is gone", "id", d.ID, "source", underivedFrom)
		m.dispatcher.Dispatch(events.DatasetUnderived{DatasetID: d.ID, SourceID: underivedFrom})
	}
	return nil
}

// live returns the registered dataset with id unless it is being removed
func (m *Manager) live(id string) *Dataset {
	d, ok := m.datasets[id]
	if !ok || d.aboutToBeRemoved {
		return nil
	}
	return d
}

// checkIndices makes sure a subset only refers to points of its raw data
func (m *Manager) checkIndices(d *Dataset) error {
	if d.IsFull() {
		return nil
	}
	raw, ok := m.rawData[d.RawDataName]
	if !ok {
		return mverr.New(mverr.CodeNotFound, "raw data %q of subset %s not found", d.RawDataName, d.ID)
	}
	for _, idx := range d.Indices {
		if idx < 0 || idx >= raw.NumPoints {
			return mverr.New(mverr.CodeInvalidArgument, "subset %s index %d out of range [0,%d)", d.ID, idx, raw.NumPoints)
		}
	}
	return nil
}

// BeginRestore defers the source and proxy member checks of AddDataset
// until EndRestore, since a restored record may precede the dataset it
// refers to.
func (m *Manager) BeginRestore() {
	m.restoring = true
}

// EndRestore un-derives datasets whose source was not restored and removes
// proxies with a missing member
func (m *Manager) EndRestore() {
	m.restoring = false
	for _, id := range append([]string(nil), m.order...) {
		d := m.live(id)
		if d == nil {
			continue
		}
		if d.derived && m.live(d.sourceID) == nil {
			source := d.sourceID
			d.underive()
			m.fail(mverr.New(mverr.CodeNotFound, "source %s of dataset %s was not restored; dataset is no longer derived", source, d.GuiName))
			m.dispatcher.Dispatch(events.DatasetUnderived{DatasetID: d.ID, SourceID: source})
		}
		if !d.proxy {
			continue
		}
		for _, member := range d.proxyMemberIDs {
			if m.live(member) != nil {
				continue
			}
			m.fail(mverr.New(mverr.CodeNotFound, "member %s of proxy dataset %s was not restored", member, d.GuiName))
			if err := m.removeDataset(d); err != nil {
				m.logger.Warn("Failed to remove proxy dataset", "id", d.ID, "error", err)
			}
			break
		}
	}
}

// Dataset looks up a live dataset by id
func (m *Manager) Dataset(id string) (*Dataset, error) {
	d, ok := m.datasets[id]
	if !ok {
		return nil, mverr.New(mverr.CodeNotFound, "dataset %s not found", id)
	}
	return d, nil
}

// Datasets returns the live datasets in insertion order, optionally only
// those of the given data types.
func (m *Manager) Datasets(dataTypes ...string) []*Dataset {
	out := make([]*Dataset, 0, len(m.order))
	for _, id := range m.order {
		d := m.datasets[id]
		if len(dataTypes) == 0 || containsString(dataTypes, d.DataType) {
			out = append(out, d)
		}
	}
	return out
}

// Count returns the number of live datasets
func (m *Manager) Count() int {
	return len(m.datasets)
}

// Rename changes a dataset's GUI name
func (m *Manager) Rename(d *Dataset, guiName string) error {
	if err := m.checkUsable(d); err != nil {
		return m.fail(err)
	}
	if guiName == "" {
		return m.fail(mverr.New(mverr.CodeInvalidArgument, "dataset name is empty"))
	}
	d.GuiName = guiName
	m.dispatcher.Dispatch(events.DatasetChanged{DatasetID: d.ID, Field: "GuiName"})
	return nil
}

// RemoveDataset removes d together with its hierarchy descendants. Order:
// descendants deepest-first, un-derive dependents, cascade dependent proxies,
// DatasetAboutToBeRemoved, DatasetUnregistered, erase, DatasetRemoved.
func (m *Manager) RemoveDataset(d *Dataset) error {
	if err := m.removeDataset(d); err != nil {
		return m.fail(err)
	}
	return nil
}

// RemoveDatasetSupervised asks the confirmer before removing d and its
// descendants. A declined confirmation returns an Aborted error.
func (m *Manager) RemoveDatasetSupervised(d *Dataset) error {
	if err := m.checkRemovable(d); err != nil {
		return m.fail(err)
	}
	if m.confirmer != nil {
		descendants := m.descendants(d.ID)
		if !m.confirmer.ConfirmRemoval(d, descendants) {
			return m.fail(mverr.New(mverr.CodeAborted, "removal of %s declined", d.GuiName))
		}
	}
	return m.RemoveDataset(d)
}

// Descendants returns the live hierarchy descendants of d, deepest-first
func (m *Manager) Descendants(d *Dataset) []*Dataset {
	if !d.Valid() {
		return nil
	}
	return m.descendants(d.ID)
}

func (m *Manager) descendants(id string) []*Dataset {
	if m.hierarchy == nil {
		return nil
	}
	var out []*Dataset
	for _, childID := range m.hierarchy.Descendants(id) {
		if child, ok := m.datasets[childID]; ok {
			out = append(out, child)
		}
	}
	return out
}

func (m *Manager) checkRemovable(d *Dataset) error {
	if !d.Valid() {
		return mverr.New(mverr.CodeInvalidArgument, "invalid dataset handle")
	}
	if _, ok := m.datasets[d.ID]; !ok {
		return mverr.New(mverr.CodeNotFound, "dataset %s not found", d.ID)
	}
	if d.aboutToBeRemoved {
		return mverr.New(mverr.CodeAlreadyInState, "dataset %s is already being removed", d.ID)
	}
	return nil
}

func (m *Manager) removeDataset(d *Dataset) error {
	if err := m.checkRemovable(d); err != nil {
		return err
	}

	// Blocks re-entrant removal from listeners and further use
	d.aboutToBeRemoved = true

	for _, child := range m.descendants(d.ID) {
		if child.aboutToBeRemoved {
			continue
		}
		if err := m.removeDataset(child); err != nil {
			m.logger.Warn("Failed to remove descendant", "id", child.ID, "error", err)
		}
	}

	for _, id := range append([]string(nil), m.order...) {
		other, ok := m.datasets[id]
		if !ok || other == d || other.aboutToBeRemoved {
			continue
		}
		if other.derived && other.sourceID == d.ID {
			other.underive()
			m.logger.Debug("Underived dataset", "id", other.ID, "source", d.ID)
			m.dispatcher.Dispatch(events.DatasetUnderived{DatasetID: other.ID, SourceID: d.ID})
		}
		if other.proxy && other.hasProxyMember(d.ID) {
			if err := m.removeDataset(other); err != nil {
				m.logger.Warn("Failed to remove proxy dataset", "id", other.ID, "error", err)
			}
		}
	}

	m.dispatcher.Dispatch(events.DatasetAboutToBeRemoved{DatasetID: d.ID, GuiName: d.GuiName, DataType: d.DataType})
	m.dispatcher.Dispatch(events.DatasetUnregistered{DatasetID: d.ID})

	delete(m.datasets, d.ID)
	for i, id := range m.order {
		if id == d.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	d.removed = true

	m.logger.Info("Removed dataset", "id", d.ID, "name", d.GuiName)
	m.dispatcher.Dispatch(events.DatasetRemoved{DatasetID: d.ID, DataType: d.DataType})
	return nil
}

// AddSelection creates the selection of a raw data object if it does not
// exist yet and returns it.
func (m *Manager) AddSelection(rawDataName string) (*Selection, error) {
	if _, ok := m.rawData[rawDataName]; !ok {
		return nil, m.fail(mverr.New(mverr.CodeNotFound, "raw data %q not found", rawDataName))
	}
	if sel, ok := m.selections[rawDataName]; ok {
		return sel, nil
	}
	sel := &Selection{RawDataName: rawDataName, Indices: []int{}}
	m.selections[rawDataName] = sel
	return sel, nil
}

// Selection returns the selection of a raw data object
func (m *Manager) Selection(rawDataName string) (*Selection, error) {
	sel, ok := m.selections[rawDataName]
	if !ok {
		return nil, mverr.New(mverr.CodeNotFound, "no selection for raw data %q", rawDataName)
	}
	return sel, nil
}

// SetSelection replaces the selected indices of a raw data object
func (m *Manager) SetSelection(rawDataName string, indices []int) error {
	sel, err := m.AddSelection(rawDataName)
	if err != nil {
		return err
	}
	raw := m.rawData[rawDataName]
	for _, idx := range indices {
		if idx < 0 || idx >= raw.NumPoints {
			return m.fail(mverr.New(mverr.CodeInvalidArgument, "index %d out of range [0,%d)", idx, raw.NumPoints))
		}
	}
	sel.Indices = append([]int{}, indices...)
	m.dispatcher.Dispatch(events.SelectionChanged{RawDataName: rawDataName, Count: len(indices)})
	return nil
}

// ToVariantMap serializes raw data and selections. Datasets are persisted
// through the hierarchy, which knows their tree position.
func (m *Manager) ToVariantMap() variant.Map {
	raws := make([]variant.Map, 0, len(m.rawData))
	for _, name := range m.RawDataNames() {
		raws = append(raws, m.rawData[name].ToVariantMap())
	}
	selections := make(variant.Map, len(m.selections))
	for name, sel := range m.selections {
		selections[name] = append([]int{}, sel.Indices...)
	}
	return variant.Map{
		"RawData":    raws,
		"Selections": selections,
	}
}

// FromVariantMap restores raw data and selections. Records that fail to
// load are reported and skipped.
func (m *Manager) FromVariantMap(vm variant.Map) error {
	for _, rm := range variant.Maps(vm, "RawData") {
		raw, err := RawDataFromVariantMap(rm)
		if err != nil {
			m.fail(mverr.Wrap(mverr.CodeInvalidArgument, err, "skipping raw data record"))
			continue
		}
		if err := m.AddRawData(raw); err != nil {
			continue
		}
	}
	selections := variant.Sub(vm, "Selections")
	for name := range selections {
		if err := m.SetSelection(name, variant.Ints(selections, name)); err != nil {
			m.logger.Warn("Skipping selection", "raw_data", name, "error", err)
		}
	}
	return nil
}

// Clear removes every dataset, top-level ones last
func (m *Manager) Clear() {
	for len(m.order) > 0 {
		last := m.datasets[m.order[len(m.order)-1]]
		if err := m.removeDataset(last); err != nil {
			m.logger.Error("Failed to clear dataset", "id", last.ID, "error", err)
			delete(m.datasets, last.ID)
			m.order = m.order[:len(m.order)-1]
		}
	}
	m.rawData = make(map[string]*RawData)
	m.selections = make(map[string]*Selection)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
