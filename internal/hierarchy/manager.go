package hierarchy

import (
	"log/slog"
	"sort"

	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/variant"
)

// Manager maintains exactly one item per registered dataset. Items follow
// the data manager's registration and removal signals.
type Manager struct {
	items    map[string]*Item
	topLevel []*Item

	data        *data.Manager
	dispatcher  *events.Dispatcher
	reporter    *logging.Reporter
	logger      *slog.Logger
	unsubscribe []func()
}

// NewManager creates the hierarchy and attaches it to dm
func NewManager(dm *data.Manager, dispatcher *events.Dispatcher, reporter *logging.Reporter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Manager{
		items:      make(map[string]*Item),
		data:       dm,
		dispatcher: dispatcher,
		reporter:   reporter,
		logger:     logger.With("component", "hierarchy"),
	}

	h.unsubscribe = append(h.unsubscribe,
		events.On(dispatcher, func(e events.DatasetRegistered) {
			h.AddItem(e.DatasetID, e.ParentID, e.Visible)
		}),
		events.On(dispatcher, func(e events.DatasetAboutToBeRemoved) {
			if _, ok := h.items[e.DatasetID]; ok {
				h.RemoveItemRecursive(e.DatasetID)
			}
		}),
	)
	dm.SetHierarchy(h)
	return h
}

// Close detaches the hierarchy from the dispatcher
func (h *Manager) Close() {
	for _, fn := range h.unsubscribe {
		fn()
	}
	h.unsubscribe = nil
}

func (h *Manager) fail(err error) error {
	return h.reporter.Report("hierarchy", err)
}

// AddItem places a dataset under parentID, or at the top level when
// parentID is empty.
func (h *Manager) AddItem(datasetID, parentID string, visible bool) error {
	if datasetID == "" {
		return h.fail(mverr.New(mverr.CodeInvalidArgument, "dataset id is empty"))
	}
	if _, exists := h.items[datasetID]; exists {
		return h.fail(mverr.New(mverr.CodeAlreadyInState, "dataset %s already has a hierarchy item", datasetID))
	}

	item := &Item{DatasetID: datasetID, Visible: visible}
	if parentID != "" {
		parent, ok := h.items[parentID]
		if !ok {
			return h.fail(mverr.New(mverr.CodeNotFound, "parent item %s not found", parentID))
		}
		item.parent = parent
		parent.children = append(parent.children, item)
	} else {
		h.topLevel = append(h.topLevel, item)
	}
	h.items[datasetID] = item

	h.logger.Debug("Added item", "dataset", datasetID, "parent", parentID)
	h.dispatcher.Dispatch(events.HierarchyItemAdded{DatasetID: datasetID, ParentID: parentID})
	return nil
}

// RemoveItem removes a leaf item. Items that still have children are
// refused; use RemoveItemRecursive for subtrees.
func (h *Manager) RemoveItem(datasetID string) error {
	item, ok := h.items[datasetID]
	if !ok {
		return h.fail(mverr.New(mverr.CodeNotFound, "hierarchy item %s not found", datasetID))
	}
	if item.HasChildren() {
		return h.fail(mverr.New(mverr.CodeInvalidArgument,
			"hierarchy item %s still has %d children", datasetID, len(item.children)))
	}
	h.removeLeaf(item)
	return nil
}

// RemoveItemRecursive removes an item and its descendants, deepest-first
func (h *Manager) RemoveItemRecursive(datasetID string) error {
	item, ok := h.items[datasetID]
	if !ok {
		return h.fail(mverr.New(mverr.CodeNotFound, "hierarchy item %s not found", datasetID))
	}
	var subtree []*Item
	item.walkPost(func(c *Item) { subtree = append(subtree, c) })
	for _, c := range subtree {
		if _, still := h.items[c.DatasetID]; still {
			h.removeLeaf(c)
		}
	}
	h.removeLeaf(item)
	return nil
}

func (h *Manager) removeLeaf(item *Item) {
	h.dispatcher.Dispatch(events.HierarchyItemAboutToBeRemoved{DatasetID: item.DatasetID})

	if item.parent != nil {
		item.parent.detachChild(item)
	} else {
		for i, top := range h.topLevel {
			if top == item {
				h.topLevel = append(h.topLevel[:i], h.topLevel[i+1:]...)
				break
			}
		}
	}
	delete(h.items, item.DatasetID)

	h.logger.Debug("Removed item", "dataset", item.DatasetID)
	h.dispatcher.Dispatch(events.HierarchyItemRemoved{DatasetID: item.DatasetID})
}

// RemoveAllItems empties the tree, each top-level subtree deepest-first
func (h *Manager) RemoveAllItems() {
	for len(h.topLevel) > 0 {
		h.RemoveItemRecursive(h.topLevel[0].DatasetID)
	}
}

// Item looks up the item of a dataset
func (h *Manager) Item(datasetID string) (*Item, error) {
	item, ok := h.items[datasetID]
	if !ok {
		return nil, mverr.New(mverr.CodeNotFound, "hierarchy item %s not found", datasetID)
	}
	return item, nil
}

// Items returns all items, top-level subtrees in pre-order
func (h *Manager) Items() []*Item {
	out := make([]*Item, 0, len(h.items))
	for _, top := range h.topLevel {
		out = append(out, top)
		top.walk(func(c *Item) { out = append(out, c) })
	}
	return out
}

// Count returns the number of items
func (h *Manager) Count() int {
	return len(h.items)
}

// TopLevelItems returns the parentless items
func (h *Manager) TopLevelItems() []*Item {
	out := make([]*Item, len(h.topLevel))
	copy(out, h.topLevel)
	return out
}

// Children returns the children of a dataset's item. With recursive set,
// all descendants are returned in pre-order.
func (h *Manager) Children(datasetID string, recursive bool) ([]*Item, error) {
	item, ok := h.items[datasetID]
	if !ok {
		return nil, h.fail(mverr.New(mverr.CodeNotFound, "hierarchy item %s not found", datasetID))
	}
	if !recursive {
		return item.Children(), nil
	}
	var out []*Item
	item.walk(func(c *Item) { out = append(out, c) })
	return out, nil
}

// Descendants returns descendant dataset ids deepest-first
func (h *Manager) Descendants(datasetID string) []string {
	item, ok := h.items[datasetID]
	if !ok {
		return nil
	}
	var out []string
	item.walkPost(func(c *Item) { out = append(out, c.DatasetID) })
	return out
}

// SetTask reports loading or saving progress of an item
func (h *Manager) SetTask(datasetID, task string) error {
	item, ok := h.items[datasetID]
	if !ok {
		return h.fail(mverr.New(mverr.CodeNotFound, "hierarchy item %s not found", datasetID))
	}
	switch task {
	case events.TaskLoading, events.TaskLoaded, events.TaskSaving, events.TaskSaved:
	default:
		return h.fail(mverr.New(mverr.CodeInvalidArgument, "unknown task %q", task))
	}
	item.task = task
	h.dispatcher.Dispatch(events.HierarchyItemTask{DatasetID: datasetID, Task: task})
	return nil
}

// Select makes the given datasets the selected items
func (h *Manager) Select(datasetIDs ...string) error {
	for _, id := range datasetIDs {
		if _, ok := h.items[id]; !ok {
			return h.fail(mverr.New(mverr.CodeNotFound, "hierarchy item %s not found", id))
		}
	}
	for _, item := range h.items {
		item.Selected = false
	}
	for _, id := range datasetIDs {
		h.items[id].Selected = true
	}
	return nil
}

// SelectedItems returns the selected items in tree order
func (h *Manager) SelectedItems() []*Item {
	var out []*Item
	for _, item := range h.Items() {
		if item.Selected {
			out = append(out, item)
		}
	}
	return out
}

// ToVariantMap serializes the tree with the datasets it positions. Each
// level is a map keyed by dataset id whose entries carry a SortIndex.
func (h *Manager) ToVariantMap() variant.Map {
	return variant.Map{"Children": h.levelToVariantMap(h.topLevel)}
}

func (h *Manager) levelToVariantMap(level []*Item) variant.Map {
	out := make(variant.Map, len(level))
	for i, item := range level {
		ds, err := h.data.Dataset(item.DatasetID)
		if err != nil {
			h.logger.Warn("Skipping item without dataset", "dataset", item.DatasetID)
			continue
		}
		out[item.DatasetID] = variant.Map{
			"Dataset":   ds.ToVariantMap(),
			"Children":  h.levelToVariantMap(item.children),
			"SortIndex": i,
			"Visible":   item.Visible,
			"Expanded":  item.Expanded,
		}
	}
	return out
}

// FromVariantMap recreates datasets and their positions. A record that
// cannot be restored is reported and skipped along with its subtree. Source
// and proxy member references are checked once the whole tree is back.
func (h *Manager) FromVariantMap(vm variant.Map) error {
	if vm == nil {
		return h.fail(mverr.New(mverr.CodeInvalidArgument, "hierarchy map is nil"))
	}
	h.data.BeginRestore()
	h.levelFromVariantMap(variant.Sub(vm, "Children"), nil)
	h.data.EndRestore()
	return nil
}

func (h *Manager) levelFromVariantMap(level variant.Map, parent *data.Dataset) {
	type entry struct {
		key       string
		sortIndex int
		node      variant.Map
	}
	entries := make([]entry, 0, len(level))
	for key, raw := range level {
		node, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		entries = append(entries, entry{key: key, sortIndex: variant.Int(node, "SortIndex", 0), node: node})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].sortIndex != entries[j].sortIndex {
			return entries[i].sortIndex < entries[j].sortIndex
		}
		return entries[i].key < entries[j].key
	})

	for _, e := range entries {
		ds, err := data.DatasetFromVariantMap(variant.Sub(e.node, "Dataset"))
		if err != nil {
			h.fail(mverr.Wrap(mverr.CodeInvalidArgument, err, "skipping hierarchy entry %s", e.key))
			continue
		}
		if err := h.data.AddDataset(ds, parent, variant.Bool(e.node, "Visible", true), true); err != nil {
			continue
		}
		if item, ok := h.items[ds.ID]; ok {
			item.Expanded = variant.Bool(e.node, "Expanded", false)
		}
		h.levelFromVariantMap(variant.Sub(e.node, "Children"), ds)
	}
}
