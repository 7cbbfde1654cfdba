// Package events provides the typed notifications emitted by the core and the
// synchronous dispatcher that delivers them.
package events

// Event is implemented by every notification payload
type Event interface {
	// Topic returns the dotted topic name, e.g. "data.dataset.added"
	Topic() string
}

// Topics
const (
	TopicDatasetAdded            = "data.dataset.added"
	TopicDatasetRegistered       = "data.dataset.registered"
	TopicDatasetAboutToBeRemoved = "data.dataset.about_to_be_removed"
	TopicDatasetUnregistered     = "data.dataset.unregistered"
	TopicDatasetRemoved          = "data.dataset.removed"
	TopicDatasetUnderived        = "data.dataset.underived"
	TopicDatasetChanged          = "data.dataset.changed"
	TopicSelectionChanged        = "data.selection.changed"

	TopicFactoryLoaded            = "plugins.factory.loaded"
	TopicPluginUnresolved         = "plugins.factory.unresolved"
	TopicPluginAdded              = "plugins.instance.added"
	TopicPluginAboutToBeDestroyed = "plugins.instance.about_to_be_destroyed"
	TopicPluginDestroyed          = "plugins.instance.destroyed"

	TopicHierarchyItemAdded            = "hierarchy.item.added"
	TopicHierarchyItemAboutToBeRemoved = "hierarchy.item.about_to_be_removed"
	TopicHierarchyItemRemoved          = "hierarchy.item.removed"
	TopicHierarchyItemTask             = "hierarchy.item.task"

	TopicActionPublished    = "actions.published"
	TopicActionConnected    = "actions.connected"
	TopicActionDisconnected = "actions.disconnected"
	TopicActionRemoved      = "actions.removed"
)

// DatasetAdded is emitted core-wide after a dataset has been taken into storage
type DatasetAdded struct {
	DatasetID string `json:"dataset_id"`
	GuiName   string `json:"gui_name"`
	DataType  string `json:"data_type"`
	ParentID  string `json:"parent_id,omitempty"`
	Visible   bool   `json:"visible"`
}

func (DatasetAdded) Topic() string { return TopicDatasetAdded }

// DatasetRegistered is the internal signal consumed by the data hierarchy.
// It is emitted for every addition, including silent ones.
type DatasetRegistered struct {
	DatasetID string `json:"dataset_id"`
	ParentID  string `json:"parent_id,omitempty"`
	Visible   bool   `json:"visible"`
}

func (DatasetRegistered) Topic() string { return TopicDatasetRegistered }

// DatasetAboutToBeRemoved is emitted while the dataset is still fully valid
type DatasetAboutToBeRemoved struct {
	DatasetID string `json:"dataset_id"`
	GuiName   string `json:"gui_name"`
	DataType  string `json:"data_type"`
}

func (DatasetAboutToBeRemoved) Topic() string { return TopicDatasetAboutToBeRemoved }

// DatasetUnregistered is the internal signal emitted just before erasure
type DatasetUnregistered struct {
	DatasetID string `json:"dataset_id"`
}

func (DatasetUnregistered) Topic() string { return TopicDatasetUnregistered }

// DatasetRemoved is emitted after erasure; only the id and type survive
type DatasetRemoved struct {
	DatasetID string `json:"dataset_id"`
	DataType  string `json:"data_type"`
}

func (DatasetRemoved) Topic() string { return TopicDatasetRemoved }

// DatasetUnderived is emitted when a dataset loses its source
type DatasetUnderived struct {
	DatasetID string `json:"dataset_id"`
	SourceID  string `json:"source_id"`
}

func (DatasetUnderived) Topic() string { return TopicDatasetUnderived }

// DatasetChanged is emitted when dataset attributes change
type DatasetChanged struct {
	DatasetID string `json:"dataset_id"`
	Field     string `json:"field"`
}

func (DatasetChanged) Topic() string { return TopicDatasetChanged }

// SelectionChanged is emitted when the selection of a raw data object changes
type SelectionChanged struct {
	RawDataName string `json:"raw_data_name"`
	Count       int    `json:"count"`
}

func (SelectionChanged) Topic() string { return TopicSelectionChanged }

// FactoryLoaded is emitted when a plugin factory becomes available
type FactoryLoaded struct {
	Kind    string `json:"kind"`
	Version string `json:"version"`
	Type    string `json:"type"`
}

func (FactoryLoaded) Topic() string { return TopicFactoryLoaded }

// PluginUnresolved is emitted for plugins that could not be loaded
type PluginUnresolved struct {
	Kind    string   `json:"kind"`
	Reason  string   `json:"reason"`
	Missing []string `json:"missing,omitempty"`
}

func (PluginUnresolved) Topic() string { return TopicPluginUnresolved }

// PluginAdded is emitted after a plugin instance has been registered
type PluginAdded struct {
	PluginID string `json:"plugin_id"`
	Kind     string `json:"kind"`
	Type     string `json:"type"`
}

func (PluginAdded) Topic() string { return TopicPluginAdded }

// PluginAboutToBeDestroyed is emitted while the instance is still registered
type PluginAboutToBeDestroyed struct {
	PluginID string `json:"plugin_id"`
	Kind     string `json:"kind"`
}

func (PluginAboutToBeDestroyed) Topic() string { return TopicPluginAboutToBeDestroyed }

// PluginDestroyed carries the freed id
type PluginDestroyed struct {
	PluginID string `json:"plugin_id"`
	Kind     string `json:"kind"`
}

func (PluginDestroyed) Topic() string { return TopicPluginDestroyed }

// HierarchyItemAdded is emitted after an item is placed in the tree
type HierarchyItemAdded struct {
	DatasetID string `json:"dataset_id"`
	ParentID  string `json:"parent_id,omitempty"`
}

func (HierarchyItemAdded) Topic() string { return TopicHierarchyItemAdded }

// HierarchyItemAboutToBeRemoved is emitted before an item is detached
type HierarchyItemAboutToBeRemoved struct {
	DatasetID string `json:"dataset_id"`
}

func (HierarchyItemAboutToBeRemoved) Topic() string { return TopicHierarchyItemAboutToBeRemoved }

// HierarchyItemRemoved carries the freed dataset id
type HierarchyItemRemoved struct {
	DatasetID string `json:"dataset_id"`
}

func (HierarchyItemRemoved) Topic() string { return TopicHierarchyItemRemoved }

// Task names passed through from hierarchy items
const (
	TaskLoading = "loading"
	TaskLoaded  = "loaded"
	TaskSaving  = "saving"
	TaskSaved   = "saved"
)

// HierarchyItemTask passes through loading/saving progress of an item
type HierarchyItemTask struct {
	DatasetID string `json:"dataset_id"`
	Task      string `json:"task"`
}

func (HierarchyItemTask) Topic() string { return TopicHierarchyItemTask }

// ActionPublished is emitted after a public copy has been registered
type ActionPublished struct {
	ActionID       string `json:"action_id"`
	PublicActionID string `json:"public_action_id"`
	Name           string `json:"name"`
	ActionType     string `json:"action_type"`
}

func (ActionPublished) Topic() string { return TopicActionPublished }

// ActionConnected is emitted when a private action starts mirroring a public one
type ActionConnected struct {
	PrivateActionID string `json:"private_action_id"`
	PublicActionID  string `json:"public_action_id"`
}

func (ActionConnected) Topic() string { return TopicActionConnected }

// ActionDisconnected is emitted when a private action stops mirroring
type ActionDisconnected struct {
	PrivateActionID string `json:"private_action_id"`
	PublicActionID  string `json:"public_action_id"`
}

func (ActionDisconnected) Topic() string { return TopicActionDisconnected }

// ActionRemoved is emitted when an action leaves the registry
type ActionRemoved struct {
	ActionID string `json:"action_id"`
	Public   bool   `json:"public"`
}

func (ActionRemoved) Topic() string { return TopicActionRemoved }
