package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/manivault/mvcore/internal/hierarchy"
	"github.com/manivault/mvcore/sdk"
)

// DatasetView describes a live dataset
type DatasetView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	RawDataName string         `json:"raw_data"`
	DataType    string         `json:"data_type"`
	PluginKind  string         `json:"plugin_kind,omitempty"`
	Locked      bool           `json:"locked"`
	Derived     bool           `json:"derived"`
	SourceID    string         `json:"source_id,omitempty"`
	Proxy       bool           `json:"proxy"`
	Members     []string       `json:"members,omitempty"`
	Full        bool           `json:"full"`
	NumIndices  int            `json:"num_indices,omitempty"`
	Properties  sdk.VariantMap `json:"properties,omitempty"`
}

// DatasetDetail adds the backing raw data's shape
type DatasetDetail struct {
	DatasetView
	NumPoints      int      `json:"num_points"`
	NumDimensions  int      `json:"num_dimensions"`
	DimensionNames []string `json:"dimension_names,omitempty"`
	ParentID       string   `json:"parent_id,omitempty"`
}

// TreeNode is one hierarchy item with its subtree
type TreeNode struct {
	DatasetID string      `json:"dataset_id"`
	Name      string      `json:"name"`
	Visible   bool        `json:"visible"`
	Expanded  bool        `json:"expanded"`
	Selected  bool        `json:"selected"`
	Locked    bool        `json:"locked"`
	Task      string      `json:"task,omitempty"`
	Children  []*TreeNode `json:"children,omitempty"`
}

func viewDataset(d *sdk.Dataset) DatasetView {
	return DatasetView{
		ID:          d.ID,
		Name:        d.GuiName,
		RawDataName: d.RawDataName,
		DataType:    d.DataType,
		PluginKind:  d.PluginKind,
		Locked:      d.Locked,
		Derived:     d.IsDerived(),
		SourceID:    d.SourceID(),
		Proxy:       d.IsProxy(),
		Members:     d.ProxyMemberIDs(),
		Full:        d.IsFull(),
		NumIndices:  len(d.Indices),
		Properties:  d.Properties,
	}
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	var types []string
	if t := r.URL.Query().Get("type"); t != "" {
		types = append(types, t)
	}

	var views []DatasetView
	err := s.do(r, func() error {
		datasets := s.core.Data.Datasets(types...)
		views = make([]DatasetView, 0, len(datasets))
		for _, d := range datasets {
			views = append(views, viewDataset(d))
		}
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	List(w, views, len(views))
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var detail DatasetDetail
	err := s.do(r, func() error {
		d, err := s.core.Data.Dataset(id)
		if err != nil {
			return err
		}
		detail.DatasetView = viewDataset(d)
		if d.RawDataName != "" {
			if raw, err := s.core.Data.RawData(d.RawDataName); err == nil {
				detail.NumPoints = raw.NumPoints
				detail.NumDimensions = raw.NumDimensions
				detail.DimensionNames = raw.DimensionNames
			}
		}
		if item, err := s.core.Hierarchy.Item(id); err == nil {
			detail.ParentID = item.ParentID()
		}
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, detail)
}

// removeDataset removes a dataset and its descendants, asking the
// configured confirmer first unless force is set
func (s *Server) removeDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	err := s.do(r, func() error {
		d, err := s.core.Data.Dataset(id)
		if err != nil {
			return err
		}
		if force {
			return s.core.Data.RemoveDataset(d)
		}
		return s.core.Data.RemoveDatasetSupervised(d)
	})
	if err != nil {
		FromError(w, err)
		return
	}
	NoContent(w)
}

func (s *Server) getHierarchy(w http.ResponseWriter, r *http.Request) {
	var tree []*TreeNode
	err := s.do(r, func() error {
		tree = s.treeLevel(s.core.Hierarchy.TopLevelItems())
		return nil
	})
	if err != nil {
		FromError(w, err)
		return
	}
	OK(w, tree)
}

func (s *Server) treeLevel(items []*hierarchy.Item) []*TreeNode {
	nodes := make([]*TreeNode, 0, len(items))
	for _, it := range items {
		node := &TreeNode{
			DatasetID: it.DatasetID,
			Visible:   it.Visible,
			Expanded:  it.Expanded,
			Selected:  it.Selected,
			Locked:    it.Locked,
			Task:      it.Task(),
		}
		if d, err := s.core.Data.Dataset(it.DatasetID); err == nil {
			node.Name = d.GuiName
		}
		if it.HasChildren() {
			node.Children = s.treeLevel(it.Children())
		}
		nodes = append(nodes, node)
	}
	return nodes
}
