// Package hierarchy keeps the tree over live datasets. The tree is separate
// from dataset storage: the data manager owns datasets, this package owns
// their positions.
package hierarchy

// Item places one dataset in the tree
type Item struct {
	DatasetID string
	Visible   bool
	Expanded  bool
	Selected  bool
	Locked    bool

	parent   *Item
	children []*Item
	task     string
}

// Parent returns the parent item, nil for top-level items
func (it *Item) Parent() *Item {
	return it.parent
}

// ParentID returns the parent's dataset id, or ""
func (it *Item) ParentID() string {
	if it.parent == nil {
		return ""
	}
	return it.parent.DatasetID
}

// Children returns the direct children in sibling order
func (it *Item) Children() []*Item {
	out := make([]*Item, len(it.children))
	copy(out, it.children)
	return out
}

// HasChildren reports whether the item has any children
func (it *Item) HasChildren() bool {
	return len(it.children) > 0
}

// Task returns the last task reported for the item
func (it *Item) Task() string {
	return it.task
}

// Depth returns 0 for top-level items
func (it *Item) Depth() int {
	depth := 0
	for p := it.parent; p != nil; p = p.parent {
		depth++
	}
	return depth
}

func (it *Item) detachChild(child *Item) {
	for i, c := range it.children {
		if c == child {
			it.children = append(it.children[:i], it.children[i+1:]...)
			return
		}
	}
}

// walk visits descendants pre-order
func (it *Item) walk(fn func(*Item)) {
	for _, c := range it.children {
		fn(c)
		c.walk(fn)
	}
}

// walkPost visits descendants deepest-first
func (it *Item) walkPost(fn func(*Item)) {
	for _, c := range it.children {
		c.walkPost(fn)
		fn(c)
	}
}
