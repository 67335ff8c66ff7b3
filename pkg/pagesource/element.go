// Package pagesource turns an Android UI hierarchy dump into a tree of nodes.
package pagesource

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/devicelab-dev/autosdk/pkg/node"
)

// HierarchyClass is the class name of the synthetic root wrapping the dump.
const HierarchyClass = "hierarchy"

// Tree is one snapshot of the hierarchy. Once invalidated, its elements stop
// reporting children, the way a platform tree handle goes stale.
type Tree struct {
	root  *Element
	stale atomic.Bool
}

// NewTree returns an empty snapshot whose root is the hierarchy wrapper.
func NewTree() *Tree {
	t := &Tree{}
	t.root = &Element{tree: t, attrs: Attrs{Class: HierarchyClass, Displayed: true}}
	return t
}

// Root returns the hierarchy wrapper. Top-level windows are its children.
func (t *Tree) Root() *Element {
	return t.root
}

// Invalidate marks the snapshot stale.
func (t *Tree) Invalidate() {
	t.stale.Store(true)
}

// Stale reports whether the snapshot was invalidated.
func (t *Tree) Stale() bool {
	return t.stale.Load()
}

// Attrs are the raw attributes of one hierarchy element. Empty strings mean
// the host reported no value.
type Attrs struct {
	Text        string
	ResourceID  string
	ContentDesc string
	HintText    string
	Class       string
	Package     string
	Bounds      node.Rect
	Enabled     bool
	Selected    bool
	Focused     bool
	Displayed   bool
	Clickable   bool
	Scrollable  bool
	Checked     bool
}

// Element is a node.Node backed by a parsed snapshot.
type Element struct {
	attrs    Attrs
	tree     *Tree
	parent   *Element
	children []*Element
	index    int
}

// Append adds a child built from attrs and returns it.
func (e *Element) Append(attrs Attrs) *Element {
	child := &Element{
		attrs:  attrs,
		tree:   e.tree,
		parent: e,
		index:  len(e.children),
	}
	e.children = append(e.children, child)
	return child
}

// Tree returns the snapshot the element belongs to.
func (e *Element) Tree() *Tree {
	return e.tree
}

// Index returns the element's position among its siblings.
func (e *Element) Index() int {
	return e.index
}

func optional(s string) (string, bool) {
	return s, s != ""
}

// Attrs returns a copy of the raw attributes.
func (e *Element) Attrs() Attrs {
	return e.attrs
}

func (e *Element) Text() (string, bool)        { return optional(e.attrs.Text) }
func (e *Element) Description() (string, bool) { return optional(e.attrs.ContentDesc) }
func (e *Element) ResourceID() (string, bool)  { return optional(e.attrs.ResourceID) }
func (e *Element) PackageName() (string, bool) { return optional(e.attrs.Package) }
func (e *Element) ClassName() string           { return e.attrs.Class }
func (e *Element) Bounds() node.Rect           { return e.attrs.Bounds }
func (e *Element) Clickable() bool             { return e.attrs.Clickable }
func (e *Element) VisibleToUser() bool         { return e.attrs.Displayed }

// Parent returns nil at the hierarchy wrapper.
func (e *Element) Parent() node.Node {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

// ChildCount reports the child count captured in the snapshot, even once stale.
func (e *Element) ChildCount() int {
	return len(e.children)
}

// Child returns nil when i is out of range or the snapshot is stale.
func (e *Element) Child(i int) node.Node {
	if i < 0 || i >= len(e.children) || e.tree.Stale() {
		return nil
	}
	return e.children[i]
}

// Children returns the element's children regardless of staleness.
func (e *Element) Children() []*Element {
	return e.children
}

// XPath returns the absolute positional path of the element within the
// dump, e.g. /hierarchy/*[1]/*[3]. UiAutomator2 resolves it against its own
// page source, so it only identifies the element while the screen is unchanged.
func (e *Element) XPath() string {
	if e.parent == nil {
		return "/" + HierarchyClass
	}
	var steps []string
	for cur := e; cur.parent != nil; cur = cur.parent {
		steps = append(steps, "*["+strconv.Itoa(cur.index+1)+"]")
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return "/" + HierarchyClass + "/" + strings.Join(steps, "/")
}
