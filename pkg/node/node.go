// Package node defines the read-only view of one accessibility tree element.
package node

import "fmt"

// Node is a borrowed view over host-managed tree state.
// A Node is only valid until the host invalidates the snapshot it came from;
// callers must not keep one beyond the traversal that produced it.
type Node interface {
	// Text returns the element text. ok is false when the host reports none.
	Text() (text string, ok bool)
	// Description returns the content description, if any.
	Description() (desc string, ok bool)
	ClassName() string
	ResourceID() (id string, ok bool)
	PackageName() (pkg string, ok bool)
	// Bounds returns the element rectangle in screen coordinates.
	Bounds() Rect
	Clickable() bool
	VisibleToUser() bool

	// Parent returns nil at the root.
	Parent() Node
	ChildCount() int
	// Child returns nil when the child is unavailable, e.g. the snapshot is
	// no longer current. Absence is never fatal.
	Child(i int) Node
}

// Action is a semantic, host-defined command issued against a node.
type Action int

const (
	ActionClick Action = iota + 1
	ActionLongClick
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionClick:
		return "click"
	case ActionLongClick:
		return "long_click"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Describe renders a short single-line summary of n, used in logs and CLI output.
func Describe(n Node) string {
	if n == nil {
		return "<nil>"
	}
	s := n.ClassName()
	if id, ok := n.ResourceID(); ok && id != "" {
		s += " #" + id
	}
	if text, ok := n.Text(); ok && text != "" {
		s += fmt.Sprintf(" text=%q", text)
	}
	if desc, ok := n.Description(); ok && desc != "" {
		s += fmt.Sprintf(" desc=%q", desc)
	}
	return s + " " + n.Bounds().String()
}
