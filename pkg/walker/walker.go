// Package walker traverses accessibility trees depth-first.
package walker

import (
	"iter"

	"github.com/devicelab-dev/autosdk/pkg/node"
)

// Collect yields every descendant of root for which pred holds, in pre-order,
// child-index order. root itself is not visited. The sequence is lazy and
// single-pass; stopping early stops the traversal. Children the host reports
// as unavailable (nil) are skipped along with their subtrees.
func Collect(root node.Node, pred func(node.Node) bool) iter.Seq[node.Node] {
	return func(yield func(node.Node) bool) {
		if root == nil {
			return
		}

		stack := pushChildren(nil, root)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if pred == nil || pred(n) {
				if !yield(n) {
					return
				}
			}
			stack = pushChildren(stack, n)
		}
	}
}

// pushChildren pushes n's children in reverse so the first child pops first.
func pushChildren(stack []node.Node, n node.Node) []node.Node {
	count := n.ChildCount()
	start := len(stack)
	for i := 0; i < count; i++ {
		if child := n.Child(i); child != nil {
			stack = append(stack, child)
		}
	}
	for i, j := start, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}

// All yields every descendant of root.
func All(root node.Node) iter.Seq[node.Node] {
	return Collect(root, nil)
}

// Filter is the eager form of Collect.
func Filter(root node.Node, pred func(node.Node) bool) []node.Node {
	var result []node.Node
	for n := range Collect(root, pred) {
		result = append(result, n)
	}
	return result
}

// ForEach calls fn for every descendant of root in traversal order.
func ForEach(root node.Node, fn func(node.Node)) {
	for n := range All(root) {
		fn(n)
	}
}

// First returns the first descendant matching pred, or nil.
func First(root node.Node, pred func(node.Node) bool) node.Node {
	for n := range Collect(root, pred) {
		return n
	}
	return nil
}

// RootOf follows parent links up to the topmost node.
func RootOf(n node.Node) node.Node {
	if n == nil {
		return nil
	}
	for {
		parent := n.Parent()
		if parent == nil {
			return n
		}
		n = parent
	}
}

// Depth returns the number of parent hops from n to its root.
func Depth(n node.Node) int {
	depth := 0
	for n != nil {
		n = n.Parent()
		if n != nil {
			depth++
		}
	}
	return depth
}
