// Package selector provides a chainable, conjunctive node query in the
// style of Auto.js selectors:
//
//	nodes := selector.New(root).ClassName("android.widget.Button").Text("OK").Evaluate()
//
// A Query is single-use: Evaluate clears the accumulated conditions, so a
// second Evaluate without new conditions returns every descendant of root.
package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devicelab-dev/autosdk/pkg/node"
	"github.com/devicelab-dev/autosdk/pkg/walker"
)

// Predicate is a pure test over one node.
type Predicate func(node.Node) bool

type condition struct {
	desc string
	fn   Predicate
}

// Query wraps a search root and an ordered list of conditions. It is not
// safe for concurrent use.
type Query struct {
	root       node.Node
	conditions []condition
}

// New starts a query rooted at root. Traversal starts at root's children.
func New(root node.Node) *Query {
	return &Query{root: root}
}

// Find builds a query with build and evaluates it.
func Find(root node.Node, build func(q *Query)) []node.Node {
	q := New(root)
	if build != nil {
		build(q)
	}
	return q.Evaluate()
}

// Root returns the search root.
func (q *Query) Root() node.Node {
	return q.root
}

// Where appends an arbitrary predicate.
func (q *Query) Where(desc string, fn Predicate) *Query {
	q.conditions = append(q.conditions, condition{desc: desc, fn: fn})
	return q
}

// Text keeps nodes whose text equals text. Absent text never matches.
func (q *Query) Text(text string) *Query {
	return q.Where(fmt.Sprintf("text=%q", text), func(n node.Node) bool {
		s, ok := n.Text()
		return ok && s == text
	})
}

// TextTrim keeps nodes whose text has no leading or trailing whitespace.
// Absent text satisfies it. Hosts that already trim text make this a no-op.
func (q *Query) TextTrim() *Query {
	return q.Where("textTrim", func(n node.Node) bool {
		s, _ := n.Text()
		return strings.TrimSpace(s) == s
	})
}

// TextContains keeps nodes whose text contains substr.
func (q *Query) TextContains(substr string) *Query {
	return q.Where(fmt.Sprintf("textContains=%q", substr), func(n node.Node) bool {
		s, ok := n.Text()
		return ok && strings.Contains(s, substr)
	})
}

// TextMatches keeps nodes whose entire text matches re. A nil re matches
// nothing.
func (q *Query) TextMatches(re *regexp.Regexp) *Query {
	if re == nil {
		return q.Where("textMatches=<nil>", func(node.Node) bool { return false })
	}
	full := anchored(re)
	return q.Where(fmt.Sprintf("textMatches=/%s/", re), func(n node.Node) bool {
		s, ok := n.Text()
		return ok && full.MatchString(s)
	})
}

// TextStartsWith keeps nodes whose text begins with prefix.
func (q *Query) TextStartsWith(prefix string) *Query {
	return q.Where(fmt.Sprintf("textStartsWith=%q", prefix), func(n node.Node) bool {
		s, ok := n.Text()
		return ok && strings.HasPrefix(s, prefix)
	})
}

// ClassName keeps nodes of class className.
func (q *Query) ClassName(className string) *Query {
	return q.Where(fmt.Sprintf("className=%q", className), func(n node.Node) bool {
		return n.ClassName() == className
	})
}

// ID keeps nodes whose resource id equals id.
func (q *Query) ID(id string) *Query {
	return q.Where(fmt.Sprintf("id=%q", id), func(n node.Node) bool {
		s, ok := n.ResourceID()
		return ok && s == id
	})
}

// Package keeps nodes that belong to packageName.
func (q *Query) Package(packageName string) *Query {
	return q.Where(fmt.Sprintf("package=%q", packageName), func(n node.Node) bool {
		s, ok := n.PackageName()
		return ok && s == packageName
	})
}

// Description keeps nodes whose content description equals desc.
func (q *Query) Description(desc string) *Query {
	return q.Where(fmt.Sprintf("description=%q", desc), func(n node.Node) bool {
		s, ok := n.Description()
		return ok && s == desc
	})
}

// Clickable keeps nodes whose clickable flag equals clickable.
func (q *Query) Clickable(clickable bool) *Query {
	return q.Where(fmt.Sprintf("clickable=%t", clickable), func(n node.Node) bool {
		return n.Clickable() == clickable
	})
}

// Visible keeps nodes the host reports as visible to the user.
func (q *Query) Visible() *Query {
	return q.Where("visible", node.Node.VisibleToUser)
}

// Len returns the number of accumulated conditions.
func (q *Query) Len() int {
	return len(q.conditions)
}

// Conditions describes the accumulated conditions in insertion order.
func (q *Query) Conditions() []string {
	out := make([]string, len(q.conditions))
	for i, c := range q.conditions {
		out[i] = c.desc
	}
	return out
}

// String renders the query for diagnostics.
func (q *Query) String() string {
	if len(q.conditions) == 0 {
		return "selector(*)"
	}
	return "selector(" + strings.Join(q.Conditions(), " && ") + ")"
}

func (q *Query) matches(n node.Node) bool {
	for _, c := range q.conditions {
		if !c.fn(n) {
			return false
		}
	}
	return true
}

// Evaluate returns the descendants of root matching every condition, in
// traversal order, then resets the query to its empty state. No match is
// an empty result, not an error.
func (q *Query) Evaluate() []node.Node {
	defer q.Reset()
	return walker.Filter(q.root, q.matches)
}

// FindOne returns the first match in traversal order, or nil. Like
// Evaluate, it resets the query.
func (q *Query) FindOne() node.Node {
	defer q.Reset()
	return walker.First(q.root, q.matches)
}

// Exists reports whether anything matches, and resets the query.
func (q *Query) Exists() bool {
	return q.FindOne() != nil
}

// Reset drops every accumulated condition.
func (q *Query) Reset() {
	q.conditions = nil
}

// anchored makes re match the whole input, the way a full-string regex match does.
func anchored(re *regexp.Regexp) *regexp.Regexp {
	return regexp.MustCompile(`^(?:` + re.String() + `)$`)
}
