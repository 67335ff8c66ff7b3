package jsengine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/autosdk/pkg/click"
	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/node"
	"github.com/devicelab-dev/autosdk/pkg/selector"
)

// jsNode is the script view of a node. Exported methods are visible to
// scripts with a lower-case first letter.
type jsNode struct {
	e *Engine
	n node.Node
}

func (e *Engine) wrapNode(n node.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return e.runtime.ToValue(&jsNode{e: e, n: n})
}

func (e *Engine) wrapNodes(nodes []node.Node) goja.Value {
	vals := make([]interface{}, len(nodes))
	for i, n := range nodes {
		vals[i] = e.wrapNode(n)
	}
	return e.runtime.NewArray(vals...)
}

func optional(vm *goja.Runtime, s string, ok bool) goja.Value {
	if !ok {
		return goja.Null()
	}
	return vm.ToValue(s)
}

func (w *jsNode) Text() goja.Value {
	s, ok := w.n.Text()
	return optional(w.e.runtime, s, ok)
}

func (w *jsNode) Desc() goja.Value {
	s, ok := w.n.Description()
	return optional(w.e.runtime, s, ok)
}

func (w *jsNode) Id() goja.Value {
	s, ok := w.n.ResourceID()
	return optional(w.e.runtime, s, ok)
}

func (w *jsNode) PackageName() goja.Value {
	s, ok := w.n.PackageName()
	return optional(w.e.runtime, s, ok)
}

func (w *jsNode) ClassName() string { return w.n.ClassName() }
func (w *jsNode) Bounds() node.Rect { return w.n.Bounds() }
func (w *jsNode) Clickable() bool { return w.n.Clickable() }
func (w *jsNode) Visible() bool { return w.n.VisibleToUser() }
func (w *jsNode) ChildCount() int { return w.n.ChildCount() }
func (w *jsNode) Parent() goja.Value { return w.e.wrapNode(w.n.Parent()) }
func (w *jsNode) Child(i int) goja.Value {
	return w.e.wrapNode(w.n.Child(i))
}

// Children skips children that are no longer available.
func (w *jsNode) Children() goja.Value {
	var kids []node.Node
	for i := 0; i < w.n.ChildCount(); i++ {
		if c := w.n.Child(i); c != nil {
			kids = append(kids, c)
		}
	}
	return w.e.wrapNodes(kids)
}

func (w *jsNode) Click() string { return w.e.click(w.n) }
func (w *jsNode) ClickNode() bool { return click.ClickNode(w.e.requireHost("clickNode"), w.n) }
func (w *jsNode) LongClick() bool { return click.LongClickNode(w.e.requireHost("longClick"), w.n) }
func (w *jsNode) ClickMatch() bool { return click.ClickMatchNode(w.e.requireHost("clickMatchNode"), w.n) }
func (w *jsNode) String() string { return node.Describe(w.n) }

// jsSelector is the script view of a query. Like the Go Query, find,
// findOne and exists clear the accumulated conditions.
type jsSelector struct {
	e *Engine
	q *selector.Query
}

func (s *jsSelector) Text(t string) *jsSelector { s.q.Text(t); return s }
func (s *jsSelector) TextTrim() *jsSelector { s.q.TextTrim(); return s }
func (s *jsSelector) TextContains(t string) *jsSelector { s.q.TextContains(t); return s }
func (s *jsSelector) TextStartsWith(t string) *jsSelector { s.q.TextStartsWith(t); return s }
func (s *jsSelector) ClassName(c string) *jsSelector { s.q.ClassName(c); return s }
func (s *jsSelector) Id(id string) *jsSelector { s.q.ID(id); return s }
func (s *jsSelector) PackageName(p string) *jsSelector { s.q.Package(p); return s }
func (s *jsSelector) Desc(d string) *jsSelector { s.q.Description(d); return s }
func (s *jsSelector) Clickable(c bool) *jsSelector { s.q.Clickable(c); return s }
func (s *jsSelector) Visible() *jsSelector { s.q.Visible(); return s }

func (s *jsSelector) TextMatches(pattern string) *jsSelector {
	re, err := regexp.Compile(pattern)
	if err != nil {
		panic(s.e.runtime.NewTypeError(fmt.Sprintf("textMatches: %v", err)))
	}
	s.q.TextMatches(re)
	return s
}

func (s *jsSelector) Find() goja.Value { return s.e.wrapNodes(s.q.Evaluate()) }
func (s *jsSelector) FindOne() goja.Value { return s.e.wrapNode(s.q.FindOne()) }
func (s *jsSelector) Exists() bool { return s.q.Exists() }
func (s *jsSelector) String() string { return s.q.String() }

// requireHost returns the host or throws in the script.
func (e *Engine) requireHost(fn string) core.Host {
	if e.host == nil {
		panic(e.runtime.NewTypeError(fn + ": no host attached"))
	}
	return e.host
}

// rootFunc is root(): the current tree root, or null.
func (e *Engine) rootFunc(call goja.FunctionCall) goja.Value {
	return e.wrapNode(e.requireHost("root").Root())
}

// selectorFunc is selector([root]): a query over root, or the whole tree.
func (e *Engine) selectorFunc(call goja.FunctionCall) goja.Value {
	var root node.Node
	if w, ok := call.Argument(0).Export().(*jsNode); ok && w != nil {
		root = w.n
	} else {
		root = e.requireHost("selector").Root()
	}
	return e.runtime.ToValue(&jsSelector{e: e, q: selector.New(root)})
}

func (e *Engine) nodeArg(call goja.FunctionCall, fn string) node.Node {
	if w, ok := call.Argument(0).Export().(*jsNode); ok && w != nil {
		return w.n
	}
	panic(e.runtime.NewTypeError(fn + " requires a node"))
}

// nodeAction binds one of the semantic click strategies.
func (e *Engine) nodeAction(fn string, strategy func(click.Actor, node.Node) bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		n := e.nodeArg(call, fn)
		return e.runtime.ToValue(strategy(e.requireHost(fn), n))
	}
}

// clickFunc is click(node): a randomised tap inside the node's bounds. It
// waits for the outcome and returns its name.
func (e *Engine) clickFunc(call goja.FunctionCall) goja.Value {
	return e.runtime.ToValue(e.click(e.nodeArg(call, "click")))
}

func (e *Engine) click(n node.Node) string {
	return e.wait(click.ClickAsync(e.requireHost("click"), n, e.opts.Click...))
}

// tapFunc is tap(x, y[, ms]).
func (e *Engine) tapFunc(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 2 {
		panic(e.runtime.NewTypeError("tap requires x and y"))
	}
	d := e.opts.TapDuration
	if len(call.Arguments) > 2 {
		d = millis(call.Argument(2))
	}
	spec := gesture.Tap(call.Argument(0).ToFloat(), call.Argument(1).ToFloat(), d)
	return e.runtime.ToValue(e.wait(gesture.Submit(e.requireHost("tap"), spec)))
}

// swipeFunc is swipe(x1, y1, x2, y2, ms).
func (e *Engine) swipeFunc(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 5 {
		panic(e.runtime.NewTypeError("swipe requires x1, y1, x2, y2 and duration"))
	}
	from := gesture.Point{X: call.Argument(0).ToFloat(), Y: call.Argument(1).ToFloat()}
	to := gesture.Point{X: call.Argument(2).ToFloat(), Y: call.Argument(3).ToFloat()}
	spec := gesture.Swipe(from, to, millis(call.Argument(4)))
	return e.runtime.ToValue(e.wait(gesture.Submit(e.requireHost("swipe"), spec)))
}

// gestureFunc is gesture(ms, [x, y], [x, y], ...), or
// gesture(delay, ms, [x, y], ...) when the second argument is a number.
func (e *Engine) gestureFunc(call goja.FunctionCall) goja.Value {
	args := call.Arguments
	if len(args) < 2 {
		panic(e.runtime.NewTypeError("gesture requires a duration and at least one point"))
	}

	var delay time.Duration
	duration := millis(args[0])
	points := args[1:]
	if isNumber(args[1]) {
		delay, duration = duration, millis(args[1])
		points = args[2:]
	}

	path := make([]gesture.Point, 0, len(points))
	for _, p := range points {
		var xy []float64
		if err := e.runtime.ExportTo(p, &xy); err != nil || len(xy) != 2 {
			panic(e.runtime.NewTypeError("gesture points must be [x, y]"))
		}
		path = append(path, gesture.Point{X: xy[0], Y: xy[1]})
	}

	return e.runtime.ToValue(e.wait(gesture.TapPath(e.requireHost("gesture"), path, delay, duration)))
}

// wait blocks until the gesture resolves or the run is cancelled.
func (e *Engine) wait(r *gesture.Result) string {
	outcome, err := r.Wait(e.ctx)
	if err != nil {
		e.runtime.Interrupt(err)
	}
	return outcome.String()
}

func millis(v goja.Value) time.Duration {
	return time.Duration(v.ToFloat() * float64(time.Millisecond))
}

func isNumber(v goja.Value) bool {
	switch v.Export().(type) {
	case int64, float64:
		return true
	}
	return false
}
