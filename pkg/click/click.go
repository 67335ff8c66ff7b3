// Package click implements the click strategies layered on a node: the
// host's semantic click action, a walk up to the nearest clickable ancestor,
// and a randomized tap gesture inside the node's bounds.
//
// Every strategy answers with a plain bool. A missing node, empty bounds or a
// refusal by the host is an ordinary "no", never an error.
package click

import (
	"math/rand/v2"
	"time"

	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/node"
)

// Default duration window of a gesture click.
const (
	DefaultMinDuration = 1 * time.Millisecond
	DefaultMaxDuration = 200 * time.Millisecond
)

// Actor performs semantic actions on nodes.
type Actor interface {
	// PerformAction reports whether the host carried out the action.
	PerformAction(n node.Node, action node.Action) bool
}

// ClickNode issues the semantic click action on n.
func ClickNode(a Actor, n node.Node) bool {
	return perform(a, n, node.ActionClick)
}

// LongClickNode issues the semantic long-click action on n.
func LongClickNode(a Actor, n node.Node) bool {
	return perform(a, n, node.ActionLongClick)
}

func perform(a Actor, n node.Node, action node.Action) bool {
	if a == nil || n == nil {
		return false
	}
	return a.PerformAction(n, action)
}

// ClickMatchNode clicks n if it is clickable, otherwise its nearest
// clickable ancestor. Matched text or icons are usually not clickable
// themselves; the enclosing control is.
func ClickMatchNode(a Actor, n node.Node) bool {
	target, _ := ClickableAncestor(n)
	if target == nil {
		return false
	}
	return ClickNode(a, target)
}

// ClickableAncestor returns n or its nearest clickable ancestor, and how many
// parent hops it took. It returns nil when the root is passed without a hit.
func ClickableAncestor(n node.Node) (node.Node, int) {
	for hops := 0; n != nil; hops++ {
		if n.Clickable() {
			return n, hops
		}
		n = n.Parent()
	}
	return nil, 0
}

// Option tunes a gesture click.
type Option func(*options)

type options struct {
	minDuration time.Duration
	maxDuration time.Duration
	rand        *rand.Rand
}

// WithDuration sets the inclusive window the press duration is drawn from.
func WithDuration(min, max time.Duration) Option {
	return func(o *options) {
		o.minDuration = min
		o.maxDuration = max
	}
}

// WithRand sets the random source, mainly for reproducible tests.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rand = r
	}
}

// Click taps a random point inside n's bounds for a random duration.
// It reports whether the host accepted the gesture.
func Click(d gesture.Dispatcher, n node.Node, opts ...Option) bool {
	return ClickAsync(d, n, opts...).Accepted()
}

// ClickAsync is Click returning the gesture handle, so callers can wait
// for the completed/cancelled outcome.
func ClickAsync(d gesture.Dispatcher, n node.Node, opts ...Option) *gesture.Result {
	spec, ok := TapSpec(n, opts...)
	if !ok {
		return gesture.RejectedResult(spec)
	}
	return gesture.Submit(d, spec)
}

// TapSpec samples the tap a gesture click would submit: x in [Left, Right),
// y in [Top, Bottom), duration in [min, max], in whole milliseconds when the
// window holds one.
// ok is false for a nil node, empty bounds or an invalid duration window.
func TapSpec(n node.Node, opts ...Option) (gesture.Spec, bool) {
	o := options{minDuration: DefaultMinDuration, maxDuration: DefaultMaxDuration}
	for _, opt := range opts {
		opt(&o)
	}
	if n == nil || o.minDuration < 0 || o.minDuration > o.maxDuration {
		return gesture.Spec{}, false
	}

	bounds := n.Bounds()
	if bounds.Empty() {
		return gesture.Spec{}, false
	}

	intN := rand.IntN
	int64N := rand.Int64N
	if o.rand != nil {
		intN = o.rand.IntN
		int64N = o.rand.Int64N
	}

	x := bounds.Left + intN(bounds.Width())
	y := bounds.Top + intN(bounds.Height())

	return gesture.Tap(float64(x), float64(y), sampleDuration(o.minDuration, o.maxDuration, int64N)), true
}

// sampleDuration draws a whole number of milliseconds from [min, max]. A
// window holding no whole millisecond is sampled at nanosecond resolution.
func sampleDuration(min, max time.Duration, int64N func(int64) int64) time.Duration {
	lo := (min + time.Millisecond - 1) / time.Millisecond
	hi := max / time.Millisecond
	if lo <= hi {
		return (lo + time.Duration(int64N(int64(hi-lo)+1))) * time.Millisecond
	}
	return min + time.Duration(int64N(int64(max-min)+1))
}
