// Package mock provides an offline host for testing without a real device.
// The tree comes from a hierarchy dump or a pagesource builder; actions and
// gestures are recorded instead of injected.
package mock

import (
	"slices"
	"sync"
	"time"

	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/event"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/logger"
	"github.com/devicelab-dev/autosdk/pkg/node"
	"github.com/devicelab-dev/autosdk/pkg/pagesource"
)

// Config configures mock host behavior.
type Config struct {
	// RefuseActions makes PerformAction answer false.
	RefuseActions bool
	// RefuseGestures makes DispatchGesture answer false.
	RefuseGestures bool
	// GestureOutcome is reported for accepted gestures. Zero means Completed.
	GestureOutcome gesture.Outcome
	// GestureDelay delays the outcome callback, simulating the stroke.
	GestureDelay time.Duration

	// Capabilities to report.
	ServiceDisabled   bool
	ServiceUndeclared bool
	Permissions       map[string]bool
	// Requested is what RequestedPermissions lists.
	Requested []string

	// Events receives click, gesture and tree notifications when set.
	Events *event.Registry
}

// ActionCall is one recorded PerformAction.
type ActionCall struct {
	Node   node.Node
	Action node.Action
}

// Host is an in-memory implementation of core.Host.
type Host struct {
	Config Config

	mu       sync.Mutex
	tree     *pagesource.Tree
	actions  []ActionCall
	gestures []gesture.Spec
}

var (
	_ core.Host             = (*Host)(nil)
	_ core.PermissionLister = (*Host)(nil)
)

// New creates a host serving tree. tree may be nil until SetTree.
func New(tree *pagesource.Tree, cfg Config) *Host {
	if cfg.GestureOutcome == gesture.Pending {
		cfg.GestureOutcome = gesture.Completed
	}
	return &Host{Config: cfg, tree: tree}
}

// FromXML creates a host serving a hierarchy dump.
func FromXML(xmlData string, cfg Config) (*Host, error) {
	tree, err := pagesource.Parse(xmlData)
	if err != nil {
		return nil, err
	}
	return New(tree, cfg), nil
}

// FromFile creates a host serving a hierarchy dump file.
func FromFile(path string, cfg Config) (*Host, error) {
	tree, err := pagesource.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return New(tree, cfg), nil
}

// SetTree replaces the served tree. The previous one goes stale.
func (h *Host) SetTree(tree *pagesource.Tree) {
	h.mu.Lock()
	if h.tree != nil && h.tree != tree {
		h.tree.Invalidate()
	}
	h.tree = tree
	h.mu.Unlock()
}

// Root returns the root of the served tree, nil when there is none.
func (h *Host) Root() node.Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tree == nil {
		return nil
	}
	return h.tree.Root()
}

// PerformAction records the action. Nodes of a stale snapshot are refused.
func (h *Host) PerformAction(n node.Node, action node.Action) bool {
	if e, ok := n.(*pagesource.Element); ok && e.Tree().Stale() {
		logger.Debug("mock: %s on stale node refused", action)
		return false
	}

	h.mu.Lock()
	h.actions = append(h.actions, ActionCall{Node: n, Action: action})
	refuse := h.Config.RefuseActions
	h.mu.Unlock()

	if refuse {
		return false
	}

	typ := event.ViewClicked
	if action == node.ActionLongClick {
		typ = event.ViewLongClicked
	}
	e := event.New(typ)
	e.ClassName = n.ClassName()
	e.PackageName, _ = n.PackageName()
	e.Text, _ = n.Text()
	h.publish(e)
	return true
}

// DispatchGesture records the gesture and reports the configured outcome
// after GestureDelay, from another goroutine.
func (h *Host) DispatchGesture(spec gesture.Spec, done func(gesture.Outcome)) bool {
	h.mu.Lock()
	h.gestures = append(h.gestures, spec)
	cfg := h.Config
	h.mu.Unlock()

	if cfg.RefuseGestures {
		return false
	}

	go func() {
		if cfg.GestureDelay > 0 {
			time.Sleep(cfg.GestureDelay)
		}
		typ := event.GestureCompleted
		if cfg.GestureOutcome == gesture.Cancelled {
			typ = event.GestureCancelled
		}
		h.publish(event.New(typ))
		if done != nil {
			done(cfg.GestureOutcome)
		}
	}()
	return true
}

// ServiceEnabled reports the configured capability.
func (h *Host) ServiceEnabled() bool { return !h.Config.ServiceDisabled }

// ServiceDeclared reports the configured capability.
func (h *Host) ServiceDeclared() bool { return !h.Config.ServiceUndeclared }

// HasPermission reports the configured permission.
func (h *Host) HasPermission(name string) bool { return h.Config.Permissions[name] }

// RequestedPermissions lists the configured requested permissions.
func (h *Host) RequestedPermissions() ([]string, error) {
	return slices.Clone(h.Config.Requested), nil
}

// Actions returns the recorded actions.
func (h *Host) Actions() []ActionCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ActionCall(nil), h.actions...)
}

// Gestures returns the recorded gestures.
func (h *Host) Gestures() []gesture.Spec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]gesture.Spec(nil), h.gestures...)
}

// Reset clears the recordings.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = nil
	h.gestures = nil
}

func (h *Host) publish(e event.Event) {
	if h.Config.Events != nil {
		h.Config.Events.Publish(e)
	}
}
