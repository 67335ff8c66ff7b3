// Package uiautomator2 drives a live Android device through the UIAutomator2
// server. Host implements core.Host: the tree is the server's page source,
// semantic actions are element clicks and gestures are W3C pointer actions.
package uiautomator2

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/event"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/logger"
	"github.com/devicelab-dev/autosdk/pkg/node"
	"github.com/devicelab-dev/autosdk/pkg/pagesource"
	"github.com/devicelab-dev/autosdk/pkg/uiautomator2"
)

// UIA2Client defines the UIAutomator2 client operations the host uses.
// Implemented by uiautomator2.Client. Allows mocking in tests.
type UIA2Client interface {
	HasSession() bool
	Status() (bool, error)
	Source() (string, error)
	FindElement(strategy, selector string) (*uiautomator2.Element, error)
	ClickElement(elementID string) error
	LongClickElement(elementID string, duration time.Duration) error
	PerformActions(seqs ...uiautomator2.ActionSequence) error
}

// DeviceChecker answers capability questions about the attached device.
// Implemented by device.AndroidDevice.
type DeviceChecker interface {
	ServiceEnabled(component string) (bool, error)
	ServiceDeclared(pkg string) (bool, error)
	HasPermission(pkg, permission string) (bool, error)
	RequestedPermissions(pkg string) ([]string, error)
}

// Options configure a Host.
type Options struct {
	// AppID is the package that owns the accessibility service and whose
	// permissions HasPermission checks.
	AppID string
	// Service is the accessibility service component, "pkg/.Class".
	Service string
	// LongClickDuration defaults to uiautomator2.DefaultLongClickDuration.
	LongClickDuration time.Duration
	// Events receives click and gesture notifications when set.
	Events *event.Registry
}

// Host implements core.Host over a UIAutomator2 session.
type Host struct {
	client UIA2Client
	device DeviceChecker // nil when no adb device is attached
	opts   Options

	mu   sync.Mutex
	tree *pagesource.Tree
}

var (
	_ core.Host             = (*Host)(nil)
	_ core.PermissionLister = (*Host)(nil)
)

// New creates a host. device may be nil.
func New(client UIA2Client, device DeviceChecker, opts Options) *Host {
	if opts.LongClickDuration <= 0 {
		opts.LongClickDuration = uiautomator2.DefaultLongClickDuration
	}
	return &Host{client: client, device: device, opts: opts}
}

// WaitReady polls the server status with exponential backoff until it
// reports ready or ctx ends.
func (h *Host) WaitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // bounded by ctx

	attempt := 0
	op := func() error {
		attempt++
		ready, err := h.client.Status()
		if err != nil {
			return err
		}
		if !ready {
			return core.ErrServerNotReady
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("server not ready (attempt %d): %v, retrying in %v", attempt, err, wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		// Retries stop once the next wait would pass the deadline, which can
		// be before ctx reports done. Only ctx ends the retries here.
		<-ctx.Done()
		return core.ErrServerNotReady.WithCause(fmt.Errorf("%w after %d attempts: %v", ctx.Err(), attempt, err))
	}
	return nil
}

// Root fetches a fresh page source and returns its root. The previous
// snapshot is marked stale. Returns nil when the source cannot be read.
func (h *Host) Root() node.Node {
	tree, err := h.Snapshot()
	if err != nil {
		logger.Warn("root: %v", err)
		return nil
	}
	return tree.Root()
}

// Snapshot is Root returning the tree and the failure reason.
func (h *Host) Snapshot() (*pagesource.Tree, error) {
	src, err := h.client.Source()
	if err != nil {
		return nil, err
	}
	tree, err := pagesource.Parse(src)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.tree != nil {
		h.tree.Invalidate()
	}
	h.tree = tree
	h.mu.Unlock()

	return tree, nil
}

// current reports whether e belongs to the latest snapshot.
func (h *Host) current(e *pagesource.Element) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tree != nil && e.Tree() == h.tree && !h.tree.Stale()
}

// PerformAction locates n on the device by its XPath in the current
// snapshot and clicks or long-clicks it. Nodes from older snapshots or
// other hosts are refused.
func (h *Host) PerformAction(n node.Node, action node.Action) bool {
	e, ok := n.(*pagesource.Element)
	if !ok || e == nil {
		logger.Debug("perform %s: node is not from this host", action)
		return false
	}
	if !h.current(e) {
		logger.Debug("perform %s: stale node %s", action, node.Describe(n))
		return false
	}

	xpath := e.XPath()
	elem, err := h.client.FindElement(uiautomator2.StrategyXPath, xpath)
	if err != nil {
		logger.Warn("perform %s: find %s: %v", action, xpath, err)
		return false
	}

	var typ event.Type
	switch action {
	case node.ActionClick:
		err = h.client.ClickElement(elem.ID())
		typ = event.ViewClicked
	case node.ActionLongClick:
		err = h.client.LongClickElement(elem.ID(), h.opts.LongClickDuration)
		typ = event.ViewLongClicked
	default:
		logger.Warn("perform: unsupported action %s", action)
		return false
	}
	if err != nil {
		logger.Warn("perform %s on %s: %v", action, xpath, err)
		return false
	}

	logger.Info("%s %s", action, node.Describe(n))
	h.publish(nodeEvent(typ, n))
	return true
}

// DispatchGesture posts the gesture as W3C actions on its own goroutine.
// It refuses without a session; done receives Completed when the server
// finished the actions and Cancelled when the request failed.
func (h *Host) DispatchGesture(spec gesture.Spec, done func(gesture.Outcome)) bool {
	if !h.client.HasSession() {
		logger.Warn("gesture %s: no session", spec)
		return false
	}

	seq := uiautomator2.FingerActions(spec)
	go func() {
		outcome := gesture.Completed
		typ := event.GestureCompleted
		if err := h.client.PerformActions(seq); err != nil {
			logger.Warn("gesture %s: %v", spec, err)
			outcome = gesture.Cancelled
			typ = event.GestureCancelled
		} else {
			logger.Info("gesture %s", spec)
		}
		h.publish(event.New(typ))
		if done != nil {
			done(outcome)
		}
	}()
	return true
}

// ServiceEnabled reports whether the server is up and, with a device and a
// configured service, whether that accessibility service is enabled.
func (h *Host) ServiceEnabled() bool {
	ready, err := h.client.Status()
	if err != nil || !ready {
		return false
	}
	if h.device == nil || h.opts.Service == "" {
		return true
	}
	enabled, err := h.device.ServiceEnabled(h.opts.Service)
	if err != nil {
		logger.Warn("service enabled: %v", err)
		return false
	}
	return enabled
}

// ServiceDeclared reports whether the app declares an accessibility
// service. Without a device it falls back to the server answering at all.
func (h *Host) ServiceDeclared() bool {
	if h.device == nil || h.opts.AppID == "" {
		_, err := h.client.Status()
		return err == nil
	}
	declared, err := h.device.ServiceDeclared(h.opts.AppID)
	if err != nil {
		logger.Warn("service declared: %v", err)
		return false
	}
	return declared
}

// HasPermission reports whether the app holds the permission. Always false
// without a device.
func (h *Host) HasPermission(name string) bool {
	if h.device == nil || h.opts.AppID == "" {
		return false
	}
	ok, err := h.device.HasPermission(h.opts.AppID, name)
	if err != nil {
		logger.Warn("permission %s: %v", name, err)
		return false
	}
	return ok
}

// RequestedPermissions lists the permissions the app requests.
func (h *Host) RequestedPermissions() ([]string, error) {
	if h.device == nil || h.opts.AppID == "" {
		return nil, core.ErrNoDevice.WithMessage("requested permissions need a device and an app id")
	}
	return h.device.RequestedPermissions(h.opts.AppID)
}

func (h *Host) publish(e event.Event) {
	if h.opts.Events != nil {
		h.opts.Events.Publish(e)
	}
}

func nodeEvent(t event.Type, n node.Node) event.Event {
	e := event.New(t)
	e.ClassName = n.ClassName()
	e.PackageName, _ = n.PackageName()
	e.Text, _ = n.Text()
	return e
}
