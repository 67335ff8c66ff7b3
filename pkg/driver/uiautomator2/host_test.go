package uiautomator2

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/autosdk/pkg/click"
	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/event"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/node"
	"github.com/devicelab-dev/autosdk/pkg/pagesource"
	"github.com/devicelab-dev/autosdk/pkg/selector"
	"github.com/devicelab-dev/autosdk/pkg/uiautomator2"
)

const loginScreen = `<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" package="com.app" bounds="[0,0][1080,1920]">
    <node class="android.widget.LinearLayout" package="com.app" bounds="[0,100][1080,300]" clickable="true">
      <node text="Login" class="android.widget.TextView" package="com.app" bounds="[100,150][300,250]"/>
    </node>
  </node>
</hierarchy>`

// ============================================================================
// Mock UIA2Client
// ============================================================================

type MockUIA2Client struct {
	mu sync.Mutex

	// Config
	session    bool
	ready      bool
	statusErr  error
	sourceData string
	sourceErr  error
	findErr    error
	clickErr   error
	actionsErr error

	// Tracking
	statusCalls    int
	findCalls      []string
	clickCalls     []string
	longClickCalls []time.Duration
	actionCalls    []uiautomator2.ActionSequence
}

func (m *MockUIA2Client) HasSession() bool { return m.session }

func (m *MockUIA2Client) Status() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	return m.ready, m.statusErr
}

func (m *MockUIA2Client) Source() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceData, m.sourceErr
}

func (m *MockUIA2Client) FindElement(strategy, selector string) (*uiautomator2.Element, error) {
	m.findCalls = append(m.findCalls, strategy+"="+selector)
	if m.findErr != nil {
		return nil, m.findErr
	}
	return uiautomator2.NewTestElement("elem-1", nil), nil
}

func (m *MockUIA2Client) ClickElement(elementID string) error {
	m.clickCalls = append(m.clickCalls, elementID)
	return m.clickErr
}

func (m *MockUIA2Client) LongClickElement(elementID string, duration time.Duration) error {
	m.longClickCalls = append(m.longClickCalls, duration)
	return m.clickErr
}

func (m *MockUIA2Client) PerformActions(seqs ...uiautomator2.ActionSequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionCalls = append(m.actionCalls, seqs...)
	return m.actionsErr
}

type mockDevice struct {
	enabled, declared bool
	perms             map[string]bool
	err               error
	lastComponent     string
}

func (d *mockDevice) ServiceEnabled(component string) (bool, error) {
	d.lastComponent = component
	return d.enabled, d.err
}

func (d *mockDevice) ServiceDeclared(pkg string) (bool, error) { return d.declared, d.err }

func (d *mockDevice) HasPermission(pkg, permission string) (bool, error) {
	return d.perms[permission], d.err
}

func (d *mockDevice) RequestedPermissions(pkg string) ([]string, error) {
	var perms []string
	for p := range d.perms {
		perms = append(perms, p)
	}
	return perms, d.err
}

func newHost(m *MockUIA2Client, events *event.Registry) *Host {
	return New(m, nil, Options{Events: events})
}

func TestRootParsesSource(t *testing.T) {
	h := newHost(&MockUIA2Client{sourceData: loginScreen}, nil)

	root := h.Root()
	if root == nil {
		t.Fatal("expected a root")
	}
	login := selector.New(root).Text("Login").FindOne()
	if login == nil {
		t.Fatal("expected to find Login")
	}
	if login.Bounds() != (node.Rect{Left: 100, Top: 150, Right: 300, Bottom: 250}) {
		t.Errorf("unexpected bounds %v", login.Bounds())
	}
}

func TestRootErrors(t *testing.T) {
	tests := []struct {
		name string
		m    *MockUIA2Client
	}{
		{"source error", &MockUIA2Client{sourceErr: errors.New("gone")}},
		{"bad xml", &MockUIA2Client{sourceData: "<hierarchy><node"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if root := newHost(tt.m, nil).Root(); root != nil {
				t.Errorf("expected nil root, got %v", root)
			}
		})
	}
}

func TestRootInvalidatesPreviousSnapshot(t *testing.T) {
	h := newHost(&MockUIA2Client{sourceData: loginScreen}, nil)

	first := h.Root()
	frame := first.Child(0)
	if frame == nil {
		t.Fatal("expected a child")
	}

	h.Root()
	if first.Child(0) != nil {
		t.Error("expected stale snapshot to hide children")
	}
	if frame.Child(0) != nil {
		t.Error("expected stale node to hide children")
	}
}

func TestPerformActionClick(t *testing.T) {
	m := &MockUIA2Client{sourceData: loginScreen}
	events := event.NewRegistry()
	var got []event.Event
	events.Subscribe(func(e event.Event) { got = append(got, e) })
	h := newHost(m, events)

	login := selector.New(h.Root()).Text("Login").FindOne()
	if !click.ClickMatchNode(h, login) {
		t.Fatal("expected click to succeed")
	}

	// The text is not clickable; its row is /hierarchy/*[1]/*[1].
	if len(m.findCalls) != 1 || m.findCalls[0] != "xpath=/hierarchy/*[1]/*[1]" {
		t.Errorf("unexpected find calls: %v", m.findCalls)
	}
	if len(m.clickCalls) != 1 || m.clickCalls[0] != "elem-1" {
		t.Errorf("unexpected click calls: %v", m.clickCalls)
	}
	if len(got) != 1 || got[0].Type != event.ViewClicked || got[0].ClassName != "android.widget.LinearLayout" {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestPerformActionLongClick(t *testing.T) {
	m := &MockUIA2Client{sourceData: loginScreen}
	h := New(m, nil, Options{LongClickDuration: 1500 * time.Millisecond})

	login := selector.New(h.Root()).Text("Login").FindOne()
	if !click.LongClickNode(h, login) {
		t.Fatal("expected long click to succeed")
	}
	if len(m.longClickCalls) != 1 || m.longClickCalls[0] != 1500*time.Millisecond {
		t.Errorf("unexpected long click calls: %v", m.longClickCalls)
	}
}

func TestPerformActionDefaultLongClickDuration(t *testing.T) {
	m := &MockUIA2Client{sourceData: loginScreen}
	h := newHost(m, nil)

	login := selector.New(h.Root()).Text("Login").FindOne()
	click.LongClickNode(h, login)
	if len(m.longClickCalls) != 1 || m.longClickCalls[0] != uiautomator2.DefaultLongClickDuration {
		t.Errorf("unexpected long click calls: %v", m.longClickCalls)
	}
}

func TestPerformActionRefusals(t *testing.T) {
	m := &MockUIA2Client{sourceData: loginScreen}
	h := newHost(m, nil)
	stale := selector.New(h.Root()).Text("Login").FindOne()
	h.Root()

	foreign := pagesource.NewTree().Root().Append(pagesource.Attrs{Text: "x"})

	if h.PerformAction(stale, node.ActionClick) {
		t.Error("expected stale node to be refused")
	}
	if h.PerformAction(foreign, node.ActionClick) {
		t.Error("expected node of another tree to be refused")
	}
	if h.PerformAction(nil, node.ActionClick) {
		t.Error("expected nil node to be refused")
	}
	if len(m.findCalls) != 0 {
		t.Errorf("expected no server calls, got %v", m.findCalls)
	}

	current := selector.New(h.Root()).Text("Login").FindOne()
	if h.PerformAction(current, node.Action(99)) {
		t.Error("expected unknown action to be refused")
	}
}

func TestPerformActionServerErrors(t *testing.T) {
	tests := []struct {
		name string
		m    *MockUIA2Client
	}{
		{"find fails", &MockUIA2Client{sourceData: loginScreen, findErr: errors.New("no such element")}},
		{"click fails", &MockUIA2Client{sourceData: loginScreen, clickErr: errors.New("stale element")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(tt.m, nil)
			n := selector.New(h.Root()).Text("Login").FindOne()
			if h.PerformAction(n, node.ActionClick) {
				t.Error("expected failure to be reported as false")
			}
		})
	}
}

func TestDispatchGesture(t *testing.T) {
	m := &MockUIA2Client{session: true}
	events := event.NewRegistry()
	seen := make(chan event.Type, 1)
	events.Subscribe(func(e event.Event) { seen <- e.Type })
	h := newHost(m, events)

	res := gesture.TapAt(h, 10, 20)
	if !res.Accepted() {
		t.Fatal("expected gesture to be accepted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := res.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if outcome != gesture.Completed {
		t.Errorf("expected completed, got %s", outcome)
	}
	if typ := <-seen; typ != event.GestureCompleted {
		t.Errorf("expected gesture completed event, got %s", typ)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.actionCalls) != 1 {
		t.Fatalf("expected one action sequence, got %d", len(m.actionCalls))
	}
	first := m.actionCalls[0].Actions[0]
	if first.X != 10 || first.Y != 20 {
		t.Errorf("expected move to (10,20), got %+v", first)
	}
}

func TestDispatchGestureCancelled(t *testing.T) {
	m := &MockUIA2Client{session: true, actionsErr: errors.New("injection failed")}
	h := newHost(m, nil)

	res := gesture.Submit(h, gesture.Tap(1, 1, time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := res.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if outcome != gesture.Cancelled {
		t.Errorf("expected cancelled, got %s", outcome)
	}
}

func TestDispatchGestureNoSession(t *testing.T) {
	h := newHost(&MockUIA2Client{}, nil)

	res := gesture.TapAt(h, 1, 1)
	if res.Accepted() || res.Outcome() != gesture.Rejected {
		t.Errorf("expected rejection without session, got accepted=%v outcome=%s", res.Accepted(), res.Outcome())
	}
}

func TestWaitReady(t *testing.T) {
	m := &MockUIA2Client{ready: true}
	h := newHost(m, nil)

	if err := h.WaitReady(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.statusCalls != 1 {
		t.Errorf("expected one status call, got %d", m.statusCalls)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	m := &MockUIA2Client{ready: false}
	h := newHost(m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := h.WaitReady(ctx)
	if !errors.Is(err, core.ErrServerNotReady) {
		t.Errorf("expected ErrServerNotReady, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in error chain, got %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCalls < 2 {
		t.Errorf("expected retries, got %d status calls", m.statusCalls)
	}
}

func TestWaitReadyUnreachableTimeout(t *testing.T) {
	h := newHost(&MockUIA2Client{statusErr: errors.New("refused")}, nil)

	// A deadline shorter than the backoff interval still reports the timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.WaitReady(ctx)
	if !errors.Is(err, core.ErrServerNotReady) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected not-ready timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "refused") {
		t.Errorf("expected last attempt error in message, got %v", err)
	}
}

func TestCapabilitiesWithoutDevice(t *testing.T) {
	h := newHost(&MockUIA2Client{ready: true}, nil)

	report := core.CheckCapabilities(h, core.PermissionSystemAlertWindow)
	if !report.ServiceEnabled || !report.ServiceDeclared {
		t.Errorf("expected reachable server to count as enabled and declared: %+v", report)
	}
	if report.Permissions[core.PermissionSystemAlertWindow] {
		t.Error("expected no permissions without a device")
	}

	down := newHost(&MockUIA2Client{statusErr: errors.New("refused")}, nil)
	if down.ServiceEnabled() || down.ServiceDeclared() {
		t.Error("expected unreachable server to be neither enabled nor declared")
	}
	if _, err := h.RequestedPermissions(); !errors.Is(err, core.ErrNoDevice) {
		t.Errorf("expected ErrNoDevice, got %v", err)
	}
}

func TestCapabilitiesWithDevice(t *testing.T) {
	dev := &mockDevice{
		enabled:  true,
		declared: true,
		perms:    map[string]bool{core.PermissionSystemAlertWindow: true},
	}
	h := New(&MockUIA2Client{ready: true}, dev, Options{AppID: "com.agent", Service: "com.agent/.A11y"})

	if !h.ServiceEnabled() || dev.lastComponent != "com.agent/.A11y" {
		t.Errorf("expected service check for com.agent/.A11y, got %q", dev.lastComponent)
	}
	if !h.ServiceDeclared() {
		t.Error("expected declared service")
	}
	if !h.HasPermission(core.PermissionSystemAlertWindow) {
		t.Error("expected permission to be granted")
	}

	requested, err := h.RequestedPermissions()
	if err != nil || len(requested) != 1 || requested[0] != core.PermissionSystemAlertWindow {
		t.Errorf("RequestedPermissions() = %v, %v", requested, err)
	}

	dev.err = errors.New("adb failed")
	if h.ServiceEnabled() || h.ServiceDeclared() || h.HasPermission(core.PermissionSystemAlertWindow) {
		t.Error("expected device errors to answer false")
	}
}
