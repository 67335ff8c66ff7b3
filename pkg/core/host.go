// Package core defines the host contract the automation core is driven through,
// and the error taxonomy shared by the infrastructure packages.
package core

import (
	"github.com/devicelab-dev/autosdk/pkg/click"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/node"
)

// Host is the platform side of the system: it owns the live tree, performs
// semantic actions and injects gestures. Implementations: uiautomator2, mock.
// The core only reads through it; it never caches anything a Host returns.
type Host interface {
	// Root returns the root of the current tree, or nil when none is available.
	Root() node.Node

	click.Actor
	gesture.Dispatcher
	Capabilities
}

// Capabilities are configuration/permission queries. Each call checks afresh.
type Capabilities interface {
	// ServiceEnabled reports whether the automation service is running.
	ServiceEnabled() bool
	// ServiceDeclared reports whether the automation service is installed and declared.
	ServiceDeclared() bool
	// HasPermission reports whether the target app holds the named permission.
	HasPermission(name string) bool
}

// PermissionLister is implemented by hosts that can read the permissions
// the target app requests in its manifest.
type PermissionLister interface {
	RequestedPermissions() ([]string, error)
}

// Permissions the capability report checks by default.
const (
	PermissionSystemAlertWindow = "android.permission.SYSTEM_ALERT_WINDOW"
	PermissionAccessibility     = "android.permission.BIND_ACCESSIBILITY_SERVICE"
)

// CapabilityReport is a point-in-time view of a host's capabilities.
type CapabilityReport struct {
	ServiceEnabled  bool            `json:"serviceEnabled"`
	ServiceDeclared bool            `json:"serviceDeclared"`
	Permissions     map[string]bool `json:"permissions"`
}

// CheckCapabilities queries c once for each capability and the given permissions.
func CheckCapabilities(c Capabilities, permissions ...string) CapabilityReport {
	report := CapabilityReport{
		ServiceEnabled:  c.ServiceEnabled(),
		ServiceDeclared: c.ServiceDeclared(),
		Permissions:     make(map[string]bool, len(permissions)),
	}
	for _, p := range permissions {
		report.Permissions[p] = c.HasPermission(p)
	}
	return report
}

// Ready reports whether the host can be driven at all.
func (r CapabilityReport) Ready() bool {
	return r.ServiceEnabled && r.ServiceDeclared
}
