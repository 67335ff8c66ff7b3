package device

import (
	"bufio"
	"fmt"
	"strings"
)

// AccessibilityServiceAction is the intent action accessibility services declare.
const AccessibilityServiceAction = "android.accessibilityservice.AccessibilityService"

const permissionSystemAlertWindow = "android.permission.SYSTEM_ALERT_WINDOW"

// AccessibilityEnabled reports whether accessibility is switched on at all.
func (d *AndroidDevice) AccessibilityEnabled() (bool, error) {
	out, err := d.Shell("settings get secure accessibility_enabled")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "1", nil
}

// EnabledServices lists the enabled accessibility service components.
func (d *AndroidDevice) EnabledServices() ([]string, error) {
	out, err := d.Shell("settings get secure enabled_accessibility_services")
	if err != nil {
		return nil, err
	}
	return parseEnabledServices(out), nil
}

// ServiceEnabled reports whether the accessibility service component
// ("pkg/.Class" or "pkg/pkg.Class") is enabled.
func (d *AndroidDevice) ServiceEnabled(component string) (bool, error) {
	on, err := d.AccessibilityEnabled()
	if err != nil || !on {
		return false, err
	}
	services, err := d.EnabledServices()
	if err != nil {
		return false, err
	}
	want := normalizeComponent(component)
	for _, s := range services {
		if normalizeComponent(s) == want {
			return true, nil
		}
	}
	return false, nil
}

// ServiceDeclared reports whether pkg declares an accessibility service.
func (d *AndroidDevice) ServiceDeclared(pkg string) (bool, error) {
	out, err := d.Shell("dumpsys package " + pkg)
	if err != nil {
		return false, err
	}
	return declaresService(out, pkg, AccessibilityServiceAction), nil
}

// HasPermission reports whether pkg holds permission. The overlay
// permission is an app op and is read through appops.
func (d *AndroidDevice) HasPermission(pkg, permission string) (bool, error) {
	if permission == permissionSystemAlertWindow {
		out, err := d.Shell("appops get " + pkg + " SYSTEM_ALERT_WINDOW")
		if err != nil {
			return false, err
		}
		if mode, ok := parseAppOpMode(out, "SYSTEM_ALERT_WINDOW"); ok {
			return mode == "allow", nil
		}
	}

	out, err := d.Shell("dumpsys package " + pkg)
	if err != nil {
		return false, err
	}
	if !strings.Contains(out, "Package ["+pkg+"]") {
		return false, fmt.Errorf("package %s not installed", pkg)
	}
	return parseGrantedPermissions(out)[permission], nil
}

// RequestedPermissions lists the permissions pkg declares in its manifest.
func (d *AndroidDevice) RequestedPermissions(pkg string) ([]string, error) {
	out, err := d.Shell("dumpsys package " + pkg)
	if err != nil {
		return nil, err
	}
	return parseRequestedPermissions(out), nil
}

// parseEnabledServices splits the colon separated secure setting.
func parseEnabledServices(out string) []string {
	out = strings.TrimSpace(out)
	if out == "" || out == "null" {
		return nil
	}
	var services []string
	for _, s := range strings.Split(out, ":") {
		if s = strings.TrimSpace(s); s != "" {
			services = append(services, s)
		}
	}
	return services
}

// normalizeComponent expands "pkg/.Class" to "pkg/pkg.Class".
func normalizeComponent(c string) string {
	pkg, cls, ok := strings.Cut(strings.TrimSpace(c), "/")
	if !ok {
		return c
	}
	if strings.HasPrefix(cls, ".") {
		cls = pkg + cls
	}
	return pkg + "/" + cls
}

// declaresService scans the dumpsys resolver table: the action line is
// followed by indented lines naming "pkg/Class" components.
func declaresService(dumpsys, pkg, action string) bool {
	sc := bufio.NewScanner(strings.NewReader(dumpsys))
	inAction := false
	indent := 0
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		lead := len(line) - len(strings.TrimLeft(line, " \t"))

		if trimmed == action+":" {
			inAction, indent = true, lead
			continue
		}
		if !inAction {
			continue
		}
		if trimmed == "" || lead <= indent {
			inAction = false
			continue
		}
		if strings.Contains(trimmed, " "+pkg+"/") || strings.HasPrefix(trimmed, pkg+"/") {
			return true
		}
	}
	return false
}

// parseRequestedPermissions reads the "requested permissions:" section.
func parseRequestedPermissions(dumpsys string) []string {
	var perms []string
	for _, line := range section(dumpsys, "requested permissions:") {
		name, _, _ := strings.Cut(line, ":")
		perms = append(perms, strings.TrimSpace(name))
	}
	return perms
}

// parseGrantedPermissions reads the install and runtime permission
// sections, lines like "android.permission.X: granted=true".
func parseGrantedPermissions(dumpsys string) map[string]bool {
	granted := map[string]bool{}
	for _, header := range []string{"install permissions:", "runtime permissions:"} {
		for _, line := range section(dumpsys, header) {
			name, rest, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			if strings.Contains(rest, "granted=true") {
				granted[strings.TrimSpace(name)] = true
			}
		}
	}
	return granted
}

// section returns the trimmed lines indented below every occurrence of header.
func section(dumpsys, header string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(dumpsys))
	in := false
	indent := 0
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		lead := len(line) - len(strings.TrimLeft(line, " \t"))

		if trimmed == header {
			in, indent = true, lead
			continue
		}
		if !in {
			continue
		}
		if trimmed == "" || lead <= indent {
			in = false
			continue
		}
		lines = append(lines, trimmed)
	}
	return lines
}

// parseAppOpMode reads "OP: mode" from appops output.
func parseAppOpMode(out, op string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		name, rest, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || name != op {
			continue
		}
		mode := strings.Fields(rest)
		if len(mode) == 0 {
			return "", false
		}
		return strings.TrimSuffix(mode[0], ";"), true
	}
	return "", false
}
