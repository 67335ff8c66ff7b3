// Package device talks to Android devices over adb: discovery, package
// checks, the UIAutomator2 server lifecycle and capability queries.
package device

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/logger"
)

// Runner executes adb with args and returns its stdout.
type Runner func(args ...string) (string, error)

// LookupADB returns a Runner for the adb binary. Tests replace it.
var LookupADB = func() (Runner, error) {
	path, err := findADB()
	if err != nil {
		return nil, err
	}
	return execRunner(path), nil
}

// Polling used by New while the device comes online.
var (
	onlinePoll    = 500 * time.Millisecond
	onlineRetries = uint64(10)
)

// AndroidDevice is one adb-attached device.
type AndroidDevice struct {
	serial string
	run    Runner

	// Set while the UIAutomator2 server is forwarded.
	socketPath string
	localPort  int
}

// Device is one line of `adb devices`.
type Device struct {
	Serial string
	State  string // device, offline, unauthorized
}

// Online reports whether adb can talk to the device.
func (d Device) Online() bool { return d.State == "device" }

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
}

// New attaches to serial, or to the first online device when serial is
// empty, and waits briefly for it to come online.
func New(serial string) (*AndroidDevice, error) {
	run, err := LookupADB()
	if err != nil {
		return nil, err
	}
	if serial == "" {
		if serial, err = firstOnline(run); err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
	}

	d := &AndroidDevice{serial: serial, run: run}
	if err := d.waitOnline(); err != nil {
		return nil, core.ErrDeviceDisconnected.WithCause(err)
	}
	logger.Info("device %s connected", serial)
	return d, nil
}

// ListDevices returns every device adb knows about, in any state.
func ListDevices() ([]Device, error) {
	run, err := LookupADB()
	if err != nil {
		return nil, err
	}
	return listDevices(run)
}

func listDevices(run Runner) ([]Device, error) {
	out, err := run("devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(out), nil
}

func firstOnline(run Runner) (string, error) {
	devices, err := listDevices(run)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.Online() {
			return d.Serial, nil
		}
	}
	return "", core.ErrNoDevice
}

// parseDevices parses `adb devices` output, skipping daemon chatter.
func parseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		if f := strings.Fields(line); len(f) >= 2 {
			devices = append(devices, Device{Serial: f[0], State: f[1]})
		}
	}
	return devices
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell runs cmd through `adb shell`.
func (d *AndroidDevice) Shell(cmd string) (string, error) {
	return d.adb("shell", cmd)
}

// IsInstalled reports whether pkg is installed. pm filters by substring, so
// only an exact "package:<pkg>" line counts.
func (d *AndroidDevice) IsInstalled(pkg string) bool {
	out, err := d.Shell("pm list packages " + pkg)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true
		}
	}
	return false
}

func (d *AndroidDevice) install(apk string) error {
	_, err := d.adb("install", "-r", "-g", apk)
	return err
}

// DefaultSocketPath returns the local socket the server is forwarded to.
func (d *AndroidDevice) DefaultSocketPath() string {
	return fmt.Sprintf("/tmp/uia2-%s.sock", d.serial)
}

// Info reads model, SDK and brand from a single getprop listing.
func (d *AndroidDevice) Info() (DeviceInfo, error) {
	info := DeviceInfo{Serial: d.serial}
	out, err := d.Shell("getprop")
	if err != nil {
		return info, err
	}
	props := parseProps(out)
	info.Model = props["ro.product.model"]
	info.SDK = props["ro.build.version.sdk"]
	info.Brand = props["ro.product.brand"]
	info.IsEmulator = props["ro.kernel.qemu"] == "1" || props["ro.boot.qemu"] == "1"
	return info, nil
}

// parseProps reads getprop lines of the form "[key]: [value]".
func parseProps(out string) map[string]string {
	props := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "]: [")
		if !ok || !strings.HasPrefix(key, "[") || !strings.HasSuffix(value, "]") {
			continue
		}
		props[key[1:]] = value[:len(value)-1]
	}
	return props
}

func (d *AndroidDevice) adb(args ...string) (string, error) {
	return d.run(append([]string{"-s", d.serial}, args...)...)
}

func (d *AndroidDevice) waitOnline() error {
	op := func() error {
		out, err := d.adb("get-state")
		if err != nil {
			return err
		}
		if state := strings.TrimSpace(out); state != "device" {
			return fmt.Errorf("device %s is %s", d.serial, state)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(onlinePoll), onlineRetries))
}

// execRunner runs the adb binary at path. Failures carry adb's own message.
func execRunner(path string) Runner {
	return func(args ...string) (string, error) {
		logger.Debug("adb %s", strings.Join(args, " "))
		var stdout, stderr bytes.Buffer
		cmd := exec.Command(path, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, msg)
		}
		return stdout.String(), nil
	}
}

// findADB looks on PATH, then under the SDK's platform-tools.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if root := os.Getenv(env); root != "" {
			path := filepath.Join(root, "platform-tools", "adb")
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", errors.New("adb not found in PATH; ensure Android SDK is installed")
}
