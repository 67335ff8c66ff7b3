package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/logger"
	"github.com/devicelab-dev/autosdk/pkg/uiautomator2"
)

// UIAutomator2 package names
const (
	UIAutomator2Server = "io.appium.uiautomator2.server"
	UIAutomator2Test   = "io.appium.uiautomator2.server.test"
)

// DefaultDevicePort is where the server listens on the device.
const DefaultDevicePort = 6790

const instrumentationRunner = "androidx.test.runner.AndroidJUnitRunner"

// Local TCP ports tried when Unix sockets cannot be forwarded.
const (
	portRangeStart = 6001
	portRangeEnd   = 7001
)

var (
	readyPoll = 500 * time.Millisecond
	stopGrace = 300 * time.Millisecond
)

// serverAPKs are the packages the server needs, with their APK file patterns.
var serverAPKs = []struct{ pkg, pattern string }{
	{UIAutomator2Server, "appium-uiautomator2-server-v*.apk"},
	{UIAutomator2Test, "appium-uiautomator2-server-debug-androidTest.apk"},
}

// UIAutomator2Config holds configuration for the UIAutomator2 server.
type UIAutomator2Config struct {
	SocketPath string        // Unix socket path, default DefaultSocketPath
	LocalPort  int           // Windows TCP port, default the first free one
	DevicePort int           // default DefaultDevicePort
	Timeout    time.Duration // startup timeout
}

// DefaultUIAutomator2Config returns default configuration.
func DefaultUIAutomator2Config() UIAutomator2Config {
	return UIAutomator2Config{
		DevicePort: DefaultDevicePort,
		Timeout:    30 * time.Second,
	}
}

// ServerInstalled reports whether both server packages are installed.
func (d *AndroidDevice) ServerInstalled() bool {
	for _, apk := range serverAPKs {
		if !d.IsInstalled(apk.pkg) {
			return false
		}
	}
	return true
}

// InstallUIAutomator2 installs the missing server packages from apksDir.
func (d *AndroidDevice) InstallUIAutomator2(apksDir string) error {
	for _, apk := range serverAPKs {
		if d.IsInstalled(apk.pkg) {
			continue
		}
		path, err := findAPK(apksDir, apk.pattern)
		if err != nil {
			return fmt.Errorf("failed to find APK for %s: %w", apk.pkg, err)
		}
		logger.Info("installing %s on %s", filepath.Base(path), d.serial)
		if err := d.install(path); err != nil {
			return fmt.Errorf("failed to install %s: %w", apk.pkg, err)
		}
	}
	return nil
}

func findAPK(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no APK found matching %s", pattern)
	}
	return matches[0], nil
}

// StartUIAutomator2 forwards a local endpoint to the server port, starts the
// instrumentation and waits until the server answers /status. On failure
// nothing is left forwarded.
func (d *AndroidDevice) StartUIAutomator2(cfg UIAutomator2Config) error {
	if !d.ServerInstalled() {
		return fmt.Errorf("UIAutomator2 server not installed on %s", d.serial)
	}
	if cfg.DevicePort == 0 {
		cfg.DevicePort = DefaultDevicePort
	}

	d.StopUIAutomator2()
	if err := d.forward(cfg); err != nil {
		return err
	}

	instrument := fmt.Sprintf(
		"nohup am instrument -w -e disableAnalytics true %s/%s > /dev/null 2>&1 &",
		UIAutomator2Test, instrumentationRunner,
	)
	if _, err := d.Shell(instrument); err != nil {
		d.StopUIAutomator2()
		return fmt.Errorf("failed to start instrumentation: %w", err)
	}

	if err := d.waitServerReady(cfg.Timeout); err != nil {
		d.StopUIAutomator2()
		return err
	}
	logger.Info("UIAutomator2 server ready on %s", d.serial)
	return nil
}

// forward uses a Unix socket, or a free local TCP port on Windows.
func (d *AndroidDevice) forward(cfg UIAutomator2Config) error {
	remote := fmt.Sprintf("tcp:%d", cfg.DevicePort)

	if runtime.GOOS == "windows" {
		port := cfg.LocalPort
		if port == 0 {
			var err error
			if port, err = findFreePort(portRangeStart, portRangeEnd); err != nil {
				return err
			}
		}
		if _, err := d.adb("forward", fmt.Sprintf("tcp:%d", port), remote); err != nil {
			return fmt.Errorf("port forward failed: %w", err)
		}
		d.localPort = port
		return nil
	}

	path := cfg.SocketPath
	if path == "" {
		path = d.DefaultSocketPath()
	}
	os.Remove(path)
	if _, err := d.adb("forward", "localfilesystem:"+path, remote); err != nil {
		return fmt.Errorf("socket forward failed: %w", err)
	}
	d.socketPath = path
	return nil
}

func findFreePort(start, end int) (int, error) {
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			ln.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port found in range %d-%d", start, end)
}

// StopUIAutomator2 force-stops the server and removes its forwards,
// including a stale default socket from an earlier run.
func (d *AndroidDevice) StopUIAutomator2() error {
	var errs []error
	for _, apk := range serverAPKs {
		if _, err := d.Shell("am force-stop " + apk.pkg); err != nil {
			errs = append(errs, err)
		}
	}
	time.Sleep(stopGrace)

	sockets := []string{d.DefaultSocketPath()}
	if d.socketPath != "" && d.socketPath != sockets[0] {
		sockets = append(sockets, d.socketPath)
	}
	for _, s := range sockets {
		d.adb("forward", "--remove", "localfilesystem:"+s)
		os.Remove(s)
	}
	if d.localPort != 0 {
		d.adb("forward", "--remove", fmt.Sprintf("tcp:%d", d.localPort))
	}

	d.socketPath, d.localPort = "", 0
	return errors.Join(errs...)
}

// UIAutomator2Client returns a client over the active forward, or nil
// before StartUIAutomator2.
func (d *AndroidDevice) UIAutomator2Client() *uiautomator2.Client {
	switch {
	case d.socketPath != "":
		return uiautomator2.NewClient(d.socketPath)
	case d.localPort != 0:
		return uiautomator2.NewClientTCP(d.localPort)
	}
	return nil
}

func (d *AndroidDevice) waitServerReady(timeout time.Duration) error {
	client := d.UIAutomator2Client()
	if client == nil {
		return core.ErrServerUnreachable.WithMessage("no forward to the UIAutomator2 server")
	}
	return pollReady(client, timeout)
}

// HealthChecker reports server readiness. Implemented by uiautomator2.Client.
type HealthChecker interface {
	Status() (bool, error)
}

// pollReady polls c until it reports ready or timeout passes.
func pollReady(c HealthChecker, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	op := func() error {
		ready, err := c.Status()
		if err != nil {
			return err
		}
		if !ready {
			return errors.New("status not ready")
		}
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(readyPoll), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return core.ErrServerNotReady.
			WithMessage(fmt.Sprintf("UIAutomator2 server not ready after %v", timeout)).
			WithCause(err)
	}
	return nil
}
