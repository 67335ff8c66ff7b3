// Package emulator boots an Android Virtual Device when no device is
// connected, and shuts it down again afterwards.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/autosdk/pkg/logger"
)

// FirstConsolePort is the console port of the first emulator. Console ports
// are even; adb uses the odd port above.
const FirstConsolePort = 5554

// DefaultBootTimeout bounds a cold boot.
const DefaultBootTimeout = 3 * time.Minute

// BootStatus is the readiness of a booting emulator.
type BootStatus struct {
	StateReady     bool // adb get-state == "device"
	BootCompleted  bool // sys.boot_completed == "1"
	PackageManager bool // pm answers
}

// Ready reports whether every check passed.
func (s BootStatus) Ready() bool {
	return s.StateReady && s.BootCompleted && s.PackageManager
}

func (s BootStatus) String() string {
	return fmt.Sprintf("state:%v boot:%v pm:%v", s.StateReady, s.BootCompleted, s.PackageManager)
}

// ADB runs an adb command and returns its trimmed stdout. Tests replace it.
var ADB = func(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "adb", args...).Output()
	return strings.TrimSpace(string(out)), err
}

// Instance is an emulator process started by Boot.
type Instance struct {
	AVD    string
	Serial string
	Port   int

	cmd *exec.Cmd
}

// SDKRoot returns the Android SDK directory from the environment.
func SDKRoot() string {
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if dir := os.Getenv(env); dir != "" {
			return dir
		}
	}
	return ""
}

// FindBinary locates the emulator binary in the SDK or on PATH.
func FindBinary() (string, error) {
	if root := SDKRoot(); root != "" {
		for _, rel := range []string{"emulator/emulator", "tools/emulator"} {
			p := filepath.Join(root, filepath.FromSlash(rel))
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	if p, err := exec.LookPath("emulator"); err == nil {
		return p, nil
	}
	return "", errors.New("emulator binary not found, set ANDROID_HOME or add emulator to PATH")
}

// ListAVDs returns the names of the installed virtual devices.
func ListAVDs(ctx context.Context) ([]string, error) {
	bin, err := FindBinary()
	if err != nil {
		return nil, err
	}
	out, err := exec.CommandContext(ctx, bin, "-list-avds").Output()
	if err != nil {
		return nil, fmt.Errorf("list AVDs: %w", err)
	}
	return parseAVDs(string(out)), nil
}

func parseAVDs(out string) []string {
	var avds []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		// The emulator prints INFO lines ahead of the list on some versions.
		if line == "" || strings.HasPrefix(line, "INFO") {
			continue
		}
		avds = append(avds, line)
	}
	return avds
}

// IsEmulator reports whether serial names a local emulator.
func IsEmulator(serial string) bool {
	_, ok := ConsolePort(serial)
	return ok
}

// ConsolePort extracts the console port from an emulator-NNNN serial.
func ConsolePort(serial string) (int, bool) {
	var port int
	if _, err := fmt.Sscanf(serial, "emulator-%d", &port); err != nil || port <= 0 {
		return 0, false
	}
	return port, true
}

// NextConsolePort returns the lowest console port not used by serials.
func NextConsolePort(serials []string) int {
	used := make(map[int]bool, len(serials))
	for _, s := range serials {
		if p, ok := ConsolePort(s); ok {
			used[p] = true
		}
	}
	port := FirstConsolePort
	for used[port] {
		port += 2
	}
	return port
}

// CheckBootStatus probes serial once.
func CheckBootStatus(ctx context.Context, serial string) BootStatus {
	var s BootStatus
	state, err := ADB(ctx, "-s", serial, "get-state")
	s.StateReady = err == nil && state == "device"
	if !s.StateReady {
		return s
	}
	boot, err := ADB(ctx, "-s", serial, "shell", "getprop", "sys.boot_completed")
	s.BootCompleted = err == nil && boot == "1"
	_, err = ADB(ctx, "-s", serial, "shell", "pm", "get-max-users")
	s.PackageManager = err == nil
	return s
}

// WaitForBoot polls serial every interval until it is fully booted or ctx
// ends.
func WaitForBoot(ctx context.Context, serial string, interval time.Duration) error {
	var last BootStatus
	op := func() error {
		last = CheckBootStatus(ctx, serial)
		if !last.Ready() {
			return fmt.Errorf("%s not booted (%s)", serial, last)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("%v, retrying in %v", err, wait)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		// Retries stop once the next wait would pass the deadline, which can
		// be before ctx reports done. Only ctx ends the retries here.
		<-ctx.Done()
		return fmt.Errorf("emulator %s boot timeout (%s): %w", serial, last, ctx.Err())
	}
	return nil
}

// Boot starts avd on the next free console port and waits until it is
// fully booted. running lists the serials already attached to adb.
func Boot(ctx context.Context, avd string, running []string, timeout time.Duration) (*Instance, error) {
	bin, err := FindBinary()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultBootTimeout
	}

	port := NextConsolePort(running)
	inst := &Instance{AVD: avd, Serial: fmt.Sprintf("emulator-%d", port), Port: port}
	inst.cmd = exec.Command(bin,
		"-avd", avd,
		"-port", fmt.Sprint(port),
		"-netdelay", "none",
		"-netspeed", "full",
		"-no-boot-anim",
		"-no-snapshot-save",
	)
	logger.Info("Starting emulator %s as %s", avd, inst.Serial)
	start := time.Now()
	if err := inst.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start emulator: %w", err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := WaitForBoot(bootCtx, inst.Serial, time.Second); err != nil {
		inst.kill()
		return nil, err
	}
	logger.Info("Emulator %s booted in %v", inst.Serial, time.Since(start).Round(time.Millisecond))
	return inst, nil
}

// Shutdown asks the emulator to exit and kills the process if it is still
// attached to adb when ctx ends.
func (i *Instance) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down emulator %s", i.Serial)
	if _, err := ADB(ctx, "-s", i.Serial, "emu", "kill"); err != nil {
		logger.Warn("adb emu kill %s: %v", i.Serial, err)
	}

	op := func() error {
		if _, err := ADB(ctx, "-s", i.Serial, "get-state"); err == nil {
			return fmt.Errorf("%s still attached", i.Serial)
		}
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(time.Second), ctx)
	if err := backoff.Retry(op, b); err != nil {
		logger.Warn("Emulator %s did not exit, killing it", i.Serial)
		return i.kill()
	}
	if i.cmd != nil {
		_ = i.cmd.Wait()
	}
	return nil
}

func (i *Instance) kill() error {
	if i.cmd == nil || i.cmd.Process == nil {
		return nil
	}
	if err := i.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill emulator %s: %w", i.Serial, err)
	}
	_ = i.cmd.Wait()
	return nil
}
