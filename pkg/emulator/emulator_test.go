package emulator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeADB answers adb commands from a table keyed by the joined arguments
// after "-s <serial>". Unknown commands fail.
type fakeADB struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []string
}

func (f *fakeADB) run(_ context.Context, args ...string) (string, error) {
	if len(args) >= 2 && args[0] == "-s" {
		args = args[2:]
	}
	key := strings.Join(args, " ")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if out, ok := f.replies[key]; ok {
		return out, nil
	}
	return "", errors.New("adb: " + key + " failed")
}

func (f *fakeADB) set(key, out string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[key] = out
}

func installADB(t *testing.T, replies map[string]string) *fakeADB {
	t.Helper()
	f := &fakeADB{replies: replies}
	orig := ADB
	ADB = f.run
	t.Cleanup(func() { ADB = orig })
	return f
}

func bootedReplies() map[string]string {
	return map[string]string{
		"get-state":                        "device",
		"shell getprop sys.boot_completed": "1",
		"shell pm get-max-users":           "Maximum supported users: 4",
	}
}

func TestIsEmulator(t *testing.T) {
	tests := []struct {
		name     string
		serial   string
		expected bool
	}{
		{"valid emulator", "emulator-5554", true},
		{"another emulator", "emulator-5556", true},
		{"physical device", "R5CR50ABCDE", false},
		{"empty serial", "", false},
		{"almost emulator", "emulator", false},
		{"non-numeric port", "emulator-abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEmulator(tt.serial); got != tt.expected {
				t.Errorf("IsEmulator(%q) = %v, want %v", tt.serial, got, tt.expected)
			}
		})
	}
}

func TestNextConsolePort(t *testing.T) {
	tests := []struct {
		name    string
		serials []string
		want    int
	}{
		{"none", nil, 5554},
		{"physical only", []string{"R5CR50ABCDE"}, 5554},
		{"first taken", []string{"emulator-5554"}, 5556},
		{"gap reused", []string{"emulator-5556", "emulator-5558"}, 5554},
		{"consecutive", []string{"emulator-5554", "emulator-5556", "R5CR50ABCDE"}, 5558},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextConsolePort(tt.serials); got != tt.want {
				t.Errorf("NextConsolePort(%v) = %d, want %d", tt.serials, got, tt.want)
			}
		})
	}
}

func TestParseAVDs(t *testing.T) {
	out := "INFO    | Storing crashdata in: /tmp/android/emu-crash.db\nPixel_7_API_33\n\n  Nexus_5X  \n"
	want := []string{"Pixel_7_API_33", "Nexus_5X"}
	if diff := cmp.Diff(want, parseAVDs(out)); diff != "" {
		t.Errorf("parseAVDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestSDKRoot(t *testing.T) {
	t.Setenv("ANDROID_HOME", "/path/to/android")
	t.Setenv("ANDROID_SDK_ROOT", "/other/path")
	if got := SDKRoot(); got != "/path/to/android" {
		t.Errorf("SDKRoot() = %q, want ANDROID_HOME", got)
	}

	t.Setenv("ANDROID_HOME", "")
	if got := SDKRoot(); got != "/other/path" {
		t.Errorf("SDKRoot() = %q, want ANDROID_SDK_ROOT", got)
	}

	t.Setenv("ANDROID_SDK_ROOT", "")
	if got := SDKRoot(); got != "" {
		t.Errorf("SDKRoot() = %q, want empty", got)
	}
}

func writeFakeEmulator(t *testing.T, root, rel string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script emulator")
	}
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return p
}

func TestFindBinary(t *testing.T) {
	tests := []struct {
		name string
		rel  string
	}{
		{"new layout", "emulator/emulator"},
		{"old layout", "tools/emulator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			want := writeFakeEmulator(t, root, tt.rel)
			t.Setenv("ANDROID_HOME", root)
			t.Setenv("PATH", "/nonexistent/path")

			got, err := FindBinary()
			if err != nil {
				t.Fatalf("FindBinary() error: %v", err)
			}
			if got != want {
				t.Errorf("FindBinary() = %q, want %q", got, want)
			}
		})
	}
}

func TestFindBinary_NotFound(t *testing.T) {
	t.Setenv("ANDROID_HOME", t.TempDir())
	t.Setenv("ANDROID_SDK_ROOT", "")
	t.Setenv("PATH", "/nonexistent/path")

	if _, err := FindBinary(); err == nil {
		t.Error("expected error when no emulator binary exists")
	}
}

func TestCheckBootStatus(t *testing.T) {
	tests := []struct {
		name    string
		replies map[string]string
		want    BootStatus
	}{
		{"offline", map[string]string{"get-state": "offline"}, BootStatus{}},
		{"booting", map[string]string{
			"get-state":                        "device",
			"shell getprop sys.boot_completed": "",
		}, BootStatus{StateReady: true}},
		{"booted", bootedReplies(), BootStatus{StateReady: true, BootCompleted: true, PackageManager: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			installADB(t, tt.replies)
			got := CheckBootStatus(context.Background(), "emulator-5554")
			if got != tt.want {
				t.Errorf("CheckBootStatus() = %+v, want %+v", got, tt.want)
			}
			if got.Ready() != (tt.name == "booted") {
				t.Errorf("Ready() = %v", got.Ready())
			}
		})
	}
}

func TestWaitForBoot(t *testing.T) {
	f := installADB(t, map[string]string{"get-state": "device"})

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.set("shell getprop sys.boot_completed", "1")
		f.set("shell pm get-max-users", "Maximum supported users: 1")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := WaitForBoot(ctx, "emulator-5554", 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForBoot() error: %v", err)
	}
}

func TestWaitForBoot_Timeout(t *testing.T) {
	installADB(t, map[string]string{"get-state": "offline"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := WaitForBoot(ctx, "emulator-5554", 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if !strings.Contains(err.Error(), "state:false") {
		t.Errorf("expected last status in error, got %v", err)
	}
}

func TestBootAndShutdown(t *testing.T) {
	root := t.TempDir()
	writeFakeEmulator(t, root, "emulator/emulator")
	t.Setenv("ANDROID_HOME", root)
	f := installADB(t, bootedReplies())
	f.set("emu kill", "OK: killing emulator, bye bye")

	ctx := context.Background()
	inst, err := Boot(ctx, "Pixel_7_API_33", []string{"emulator-5554"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Boot() error: %v", err)
	}
	if inst.Serial != "emulator-5556" || inst.Port != 5556 || inst.AVD != "Pixel_7_API_33" {
		t.Errorf("unexpected instance %+v", inst)
	}

	// The device detaches once killed.
	f.mu.Lock()
	delete(f.replies, "get-state")
	f.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := inst.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for _, c := range f.calls {
		if c == "emu kill" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected emu kill, calls: %v", f.calls)
	}
}

func TestBoot_NoBinary(t *testing.T) {
	t.Setenv("ANDROID_HOME", t.TempDir())
	t.Setenv("ANDROID_SDK_ROOT", "")
	t.Setenv("PATH", "/nonexistent/path")

	if _, err := Boot(context.Background(), "Pixel", nil, time.Second); err == nil {
		t.Error("expected error without emulator binary")
	}
}
