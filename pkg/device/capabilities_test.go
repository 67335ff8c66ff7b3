package device

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const dumpsysSample = `Activity Resolver Table:
  Non-Data Actions:
      android.intent.action.MAIN:
        5d2f1a0 com.example.agent/.MainActivity filter 9c1e2b3

Service Resolver Table:
  Non-Data Actions:
      android.accessibilityservice.AccessibilityService:
        8a7b6c5 com.example.agent/.AgentService filter 1f2e3d4
          Action: "android.accessibilityservice.AccessibilityService"
      android.intent.action.BOOT_COMPLETED:
        1234567 com.other.app/.Boot filter 7654321

Packages:
  Package [com.example.agent] (e1d2c3b):
    userId=10123
    requested permissions:
      android.permission.SYSTEM_ALERT_WINDOW
      android.permission.INTERNET
      android.permission.CAMERA: restricted=true
    install permissions:
      android.permission.INTERNET: granted=true
      android.permission.FOREGROUND_SERVICE: granted=false
    User 0: ceDataInode=12345 installed=true hidden=false
      runtime permissions:
        android.permission.CAMERA: granted=true, flags=[ USER_SET ]
        android.permission.RECORD_AUDIO: granted=false, flags=[ USER_SET ]
`

func TestParseEnabledServices(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"null\n", nil},
		{"", nil},
		{"com.a/.S\n", []string{"com.a/.S"}},
		{"com.a/.S:com.b/com.b.T\n", []string{"com.a/.S", "com.b/com.b.T"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseEnabledServices(tt.in)); diff != "" {
			t.Errorf("parseEnabledServices(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestNormalizeComponent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"com.a/.Service", "com.a/com.a.Service"},
		{"com.a/com.a.Service", "com.a/com.a.Service"},
		{"com.a/com.b.Service", "com.a/com.b.Service"},
		{"noslash", "noslash"},
	}
	for _, tt := range tests {
		if got := normalizeComponent(tt.in); got != tt.want {
			t.Errorf("normalizeComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeclaresService(t *testing.T) {
	if !declaresService(dumpsysSample, "com.example.agent", AccessibilityServiceAction) {
		t.Error("expected agent to declare an accessibility service")
	}
	if declaresService(dumpsysSample, "com.other.app", AccessibilityServiceAction) {
		t.Error("expected other app's boot receiver not to count")
	}
	if declaresService("", "com.example.agent", AccessibilityServiceAction) {
		t.Error("expected empty dump not to declare anything")
	}
}

func TestParseRequestedPermissions(t *testing.T) {
	want := []string{
		"android.permission.SYSTEM_ALERT_WINDOW",
		"android.permission.INTERNET",
		"android.permission.CAMERA",
	}
	if diff := cmp.Diff(want, parseRequestedPermissions(dumpsysSample)); diff != "" {
		t.Errorf("requested permissions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseGrantedPermissions(t *testing.T) {
	want := map[string]bool{
		"android.permission.INTERNET": true,
		"android.permission.CAMERA":   true,
	}
	if diff := cmp.Diff(want, parseGrantedPermissions(dumpsysSample)); diff != "" {
		t.Errorf("granted permissions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAppOpMode(t *testing.T) {
	tests := []struct {
		in       string
		wantMode string
		wantOK   bool
	}{
		{"SYSTEM_ALERT_WINDOW: allow\n", "allow", true},
		{"SYSTEM_ALERT_WINDOW: deny; time=+1d2h ago\n", "deny", true},
		{"No operations.\n", "", false},
		{"CAMERA: allow\n", "", false},
	}
	for _, tt := range tests {
		mode, ok := parseAppOpMode(tt.in, "SYSTEM_ALERT_WINDOW")
		if mode != tt.wantMode || ok != tt.wantOK {
			t.Errorf("parseAppOpMode(%q) = %q, %v; want %q, %v", tt.in, mode, ok, tt.wantMode, tt.wantOK)
		}
	}
}
