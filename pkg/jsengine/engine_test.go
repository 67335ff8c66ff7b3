package jsengine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/autosdk/pkg/driver/mock"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/node"
)

const screen = `<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" package="com.app" bounds="[0,0][1080,1920]">
    <node class="android.widget.LinearLayout" package="com.app" bounds="[0,0][1080,400]" clickable="true">
      <node text="Sign in" class="android.widget.TextView" package="com.app" bounds="[40,40][500,120]"/>
    </node>
    <node text="OK" resource-id="com.app:id/ok" class="android.widget.Button" package="com.app" bounds="[100,500][300,600]" clickable="true"/>
    <node text="Cancel" class="android.widget.Button" package="com.app" bounds="[400,500][600,600]" clickable="true"/>
  </node>
</hierarchy>`

func newEngine(t *testing.T, cfg mock.Config) (*Engine, *mock.Host, *bytes.Buffer) {
	t.Helper()
	host, err := mock.FromXML(screen, cfg)
	if err != nil {
		t.Fatalf("FromXML failed: %v", err)
	}
	var out bytes.Buffer
	engine := New(host, Options{Stdout: &out})
	t.Cleanup(engine.Close)
	return engine, host, &out
}

func TestNew(t *testing.T) {
	engine := New(nil, Options{})
	defer engine.Close()

	if engine == nil {
		t.Fatal("expected engine to be created")
	}
	if engine.runtime == nil {
		t.Fatal("expected runtime to be initialized")
	}
	if engine.opts.TapDuration != gesture.DefaultTapDuration {
		t.Errorf("expected default tap duration, got %v", engine.opts.TapDuration)
	}
}

func TestEval(t *testing.T) {
	engine := New(nil, Options{})
	defer engine.Close()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'hello' + ' ' + 'world'", "hello world"},
		{"boolean", "true && false", false},
		{"null coalescing", "null ?? 'default'", "default"},
		{"array length", "[1, 2, 3].length", int64(3)},
		{"object property", "({name: 'test'}).name", "test"},
		{"undefined", "undefined", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}

func TestEvalSyntaxError(t *testing.T) {
	engine := New(nil, Options{})
	defer engine.Close()

	_, err := engine.Eval("1 +")
	if err == nil || !strings.Contains(err.Error(), "JS eval error") {
		t.Errorf("expected JS eval error, got %v", err)
	}
}

func TestSetVariable(t *testing.T) {
	engine := New(nil, Options{})
	defer engine.Close()

	engine.SetVariables(map[string]interface{}{
		"username": "john",
		"count":    42,
	})

	result, err := engine.EvalString("username + ':' + count")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "john:42" {
		t.Errorf("expected 'john:42', got %q", result)
	}
}

func TestExpandVariables(t *testing.T) {
	engine := New(nil, Options{})
	defer engine.Close()

	engine.SetVariable("label", "OK")

	tests := []struct {
		input    string
		expected string
	}{
		{"no vars", "no vars"},
		{"tap ${label}", "tap OK"},
		{"${1 + 1} items", "2 items"},
		{"${({a: 1}).a}", "1"},
		{"unclosed ${label", "unclosed ${label"},
		{"${missing} kept", "${missing} kept"},
	}

	for _, tt := range tests {
		result, err := engine.ExpandVariables(tt.input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != tt.expected {
			t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestSelectorFind(t *testing.T) {
	engine, _, _ := newEngine(t, mock.Config{})

	tests := []struct {
		script   string
		expected string
	}{
		{`selector().className("android.widget.Button").find().length`, "2"},
		{`selector().text("OK").findOne().id()`, "com.app:id/ok"},
		{`selector().textStartsWith("Sign").findOne().className()`, "android.widget.TextView"},
		{`selector().textMatches("Can.*").exists()`, "true"},
		{`selector().textMatches("Can").exists()`, "false"},
		{`selector().text("missing").findOne() === null`, "true"},
		{`selector().clickable(true).packageName("com.app").find().length`, "3"},
		{`String(selector().text("OK"))`, `selector(text="OK")`},
	}

	for _, tt := range tests {
		result, err := engine.EvalString(tt.script)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.script, err)
		}
		if result != tt.expected {
			t.Errorf("%s = %q, want %q", tt.script, result, tt.expected)
		}
	}
}

func TestSelectorResetsAfterFind(t *testing.T) {
	engine, _, _ := newEngine(t, mock.Config{})

	result, err := engine.EvalString(`
		var s = selector().text("OK");
		var first = s.find().length;
		var second = s.find().length;
		first + "," + second;
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The second find has no conditions left and returns every descendant.
	if result != "1,5" {
		t.Errorf("expected 1,5, got %q", result)
	}
}

func TestNodeWrapper(t *testing.T) {
	engine, _, _ := newEngine(t, mock.Config{})

	tests := []struct {
		script   string
		expected string
	}{
		{`selector().text("OK").findOne().text()`, "OK"},
		{`selector().text("OK").findOne().desc() === null`, "true"},
		{`selector().text("OK").findOne().bounds().left`, "100"},
		{`selector().text("OK").findOne().bounds().width()`, "200"},
		{`selector().text("OK").findOne().visible()`, "true"},
		{`selector().text("Sign in").findOne().parent().clickable()`, "true"},
		{`root().childCount()`, "1"},
		{`root().child(0).children().length`, "3"},
		{`root().parent() === null`, "true"},
	}

	for _, tt := range tests {
		result, err := engine.EvalString(tt.script)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.script, err)
		}
		if result != tt.expected {
			t.Errorf("%s = %q, want %q", tt.script, result, tt.expected)
		}
	}
}

func TestClickNode(t *testing.T) {
	engine, host, _ := newEngine(t, mock.Config{})

	result, err := engine.Eval(`clickNode(selector().text("OK").findOne())`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Errorf("expected true, got %v", result)
	}

	actions := host.Actions()
	if len(actions) != 1 || actions[0].Action != node.ActionClick {
		t.Fatalf("expected one click action, got %+v", actions)
	}
	if text, _ := actions[0].Node.Text(); text != "OK" {
		t.Errorf("expected click on OK, got %q", text)
	}
}

func TestLongClick(t *testing.T) {
	engine, host, _ := newEngine(t, mock.Config{})

	if _, err := engine.Eval(`selector().text("Cancel").findOne().longClick()`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	actions := host.Actions()
	if len(actions) != 1 || actions[0].Action != node.ActionLongClick {
		t.Fatalf("expected one long click, got %+v", actions)
	}
}

func TestClickMatchNode(t *testing.T) {
	engine, host, _ := newEngine(t, mock.Config{})

	result, err := engine.Eval(`clickMatchNode(selector().text("Sign in").findOne())`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Errorf("expected true, got %v", result)
	}

	actions := host.Actions()
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	if got := actions[0].Node.ClassName(); got != "android.widget.LinearLayout" {
		t.Errorf("expected the clickable row to be clicked, got %s", got)
	}
}

func TestClickGesture(t *testing.T) {
	engine, host, _ := newEngine(t, mock.Config{})

	result, err := engine.Eval(`click(selector().text("OK").findOne())`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "completed" {
		t.Errorf("expected completed, got %v", result)
	}

	gestures := host.Gestures()
	if len(gestures) != 1 {
		t.Fatalf("expected one gesture, got %d", len(gestures))
	}
	p := gestures[0].Start()
	if p.X < 100 || p.X >= 300 || p.Y < 500 || p.Y >= 600 {
		t.Errorf("tap %v outside OK bounds", p)
	}
	if !gestures[0].IsTap() {
		t.Error("expected a tap")
	}
}

func TestTapAndSwipe(t *testing.T) {
	engine, host, _ := newEngine(t, mock.Config{})

	if _, err := engine.Run(context.Background(), `
		tap(10, 20);
		tap(30, 40, 250);
		swipe(0, 1000, 0, 200, 300);
		gesture(50, 400, [1, 1], [2, 2], [3, 3]);
	`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []gesture.Spec{
		gesture.Tap(10, 20, gesture.DefaultTapDuration),
		gesture.Tap(30, 40, 250*time.Millisecond),
		gesture.Swipe(gesture.Pt(0, 1000), gesture.Pt(0, 200), 300*time.Millisecond),
		{
			Path:       []gesture.Point{gesture.Pt(1, 1), gesture.Pt(2, 2), gesture.Pt(3, 3)},
			StartDelay: 50 * time.Millisecond,
			Duration:   400 * time.Millisecond,
		},
	}
	if diff := cmp.Diff(want, host.Gestures()); diff != "" {
		t.Errorf("gestures mismatch (-want +got):\n%s", diff)
	}
}

func TestGestureOutcomes(t *testing.T) {
	tests := []struct {
		name string
		cfg  mock.Config
		want string
	}{
		{"completed", mock.Config{}, "completed"},
		{"cancelled", mock.Config{GestureOutcome: gesture.Cancelled}, "cancelled"},
		{"refused", mock.Config{RefuseGestures: true}, "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, _ := newEngine(t, tt.cfg)
			result, err := engine.EvalString(`tap(5, 5)`)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.want {
				t.Errorf("expected %s, got %s", tt.want, result)
			}
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	engine, _, _ := newEngine(t, mock.Config{})

	scripts := []string{
		`clickNode("OK")`,
		`click()`,
		`tap(1)`,
		`swipe(1, 2, 3)`,
		`gesture(100, [1])`,
		`selector().textMatches("(")`,
	}
	for _, script := range scripts {
		if _, err := engine.Eval(script); err == nil {
			t.Errorf("%s: expected error", script)
		}
	}
}

func TestNoHost(t *testing.T) {
	engine := New(nil, Options{})
	defer engine.Close()

	for _, script := range []string{`root()`, `selector()`, `tap(1, 1)`} {
		_, err := engine.Eval(script)
		if err == nil || !strings.Contains(err.Error(), "no host attached") {
			t.Errorf("%s: expected no host error, got %v", script, err)
		}
	}
}

func TestConsole(t *testing.T) {
	engine, _, out := newEngine(t, mock.Config{})

	if _, err := engine.Eval(`console.log("found", 2); console.warn("careful")`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "found 2\nWARN: careful\n"
	if out.String() != want {
		t.Errorf("expected %q, got %q", want, out.String())
	}
}

func TestRunCancelled(t *testing.T) {
	engine, _, _ := newEngine(t, mock.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := engine.Run(ctx, `sleep(10000); 1`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("sleep was not interrupted, took %v", elapsed)
	}

	// The engine is usable again afterwards.
	result, err := engine.EvalString("1 + 1")
	if err != nil || result != "2" {
		t.Errorf("expected 2 after cancellation, got %q, %v", result, err)
	}
}

func TestRunWaitsForGesture(t *testing.T) {
	engine, _, _ := newEngine(t, mock.Config{GestureDelay: 20 * time.Millisecond})

	start := time.Now()
	result, err := engine.Run(context.Background(), `tap(1, 1)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "completed" {
		t.Errorf("expected completed, got %v", result)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected tap to wait for the outcome")
	}
}

func TestRunFile(t *testing.T) {
	engine, host, _ := newEngine(t, mock.Config{})

	path := filepath.Join(t.TempDir(), "login.js")
	script := `var ok = selector().text("OK").findOne();
clickNode(ok);
ok.text();
`
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := engine.RunFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "OK" {
		t.Errorf("expected OK, got %v", result)
	}
	if len(host.Actions()) != 1 {
		t.Errorf("expected one action, got %d", len(host.Actions()))
	}

	if _, err := engine.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Error("expected error for missing script")
	}
}

func TestClose(t *testing.T) {
	engine := New(nil, Options{})
	engine.Close()
	engine.Close()

	if _, err := engine.Eval("1"); err == nil {
		t.Error("expected error after Close")
	}
}
