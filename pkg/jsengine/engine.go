// Package jsengine runs automation scripts against a host. Scripts get an
// Auto.js flavoured global API: selector(), root(), click(node), tap(x, y),
// swipe(...), gesture(...), sleep(ms) and console.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/autosdk/pkg/click"
	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/logger"
)

// Options tunes the script bindings.
type Options struct {
	// Click options applied to click(node).
	Click []click.Option
	// TapDuration is the press duration of tap(x, y) without an explicit one.
	TapDuration time.Duration
	// Stdout receives console output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Engine wraps a goja runtime bound to one host
type Engine struct {
	runtime   *goja.Runtime
	host      core.Host
	opts      Options
	variables map[string]interface{}

	// ctx is the context of the running script; sleeps and gesture waits
	// end with it.
	ctx    context.Context
	mu     sync.Mutex
	closed atomic.Bool
}

// New creates a new JS engine instance driving host. host may be nil for
// pure expression evaluation; the automation globals then throw.
func New(host core.Host, opts Options) *Engine {
	if opts.TapDuration <= 0 {
		opts.TapDuration = gesture.DefaultTapDuration
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	e := &Engine{
		runtime:   goja.New(),
		host:      host,
		opts:      opts,
		variables: make(map[string]interface{}),
		ctx:       context.Background(),
	}
	e.runtime.SetFieldNameMapper(goja.UncapFieldNameMapper())

	e.setupBuiltins()
	return e
}

// setupBuiltins registers all built-in functions and objects
func (e *Engine) setupBuiltins() {
	e.setupConsole()

	e.runtime.Set("sleep", e.sleep)

	// Tree access
	e.runtime.Set("root", e.rootFunc)
	e.runtime.Set("selector", e.selectorFunc)

	// Click strategies
	e.runtime.Set("clickNode", e.nodeAction("clickNode", click.ClickNode))
	e.runtime.Set("longClick", e.nodeAction("longClick", click.LongClickNode))
	e.runtime.Set("clickMatchNode", e.nodeAction("clickMatchNode", click.ClickMatchNode))
	e.runtime.Set("click", e.clickFunc)

	// Gestures
	e.runtime.Set("tap", e.tapFunc)
	e.runtime.Set("swipe", e.swipeFunc)
	e.runtime.Set("gesture", e.gestureFunc)
}

// setupConsole adds console.log, console.error, etc.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			line := strings.Join(parts, " ")

			switch level {
			case "error":
				logger.Error("js: %s", line)
				fmt.Fprintln(e.opts.Stdout, "ERROR:", line)
			case "warn":
				logger.Warn("js: %s", line)
				fmt.Fprintln(e.opts.Stdout, "WARN:", line)
			default:
				logger.Debug("js: %s", line)
				fmt.Fprintln(e.opts.Stdout, line)
			}
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc("log"))
	console.Set("error", makeConsoleFunc("error"))
	console.Set("warn", makeConsoleFunc("warn"))
	e.runtime.Set("console", console)
}

// sleep blocks the script for ms milliseconds, or until the run is cancelled.
func (e *Engine) sleep(call goja.FunctionCall) goja.Value {
	d := time.Duration(call.Argument(0).ToInteger()) * time.Millisecond
	if d <= 0 {
		return goja.Undefined()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.ctx.Done():
		e.runtime.Interrupt(e.ctx.Err())
	}
	return goja.Undefined()
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.variables[name] = value
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// Eval evaluates a JavaScript expression and returns the result
func (e *Engine) Eval(script string) (interface{}, error) {
	result, err := e.run(context.Background(), "", script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result, nil
}

// EvalString evaluates a JavaScript expression and returns string result
func (e *Engine) EvalString(script string) (string, error) {
	result, err := e.Eval(script)
	if err != nil {
		return "", err
	}

	if result == nil {
		return "", nil
	}

	return fmt.Sprintf("%v", result), nil
}

// Run runs a script until it finishes or ctx ends, and returns the value
// of its last statement.
func (e *Engine) Run(ctx context.Context, script string) (interface{}, error) {
	result, err := e.run(ctx, "", script)
	if err != nil {
		return nil, fmt.Errorf("JS runtime error: %w", err)
	}
	return result, nil
}

// RunFile runs the script stored at path.
func (e *Engine) RunFile(ctx context.Context, path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	result, err := e.run(ctx, path, string(data))
	if err != nil {
		return nil, fmt.Errorf("JS runtime error: %w", err)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, name, script string) (interface{}, error) {
	if e.closed.Load() {
		return nil, errors.New("engine closed")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx = ctx
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			e.runtime.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-stopped
		e.runtime.ClearInterrupt()
		e.ctx = context.Background()
	}()

	result, err := e.runtime.RunScript(name, script)
	var interrupted *goja.InterruptedError
	if ctx.Err() != nil && (err == nil || errors.As(err, &interrupted)) {
		return nil, fmt.Errorf("script interrupted: %w", ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// ExpandVariables expands ${...} expressions in a string using JS evaluation
func (e *Engine) ExpandVariables(text string) (string, error) {
	result := text
	start := 0

	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		// Find matching }
		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			if result[end] == '{' {
				depth++
			} else if result[end] == '}' {
				depth--
			}
			end++
		}

		if depth != 0 {
			// Unmatched brace, skip
			start = idx + 2
			continue
		}

		expr := result[idx+2 : end-1]
		value, err := e.EvalString(expr)
		if err != nil {
			// Leave the expression as written
			start = end
			continue
		}

		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}

	return result, nil
}

// Close releases the engine. Safe to call multiple times.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.runtime.Interrupt("engine closed")
	}
}
