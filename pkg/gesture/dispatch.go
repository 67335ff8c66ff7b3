package gesture

import (
	"context"
	"sync"
	"time"
)

// Outcome is the final state of a submitted gesture.
type Outcome int

const (
	Pending Outcome = iota
	Completed
	Cancelled
	Rejected
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Dispatcher injects gestures. DispatchGesture must not block on the gesture
// itself: it returns whether the request was accepted, and later calls done
// (from any goroutine) with Completed or Cancelled. done may be nil.
type Dispatcher interface {
	DispatchGesture(spec Spec, done func(Outcome)) bool
}

// Result is the handle for one submitted gesture.
type Result struct {
	spec     Spec
	accepted bool

	once    sync.Once
	mu      sync.Mutex
	outcome Outcome
	done    chan struct{}
}

func newResult(spec Spec) *Result {
	return &Result{spec: spec, done: make(chan struct{})}
}

// RejectedResult returns an already resolved, not accepted result.
func RejectedResult(spec Spec) *Result {
	r := newResult(spec)
	r.resolve(Rejected)
	return r
}

func (r *Result) resolve(o Outcome) {
	r.once.Do(func() {
		r.mu.Lock()
		r.outcome = o
		r.mu.Unlock()
		close(r.done)
	})
}

// Spec returns the submitted gesture.
func (r *Result) Spec() Spec {
	return r.spec
}

// Accepted reports whether the host took the request. It says nothing
// about whether the gesture ultimately completed.
func (r *Result) Accepted() bool {
	return r.accepted
}

// Done is closed once the outcome is known.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the current outcome; Pending until the host reports back.
func (r *Result) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Wait blocks until the outcome is known or ctx ends. A timeout is the
// caller's business; the gesture itself is not cancelled.
func (r *Result) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.Outcome(), nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// Submit hands spec to d and returns immediately.
func Submit(d Dispatcher, spec Spec) *Result {
	if d == nil || len(spec.Path) == 0 || spec.Duration < 0 || spec.StartDelay < 0 {
		return RejectedResult(spec)
	}
	r := newResult(spec)
	r.accepted = d.DispatchGesture(spec, r.resolve)
	if !r.accepted {
		r.resolve(Rejected)
	}
	return r
}

// TapAt taps a raw screen coordinate for DefaultTapDuration.
func TapAt(d Dispatcher, x, y float64) *Result {
	return Submit(d, Tap(x, y, DefaultTapDuration))
}

// TapPath submits a caller-supplied path, e.g. a drag.
func TapPath(d Dispatcher, path []Point, startDelay, duration time.Duration) *Result {
	spec, err := Build(path, startDelay, duration)
	if err != nil {
		return RejectedResult(spec)
	}
	return Submit(d, spec)
}
