// Package gesture builds timed pointer paths and submits them to a host.
package gesture

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTapDuration is the press duration used by TapAt.
const DefaultTapDuration = 100 * time.Millisecond

var (
	ErrEmptyPath         = errors.New("gesture path must contain at least one point")
	ErrNegativeDuration  = errors.New("gesture duration must not be negative")
	ErrNegativeStartTime = errors.New("gesture start delay must not be negative")
)

// Point is a screen coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for an integer screen coordinate.
func Pt(x, y int) Point {
	return Point{X: float64(x), Y: float64(y)}
}

// Spec is one stroke: a path traversed over Duration, starting StartDelay
// after submission. The synthesizer does no screen bounds checking.
type Spec struct {
	Path       []Point       `json:"path"`
	StartDelay time.Duration `json:"startDelay"`
	Duration   time.Duration `json:"duration"`
}

// Build validates and copies path into a Spec.
func Build(path []Point, startDelay, duration time.Duration) (Spec, error) {
	if len(path) == 0 {
		return Spec{}, ErrEmptyPath
	}
	if duration < 0 {
		return Spec{}, ErrNegativeDuration
	}
	if startDelay < 0 {
		return Spec{}, ErrNegativeStartTime
	}
	return Spec{
		Path:       append([]Point(nil), path...),
		StartDelay: startDelay,
		Duration:   duration,
	}, nil
}

// Tap is a degenerate stroke: move to p, then line to the same p.
func Tap(x, y float64, duration time.Duration) Spec {
	if duration < 0 {
		duration = 0
	}
	p := Point{X: x, Y: y}
	return Spec{Path: []Point{p, p}, Duration: duration}
}

// Swipe is a straight two-point stroke.
func Swipe(from, to Point, duration time.Duration) Spec {
	if duration < 0 {
		duration = 0
	}
	return Spec{Path: []Point{from, to}, Duration: duration}
}

// IsTap reports whether every point of the path is the same coordinate.
func (s Spec) IsTap() bool {
	if len(s.Path) == 0 {
		return false
	}
	for _, p := range s.Path[1:] {
		if p != s.Path[0] {
			return false
		}
	}
	return true
}

// Start returns the first point of the path.
func (s Spec) Start() Point {
	if len(s.Path) == 0 {
		return Point{}
	}
	return s.Path[0]
}

// End returns the last point of the path.
func (s Spec) End() Point {
	if len(s.Path) == 0 {
		return Point{}
	}
	return s.Path[len(s.Path)-1]
}

// String summarises the stroke for logs.
func (s Spec) String() string {
	if s.IsTap() {
		return fmt.Sprintf("tap(%.0f,%.0f %v)", s.Start().X, s.Start().Y, s.Duration)
	}
	return fmt.Sprintf("path(%d points %.0f,%.0f->%.0f,%.0f delay=%v %v)",
		len(s.Path), s.Start().X, s.Start().Y, s.End().X, s.End().Y, s.StartDelay, s.Duration)
}
