package node

import "fmt"

// Rect is an element rectangle. Right and Bottom are exclusive.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the horizontal extent.
func (r Rect) Width() int {
	return r.Right - r.Left
}

// Height returns the vertical extent.
func (r Rect) Height() int {
	return r.Bottom - r.Top
}

// Empty reports whether the rectangle has no interior point.
func (r Rect) Empty() bool {
	return r.Left >= r.Right || r.Top >= r.Bottom
}

// Contains checks if a point is within the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.Left && x < r.Right && y >= r.Top && y < r.Bottom
}

// Center returns the center point of the rectangle.
func (r Rect) Center() (int, int) {
	return r.Left + r.Width()/2, r.Top + r.Height()/2
}

// String formats the rectangle the way Android prints bounds: [l,t][r,b].
func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", r.Left, r.Top, r.Right, r.Bottom)
}
