// Package event delivers UI tree-change notifications to subscribers.
//
// A Registry fans each published Event out to every callback subscribed at
// that moment. Subscribers are keyed by a random UUID; a callback that
// panics is logged and skipped without affecting the publisher or the other
// subscribers. There is no replay and no ordering guarantee.
package event

import (
	"fmt"
	"time"
)

// Type identifies what changed in the UI.
type Type int

const (
	WindowStateChanged Type = iota + 1
	WindowContentChanged
	ViewClicked
	ViewLongClicked
	GestureCompleted
	GestureCancelled
)

var typeNames = map[Type]string{
	WindowStateChanged:   "window_state_changed",
	WindowContentChanged: "window_content_changed",
	ViewClicked:          "view_clicked",
	ViewLongClicked:      "view_long_clicked",
	GestureCompleted:     "gesture_completed",
	GestureCancelled:     "gesture_cancelled",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Event is one notification. Fields a source cannot fill stay empty.
type Event struct {
	Type        Type
	PackageName string
	ClassName   string
	Text        string
	Time        time.Time
}

// New returns an event of type t stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, Time: time.Now()}
}

func (e Event) String() string {
	s := e.Type.String()
	if e.PackageName != "" {
		s += " pkg=" + e.PackageName
	}
	if e.ClassName != "" {
		s += " class=" + e.ClassName
	}
	if e.Text != "" {
		s += fmt.Sprintf(" text=%q", e.Text)
	}
	return s
}

// Default is the process-wide registry.
var Default = NewRegistry()

// Subscribe registers fn on the Default registry.
func Subscribe(fn func(Event)) SubscriberID {
	return Default.Subscribe(fn)
}

// Unsubscribe removes id from the Default registry.
func Unsubscribe(id SubscriberID) {
	Default.Unsubscribe(id)
}

// Publish delivers e to the Default registry's subscribers.
func Publish(e Event) {
	Default.Publish(e)
}
