package uiautomator2

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/devicelab-dev/autosdk/pkg/event"
	"github.com/devicelab-dev/autosdk/pkg/logger"
	"github.com/devicelab-dev/autosdk/pkg/pagesource"
)

// SourceReader reads the current page source.
type SourceReader interface {
	Source() (string, error)
}

// Watcher turns page source changes into WindowContentChanged events.
// The server pushes nothing, so it polls.
type Watcher struct {
	source   SourceReader
	events   *event.Registry
	interval time.Duration

	last [sha256.Size]byte
	seen bool
}

// NewWatcher creates a watcher publishing to events every interval.
func NewWatcher(source SourceReader, events *event.Registry, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Watcher{source: source, events: events, interval: interval}
}

// Run polls until ctx ends and returns ctx's error. The first successful
// read only records the baseline.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll reads the source once and publishes if it differs from the last
// read. It reports whether an event was published.
func (w *Watcher) Poll() bool {
	src, err := w.source.Source()
	if err != nil {
		logger.Debug("watch: %v", err)
		return false
	}

	sum := sha256.Sum256([]byte(src))
	if w.seen && sum == w.last {
		return false
	}
	first := !w.seen
	w.last, w.seen = sum, true
	if first {
		return false
	}

	e := event.New(event.WindowContentChanged)
	if tree, err := pagesource.Parse(src); err == nil {
		// The first window names the foreground app.
		if top := tree.Root().Child(0); top != nil {
			e.PackageName, _ = top.PackageName()
			e.ClassName = top.ClassName()
		}
	}
	w.events.Publish(e)
	return true
}
