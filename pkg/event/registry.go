package event

import (
	"sync"

	"github.com/google/uuid"

	"github.com/devicelab-dev/autosdk/pkg/logger"
)

// SubscriberID identifies a subscription.
type SubscriberID = uuid.UUID

// Registry is a concurrent set of subscriber callbacks. The zero value is
// ready to use.
type Registry struct {
	subs sync.Map // SubscriberID -> func(Event)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe adds fn and returns its id. A nil fn is stored and ignored on
// publish, so the id is always valid to unsubscribe.
func (r *Registry) Subscribe(fn func(Event)) SubscriberID {
	id := uuid.New()
	r.subs.Store(id, fn)
	return id
}

// Unsubscribe removes id. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id SubscriberID) {
	r.subs.Delete(id)
}

// Publish calls every current subscriber with e on the caller's goroutine.
// Subscribers added or removed while Publish runs may or may not see e.
func (r *Registry) Publish(e Event) {
	r.subs.Range(func(key, value any) bool {
		fn, _ := value.(func(Event))
		if fn != nil {
			deliver(key.(SubscriberID), fn, e)
		}
		return true
	})
}

func deliver(id SubscriberID, fn func(Event), e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithField("subscriber", id.String()).Errorf("event %s: callback panicked: %v", e.Type, rec)
		}
	}()
	fn(e)
}

// Len returns the number of subscribers.
func (r *Registry) Len() int {
	n := 0
	r.subs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
