package weather

import (
	"sync"

	"github.com/LaNNy-kz/web-weather-20/internal/models"
)

// Subscriber receives the merged payload when the late air-quality leg
// settles for a coordinate key. Callbacks run on the merge goroutine; keep
// them short or hand off.
type Subscriber func(models.WeatherPayload)

// updateHub is the observer registry for late payload updates. Multiple
// subscribers per key are each notified, which covers two views of the same
// location being open at once.
type updateHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]Subscriber
}

func newUpdateHub() *updateHub {
	return &updateHub{subs: make(map[string]map[int]Subscriber)}
}

// subscribe registers fn for key and returns a cancel func removing it.
func (h *updateHub) subscribe(key string, fn Subscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]Subscriber)
	}
	h.subs[key][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[key], id)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
	}
}

// notify delivers payload to every subscriber of key. The subscriber list is
// snapshotted under the lock; callbacks run outside it so a subscriber may
// re-subscribe or cancel without deadlocking.
func (h *updateHub) notify(key string, payload models.WeatherPayload) {
	h.mu.Lock()
	fns := make([]Subscriber, 0, len(h.subs[key]))
	for _, fn := range h.subs[key] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}
