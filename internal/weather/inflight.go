package weather

import (
	"context"
	"sync"
	"time"

	"github.com/LaNNy-kz/web-weather-20/internal/models"
)

// inflightFetch tracks a single staged fetch that multiple callers may wait for.
type inflightFetch struct {
	mu      sync.Mutex
	result  models.WeatherPayload
	err     error
	done    bool
	waiters []chan struct{} // closed when the result is ready
}

// inflightGroup guarantees at most one staged fetch per coordinate key.
// A caller arriving while a fetch for its key is already running attaches to
// the pending outcome instead of issuing its own upstream calls. Entries are
// removed when the fetch settles, success or failure.
type inflightGroup struct {
	mu       sync.Mutex
	inFlight map[string]*inflightFetch
	timeout  time.Duration
}

func newInflightGroup(timeout time.Duration) *inflightGroup {
	return &inflightGroup{
		inFlight: make(map[string]*inflightFetch),
		timeout:  timeout,
	}
}

// GetOrDo returns the outcome of the fetch for key, running fn only if no
// fetch is in flight. shared reports whether the caller attached to an
// existing fetch. Respects context cancellation and the group timeout so a
// waiter is never blocked indefinitely.
func (g *inflightGroup) GetOrDo(ctx context.Context, key string, fn func() (models.WeatherPayload, error)) (result models.WeatherPayload, shared bool, err error) {
	g.mu.Lock()
	req, exists := g.inFlight[key]
	if exists {
		// Fetch in flight: attach to it
		notify := make(chan struct{})
		req.mu.Lock()
		if req.done {
			result, err := req.result, req.err
			req.mu.Unlock()
			g.mu.Unlock()
			return result, true, err
		}
		req.waiters = append(req.waiters, notify)
		req.mu.Unlock()
		g.mu.Unlock()

		result, err := g.wait(ctx, req, notify)
		return result, true, err
	}

	// No existing fetch: this caller leads
	req = &inflightFetch{}
	g.inFlight[key] = req
	g.mu.Unlock()

	// Run the fetch in its own goroutine so late arrivals share the outcome
	// even if the leader's context dies first.
	go func() {
		result, err := fn()

		req.mu.Lock()
		req.result = result
		req.err = err
		req.done = true
		waiters := req.waiters
		req.waiters = nil
		req.mu.Unlock()

		for _, notify := range waiters {
			close(notify)
		}

		g.mu.Lock()
		delete(g.inFlight, key)
		g.mu.Unlock()
	}()

	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		result, err := req.result, req.err
		req.mu.Unlock()
		return result, false, err
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	result, err = g.wait(ctx, req, notify)
	return result, false, err
}

// wait blocks until the fetch settles, the context is cancelled, or the
// group timeout elapses.
func (g *inflightGroup) wait(ctx context.Context, req *inflightFetch, notify chan struct{}) (models.WeatherPayload, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	select {
	case <-notify:
		req.mu.Lock()
		result, err := req.result, req.err
		req.mu.Unlock()
		return result, err
	case <-waitCtx.Done():
		return models.WeatherPayload{}, waitCtx.Err()
	}
}
