package httpserver

import (
	"io"
	"sync"

	"commercetools-storefront/internal/storefront"
	"github.com/gin-gonic/gin"
)

type streamEvent struct {
	name string
	data gin.H
}

// eventQueue holds the latest payload per event name until the stream
// writes it. A burst of changes collapses to the final state.
type eventQueue struct {
	mu      sync.Mutex
	order   []string
	pending map[string]gin.H
	ready   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{pending: map[string]gin.H{}, ready: make(chan struct{}, 1)}
}

func (q *eventQueue) publish(name string, data gin.H) {
	q.mu.Lock()
	if _, ok := q.pending[name]; !ok {
		q.order = append(q.order, name)
	}
	q.pending[name] = data
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain returns pending events in first-published order and empties the queue.
func (q *eventQueue) drain() []streamEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]streamEvent, 0, len(q.order))
	for _, name := range q.order {
		out = append(out, streamEvent{name: name, data: q.pending[name]})
	}
	q.order = q.order[:0]
	clear(q.pending)
	return out
}

// eventsHandler streams cart emptiness and login status changes of the
// caller's storefront as server-sent events. Each stream starts with the
// current state of both. The storefront stays pinned in the registry while
// the stream is open.
func eventsHandler(registry *storefront.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sf, release := registry.Pin(storefrontFrom(c).ID)
		defer release()
		ctx := c.Request.Context()

		queue := newEventQueue()
		listenerID := sf.Session.OnLoginStatusChange(func(loggedIn bool) {
			queue.publish("session", gin.H{"loggedIn": loggedIn})
		})
		defer sf.Session.OffLoginStatusChange(listenerID)

		queue.publish("session", gin.H{"loggedIn": sf.Session.Loginned(ctx)})
		unsubscribe := sf.Carts.Subscribe(ctx, func(empty bool) {
			queue.publish("cart", gin.H{"empty": empty})
		})
		defer unsubscribe()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Stream(func(io.Writer) bool {
			if events := queue.drain(); len(events) > 0 {
				for _, ev := range events {
					c.SSEvent(ev.name, ev.data)
				}
				return true
			}
			select {
			case <-queue.ready:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}
}
