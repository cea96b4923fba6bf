package identity

import (
	"sort"
	"sync"
)

// Hub fans auth events out to subscribers. Delivery is synchronous and in
// subscription order, so a subscriber always observes transitions in the
// order they happened.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for future events and returns a cancel func. The
// cancel func is safe to call more than once.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Publish delivers the event to every subscriber.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
