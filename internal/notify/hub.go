// Package notify fans events out to any number of subscribers.
package notify

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 16

// Hub delivers published values to every current subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the value.
type Hub[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]chan T
	next    uint64
	dropped atomic.Uint64
	closed  bool
}

// NewHub creates an empty hub
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters
// it and closes the channel; it is safe to call more than once.
func (h *Hub[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers v to all subscribers without blocking
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}

// Len returns the number of subscribers
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unregisters and closes every subscriber
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
