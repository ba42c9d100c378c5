// Package fanout delivers published values to in-process subscribers without
// ever blocking the publisher.
package fanout

import "sync"

// Hub fans values out to subscribers. A subscriber that falls behind loses
// its oldest queued value, so it always ends up holding the latest one. The
// zero value is ready to use with a one-slot buffer and no copying.
type Hub[T any] struct {
	buffer int
	copy   func(T) T

	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
}

// NewHub returns a hub whose subscribers buffer up to buffer values. When
// copyFn is set every subscriber receives its own copy of a published value.
func NewHub[T any](buffer int, copyFn func(T) T) *Hub[T] {
	return &Hub[T]{buffer: buffer, copy: copyFn}
}

// Subscribe registers a subscriber. The returned func releases it and may be
// called more than once.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	size := h.buffer
	if size <= 0 {
		size = 1
	}
	ch := make(chan T, size)

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]chan T)
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish hands v to every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		value := v
		if h.copy != nil {
			value = h.copy(v)
		}
		select {
		case ch <- value:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- value
		}
	}
}

// Len reports the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
