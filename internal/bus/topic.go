// Package bus is the in-process publish/subscribe fabric between the sensor
// adapters and the mission loop. A Topic holds only its latest value;
// readers copy it out without blocking.
package bus

import "sync"

// Topic is a latest-value slot for one message type.
type Topic[T any] struct {
	mu      sync.Mutex
	name    string
	value   T
	version uint64
}

// NewTopic returns an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Publish replaces the topic value.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	t.value = v
	t.version++
	t.mu.Unlock()
}

// Latest returns the current value and whether anything was ever published.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.version > 0
}

// Reader tracks what one consumer has already seen of a topic.
type Reader[T any] struct {
	topic *Topic[T]
	seen  uint64
}

// Reader returns a consumer cursor positioned before any future publish.
func (t *Topic[T]) Reader() *Reader[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Reader[T]{topic: t, seen: t.version}
}

// Poll returns the latest value if it was published since the previous Poll.
// Intermediate values are skipped.
func (r *Reader[T]) Poll() (T, bool) {
	t := r.topic
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.version == r.seen {
		var zero T
		return zero, false
	}
	r.seen = t.version
	return t.value, true
}

// PollPtr is Poll returning a pointer to a copy, or nil when nothing is new.
func (r *Reader[T]) PollPtr() *T {
	v, ok := r.Poll()
	if !ok {
		return nil
	}
	return &v
}
