package mutation

import (
	"sort"
	"sync"
)

// Change is published to subscribers whenever a displayed value changes.
type Change[T any] struct {
	Target string
	Value  T
	// Present is false when the target was removed.
	Present bool
	State   State
}

// Store holds the displayed value of every target of one kind of entity.
type Store[T any] struct {
	mu      sync.RWMutex
	values  map[string]T
	subs    map[int]func(Change[T])
	nextSub int
}

// NewStore creates an empty Store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{
		values: make(map[string]T),
		subs:   make(map[int]func(Change[T])),
	}
}

// Get returns the displayed value of target.
func (s *Store[T]) Get(target string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[target]
	return v, ok
}

// Set replaces the displayed value with server data.
func (s *Store[T]) Set(target string, value T) {
	s.put(target, value, Idle)
}

// Delete removes target.
func (s *Store[T]) Delete(target string) {
	s.remove(target, Idle)
}

// Len returns the number of targets held.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the held targets in lexical order.
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subscribe registers fn for every change and returns a function that
// removes the subscription. fn runs outside the store lock.
func (s *Store[T]) Subscribe(fn func(Change[T])) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store[T]) put(target string, value T, state State) {
	s.mu.Lock()
	s.values[target] = value
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.publish(subs, Change[T]{Target: target, Value: value, Present: true, State: state})
}

func (s *Store[T]) remove(target string, state State) {
	s.mu.Lock()
	delete(s.values, target)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.publish(subs, Change[T]{Target: target, State: state})
}

func (s *Store[T]) subscribersLocked() []func(Change[T]) {
	subs := make([]func(Change[T]), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store[T]) publish(subs []func(Change[T]), c Change[T]) {
	for _, fn := range subs {
		fn(c)
	}
}
