package store

import (
	"context"
	"sync"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

// InMemoryCollection is a thread-safe Collection that lives for the process
// lifetime. Records are deep-copied on the way in and out.
type InMemoryCollection[T Record] struct {
	mu     sync.RWMutex
	name   string
	items  []T
	closed bool
}

var _ Collection[SavedChat] = (*InMemoryCollection[SavedChat])(nil)

func NewInMemoryCollection[T Record](name string, items ...T) *InMemoryCollection[T] {
	ret := &InMemoryCollection[T]{name: name}
	for _, item := range items {
		ret.items = append(ret.items, cloneRecord(item))
	}
	return ret
}

func (s *InMemoryCollection[T]) List(_ context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, cloneRecord(item))
	}
	return out, nil
}

func (s *InMemoryCollection[T]) FindByID(_ context.Context, id int64) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		var zero T
		return zero, ErrStoreClosed
	}
	item, ok := findFirst(s.items, id)
	if !ok {
		return item, errors.Wrapf(ErrNotFound, "%s %d", s.name, id)
	}
	return cloneRecord(item), nil
}

func (s *InMemoryCollection[T]) Append(_ context.Context, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.items = append(s.items, cloneRecord(item))
	return nil
}

func (s *InMemoryCollection[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRecord[T Record](item T) T {
	return clone.Clone(item).(T)
}
