package store

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// JSONFileCollection persists a collection as a single JSON array on disk.
//
// Append rewrites the whole file. The mutex is held across the
// read-modify-write cycle, so writers sharing one JSONFileCollection never lose
// each other's records. Separate processes writing the same file still can.
type JSONFileCollection[T Record] struct {
	mu     sync.Mutex
	name   string
	path   string
	closed bool
}

var _ Collection[Character] = (*JSONFileCollection[Character])(nil)

func NewJSONFileCollection[T Record](name string, path string) (*JSONFileCollection[T], error) {
	if path == "" {
		return nil, errors.Errorf("json %s store path is required", name)
	}
	return &JSONFileCollection[T]{
		name: name,
		path: path,
	}, nil
}

func (s *JSONFileCollection[T]) Path() string {
	return s.path
}

func (s *JSONFileCollection[T]) List(_ context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.loadLocked(), nil
}

func (s *JSONFileCollection[T]) FindByID(ctx context.Context, id int64) (T, error) {
	items, err := s.List(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	item, ok := findFirst(items, id)
	if !ok {
		return item, errors.Wrapf(ErrNotFound, "%s %d", s.name, id)
	}
	return item, nil
}

func (s *JSONFileCollection[T]) Append(_ context.Context, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	items := s.loadLocked()
	items = append(items, item)
	if err := s.persistLocked(items); err != nil {
		return errors.Wrapf(err, "could not write %s store %s", s.name, s.path)
	}

	log.Debug().
		Str("store", s.name).
		Int64("id", item.RecordID()).
		Int("count", len(items)).
		Msg("Appended record")
	return nil
}

func (s *JSONFileCollection[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// loadLocked reads the file. Missing, unreadable or malformed files read as
// an empty collection; the last two are logged.
func (s *JSONFileCollection[T]) loadLocked() []T {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("store", s.name).Str("path", s.path).
				Msg("Could not read store, treating it as empty")
		}
		return []T{}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []T{}
	}

	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		log.Warn().Err(err).Str("store", s.name).Str("path", s.path).
			Msg("Store is corrupt, treating it as empty")
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

func (s *JSONFileCollection[T]) persistLocked(items []T) error {
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
