package store

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Record is anything a Collection can hold. Ids are supplied by the caller
// and are not checked for uniqueness.
type Record interface {
	RecordID() int64
}

// Collection is an append-only list of records.
//
// List never fails because the backing medium is missing or unreadable; such
// media read as an empty collection. FindByID returns the first record with
// the given id, or an error wrapping ErrNotFound.
type Collection[T Record] interface {
	List(ctx context.Context) ([]T, error)
	Append(ctx context.Context, item T) error
	FindByID(ctx context.Context, id int64) (T, error)
	Close() error
}

func findFirst[T Record](items []T, id int64) (T, bool) {
	for _, item := range items {
		if item.RecordID() == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}
