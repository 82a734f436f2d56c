package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const postgresCollectionSchema = `
CREATE TABLE IF NOT EXISTS %s (
    seq BIGSERIAL PRIMARY KEY,
    id BIGINT NOT NULL,
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const postgresCollectionIndex = `CREATE INDEX IF NOT EXISTS %s_id_idx ON %s (id)`

// PostgresCollection stores one JSONB payload per row, in insertion order.
type PostgresCollection[T Record] struct {
	mu       sync.RWMutex
	name     string
	pool     *pgxpool.Pool
	ownsPool bool
	closed   bool
}

var _ Collection[SavedChat] = (*PostgresCollection[SavedChat])(nil)

func OpenPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("postgres store: empty dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres store: could not connect")
	}
	return pool, nil
}

func NewPostgresCollection[T Record](ctx context.Context, pool *pgxpool.Pool, name string, ownsPool bool) (*PostgresCollection[T], error) {
	if pool == nil {
		return nil, errors.New("postgres store: pool is nil")
	}
	if !tableNameRegexp.MatchString(name) {
		return nil, errors.Errorf("postgres store: invalid collection name %q", name)
	}
	for _, stmt := range []string{
		fmt.Sprintf(postgresCollectionSchema, name),
		fmt.Sprintf(postgresCollectionIndex, name, name),
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, errors.Wrapf(err, "postgres store: could not migrate %s", name)
		}
	}
	return &PostgresCollection[T]{
		name:     name,
		pool:     pool,
		ownsPool: ownsPool,
	}, nil
}

func (s *PostgresCollection[T]) List(ctx context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT payload FROM %s ORDER BY seq ASC`, s.name))
	if err != nil {
		log.Warn().Err(err).Str("store", s.name).Msg("Could not query store, treating it as empty")
		return []T{}, nil
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		if item, ok := decodePayload[T](s.name, payload); ok {
			items = append(items, item)
		}
	}
	return items, rows.Err()
}

func (s *PostgresCollection[T]) FindByID(ctx context.Context, id int64) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero T
	if s.closed {
		return zero, ErrStoreClosed
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1 ORDER BY seq ASC`, s.name), id)
	if err != nil {
		return zero, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return zero, err
		}
		if item, ok := decodePayload[T](s.name, payload); ok {
			return item, nil
		}
	}
	if err := rows.Err(); err != nil {
		return zero, err
	}
	return zero, errors.Wrapf(ErrNotFound, "%s %d", s.name, id)
}

func (s *PostgresCollection[T]) Append(ctx context.Context, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, payload) VALUES ($1, $2)`, s.name),
		item.RecordID(), payload)
	return err
}

func (s *PostgresCollection[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}
