package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const sqliteCollectionSchema = `
CREATE TABLE IF NOT EXISTS %s (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id INTEGER NOT NULL,
    payload_json TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL DEFAULT 0
);
`

const sqliteCollectionIndex = `CREATE INDEX IF NOT EXISTS %s_id_idx ON %s (id)`

var tableNameRegexp = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLiteCollection keeps one JSON payload per row, in insertion order.
//
// Rows that fail to decode are skipped with a warning rather than failing
// the whole listing.
type SQLiteCollection[T Record] struct {
	mu     sync.RWMutex
	name   string
	db     *sql.DB
	ownsDB bool
	closed bool
}

var _ Collection[Character] = (*SQLiteCollection[Character])(nil)

// OpenSQLiteDB opens a sqlite database for use by one or more collections.
func OpenSQLiteDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	return sql.Open("sqlite3", dsn)
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout for path.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

// NewSQLiteCollection creates the table for name in db if needed. If ownsDB
// is set, Close also closes db.
func NewSQLiteCollection[T Record](db *sql.DB, name string, ownsDB bool) (*SQLiteCollection[T], error) {
	if db == nil {
		return nil, errors.New("sqlite store: db is nil")
	}
	if !tableNameRegexp.MatchString(name) {
		return nil, errors.Errorf("sqlite store: invalid collection name %q", name)
	}
	s := &SQLiteCollection[T]{
		name:   name,
		db:     db,
		ownsDB: ownsDB,
	}
	for _, stmt := range []string{
		fmt.Sprintf(sqliteCollectionSchema, name),
		fmt.Sprintf(sqliteCollectionIndex, name, name),
	} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: could not migrate %s", name)
		}
	}
	return s, nil
}

func (s *SQLiteCollection[T]) List(ctx context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT payload_json FROM %s ORDER BY seq ASC`, s.name))
	if err != nil {
		log.Warn().Err(err).Str("store", s.name).Msg("Could not query store, treating it as empty")
		return []T{}, nil
	}
	defer func() {
		_ = rows.Close()
	}()

	items := []T{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		if item, ok := decodePayload[T](s.name, []byte(payload)); ok {
			items = append(items, item)
		}
	}
	return items, rows.Err()
}

func (s *SQLiteCollection[T]) FindByID(ctx context.Context, id int64) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero T
	if s.closed {
		return zero, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT payload_json FROM %s WHERE id = ? ORDER BY seq ASC`, s.name), id)
	if err != nil {
		return zero, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return zero, err
		}
		if item, ok := decodePayload[T](s.name, []byte(payload)); ok {
			return item, nil
		}
	}
	if err := rows.Err(); err != nil {
		return zero, err
	}
	return zero, errors.Wrapf(ErrNotFound, "%s %d", s.name, id)
}

func (s *SQLiteCollection[T]) Append(ctx context.Context, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, payload_json, created_at_ms) VALUES (?, ?, ?)`, s.name),
		item.RecordID(), string(payload), time.Now().UnixMilli())
	return err
}

func (s *SQLiteCollection[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func decodePayload[T Record](name string, payload []byte) (T, bool) {
	var item T
	if err := json.Unmarshal(payload, &item); err != nil {
		log.Warn().Err(err).Str("store", name).Msg("Skipping corrupt record")
		return item, false
	}
	return item, true
}
