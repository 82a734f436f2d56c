package store

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	BackendJSON     = "json"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	CharactersCollection = "characters"
	ChatsCollection      = "chats"

	CharactersFile  = "characters.json"
	ChatHistoryFile = "chat_history.json"
	SQLiteFile      = "persona.db"
)

type Settings struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// Stores bundles the two collections the session works against.
type Stores struct {
	Characters CharacterStore
	Chats      ChatStore

	closers []func() error
}

func NewStores(characters CharacterStore, chats ChatStore) *Stores {
	return &Stores{Characters: characters, Chats: chats}
}

// NewInMemoryStores returns empty process-local stores.
func NewInMemoryStores() *Stores {
	return NewStores(
		NewInMemoryCollection[Character](CharactersCollection),
		NewInMemoryCollection[SavedChat](ChatsCollection),
	)
}

func (s *Stores) Close() error {
	var firstErr error
	for _, c := range []func() error{s.Characters.Close, s.Chats.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open builds the character and chat stores for the configured backend.
func Open(ctx context.Context, settings Settings) (*Stores, error) {
	dir := settings.Dir
	if dir == "" {
		dir = "."
	}

	log.Debug().Str("backend", settings.Backend).Str("dir", dir).Msg("Opening stores")

	switch settings.Backend {
	case "", BackendJSON:
		characters, err := NewJSONFileCollection[Character](CharactersCollection, filepath.Join(dir, CharactersFile))
		if err != nil {
			return nil, err
		}
		chats, err := NewJSONFileCollection[SavedChat](ChatsCollection, filepath.Join(dir, ChatHistoryFile))
		if err != nil {
			return nil, err
		}
		return NewStores(characters, chats), nil

	case BackendMemory:
		return NewInMemoryStores(), nil

	case BackendSQLite:
		dsn := settings.DSN
		if dsn == "" {
			var err error
			dsn, err = SQLiteDSNForFile(filepath.Join(dir, SQLiteFile))
			if err != nil {
				return nil, err
			}
		}
		db, err := OpenSQLiteDB(dsn)
		if err != nil {
			return nil, err
		}
		characters, err := NewSQLiteCollection[Character](db, CharactersCollection, false)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		chats, err := NewSQLiteCollection[SavedChat](db, ChatsCollection, false)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		ret := NewStores(characters, chats)
		ret.closers = append(ret.closers, db.Close)
		return ret, nil

	case BackendPostgres:
		pool, err := OpenPostgresPool(ctx, settings.DSN)
		if err != nil {
			return nil, err
		}
		characters, err := NewPostgresCollection[Character](ctx, pool, CharactersCollection, false)
		if err != nil {
			pool.Close()
			return nil, err
		}
		chats, err := NewPostgresCollection[SavedChat](ctx, pool, ChatsCollection, false)
		if err != nil {
			pool.Close()
			return nil, err
		}
		ret := NewStores(characters, chats)
		ret.closers = append(ret.closers, func() error {
			pool.Close()
			return nil
		})
		return ret, nil

	default:
		return nil, errors.Errorf("unknown store backend %q", settings.Backend)
	}
}
