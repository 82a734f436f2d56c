package store

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/persona/pkg/conversation"
)

// Character is a reusable persona template.
type Character struct {
	ID             int64  `json:"id" yaml:"id"`
	Title          string `json:"title" yaml:"title"`
	Description    string `json:"description" yaml:"description"`
	InitialMessage string `json:"initial_message" yaml:"initial_message"`
}

func (c Character) RecordID() int64 { return c.ID }

// SavedChat is a frozen copy of a conversation, optionally tagged with the
// character it was bound to when saved.
type SavedChat struct {
	ID             int64                      `json:"id"`
	Title          string                     `json:"title"`
	Conversation   *conversation.Conversation `json:"conversation"`
	CharacterID    *int64                     `json:"character_id"`
	CharacterTitle string                     `json:"character_title"`
}

func (s SavedChat) RecordID() int64 { return s.ID }

type CharacterStore = Collection[Character]
type ChatStore = Collection[SavedChat]

// ChatsForCharacter lists the saved chats bound to characterID.
func ChatsForCharacter(ctx context.Context, chats ChatStore, characterID int64) ([]SavedChat, error) {
	all, err := chats.List(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]SavedChat, 0, len(all))
	for _, c := range all {
		if c.CharacterID != nil && *c.CharacterID == characterID {
			ret = append(ret, c)
		}
	}
	return ret, nil
}

var (
	idMu   sync.Mutex
	lastID int64
)

// NextID returns a creation timestamp in unix milliseconds, bumped so that
// ids handed out by this process are strictly increasing.
func NextID() int64 {
	idMu.Lock()
	defer idMu.Unlock()
	id := time.Now().UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return id
}
