package session

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/go-go-golems/persona/pkg/events"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager owns the active conversation of one chat session and mediates
// between drivers, the character and chat stores and the Fetcher.
//
// A Manager is not safe for concurrent use. Every call, including Deliver,
// has to happen on one serialization point: the bubbletea Update loop, a
// Loop, or a single test goroutine.
type Manager struct {
	id             string
	basePrompt     string
	openingMessage string

	characters store.CharacterStore
	chats      store.ChatStore
	fetcher    *Fetcher
	publisher  message.Publisher

	conv           *conversation.Conversation
	state          State
	characterID    *int64
	characterTitle string
	// failed holds the indices of assistant messages recorded for failed
	// fetches. It is reset whenever the conversation is replaced.
	failed map[int]bool

	pending *FetchHandle
}

type ManagerOption func(*Manager)

// WithBasePrompt sets the persona prompt of the default state and the prefix
// of every character system prompt.
func WithBasePrompt(prompt string) ManagerOption {
	return func(m *Manager) {
		m.basePrompt = prompt
	}
}

func WithOpeningMessage(text string) ManagerOption {
	return func(m *Manager) {
		m.openingMessage = text
	}
}

// WithPublisher publishes a TranscriptEvent after every mutation.
func WithPublisher(p message.Publisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithSessionID(id string) ManagerOption {
	return func(m *Manager) {
		m.id = id
	}
}

// WithConversation starts the session from an existing transcript, as if it
// had been restored.
func WithConversation(c *conversation.Conversation) ManagerOption {
	return func(m *Manager) {
		m.conv = c.Snapshot()
		m.state = StateRestoredChat
	}
}

func NewManager(
	characters store.CharacterStore,
	chats store.ChatStore,
	fetcher *Fetcher,
	options ...ManagerOption,
) *Manager {
	m := &Manager{
		id:             uuid.NewString(),
		basePrompt:     DefaultBasePrompt,
		openingMessage: DefaultOpeningMessage,
		characters:     characters,
		chats:          chats,
		fetcher:        fetcher,
		state:          StateDefault,
	}
	for _, o := range options {
		o(m)
	}
	if m.conv == nil {
		m.conv = conversation.New(m.basePrompt, m.openingMessage)
	}
	m.publish(events.EventTypeReset, nil)
	return m
}

func (m *Manager) ID() string {
	return m.id
}

func (m *Manager) BasePrompt() string {
	return m.basePrompt
}

// Transcript returns a snapshot of the active conversation.
func (m *Manager) Transcript() *conversation.Conversation {
	return m.conv.Snapshot()
}

func (m *Manager) State() State {
	return m.state
}

func (m *Manager) Status() Status {
	return Status{
		SessionID:      m.id,
		State:          m.state.String(),
		CharacterID:    copyID(m.characterID),
		CharacterTitle: m.characterTitle,
		Pending:        m.pending != nil,
		Length:         m.conv.Len(),
		Failed:         m.failedIndices(),
	}
}

// Failed reports whether the message at index records a failed fetch rather
// than a reply. Replies that merely look like an error marker are not
// flagged.
func (m *Manager) Failed(index int) bool {
	return m.failed[index]
}

func (m *Manager) failedIndices() []int {
	if len(m.failed) == 0 {
		return nil
	}
	ret := make([]int, 0, len(m.failed))
	for i := range m.failed {
		ret = append(ret, i)
	}
	sort.Ints(ret)
	return ret
}

// Pending returns the outstanding fetch, or nil.
func (m *Manager) Pending() *FetchHandle {
	return m.pending
}

// SubmitHumanMessage appends text as a human message and starts a fetch for
// the reply. Blank text is ignored and yields a nil handle.
func (m *Manager) SubmitHumanMessage(ctx context.Context, text string) (*FetchHandle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if m.pending != nil {
		return nil, ErrFetchPending
	}

	m.conv.Append(conversation.RoleHuman, text)
	m.publish(events.EventTypeAppend, nil)

	m.pending = m.fetcher.Start(ctx, m.conv.Snapshot().Messages())
	log.Debug().Str("session_id", m.id).Str("fetch_id", m.pending.ID).Int("length", m.conv.Len()).Msg("Started fetch")
	m.publish(events.EventTypeFetchStarted, nil)

	return m.pending, nil
}

// Deliver records the outcome of the pending fetch: the reply on success,
// an inline error marker otherwise. Either way exactly one assistant message
// is appended.
func (m *Manager) Deliver(result FetchResult) error {
	if m.pending == nil || result.FetchID != m.pending.ID {
		log.Warn().Str("session_id", m.id).Str("fetch_id", result.FetchID).Msg("Dropping stale fetch result")
		return ErrStaleResult
	}
	m.pending = nil

	if result.Err != nil {
		if m.failed == nil {
			m.failed = map[int]bool{}
		}
		m.failed[m.conv.Len()] = true
		m.conv.Append(conversation.RoleAssistant, ErrorMarker(result.Err))
		m.publish(events.EventTypeFetchDone, result.Err)
		return nil
	}

	m.conv.Append(conversation.RoleAssistant, result.Reply)
	m.publish(events.EventTypeFetchDone, nil)
	return nil
}

// BindCharacter resets the conversation to the character's system prompt
// and opening line. An unknown id leaves everything unchanged and returns an
// error wrapping store.ErrNotFound.
func (m *Manager) BindCharacter(ctx context.Context, id int64) error {
	if m.pending != nil {
		return ErrFetchPending
	}
	c, err := m.characters.FindByID(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "could not bind character %d", id)
	}

	m.conv = conversation.New(CharacterSystemPrompt(m.basePrompt, c.Description), c.InitialMessage)
	m.state = StateCharacterBound
	m.failed = nil
	cid := c.ID
	m.characterID = &cid
	m.characterTitle = c.Title

	log.Info().Str("session_id", m.id).Int64("character_id", c.ID).Str("title", c.Title).Msg("Bound character")
	m.publish(events.EventTypeReset, nil)
	return nil
}

// RestoreChat replaces the conversation with a saved transcript verbatim and
// adopts its character binding.
func (m *Manager) RestoreChat(ctx context.Context, id int64) error {
	if m.pending != nil {
		return ErrFetchPending
	}
	chat, err := m.chats.FindByID(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "could not restore chat %d", id)
	}

	if chat.Conversation == nil {
		m.conv = conversation.FromMessages(nil)
	} else {
		m.conv = chat.Conversation.Snapshot()
	}
	m.state = StateRestoredChat
	m.failed = nil
	m.characterID = copyID(chat.CharacterID)
	m.characterTitle = ""
	if chat.CharacterID != nil {
		m.characterTitle = chat.CharacterTitle
	}

	log.Info().Str("session_id", m.id).Int64("chat_id", chat.ID).Int("length", m.conv.Len()).Msg("Restored chat")
	m.publish(events.EventTypeReset, nil)
	return nil
}

// SaveCurrent appends a snapshot of the conversation to the chat store.
func (m *Manager) SaveCurrent(ctx context.Context, title string) (store.SavedChat, error) {
	if m.pending != nil {
		return store.SavedChat{}, ErrFetchPending
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Chat " + time.Now().Format("2006-01-02 15:04")
	}

	chat := store.SavedChat{
		ID:             store.NextID(),
		Title:          title,
		Conversation:   m.conv.Snapshot(),
		CharacterID:    copyID(m.characterID),
		CharacterTitle: m.characterTitle,
	}
	if err := m.chats.Append(ctx, chat); err != nil {
		return store.SavedChat{}, errors.Wrap(err, "could not save chat")
	}

	log.Info().Str("session_id", m.id).Int64("chat_id", chat.ID).Str("title", chat.Title).Msg("Saved chat")
	e := m.event(events.EventTypeSaved, nil)
	e.ChatID = chat.ID
	events.PublishBlind(m.publisher, e)
	return chat, nil
}

// UpdateSystemPrompt rewrites slot 0. It reports false when text is blank
// and nothing changed.
func (m *Manager) UpdateSystemPrompt(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	m.conv.ReplaceSystemPrompt(text)
	m.publish(events.EventTypeUpdate, nil)
	return true
}

// UpdateOpeningMessage rewrites the assistant opening in slot 1. It reports
// false when text is blank and nothing changed.
func (m *Manager) UpdateOpeningMessage(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	m.conv.ReplaceOpeningMessage(text)
	m.publish(events.EventTypeUpdate, nil)
	return true
}

// NewCharacter trims the fields of a new character and assigns it a fresh
// id. A blank title yields ErrCharacterTitleRequired.
func NewCharacter(title, description, initialMessage string) (store.Character, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Character{}, ErrCharacterTitleRequired
	}
	return store.Character{
		ID:             store.NextID(),
		Title:          title,
		Description:    strings.TrimSpace(description),
		InitialMessage: strings.TrimSpace(initialMessage),
	}, nil
}

// CreateCharacter stores a new character built by NewCharacter.
func (m *Manager) CreateCharacter(ctx context.Context, title, description, initialMessage string) (store.Character, error) {
	c, err := NewCharacter(title, description, initialMessage)
	if err != nil {
		return store.Character{}, err
	}
	if err := m.characters.Append(ctx, c); err != nil {
		return store.Character{}, errors.Wrap(err, "could not save character")
	}
	log.Info().Int64("character_id", c.ID).Str("title", c.Title).Msg("Created character")
	return c, nil
}

func (m *Manager) ListCharacters(ctx context.Context) ([]store.Character, error) {
	return m.characters.List(ctx)
}

// ListChats lists saved chats, only those bound to characterID when it is
// not nil.
func (m *Manager) ListChats(ctx context.Context, characterID *int64) ([]store.SavedChat, error) {
	if characterID != nil {
		return store.ChatsForCharacter(ctx, m.chats, *characterID)
	}
	return m.chats.List(ctx)
}

// Close cancels an outstanding fetch. Its result is never delivered.
func (m *Manager) Close() {
	if m.pending != nil {
		m.pending.Cancel()
		m.pending = nil
	}
}

func (m *Manager) event(t events.EventType, err error) *events.TranscriptEvent {
	e := &events.TranscriptEvent{
		Type:           t,
		SessionID:      m.id,
		State:          m.state.String(),
		CharacterID:    copyID(m.characterID),
		CharacterTitle: m.characterTitle,
		Pending:        m.pending != nil,
		Messages:       m.conv.Messages(),
		Failed:         m.failedIndices(),
		Time:           time.Now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (m *Manager) publish(t events.EventType, err error) {
	if m.publisher == nil {
		return
	}
	events.PublishBlind(m.publisher, m.event(t, err))
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
