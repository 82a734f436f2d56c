package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const TopicTranscript = "transcript"

type EventType string

const (
	// EventTypeReset is sent when the whole transcript was replaced (session
	// start, character bind, chat restore).
	EventTypeReset EventType = "reset"
	// EventTypeAppend is sent for every message added at the end.
	EventTypeAppend EventType = "append"
	// EventTypeUpdate is sent when a reserved head slot was rewritten.
	EventTypeUpdate       EventType = "update"
	EventTypeFetchStarted EventType = "fetch-started"
	EventTypeFetchDone    EventType = "fetch-done"
	EventTypeSaved        EventType = "saved"
)

// TranscriptEvent carries the full transcript after a mutation, so
// subscribers never need to replay earlier events.
type TranscriptEvent struct {
	Type           EventType              `json:"type"`
	SessionID      string                 `json:"session_id"`
	State          string                 `json:"state"`
	CharacterID    *int64                 `json:"character_id,omitempty"`
	CharacterTitle string                 `json:"character_title,omitempty"`
	Pending        bool                   `json:"pending"`
	Messages       []conversation.Message `json:"messages"`
	Failed         []int                  `json:"failed,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ChatID         int64                  `json:"chat_id,omitempty"`
	Time           time.Time              `json:"time"`
}

func NewTranscriptEventFromJSON(b []byte) (*TranscriptEvent, error) {
	var e TranscriptEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not decode transcript event")
	}
	if e.Type == "" {
		return nil, errors.New("transcript event has no type")
	}
	return &e, nil
}

// Publish sends e on TopicTranscript. A nil publisher is a no-op.
func Publish(p message.Publisher, e *TranscriptEvent) error {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "could not encode transcript event")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	return p.Publish(TopicTranscript, msg)
}

// PublishBlind logs instead of returning publish failures.
func PublishBlind(p message.Publisher, e *TranscriptEvent) {
	if err := Publish(p, e); err != nil {
		log.Warn().Err(err).Str("type", string(e.Type)).Msg("failed to publish transcript event")
	}
}
