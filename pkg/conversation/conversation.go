// Package conversation holds the ordered, role-tagged transcript of a chat.
//
// A Conversation reserves its two head slots: index 0 is the system prompt
// and index 1, when it carries the assistant role, is the opening line of the
// persona. Both can be replaced in place. Everything after them is
// append-only.
package conversation

import (
	"encoding/json"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

const (
	SystemSlot  = 0
	OpeningSlot = 1
)

type Conversation struct {
	messages []Message
}

// New returns a fresh conversation seeded with a system prompt and an
// assistant opening message.
func New(systemPrompt string, opening string) *Conversation {
	return &Conversation{
		messages: []Message{
			NewMessage(RoleSystem, systemPrompt),
			NewMessage(RoleAssistant, opening),
		},
	}
}

// FromMessages builds a conversation holding a copy of msgs, verbatim.
func FromMessages(msgs []Message) *Conversation {
	ret := &Conversation{messages: make([]Message, len(msgs))}
	copy(ret.messages, msgs)
	return ret
}

func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.messages)
}

// At returns the message at index i.
func (c *Conversation) At(i int) (Message, bool) {
	if c == nil || i < 0 || i >= len(c.messages) {
		return Message{}, false
	}
	return c.messages[i], true
}

// Last returns the final message, if any.
func (c *Conversation) Last() (Message, bool) {
	return c.At(c.Len() - 1)
}

// Messages returns a copy of the ordered message sequence.
func (c *Conversation) Messages() []Message {
	if c == nil {
		return nil
	}
	ret := make([]Message, len(c.messages))
	copy(ret, c.messages)
	return ret
}

func (c *Conversation) Append(role Role, text string) {
	c.messages = append(c.messages, NewMessage(role, text))
}

// ReplaceSystemPrompt overwrites slot 0 if it is a system message, and
// inserts a new system message at position 0 otherwise.
func (c *Conversation) ReplaceSystemPrompt(text string) {
	if len(c.messages) > SystemSlot && c.messages[SystemSlot].Role == RoleSystem {
		c.messages[SystemSlot].Text = text
		return
	}
	c.insert(SystemSlot, NewMessage(RoleSystem, text))
}

// ReplaceOpeningMessage overwrites slot 1 if it is an assistant message, and
// inserts a new assistant message at position 1 otherwise. On an empty
// conversation the message lands at position 0.
func (c *Conversation) ReplaceOpeningMessage(text string) {
	if len(c.messages) > OpeningSlot && c.messages[OpeningSlot].Role == RoleAssistant {
		c.messages[OpeningSlot].Text = text
		return
	}
	c.insert(OpeningSlot, NewMessage(RoleAssistant, text))
}

func (c *Conversation) insert(idx int, msg Message) {
	if idx > len(c.messages) {
		idx = len(c.messages)
	}
	c.messages = append(c.messages, Message{})
	copy(c.messages[idx+1:], c.messages[idx:])
	c.messages[idx] = msg
}

// Snapshot returns a deep copy that shares no memory with c.
func (c *Conversation) Snapshot() *Conversation {
	if c == nil {
		return &Conversation{}
	}
	return clone.Clone(c).(*Conversation)
}

// Equal reports whether both conversations hold the same role/text sequence.
func (c *Conversation) Equal(other *Conversation) bool {
	if c.Len() != other.Len() {
		return false
	}
	for i := 0; i < c.Len(); i++ {
		if c.messages[i] != other.messages[i] {
			return false
		}
	}
	return true
}

func (c *Conversation) MarshalJSON() ([]byte, error) {
	msgs := c.Messages()
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(msgs)
}

func (c *Conversation) UnmarshalJSON(b []byte) error {
	var msgs []Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return err
	}
	c.messages = msgs
	return nil
}

func (c *Conversation) MarshalYAML() (interface{}, error) {
	return c.Messages(), nil
}

func (c *Conversation) UnmarshalYAML(value *yaml.Node) error {
	var msgs []Message
	if err := value.Decode(&msgs); err != nil {
		return err
	}
	c.messages = msgs
	return nil
}
