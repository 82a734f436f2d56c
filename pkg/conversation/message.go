package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleHuman     Role = "human"
)

var ErrUnknownRole = errors.New("unknown role")

// Roles lists every valid role, in slot order.
var Roles = []Role{RoleSystem, RoleAssistant, RoleHuman}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSystem, RoleAssistant, RoleHuman:
		return Role(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownRole, "%q", s)
	}
}

func (r Role) String() string {
	return string(r)
}

func (r Role) MarshalText() ([]byte, error) {
	if _, err := ParseRole(string(r)); err != nil {
		return nil, err
	}
	return []byte(r), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is a single role-tagged entry of a Conversation.
//
// On disk a message is a two element array ["role", "text"]. The decoder also
// accepts the object form {"role": ..., "text": ...}.
type Message struct {
	Role Role   `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

func NewMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text, "\n"))
}

func (m Message) MarshalJSON() ([]byte, error) {
	role, err := m.Role.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal([2]string{string(role), m.Text})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var pair []string
		if err := json.Unmarshal(b, &pair); err != nil {
			return errors.Wrap(err, "could not decode message pair")
		}
		if len(pair) != 2 {
			return errors.Errorf("message pair must have 2 elements, got %d", len(pair))
		}
		role, err := ParseRole(pair[0])
		if err != nil {
			return err
		}
		m.Role = role
		m.Text = pair[1]
		return nil
	}

	type alias Message
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return errors.Wrap(err, "could not decode message")
	}
	if _, err := ParseRole(string(a.Role)); err != nil {
		return err
	}
	*m = Message(a)
	return nil
}

func (m *Message) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var pair []string
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return errors.Errorf("message pair must have 2 elements, got %d", len(pair))
		}
		role, err := ParseRole(pair[0])
		if err != nil {
			return err
		}
		m.Role = role
		m.Text = pair[1]
		return nil
	}

	type alias Message
	var a alias
	if err := value.Decode(&a); err != nil {
		return err
	}
	if _, err := ParseRole(string(a.Role)); err != nil {
		return err
	}
	*m = Message(a)
	return nil
}
