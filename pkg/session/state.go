package session

type State int

const (
	// StateDefault uses the built-in persona with no character bound.
	StateDefault State = iota
	// StateCharacterBound started from a Character's description and opening.
	StateCharacterBound
	// StateRestoredChat holds a saved transcript verbatim.
	StateRestoredChat
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "default"
	case StateCharacterBound:
		return "character-bound"
	case StateRestoredChat:
		return "restored-chat"
	}
	return "unknown"
}

// Status is the driver-facing summary of a session.
type Status struct {
	SessionID      string `json:"session_id"`
	State          string `json:"state"`
	CharacterID    *int64 `json:"character_id,omitempty"`
	CharacterTitle string `json:"character_title,omitempty"`
	Pending        bool   `json:"pending"`
	Length         int    `json:"length"`
	Failed         []int  `json:"failed,omitempty"`
}

// Notices drivers show for successful head-slot updates. They are status
// lines and never enter the transcript.
const (
	NoticeSystemPromptUpdated   = "System prompt updated!"
	NoticeOpeningMessageUpdated = "Initial AI message updated!"
)
