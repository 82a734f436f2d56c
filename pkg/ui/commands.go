package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-go-golems/persona/pkg/session"
	"github.com/pkg/errors"
)

const commandHelp = `/bind <id>        start over with a character
/restore <id>     load a saved chat
/save [title]     save the current chat
/system <text>    replace the system prompt
/opening <text>   replace the opening message
/characters       list characters
/chats [all]      list saved chats (of the bound character unless "all")
/export <file>    write the transcript to a .json or .yaml file
/status           show the session state
/quit             leave`

// Outcome is what a line of input did to the session.
type Outcome struct {
	// Notice is a status line for the user, never part of the transcript.
	Notice string
	// Fetch is set when the line was submitted as a human message.
	Fetch *session.FetchHandle
	Quit  bool
}

// Execute interprets one line of input. Lines starting with a slash are
// commands, everything else is submitted as a human message. It must run on
// the serialization point that owns m.
func Execute(ctx context.Context, m *session.Manager, line string) (Outcome, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		h, err := m.SubmitHumanMessage(ctx, line)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Fetch: h}, nil
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(trimmed, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "bind":
		id, err := parseID(arg)
		if err != nil {
			return Outcome{}, err
		}
		if err := m.BindCharacter(ctx, id); err != nil {
			return Outcome{}, err
		}
		st := m.Status()
		return Outcome{Notice: fmt.Sprintf("Now talking to %s.", st.CharacterTitle)}, nil

	case "restore":
		id, err := parseID(arg)
		if err != nil {
			return Outcome{}, err
		}
		if err := m.RestoreChat(ctx, id); err != nil {
			return Outcome{}, err
		}
		return Outcome{Notice: fmt.Sprintf("Restored chat %d.", id)}, nil

	case "save":
		chat, err := m.SaveCurrent(ctx, arg)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Notice: fmt.Sprintf("Saved chat %d (%s).", chat.ID, chat.Title)}, nil

	case "system":
		if m.UpdateSystemPrompt(arg) {
			return Outcome{Notice: session.NoticeSystemPromptUpdated}, nil
		}
		return Outcome{}, nil

	case "opening":
		if m.UpdateOpeningMessage(arg) {
			return Outcome{Notice: session.NoticeOpeningMessageUpdated}, nil
		}
		return Outcome{}, nil

	case "characters":
		chars, err := m.ListCharacters(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if len(chars) == 0 {
			return Outcome{Notice: "No characters yet."}, nil
		}
		lines := make([]string, 0, len(chars))
		for _, c := range chars {
			lines = append(lines, fmt.Sprintf("%d  %s", c.ID, c.Title))
		}
		return Outcome{Notice: strings.Join(lines, "\n")}, nil

	case "chats":
		var filter *int64
		if arg != "all" {
			filter = m.Status().CharacterID
		}
		chats, err := m.ListChats(ctx, filter)
		if err != nil {
			return Outcome{}, err
		}
		if len(chats) == 0 {
			return Outcome{Notice: "No saved chats."}, nil
		}
		lines := make([]string, 0, len(chats))
		for _, c := range chats {
			line := fmt.Sprintf("%d  %s", c.ID, c.Title)
			if c.CharacterTitle != "" {
				line += "  [" + c.CharacterTitle + "]"
			}
			lines = append(lines, line)
		}
		return Outcome{Notice: strings.Join(lines, "\n")}, nil

	case "export":
		if arg == "" {
			return Outcome{}, errors.New("usage: /export <file>")
		}
		if err := m.Transcript().SaveToFile(arg); err != nil {
			return Outcome{}, err
		}
		return Outcome{Notice: "Transcript written to " + arg}, nil

	case "status":
		st := m.Status()
		notice := fmt.Sprintf("state=%s messages=%d pending=%t", st.State, st.Length, st.Pending)
		if st.CharacterID != nil {
			notice += fmt.Sprintf(" character=%d (%s)", *st.CharacterID, st.CharacterTitle)
		}
		return Outcome{Notice: notice}, nil

	case "help":
		return Outcome{Notice: commandHelp}, nil

	case "quit", "exit":
		return Outcome{Quit: true}, nil
	}

	return Outcome{}, errors.Errorf("unknown command /%s, try /help", name)
}

func parseID(arg string) (int64, error) {
	if arg == "" {
		return 0, errors.New("an id is required")
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid id %q", arg)
	}
	return id, nil
}
