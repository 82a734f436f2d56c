package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SelectPrevMessage key.Binding
	SelectNextMessage key.Binding
	UnfocusMessage    key.Binding
	FocusMessage      key.Binding
	SubmitMessage     key.Binding
	ScrollUp          key.Binding
	ScrollDown        key.Binding
	CancelCompletion  key.Binding
	SaveToFile        key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SelectPrevMessage: key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "previous message")),
	SelectNextMessage: key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "next message")),
	UnfocusMessage:    key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "browse messages")),
	FocusMessage:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "write")),
	SubmitMessage:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "send")),
	ScrollUp:          key.NewBinding(key.WithKeys("shift+pgup"), key.WithHelp("shift+pgup", "scroll up")),
	ScrollDown:        key.NewBinding(key.WithKeys("shift+pgdown"), key.WithHelp("shift+pgdown", "scroll down")),
	CancelCompletion:  key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "cancel reply")),
	SaveToFile:        key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save chat")),
	Help:              key.NewBinding(key.WithKeys("ctrl+h"), key.WithHelp("ctrl+h", "help")),
	Quit:              key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SubmitMessage, k.UnfocusMessage, k.FocusMessage, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.UnfocusMessage, k.FocusMessage},
		{k.SelectPrevMessage, k.SelectNextMessage, k.ScrollUp, k.ScrollDown},
		{k.CancelCompletion, k.SaveToFile, k.Help, k.Quit},
	}
}
