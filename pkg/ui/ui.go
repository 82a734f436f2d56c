package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/go-go-golems/persona/pkg/tokens"
)

type State string

const (
	StateUserInput    State = "user_input"
	StateMovingAround State = "moving_around"
	StateWaiting      State = "waiting"
)

// FetchDoneMsg carries a finished fetch back into Update, which is the only
// place the Manager is touched.
type FetchDoneMsg struct {
	Result session.FetchResult
}

type refreshMessageMsg struct {
	GoToBottom bool
}

type Model struct {
	ctx     context.Context
	manager *session.Manager
	counter *tokens.Counter

	viewport viewport.Model
	textArea textarea.Model
	help     help.Model
	keyMap   KeyMap
	style    *Style
	markdown *markdownRenderer

	// currently selected message, always valid
	selectedIdx int
	state       State
	notice      string
	err         error

	width  int
	height int
}

type ModelOption func(*Model)

// WithTokenCounter shows the transcript's token estimate in the header.
func WithTokenCounter(c *tokens.Counter) ModelOption {
	return func(m *Model) {
		m.counter = c
	}
}

// WithMarkdownStyle selects the glamour style for assistant replies.
func WithMarkdownStyle(style string) ModelOption {
	return func(m *Model) {
		m.markdown = newMarkdownRenderer(style)
	}
}

func InitialModel(ctx context.Context, manager *session.Manager, options ...ModelOption) Model {
	ret := Model{
		ctx:      ctx,
		manager:  manager,
		style:    DefaultStyles(),
		keyMap:   DefaultKeyMap,
		viewport: viewport.New(0, 0),
		help:     help.New(),
		markdown: newMarkdownRenderer(""),
		state:    StateUserInput,
	}
	for _, o := range options {
		o(&ret)
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Say something, or /help"
	ret.textArea.Focus()

	ret.selectedIdx = manager.Transcript().Len() - 1
	ret.updateKeyBindings()

	return ret
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			m.manager.Close()
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()
			return m, nil

		case key.Matches(msg, m.keyMap.UnfocusMessage):
			m.textArea.Blur()
			m.state = StateMovingAround
			m.updateKeyBindings()
			return m, nil

		case key.Matches(msg, m.keyMap.FocusMessage):
			cmd = m.textArea.Focus()
			m.state = StateUserInput
			m.updateKeyBindings()
			return m, cmd

		case key.Matches(msg, m.keyMap.SelectNextMessage):
			if m.selectedIdx < m.manager.Transcript().Len()-1 {
				m.selectedIdx++
			}
			m.viewport.SetContent(m.messageView())
			return m, nil

		case key.Matches(msg, m.keyMap.SelectPrevMessage):
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
			m.viewport.SetContent(m.messageView())
			return m, nil

		case key.Matches(msg, m.keyMap.SubmitMessage):
			return m, m.submit(m.textArea.Value())

		case key.Matches(msg, m.keyMap.SaveToFile):
			return m, m.submit("/save")

		case key.Matches(msg, m.keyMap.CancelCompletion):
			if h := m.manager.Pending(); h != nil {
				h.Cancel()
			}
			return m, nil

		default:
			switch m.state {
			case StateUserInput:
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
			case StateMovingAround, StateWaiting:
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recomputeSize()

	case FetchDoneMsg:
		if err := m.manager.Deliver(msg.Result); err != nil {
			m.err = err
		}
		m.state = StateUserInput
		cmds = append(cmds, m.textArea.Focus())
		m.updateKeyBindings()
		m.selectedIdx = m.manager.Transcript().Len() - 1
		m.recomputeSize()

	case refreshMessageMsg:
		m.viewport.SetContent(m.messageView())
		if msg.GoToBottom {
			m.viewport.GotoBottom()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit runs a line of input against the manager. A started fetch is
// waited for in a tea.Cmd and comes back as a FetchDoneMsg.
func (m *Model) submit(line string) tea.Cmd {
	if m.state == StateWaiting {
		return nil
	}

	out, err := Execute(m.ctx, m.manager, line)
	m.err = err
	m.notice = out.Notice
	if out.Quit {
		m.manager.Close()
		return tea.Quit
	}
	if err == nil {
		m.textArea.SetValue("")
	}

	m.selectedIdx = m.manager.Transcript().Len() - 1
	m.recomputeSize()

	refresh := func() tea.Msg {
		return refreshMessageMsg{GoToBottom: true}
	}
	if out.Fetch == nil {
		return refresh
	}

	m.state = StateWaiting
	m.textArea.Blur()
	m.updateKeyBindings()

	h := out.Fetch
	return tea.Batch(refresh, func() tea.Msg {
		return FetchDoneMsg{Result: h.Wait()}
	})
}

func (m *Model) updateKeyBindings() {
	m.keyMap.SelectNextMessage.SetEnabled(m.state != StateUserInput)
	m.keyMap.SelectPrevMessage.SetEnabled(m.state != StateUserInput)
	m.keyMap.FocusMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.UnfocusMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.SaveToFile.SetEnabled(m.state != StateWaiting)
	m.keyMap.CancelCompletion.SetEnabled(m.state == StateWaiting)
}

func (m *Model) recomputeSize() {
	headerHeight := lipgloss.Height(m.headerView())
	textAreaHeight := lipgloss.Height(m.textAreaView())
	helpViewHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - textAreaHeight - headerHeight - helpViewHeight
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.FocusedMessage.GetFrameSize()
	m.textArea.SetWidth(m.width - h)

	m.viewport.SetContent(m.messageView())
	m.viewport.GotoBottom()
}

func (m Model) headerView() string {
	st := m.manager.Status()
	title := "PERSONA"
	if st.CharacterTitle != "" {
		title += " · " + st.CharacterTitle
	}
	info := fmt.Sprintf("%s · %d messages", st.State, st.Length)
	if m.counter != nil {
		info += fmt.Sprintf(" · ~%d tokens", m.counter.CountMessages(m.manager.Transcript().Messages()))
	}
	return m.style.Header.Render(title) + "  " + m.style.Status.Render(info)
}

func (m Model) messageView() string {
	msgs := m.manager.Transcript().Messages()
	w, _ := m.style.SelectedMessage.GetFrameSize()
	width := m.width - w

	rendered := make([]string, 0, len(msgs))
	for idx, msg := range msgs {
		rendered = append(rendered, m.renderMessage(idx, msg, width))
	}
	return strings.Join(rendered, "\n")
}

func (m Model) renderMessage(idx int, msg conversation.Message, width int) string {
	roleStyle, ok := m.style.Role[msg.Role.String()]
	if !ok {
		roleStyle = lipgloss.NewStyle()
	}
	header := roleStyle.Render(msg.Role.String())

	var body string
	switch {
	case m.manager.Failed(idx):
		body = m.style.Error.Render(wrapWords(msg.Text, width))
	case msg.Role == conversation.RoleAssistant:
		body = m.markdown.Render(msg.Text, width)
	default:
		body = wrapWords(msg.Text, width)
	}

	style := m.style.UnselectedMessage
	if idx == m.selectedIdx && m.state != StateUserInput {
		style = m.style.SelectedMessage
	}
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(header + "\n" + body)
}

func (m Model) textAreaView() string {
	var lines []string
	if m.err != nil {
		lines = append(lines, m.style.Error.Render(wrapWords(m.err.Error(), m.width)))
	}
	if m.notice != "" {
		lines = append(lines, m.style.Status.Render(m.notice))
	}

	switch m.state {
	case StateWaiting:
		lines = append(lines, m.style.UnselectedMessage.Render("waiting for a reply..."))
	case StateUserInput:
		lines = append(lines, m.style.FocusedMessage.Render(m.textArea.View()))
	case StateMovingAround:
		lines = append(lines, m.style.UnselectedMessage.Render(m.textArea.View()))
	}
	return strings.Join(lines, "\n")
}

func (m Model) View() string {
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.textAreaView() + "\n" + m.help.View(m.keyMap)
}
