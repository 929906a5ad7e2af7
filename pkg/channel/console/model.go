package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"botmux/pkg/bus"
)

const (
	roleUser  = "user"
	roleBot   = "bot"
	roleError = "error"
)

type chatMessage struct {
	role    string
	content string
}

// outboundMsg carries a message from Adapter.Send into the screen.
type outboundMsg struct {
	kind string
	text string
}

type submitResultMsg struct {
	err error
}

type submitFunc func(text string) error

type model struct {
	submit submitFunc

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	isTyping  bool
	lastErr   string
	followLog bool
	sent      int
	received  int
}

func newModel(submit submitFunc) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("44"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		submit:    submit,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}

			m.lastErr = ""
			m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
			m.sent++
			m.input.SetValue("")
			m.followLog = true
			m.refreshViewport(true)
			return m, submitCmd(m.submit, text)
		}
	case spinner.TickMsg:
		if !m.isTyping {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case submitResultMsg:
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.messages = append(m.messages, chatMessage{role: roleError, content: typed.err.Error()})
			m.refreshViewport(false)
		}
		return m, nil
	case outboundMsg:
		return m, m.handleOutbound(typed)
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleOutbound(msg outboundMsg) tea.Cmd {
	if msg.kind == bus.KindTyping {
		if m.isTyping {
			return nil
		}
		m.isTyping = true
		return m.spinner.Tick
	}

	m.isTyping = false
	m.received++
	m.messages = append(m.messages, chatMessage{role: roleBot, content: msg.text})
	m.refreshViewport(false)
	return nil
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("botmux console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf("sent:%d · received:%d", m.sent, m.received))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  Ctrl+C/Esc quit")
	if m.isTyping {
		status = m.theme.statusBusy.Render(m.spinner.View() + " bot is typing...")
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last update was rejected")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		switch item.role {
		case roleUser:
			sections = append(sections, renderCard(
				m.theme.userTitle.Render("you"),
				m.theme.userBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case roleBot:
			sections = append(sections, renderCard(
				m.theme.botTitle.Render("bot"),
				m.theme.botBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case roleError:
			sections = append(sections, renderCard(
				m.theme.errorTitle.Render("error"),
				m.theme.errorBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

// handleViewportMouse scrolls on wheel events and reports whether msg was used.
func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp, tea.MouseButtonWheelDown:
	default:
		return false
	}

	m.viewport, _ = m.viewport.Update(msg)
	m.followLog = m.viewport.AtBottom()
	return true
}

func renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func submitCmd(submit submitFunc, text string) tea.Cmd {
	if submit == nil {
		return nil
	}
	return func() tea.Msg {
		return submitResultMsg{err: submit(text)}
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
