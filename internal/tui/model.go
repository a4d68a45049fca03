// Package tui is the terminal chat screen.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/agentchat/internal/gateway"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/internal/types"
)

type theme struct {
	header      lipgloss.Style
	panel       lipgloss.Style
	user        lipgloss.Style
	agent       lipgloss.Style
	timestamp   lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	helpText    lipgloss.Style
}

func newTheme() theme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		header: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		user:        lipgloss.NewStyle().Foreground(mint).Bold(true),
		agent:       lipgloss.NewStyle().Foreground(pink).Bold(true),
		timestamp:   lipgloss.NewStyle().Foreground(muted),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		helpText:    lipgloss.NewStyle().Foreground(muted),
	}
}

type historyMsg struct {
	messages []types.Message
	err      error
}

type sendDoneMsg struct {
	result *threads.SendResult
	err    error
}

type newThreadMsg struct {
	err error
}

// Model is the bubbletea model of a chat with one agent on one
// conversation.
type Model struct {
	ctx     context.Context
	gw      *gateway.Gateway
	key     types.ConversationKey
	agentID string
	title   string

	messages   []types.Message
	busy       bool
	statusLine string
	statusErr  bool

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    theme
	width    int
	height   int
}

// New creates the chat model. title labels the header, typically the agent
// name.
func New(ctx context.Context, gw *gateway.Gateway, key types.ConversationKey, agentID, title string) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Type a message. /new starts a new thread, Ctrl+C quits."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4

	if title == "" {
		title = agentID
	}
	return Model{
		ctx:        ctx,
		gw:         gw,
		key:        key,
		agentID:    agentID,
		title:      title,
		statusLine: "loading history...",
		input:      input,
		timeline:   timeline,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.historyCmd())
}

func (m Model) historyCmd() tea.Cmd {
	gw, ctx, key := m.gw, m.ctx, m.key
	return func() tea.Msg {
		msgs, err := gw.History(ctx, key)
		return historyMsg{messages: msgs, err: err}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	gw, ctx, key, agentID := m.gw, m.ctx, m.key, m.agentID
	return func() tea.Msg {
		res, err := gw.Send(ctx, key, agentID, text)
		return sendDoneMsg{result: res, err: err}
	}
}

func (m Model) newThreadCmd() tea.Cmd {
	gw, ctx, key, agentID := m.gw, m.ctx, m.key, m.agentID
	return func() tea.Msg {
		return newThreadMsg{err: gw.NewThread(ctx, key, agentID)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()

	case historyMsg:
		m.messages = msg.messages
		if msg.err != nil {
			m.setStatus("history unavailable: "+msg.err.Error(), true)
		} else {
			m.setStatus(fmt.Sprintf("ready · %d messages", len(msg.messages)), false)
		}
		m.renderTimeline()

	case sendDoneMsg:
		m.busy = false
		switch {
		case errors.Is(msg.err, gateway.ErrBusy):
			m.setStatus("still sending the previous message", true)
		case msg.err != nil:
			m.setStatus(msg.err.Error(), true)
		default:
			m.messages = msg.result.Messages
			if msg.result.Notice != "" {
				m.setStatus(msg.result.Notice, true)
			} else if msg.result.NewThread != nil {
				m.setStatus("new thread started", false)
			} else {
				m.setStatus("ready", false)
			}
		}
		m.renderTimeline()

	case newThreadMsg:
		if msg.err != nil {
			m.setStatus("could not start a new thread: "+msg.err.Error(), true)
			break
		}
		m.messages = nil
		m.setStatus("new thread · send a message to start it", false)
		m.renderTimeline()

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		case "enter":
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles Enter. While a send is in flight further input is ignored
// and left in the input box.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	m.input.SetValue("")

	if text == "/new" {
		return m, m.newThreadCmd()
	}

	m.busy = true
	m.messages = append(m.messages, types.NewUserMessage(text))
	m.setStatus("waiting for the agent...", false)
	m.renderTimeline()
	return m, tea.Batch(m.spinner.Tick, m.sendCmd(text))
}

func (m *Model) setStatus(text string, isErr bool) {
	m.statusLine = text
	m.statusErr = isErr
}

func (m *Model) resize() {
	w := max(20, m.width-4)
	// header, input panel with border, status line
	h := max(3, m.height-7)
	m.timeline.Width = w
	m.timeline.Height = h
	m.input.Width = w - 4
}

func (m *Model) renderTimeline() {
	width := max(20, m.timeline.Width)
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		who := m.theme.agent.Render(m.title)
		if msg.IsUser {
			who = m.theme.user.Render("You")
		}
		stamp := ""
		if !msg.Timestamp.IsZero() {
			stamp = " " + m.theme.timestamp.Render(msg.Timestamp.Local().Format("15:04"))
		}
		b.WriteString(who + stamp + "\n")
		b.WriteString(lipgloss.NewStyle().Width(width).Render(msg.Text))
		b.WriteString("\n")
	}
	m.timeline.SetContent(b.String())
	m.timeline.GotoBottom()
}

func (m Model) View() string {
	header := m.theme.header.Render("agentchat · " + m.title)

	status := m.theme.status.Render(m.statusLine)
	if m.statusErr {
		status = m.theme.errorStatus.Render(m.statusLine)
	}
	if m.busy {
		status = m.spinner.View() + " " + status
	}

	input := m.theme.panel.Width(max(20, m.width-4)).Render(m.input.View())
	help := m.theme.helpText.Render("enter send · pgup/pgdown scroll · /new new thread · esc quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, m.timeline.View(), input, status+"  "+help)
}

// Messages returns the transcript currently shown.
func (m Model) Messages() []types.Message {
	return m.messages
}

// Busy reports whether a send is in flight.
func (m Model) Busy() bool {
	return m.busy
}

// Run starts the chat screen and blocks until the user quits.
func Run(ctx context.Context, gw *gateway.Gateway, key types.ConversationKey, agentID, title string) error {
	p := tea.NewProgram(New(ctx, gw, key, agentID, title), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat screen: %w", err)
	}
	// Let an in-flight send finish persisting its transcript.
	gw.Wait(5 * time.Second)
	return nil
}
