package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	session "github.com/koscakluka/ema-session/core"
	"github.com/koscakluka/ema-session/core/events"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, method)
		},
	}

	cmd.Flags().StringVar(&method, "method", "text", "conversation method announced in the greeting")
	return cmd
}

func runChat(cmd *cobra.Command, opts *rootOptions, method string) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	var program *tea.Program
	send := func(msg tea.Msg) {
		if program != nil {
			program.Send(msg)
		}
	}

	s := session.NewSession(append(cfg.SessionOptions(),
		session.WithBaseContext(ctx),
		session.WithTranscriptCallback(func(delta []session.Message) { send(transcriptMsg{delta: delta}) }),
		session.WithProcessingCallback(func(state session.ProcessingState) { send(processingMsg{state: state}) }),
		session.WithConnectionCallback(func(state session.ConnectionState) { send(connectionMsg{state: state}) }),
		session.WithResetCallback(func() { send(resetMsg{}) }),
	)...)
	defer s.Close()

	program = tea.NewProgram(newChatModel(ctx, s, method),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to run chat: %w", err)
	}
	return nil
}

// chatSession is the part of a session the chat drives.
type chatSession interface {
	Connect(ctx context.Context) error
	StartConversation(method string) error
	SendTextInput(ctx context.Context, text, format string) error
	RequestHumanAssistance(ctx context.Context, reason, category, urgency string) error
	SetResponseFormat(format string)
	DismissError()
	Reset()
	Snapshot() session.Snapshot
}

type (
	transcriptMsg  struct{ delta []session.Message }
	processingMsg  struct{ state session.ProcessingState }
	connectionMsg  struct{ state session.ConnectionState }
	resetMsg       struct{}
	connectDoneMsg struct{ err error }
	actionDoneMsg  struct {
		status string
		err    error
	}
)

type chatModel struct {
	ctx     context.Context
	session chatSession
	method  string
	theme   theme

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model

	width  int
	height int

	messages   []session.Message
	processing session.ProcessingState
	connection session.ConnectionState
	statusLine string
	greeted    bool
}

func newChatModel(ctx context.Context, s chatSession, method string) chatModel {
	input := textinput.New()
	input.Placeholder = "Type a message, /handoff, /reset or /format text|audio|both"
	input.Prompt = "› "
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	return chatModel{
		ctx:        ctx,
		session:    s,
		method:     method,
		theme:      newTheme(),
		input:      input,
		timeline:   viewport.New(0, 0),
		spinner:    sp,
		connection: session.ConnectionState{Status: session.ConnectionDisconnected},
		statusLine: "connecting...",
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.connectCmd())
}

func (m chatModel) connectCmd() tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		return connectDoneMsg{err: s.Connect(ctx)}
	}
}

func (m chatModel) sendCmd(text string) tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		if err := s.SendTextInput(ctx, text, ""); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{}
	}
}

// startCmd greets the user once connected. Session calls that notify
// renderers run off the update loop, the notifications arrive as messages.
func (m chatModel) startCmd() tea.Cmd {
	s, method := m.session, m.method
	return func() tea.Msg {
		if err := s.StartConversation(method); err != nil {
			return actionDoneMsg{err: err}
		}
		return nil
	}
}

// handoffCmd requests human assistance. The request carries the category
// and urgency of the latest handoff suggestion, its reason unless one is
// given.
func (m chatModel) handoffCmd(reason string) tea.Cmd {
	s, ctx := m.session, m.ctx
	request := session.HandoffMetadata{
		Reason:   "User requested human assistance",
		Category: "general",
		Urgency:  "medium",
	}
	if suggestion := latestHandoff(m.messages); suggestion != nil {
		request.Reason = cmp.Or(suggestion.Reason, request.Reason)
		request.Category = cmp.Or(suggestion.Category, request.Category)
		request.Urgency = cmp.Or(suggestion.Urgency, request.Urgency)
	}
	request.Reason = cmp.Or(reason, request.Reason)

	return func() tea.Msg {
		if err := s.RequestHumanAssistance(ctx, request.Reason, request.Category, request.Urgency); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "human assistance requested"}
	}
}

func latestHandoff(messages []session.Message) *session.HandoffMetadata {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Handoff != nil {
			return messages[i].Handoff
		}
	}
	return nil
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case connectDoneMsg:
		if msg.err != nil {
			m.statusLine = "connect failed: " + msg.err.Error()
			break
		}
		m.statusLine = ""
	case connectionMsg:
		m.connection = msg.state
		if msg.state.Status == session.ConnectionConnected && !m.greeted {
			m.greeted = true
			cmds = append(cmds, m.startCmd())
		}
	case transcriptMsg:
		m.messages = append(m.messages, msg.delta...)
		m.renderTimeline()
		m.timeline.GotoBottom()
	case processingMsg:
		m.processing = msg.state
	case resetMsg:
		m.messages = nil
		m.renderTimeline()
	case actionDoneMsg:
		if msg.err != nil {
			m.statusLine = msg.err.Error()
		} else {
			m.statusLine = msg.status
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+t":
			return m, m.handoffCmd("")
		case "ctrl+e":
			s := m.session
			return m, func() tea.Msg {
				s.DismissError()
				return nil
			}
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			return m, m.submit(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit handles an entered line: slash commands locally, anything else is
// sent as text input.
func (m *chatModel) submit(text string) tea.Cmd {
	command, argument, _ := strings.Cut(text, " ")
	argument = strings.TrimSpace(argument)

	switch command {
	case "/handoff":
		return m.handoffCmd(argument)
	case "/reset":
		s := m.session
		return func() tea.Msg {
			s.Reset()
			return actionDoneMsg{status: "conversation reset"}
		}
	case "/format":
		if !slices.Contains([]string{events.ResponseFormatText, events.ResponseFormatAudio, events.ResponseFormatBoth}, argument) {
			m.statusLine = "usage: /format text|audio|both"
			return nil
		}
		m.session.SetResponseFormat(argument)
		m.statusLine = "response format: " + argument
		return nil
	}
	return m.sendCmd(text)
}

func (m *chatModel) resize() {
	contentWidth := max(minWrapWidth, m.width-4)
	m.input.Width = max(minWrapWidth, contentWidth-6)
	m.timeline.Width = contentWidth
	// header, status line and the bordered input take 6 rows
	m.timeline.Height = max(3, m.height-8)
}

func (m *chatModel) renderTimeline() {
	m.timeline.SetContent(renderTranscript(m.theme, m.messages, m.timeline.Width-2))
}

func (m chatModel) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.header.Render("EMA chat "),
		connectionLabel(m.theme, m.connection),
	)

	status := processingLabel(m.theme, m.processing)
	if m.processing.IsProcessing {
		status = m.spinner.View() + " " + status
	}
	if m.connection.Error != "" {
		status = m.theme.errorStatus.Render(m.connection.Error+" (ctrl+e to dismiss)") + "  " + status
	}
	if m.statusLine != "" {
		status = strings.TrimSpace(status + "  " + m.theme.muted.Render(m.statusLine))
	}

	timeline := m.theme.panel.Render(m.timeline.View())
	input := m.theme.input.Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, timeline, status, input)
}
