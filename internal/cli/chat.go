package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joebot/toolbot/internal/agent"
)

// --- message types ---

type llmResponseMsg struct {
	content   string
	sessionID string
	toolCalls int
	err       error
}

// --- chat config ---

// ChatConfig holds display metadata and the session for the chat TUI.
type ChatConfig struct {
	Provider   string
	Model      string
	ToolServer string
	// SessionID is the conversation the TUI appends to.
	SessionID string
}

// --- chat entry ---

type chatEntry struct {
	role      string // "user", "assistant", "error", "system"
	content   string
	toolCalls int
}

// --- interactive chat model ---

type chatModel struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history    []chatEntry
	waiting    bool
	cancelFunc context.CancelFunc

	responder agent.Responder
	ctx       context.Context
	sessionID string

	ready      bool
	width      int
	height     int
	model      string
	toolServer string
}

func newChatModel(r agent.Responder, ctx context.Context, cfg ChatConfig) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = 0
	ti.Prompt = "❯ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	model := cfg.Model
	if cfg.Provider != "" {
		model = cfg.Provider + "/" + model
	}

	return chatModel{
		input:      ti,
		spinner:    sp,
		responder:  r,
		ctx:        ctx,
		sessionID:  cfg.SessionID,
		model:      model,
		toolServer: cfg.ToolServer,
	}
}

func (m chatModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Layout: header(1) + divider(1) + viewport + divider(1) + input(1) + status(1) = 5 fixed
		vpHeight := msg.Height - 5
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.viewport.SetContent(m.renderHistory())
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.waiting {
				return m, nil
			}
			input := strings.TrimSpace(m.input.Value())
			if input == "" {
				return m, nil
			}
			if isExitCmd(input) {
				return m, tea.Quit
			}
			if strings.HasPrefix(input, "/") {
				m.input.SetValue("")
				m.runCommand(input)
				m.viewport.SetContent(m.renderHistory())
				m.viewport.GotoBottom()
				return m, nil
			}
			m.history = append(m.history, chatEntry{role: "user", content: input})
			m.input.SetValue("")
			m.input.Blur()
			m.waiting = true
			msgCtx, cancel := context.WithCancel(m.ctx)
			m.cancelFunc = cancel
			m.viewport.SetContent(m.renderHistory())
			m.viewport.GotoBottom()
			return m, m.sendMessageWithCtx(msgCtx, input)
		case tea.KeyEsc:
			if m.waiting && m.cancelFunc != nil {
				m.cancelFunc()
				m.cancelFunc = nil
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case llmResponseMsg:
		m.waiting = false
		m.cancelFunc = nil
		focusCmd := m.input.Focus()
		if msg.err != nil {
			if errors.Is(msg.err, context.Canceled) {
				m.history = append(m.history, chatEntry{role: "assistant", content: "[Interrupted]"})
			} else {
				m.history = append(m.history, chatEntry{role: "error", content: msg.err.Error()})
			}
		} else {
			m.history = append(m.history, chatEntry{role: "assistant", content: msg.content, toolCalls: msg.toolCalls})
			m.sessionID = msg.sessionID
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, focusCmd

	case spinner.TickMsg:
		if m.waiting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	// Route remaining events to input when not waiting
	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m chatModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := TitleStyle.Render(fmt.Sprintf(" %s toolbot", Logo))
	divider := DimStyle.Render(strings.Repeat("─", m.width))

	var inputLine string
	if m.waiting {
		inputLine = fmt.Sprintf(" %s Thinking... (Esc to stop)", m.spinner.View())
	} else {
		inputLine = " " + m.input.View()
	}

	statusBar := m.renderStatusBar()

	return header + "\n" +
		divider + "\n" +
		m.viewport.View() + "\n" +
		divider + "\n" +
		inputLine + "\n" +
		statusBar
}

func (m chatModel) renderHistory() string {
	if len(m.history) == 0 {
		return m.renderWelcome()
	}

	var sb strings.Builder
	for _, entry := range m.history {
		sb.WriteString("\n")
		switch entry.role {
		case "user":
			sb.WriteString("  " + UserLabel.Render("You") + "\n")
			for _, line := range strings.Split(entry.content, "\n") {
				sb.WriteString("  " + line + "\n")
			}
		case "assistant":
			sb.WriteString("  " + BotLabel.Render("toolbot") + "\n")
			for _, line := range strings.Split(entry.content, "\n") {
				sb.WriteString("  " + line + "\n")
			}
			if entry.toolCalls > 0 {
				sb.WriteString("  " + DimStyle.Render(toolCallsNote(entry.toolCalls)) + "\n")
			}
		case "error":
			sb.WriteString("  " + ErrStyle.Render("Error: "+entry.content) + "\n")
		case "system":
			sb.WriteString("  " + DimStyle.Render(entry.content) + "\n")
		}
	}

	return sb.String()
}

func (m chatModel) renderWelcome() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(RenderBanner())
	sb.WriteString("\n")
	sb.WriteString("  " + BoldStyle.Render("Tips for getting started:") + "\n")
	sb.WriteString(DimStyle.Render("  1. Ask a question; tools are called as needed") + "\n")
	sb.WriteString(DimStyle.Render("  2. /new starts a fresh session, /session shows its id") + "\n")
	sb.WriteString(DimStyle.Render("  3. Esc stops a running answer; exit or Ctrl+C quits") + "\n")
	return sb.String()
}

func (m chatModel) renderStatusBar() string {
	left := DimStyle.Render(" tools: " + m.toolServer + " · session: " + shortSession(m.sessionID))
	right := DimStyle.Render(m.model + " ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	return left + strings.Repeat(" ", gap) + right
}

func (m chatModel) sendMessageWithCtx(ctx context.Context, input string) tea.Cmd {
	return func() tea.Msg {
		return ask(ctx, m.responder, input, m.sessionID)
	}
}

func ask(ctx context.Context, r agent.Responder, input, sessionID string) llmResponseMsg {
	resp, err := r.ProcessMessage(ctx, input, sessionID)
	if err != nil {
		return llmResponseMsg{err: err}
	}
	return llmResponseMsg{content: resp.Response, sessionID: resp.SessionID, toolCalls: resp.ToolCalls}
}

// runCommand handles TUI-local slash commands; they never reach the model.
func (m *chatModel) runCommand(input string) {
	switch strings.Fields(input)[0] {
	case "/new":
		m.sessionID = ""
		m.history = m.history[:0]
		m.history = append(m.history, chatEntry{role: "system", content: "Started a new session."})
	case "/session":
		id := m.sessionID
		if id == "" {
			id = "none yet (created by the first answer)"
		}
		m.history = append(m.history, chatEntry{role: "system", content: "Session: " + id})
	case "/help":
		m.history = append(m.history, chatEntry{role: "system",
			content: "/new start a new session · /session show the session id · exit quit"})
	default:
		m.history = append(m.history, chatEntry{role: "error", content: "unknown command " + input + " (try /help)"})
	}
}

func shortSession(id string) string {
	if id == "" {
		return "new"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func toolCallsNote(n int) string {
	if n == 1 {
		return "(1 tool call)"
	}
	return fmt.Sprintf("(%d tool calls)", n)
}

func isExitCmd(s string) bool {
	s = strings.ToLower(s)
	return s == "exit" || s == "quit" || s == "/exit" || s == "/quit" || s == ":q"
}

// RunChat starts the interactive chat TUI.
func RunChat(r agent.Responder, ctx context.Context, cfg ChatConfig) error {
	m := newChatModel(r, ctx, cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// --- single message model ---

type singleModel struct {
	spinner   spinner.Model
	responder agent.Responder
	ctx       context.Context
	message   string
	sessionID string
	result    string
	err       error
	done      bool
}

func (m singleModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			return ask(m.ctx, m.responder, m.message, m.sessionID)
		},
	)
}

func (m singleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case llmResponseMsg:
		m.result = msg.content
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m singleModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("\n %s Processing...\n", m.spinner.View())
}

// RunSingleMessage processes one message with a spinner, then prints the result.
func RunSingleMessage(r agent.Responder, ctx context.Context, message, sessionID string) error {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	m := singleModel{
		spinner:   sp,
		responder: r,
		ctx:       ctx,
		message:   message,
		sessionID: sessionID,
	}

	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return err
	}

	fm := final.(singleModel)
	if fm.err != nil {
		fmt.Println(ErrStyle.Render("\n  Error: " + fm.err.Error()))
		return fm.err
	}

	fmt.Println()
	fmt.Println("  " + BotLabel.Render("toolbot"))
	for _, line := range strings.Split(fm.result, "\n") {
		fmt.Println("  " + line)
	}
	fmt.Println()
	return nil
}
