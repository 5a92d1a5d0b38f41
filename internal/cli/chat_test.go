package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joebot/toolbot/internal/agent"
)

type fakeResponder struct {
	gotSession string
	resp       *agent.ChatResponse
	err        error
}

func (f *fakeResponder) ProcessMessage(_ context.Context, _ string, sessionID string) (*agent.ChatResponse, error) {
	f.gotSession = sessionID
	return f.resp, f.err
}

func sized(t *testing.T, m chatModel) chatModel {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(chatModel)
}

func TestChatModelRoundTrip(t *testing.T) {
	r := &fakeResponder{resp: &agent.ChatResponse{Response: "It is noon.", SessionID: "sess-1", ToolCalls: 2}}
	m := sized(t, newChatModel(r, context.Background(), ChatConfig{Model: "llama", ToolServer: "http://tools"}))

	m.input.SetValue("what time is it?")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(chatModel)
	if !m.waiting || cmd == nil {
		t.Fatalf("waiting = %v, cmd = %v", m.waiting, cmd)
	}

	msg := cmd()
	resp, ok := msg.(llmResponseMsg)
	if !ok {
		t.Fatalf("cmd returned %T", msg)
	}
	next, _ = m.Update(resp)
	m = next.(chatModel)

	if m.waiting {
		t.Error("still waiting after response")
	}
	if m.sessionID != "sess-1" {
		t.Errorf("sessionID = %q, want it adopted from the response", m.sessionID)
	}
	if len(m.history) != 2 || m.history[1].content != "It is noon." || m.history[1].toolCalls != 2 {
		t.Fatalf("history = %+v", m.history)
	}
	if out := m.renderHistory(); !strings.Contains(out, "(2 tool calls)") {
		t.Errorf("tool call note missing:\n%s", out)
	}

	// The next message continues the same session.
	m.input.SetValue("and tomorrow?")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	cmd()
	if r.gotSession != "sess-1" {
		t.Errorf("second request session = %q", r.gotSession)
	}
}

func TestChatModelError(t *testing.T) {
	m := sized(t, newChatModel(&fakeResponder{}, context.Background(), ChatConfig{}))

	next, _ := m.Update(llmResponseMsg{err: errors.New("vendor: status 500")})
	m = next.(chatModel)
	if len(m.history) != 1 || m.history[0].role != "error" {
		t.Fatalf("history = %+v", m.history)
	}

	next, _ = m.Update(llmResponseMsg{err: context.Canceled})
	m = next.(chatModel)
	if m.history[1].content != "[Interrupted]" {
		t.Errorf("cancel rendered as %+v", m.history[1])
	}
}

func TestChatModelIgnoresBlankAndExits(t *testing.T) {
	m := sized(t, newChatModel(&fakeResponder{}, context.Background(), ChatConfig{}))

	m.input.SetValue("   ")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || next.(chatModel).waiting {
		t.Error("blank input should be ignored")
	}

	m.input.SetValue("exit")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("exit should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("exit did not return tea.Quit")
	}
}

func TestToolCallsNote(t *testing.T) {
	if got := toolCallsNote(1); got != "(1 tool call)" {
		t.Errorf("got %q", got)
	}
	if got := toolCallsNote(3); got != "(3 tool calls)" {
		t.Errorf("got %q", got)
	}
}

func TestChatModelSlashCommands(t *testing.T) {
	r := &fakeResponder{}
	m := newChatModel(r, context.Background(), ChatConfig{SessionID: "sess-9"})
	m = sized(t, m)

	m.input.SetValue("/session")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(chatModel)
	if cmd != nil || m.waiting {
		t.Fatal("slash command must not reach the responder")
	}
	if !strings.Contains(m.history[len(m.history)-1].content, "sess-9") {
		t.Errorf("history = %+v", m.history)
	}

	m.input.SetValue("/new")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(chatModel)
	if m.sessionID != "" || len(m.history) != 1 {
		t.Errorf("after /new: session %q, history %+v", m.sessionID, m.history)
	}

	m.input.SetValue("/bogus")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(chatModel)
	if m.history[len(m.history)-1].role != "error" {
		t.Errorf("unknown command not reported: %+v", m.history)
	}
	if r.gotSession != "" {
		t.Error("responder was called")
	}
}
