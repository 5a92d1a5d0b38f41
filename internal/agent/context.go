package agent

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joebot/toolbot/internal/llm"
)

// ContextBuilder assembles the message list for one loop run.
type ContextBuilder struct {
	name   string
	prompt string
	now    func() time.Time
}

// NewContextBuilder creates a builder. prompt, when set, is appended to the
// built-in identity section.
func NewContextBuilder(name, prompt string) *ContextBuilder {
	if name == "" {
		name = "toolbot"
	}
	return &ContextBuilder{name: name, prompt: prompt, now: time.Now}
}

// BuildSystemPrompt constructs the full system prompt.
func (c *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{c.identity()}
	if p := strings.TrimSpace(c.prompt); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildMessages returns the system prompt, a context message when related
// texts were retrieved, the session history and the new user message.
func (c *ContextBuilder) BuildMessages(history []llm.Message, related []string, current string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.SystemMessage(c.BuildSystemPrompt()))
	if len(related) > 0 {
		messages = append(messages, llm.SystemMessage(
			"Relevant context from past conversations:\n"+strings.Join(related, "\n"),
		))
	}
	messages = append(messages, history...)
	messages = append(messages, llm.UserMessage(current))
	return messages
}

func (c *ContextBuilder) identity() string {
	now := c.now()
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "macOS"
	}
	return fmt.Sprintf(`# %s

You are %s, a helpful assistant. Tools from the connected tool server are
available to you; call them when a question needs live data or an action.

## Current Time
%s (%s)

## Runtime
%s %s, Go %s

Reply directly with text when no tool is needed. Be accurate and concise.`,
		c.name, c.name,
		now.Format("2006-01-02 15:04 (Monday)"), now.Format("MST"),
		osName, runtime.GOARCH, runtime.Version())
}
