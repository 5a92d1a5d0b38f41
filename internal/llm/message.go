package llm

import "encoding/json"

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the model.
// Arguments stay raw so they reach the tool server byte for byte.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is the vendor-neutral conversation entry.
//
// ToolCalls is only set on assistant messages that request tools. Tool
// messages carry exactly one tool output as Content plus the ToolCallID and
// Name of the call they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolRequestMessage records the assistant turn that asked for calls.
func ToolRequestMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage answers the given call with the tool's text output.
func ToolResultMessage(call ToolCall, output string) Message {
	return Message{Role: RoleTool, Content: output, ToolCallID: call.ID, Name: call.Name}
}

// OutcomeKind tells which branch of an Outcome is populated.
type OutcomeKind int

const (
	FinalText OutcomeKind = iota
	ToolRequests
)

func (k OutcomeKind) String() string {
	if k == ToolRequests {
		return "tool_requests"
	}
	return "final_text"
}

// Outcome is the normalized result of one provider turn: either a final
// answer or a non-empty, ordered list of tool calls.
type Outcome struct {
	Kind  OutcomeKind
	Text  string
	Calls []ToolCall
}

func TextOutcome(text string) Outcome {
	return Outcome{Kind: FinalText, Text: text}
}

func CallsOutcome(text string, calls []ToolCall) Outcome {
	return Outcome{Kind: ToolRequests, Text: text, Calls: calls}
}
