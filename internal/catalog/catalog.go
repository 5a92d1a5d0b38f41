// Package catalog converts tool-server descriptors into the function schemas
// the two vendor families expect. Conversion is pure: order and schema bytes
// are preserved and schemas are not validated.
package catalog

import (
	"bytes"
	"encoding/json"

	"github.com/joebot/toolbot/internal/mcp"
)

// emptySchema stands in for tools that advertise no input schema.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// ChatTool is one entry of a chat-completion "tools" array.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

type ChatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GenerationTools is one entry of a generation-style "tools" array.
type GenerationTools struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatCompletion returns {type:"function", function:{...}} entries in catalog order.
func ChatCompletion(tools []mcp.Tool) []ChatTool {
	out := make([]ChatTool, len(tools))
	for i, t := range tools {
		out[i] = ChatTool{
			Type: "function",
			Function: ChatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  Schema(t),
			},
		}
	}
	return out
}

// Generation wraps every tool into a single functionDeclarations group.
func Generation(tools []mcp.Tool) GenerationTools {
	decls := make([]FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  Schema(t),
		}
	}
	return GenerationTools{FunctionDeclarations: decls}
}

// Schema returns the tool's input schema, or an empty object schema when
// the server sent none.
func Schema(t mcp.Tool) json.RawMessage {
	s := bytes.TrimSpace(t.InputSchema)
	if len(s) == 0 || bytes.Equal(s, []byte("null")) {
		return emptySchema
	}
	return t.InputSchema
}
