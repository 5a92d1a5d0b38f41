package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/joebot/toolbot/internal/catalog"
	"github.com/joebot/toolbot/internal/errors"
	"github.com/joebot/toolbot/internal/mcp"
)

// GeminiBaseURL is the generation API root.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider for the generation-style API.
// Authentication is the ?key= query parameter.
type GeminiProvider struct {
	apiKey      string
	apiBase     string
	model       string
	temperature float64
	maxTokens   int
	headers     map[string]string
	client      *http.Client
}

// NewGeminiProvider creates a generation-style provider.
func NewGeminiProvider(cfg Config) *GeminiProvider {
	base := cfg.APIBase
	if base == "" {
		base = GeminiBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiProvider{
		apiKey:      cfg.APIKey,
		apiBase:     strings.TrimRight(base, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		headers:     cfg.ExtraHeaders,
		client:      client,
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents         []geminiContent           `json:"contents"`
	Tools            []catalog.GenerationTools `json:"tools,omitempty"`
	GenerationConfig geminiGenerationConfig    `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response geminiToolText `json:"response"`
}

type geminiToolText struct {
	Result string `json:"result"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *GeminiProvider) SendTurn(ctx context.Context, conv []Message, tools []mcp.Tool) (Outcome, error) {
	const op = "gemini generateContent"
	if err := ctx.Err(); err != nil {
		return Outcome{}, errors.Cancelled(op, err)
	}

	reqBody := geminiRequest{
		Contents: toGeminiContents(conv),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.temperature,
			MaxOutputTokens: p.maxTokens,
		},
	}
	if len(tools) > 0 {
		reqBody.Tools = []catalog.GenerationTools{catalog.Generation(tools)}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.apiBase, p.model, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, errors.Cancelled(op, ctx.Err())
		}
		return Outcome{}, errors.Transport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, errors.Transport(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, errors.Vendor(op, resp.StatusCode, string(body))
	}

	return parseGeminiResponse(op, body)
}

// toGeminiContents maps roles assistant→model and tool→function; everything
// else, system prompts included, is sent as a user turn.
func toGeminiContents(conv []Message) []geminiContent {
	out := make([]geminiContent, 0, len(conv))
	for _, m := range conv {
		switch m.Role {
		case RoleAssistant:
			c := geminiContent{Role: "model"}
			if len(m.ToolCalls) == 0 {
				c.Parts = []geminiPart{{Text: m.Content}}
			}
			for _, tc := range m.ToolCalls {
				c.Parts = append(c.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Name,
					Args: argumentsOrEmpty(tc.Arguments),
				}})
			}
			out = append(out, c)
		case RoleTool:
			out = append(out, geminiContent{
				Role: "function",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResponse{
					Name:     m.Name,
					Response: geminiToolText{Result: m.Content},
				}}},
			})
		default:
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return out
}

// parseGeminiResponse reads the first candidate. The first functionCall part
// wins; later ones are ignored. Without one, the first part's text is the answer.
func parseGeminiResponse(op string, data []byte) (Outcome, error) {
	var raw geminiResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return Outcome{}, errors.Protocol(op, "parse response: %w", err)
	}
	if raw.Error != nil {
		return Outcome{}, errors.VendorMessage(op, "%d %s: %s", raw.Error.Code, raw.Error.Status, raw.Error.Message)
	}
	if len(raw.Candidates) == 0 {
		return Outcome{}, errors.Protocol(op, "response has no candidates")
	}

	parts := raw.Candidates[0].Content.Parts
	var call *geminiFunctionCall
	ignored := 0
	for _, part := range parts {
		if part.FunctionCall == nil {
			continue
		}
		if call == nil {
			call = part.FunctionCall
			continue
		}
		ignored++
	}
	if call != nil {
		if ignored > 0 {
			slog.Debug("gemini returned several function calls, executing the first", "tool", call.Name, "ignored", ignored)
		}
		// Generation-style calls carry no id; the tool name correlates the response.
		return CallsOutcome("", []ToolCall{{
			ID:        call.Name,
			Name:      call.Name,
			Arguments: argumentsOrEmpty(call.Args),
		}}), nil
	}

	if len(parts) == 0 {
		return TextOutcome(""), nil
	}
	return TextOutcome(parts[0].Text), nil
}
