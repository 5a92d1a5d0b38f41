package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/joebot/toolbot/internal/catalog"
	"github.com/joebot/toolbot/internal/errors"
	"github.com/joebot/toolbot/internal/mcp"
	"github.com/joebot/toolbot/internal/textutil"
)

// GroqBaseURL is the OpenAI-compatible endpoint used for the groq provider.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider implements Provider for chat-completion style vendors.
// Works with OpenAI, Groq, OpenRouter, vLLM and anything else speaking the
// same API.
type OpenAIProvider struct {
	name        string
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIProvider creates a chat-completion provider. SDK retries are
// disabled; a failed turn fails the run.
func NewOpenAIProvider(name string, cfg Config) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &OpenAIProvider{
		name:        name,
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SendTurn(ctx context.Context, conv []Message, tools []mcp.Tool) (Outcome, error) {
	op := p.name + " chat"
	if err := ctx.Err(); err != nil {
		return Outcome{}, errors.Cancelled(op, err)
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    toOpenAIMessages(conv),
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(int64(p.maxTokens)),
	}

	var status int
	var body string
	var received bool // a 2xx response arrived
	reqOpts := []option.RequestOption{
		option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
			resp, err := next(req)
			if err != nil {
				return resp, err
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				received = true
				return resp, nil
			}
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(raw))
			status, body = resp.StatusCode, string(raw)
			return resp, nil
		}),
	}
	if len(tools) > 0 {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
		// The SDK models parameters as a map; setting the array directly
		// keeps each schema's bytes and key order as the tool server sent them.
		reqOpts = append(reqOpts, option.WithJSONSet("tools", catalog.ChatCompletion(tools)))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		switch {
		case status != 0:
			return Outcome{}, errors.Vendor(op, status, body)
		case ctx.Err() != nil:
			return Outcome{}, errors.Cancelled(op, ctx.Err())
		case received:
			return Outcome{}, errors.Protocol(op, "decode response: %w", err)
		default:
			return Outcome{}, errors.Transport(op, err)
		}
	}
	if len(resp.Choices) == 0 {
		return Outcome{}, errors.Protocol(op, "response has no choices")
	}
	return fromOpenAIMessage(resp.Choices[0].Message), nil
}

// toOpenAIMessages converts the conversation to SDK message unions.
func toOpenAIMessages(conv []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv))
	for _, m := range conv {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			if len(m.ToolCalls) > 0 {
				asst.ToolCalls = make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					asst.ToolCalls[i] = openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argumentsOrEmpty(tc.Arguments)),
						},
					}
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// fromOpenAIMessage normalizes the first choice. Tool calls win over text;
// a missing content field reads as the empty answer.
func fromOpenAIMessage(m openai.ChatCompletionMessage) Outcome {
	if len(m.ToolCalls) == 0 {
		return TextOutcome(m.Content)
	}
	calls := make([]ToolCall, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		calls[i] = ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Name, tc.Function.Arguments),
		}
	}
	return CallsOutcome(m.Content, calls)
}

// parseArguments accepts the vendor's serialized argument string. Anything
// that is not a JSON object falls back to {} so the turn can proceed.
func parseArguments(tool, raw string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	if !json.Valid(trimmed) || trimmed[0] != '{' {
		slog.Warn("unparseable tool arguments, using {}", "tool", tool, "preview", textutil.Truncate(raw, 200))
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

func argumentsOrEmpty(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return args
}

