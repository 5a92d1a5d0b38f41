package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joebot/toolbot/internal/errors"
	"github.com/joebot/toolbot/internal/llm"
	"github.com/joebot/toolbot/internal/mcp"
	"github.com/joebot/toolbot/internal/textutil"
)

const tracerName = "github.com/joebot/toolbot/internal/agent"

// ToolCatalog lists the tools the model may call.
type ToolCatalog interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// ToolExecutor runs one tool call and returns its text output.
type ToolExecutor interface {
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error)
}

// Loop drives one provider through alternating model turns and tool calls
// until the model answers with text.
type Loop struct {
	provider llm.Provider
	catalog  ToolCatalog
	executor ToolExecutor
	maxTurns int
	tracer   trace.Tracer
}

// LoopConfig holds configuration for creating a loop.
type LoopConfig struct {
	Provider llm.Provider
	Catalog  ToolCatalog
	Executor ToolExecutor
	// MaxTurns caps provider calls per run. 0 means no cap.
	MaxTurns int
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Result is the outcome of a successful run.
type Result struct {
	Answer string
	// Messages is the input conversation followed by every message the run produced.
	Messages  []llm.Message
	Turns     int
	ToolCalls int
}

// NewLoop creates a loop. mcp.Client and mcp.Session satisfy both tool interfaces.
func NewLoop(cfg LoopConfig) *Loop {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Loop{
		provider: cfg.Provider,
		catalog:  cfg.Catalog,
		executor: cfg.Executor,
		maxTurns: cfg.MaxTurns,
		tracer:   tracer,
	}
}

// Run executes the loop over conv. The catalog is listed once before the
// first provider call. Any failure aborts the run with a categorized error;
// no partial result is returned.
func (l *Loop) Run(ctx context.Context, conv []llm.Message) (*Result, error) {
	const op = "agent loop"
	ctx, span := l.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("provider", l.provider.Name()),
		attribute.Int("conversation.length", len(conv)),
	))
	defer span.End()

	res, err := l.run(ctx, op, conv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err).String())
		return nil, err
	}
	span.SetAttributes(attribute.Int("turns", res.Turns), attribute.Int("tool_calls", res.ToolCalls))
	return res, nil
}

func (l *Loop) run(ctx context.Context, op string, conv []llm.Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(op, err)
	}
	tools, err := l.catalog.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	slog.Debug("tool catalog loaded", "tools", len(tools))

	messages := make([]llm.Message, len(conv), len(conv)+8)
	copy(messages, conv)
	res := &Result{}

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Cancelled(op, err)
		}

		out, err := l.sendTurn(ctx, turn, messages, tools)
		if err != nil {
			return nil, err
		}
		res.Turns = turn

		if out.Kind == llm.FinalText {
			messages = append(messages, llm.AssistantMessage(out.Text))
			res.Answer = out.Text
			res.Messages = messages
			return res, nil
		}

		if l.maxTurns > 0 && turn >= l.maxTurns {
			return nil, errors.IterationLimit(op, l.maxTurns)
		}

		messages = append(messages, llm.ToolRequestMessage(out.Text, out.Calls))
		for _, call := range out.Calls {
			if err := ctx.Err(); err != nil {
				return nil, errors.Cancelled(op, err)
			}
			output, err := l.callTool(ctx, call)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.ToolResultMessage(call, output))
			res.ToolCalls++
		}
	}
}

func (l *Loop) sendTurn(ctx context.Context, turn int, messages []llm.Message, tools []mcp.Tool) (llm.Outcome, error) {
	ctx, span := l.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.Int("turn", turn),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	out, err := l.provider.SendTurn(ctx, messages, tools)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err).String())
		return llm.Outcome{}, err
	}
	span.SetAttributes(attribute.String("outcome", out.Kind.String()), attribute.Int("tool_calls", len(out.Calls)))
	return out, nil
}

func (l *Loop) callTool(ctx context.Context, call llm.ToolCall) (string, error) {
	ctx, span := l.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	slog.Info("Tool call", "tool", call.Name, "args", textutil.Truncate(string(call.Arguments), 200))
	output, err := l.executor.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err).String())
		return "", err
	}
	return output, nil
}

