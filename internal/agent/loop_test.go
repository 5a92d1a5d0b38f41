package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/joebot/toolbot/internal/errors"
	"github.com/joebot/toolbot/internal/llm"
	"github.com/joebot/toolbot/internal/mcp"
)

// scriptedProvider returns its outcomes in order and records the
// conversation it saw on every call.
type scriptedProvider struct {
	outcomes []llm.Outcome
	err      error
	seen     [][]llm.Message
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SendTurn(_ context.Context, conv []llm.Message, _ []mcp.Tool) (llm.Outcome, error) {
	p.seen = append(p.seen, append([]llm.Message(nil), conv...))
	if p.err != nil {
		return llm.Outcome{}, p.err
	}
	i := len(p.seen) - 1
	if i >= len(p.outcomes) {
		i = len(p.outcomes) - 1
	}
	return p.outcomes[i], nil
}

// fakeTools serves a fixed catalog and answers calls from a map.
type fakeTools struct {
	tools   []mcp.Tool
	listErr error
	outputs map[string]string
	callErr error
	calls   []llm.ToolCall
	onCall  func()
}

func (f *fakeTools) ListTools(context.Context) ([]mcp.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeTools) CallTool(_ context.Context, name string, args json.RawMessage) (string, error) {
	f.calls = append(f.calls, llm.ToolCall{Name: name, Arguments: args})
	if f.onCall != nil {
		f.onCall()
	}
	if f.callErr != nil {
		return "", f.callErr
	}
	return f.outputs[name], nil
}

var getTime = mcp.Tool{Name: "get_time", Description: "Current time", InputSchema: json.RawMessage(`{"type":"object"}`)}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func newTestLoop(p llm.Provider, tools *fakeTools, maxTurns int) *Loop {
	return NewLoop(LoopConfig{Provider: p, Catalog: tools, Executor: tools, MaxTurns: maxTurns})
}

func TestGetTimeScenario(t *testing.T) {
	provider := &scriptedProvider{outcomes: []llm.Outcome{
		llm.CallsOutcome("", []llm.ToolCall{call("c1", "get_time", `{"tz":"UTC"}`)}),
		llm.TextOutcome("It is 14:02 UTC."),
	}}
	tools := &fakeTools{tools: []mcp.Tool{getTime}, outputs: map[string]string{"get_time": "14:02 UTC"}}

	initial := []llm.Message{llm.UserMessage("What time is it?")}
	res, err := newTestLoop(provider, tools, 20).Run(context.Background(), initial)
	require.NoError(t, err)

	require.Equal(t, "It is 14:02 UTC.", res.Answer)
	require.Equal(t, 2, res.Turns)
	require.Equal(t, 1, res.ToolCalls)
	require.Len(t, res.Messages, len(initial)+3)

	asst := res.Messages[1]
	require.Equal(t, llm.RoleAssistant, asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	require.Equal(t, "c1", asst.ToolCalls[0].ID)

	toolMsg := res.Messages[2]
	require.Equal(t, llm.RoleTool, toolMsg.Role)
	require.Equal(t, "14:02 UTC", toolMsg.Content)
	require.Equal(t, "c1", toolMsg.ToolCallID)
	require.Equal(t, "get_time", toolMsg.Name)
	require.Empty(t, toolMsg.ToolCalls)

	final := res.Messages[3]
	require.Equal(t, llm.RoleAssistant, final.Role)
	require.Equal(t, "It is 14:02 UTC.", final.Content)

	require.Len(t, tools.calls, 1)
	require.JSONEq(t, `{"tz":"UTC"}`, string(tools.calls[0].Arguments))

	// The caller's slice is not mutated.
	require.Len(t, initial, 1)
}

func TestFinalTextMakesOneProviderCall(t *testing.T) {
	provider := &scriptedProvider{outcomes: []llm.Outcome{llm.TextOutcome("hello")}}
	tools := &fakeTools{tools: []mcp.Tool{getTime}}

	res, err := newTestLoop(provider, tools, 20).Run(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.NoError(t, err)
	require.Equal(t, "hello", res.Answer)
	require.Len(t, provider.seen, 1)
	require.Empty(t, tools.calls)
	require.Len(t, res.Messages, 2)
}

func TestToolCallsRunInOrderBeforeNextTurn(t *testing.T) {
	provider := &scriptedProvider{outcomes: []llm.Outcome{
		llm.CallsOutcome("checking", []llm.ToolCall{
			call("a", "first", `{}`),
			call("b", "second", `{"n":2}`),
			call("c", "third", `{"n":3}`),
		}),
		llm.TextOutcome("done"),
	}}
	tools := &fakeTools{outputs: map[string]string{"first": "1", "second": "2", "third": "3"}}

	res, err := newTestLoop(provider, tools, 20).Run(context.Background(), []llm.Message{llm.UserMessage("go")})
	require.NoError(t, err)

	require.Len(t, tools.calls, 3)
	for i, name := range []string{"first", "second", "third"} {
		require.Equal(t, name, tools.calls[i].Name)
	}

	// Second provider call sees one assistant message and three tool results in order.
	second := provider.seen[1]
	require.Len(t, second, 5)
	require.Equal(t, "checking", second[1].Content)
	require.Len(t, second[1].ToolCalls, 3)
	for i, id := range []string{"a", "b", "c"} {
		require.Equal(t, llm.RoleTool, second[2+i].Role)
		require.Equal(t, id, second[2+i].ToolCallID)
	}
	require.Equal(t, 3, res.ToolCalls)
}

func TestCatalogErrorAbortsBeforeProviderCall(t *testing.T) {
	provider := &scriptedProvider{outcomes: []llm.Outcome{llm.TextOutcome("unused")}}
	listErr := &errors.Error{Kind: errors.KindVendor, Op: "mcp tools/list", Err: &mcp.RPCError{Code: -32000, Message: "unavailable"}}
	tools := &fakeTools{listErr: listErr}

	_, err := newTestLoop(provider, tools, 20).Run(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.Error(t, err)
	require.Equal(t, errors.KindVendor, errors.KindOf(err))
	require.Empty(t, provider.seen)
}

func TestProviderErrorAborts(t *testing.T) {
	provider := &scriptedProvider{err: errors.Vendor("groq chat", 500, "boom")}
	tools := &fakeTools{}

	res, err := newTestLoop(provider, tools, 20).Run(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.Nil(t, res)
	require.True(t, errors.Is(err, errors.KindVendor))
}

func TestToolErrorAborts(t *testing.T) {
	provider := &scriptedProvider{outcomes: []llm.Outcome{
		llm.CallsOutcome("", []llm.ToolCall{call("a", "get_time", `{}`), call("b", "get_time", `{}`)}),
		llm.TextOutcome("unused"),
	}}
	tools := &fakeTools{callErr: errors.ToolExecution("mcp tools/call get_time", "disk full")}

	_, err := newTestLoop(provider, tools, 20).Run(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.True(t, errors.Is(err, errors.KindToolExecution))
	require.Len(t, tools.calls, 1)
	require.Len(t, provider.seen, 1)
}

func TestIterationLimit(t *testing.T) {
	provider := &scriptedProvider{outcomes: []llm.Outcome{
		llm.CallsOutcome("", []llm.ToolCall{call("a", "get_time", `{}`)}),
	}}
	tools := &fakeTools{outputs: map[string]string{"get_time": "now"}}

	_, err := newTestLoop(provider, tools, 3).Run(context.Background(), []llm.Message{llm.UserMessage("loop")})
	require.True(t, errors.Is(err, errors.KindIterationLimit))
	require.Len(t, provider.seen, 3)
	require.Len(t, tools.calls, 2)
}

func TestUnboundedWhenMaxTurnsZero(t *testing.T) {
	outcomes := make([]llm.Outcome, 0, 31)
	for i := 0; i < 30; i++ {
		outcomes = append(outcomes, llm.CallsOutcome("", []llm.ToolCall{call(fmt.Sprint(i), "get_time", `{}`)}))
	}
	outcomes = append(outcomes, llm.TextOutcome("finally"))
	provider := &scriptedProvider{outcomes: outcomes}
	tools := &fakeTools{outputs: map[string]string{"get_time": "now"}}

	res, err := newTestLoop(provider, tools, 0).Run(context.Background(), []llm.Message{llm.UserMessage("loop")})
	require.NoError(t, err)
	require.Equal(t, 31, res.Turns)
	require.Equal(t, "finally", res.Answer)
}

func TestCancellationBetweenToolCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &scriptedProvider{outcomes: []llm.Outcome{
		llm.CallsOutcome("", []llm.ToolCall{call("a", "get_time", `{}`), call("b", "get_time", `{}`)}),
		llm.TextOutcome("unused"),
	}}
	tools := &fakeTools{outputs: map[string]string{"get_time": "now"}, onCall: cancel}

	_, err := newTestLoop(provider, tools, 20).Run(ctx, []llm.Message{llm.UserMessage("hi")})
	require.True(t, errors.Is(err, errors.KindCancelled))
	require.Len(t, tools.calls, 1)
	require.Len(t, provider.seen, 1)
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &scriptedProvider{outcomes: []llm.Outcome{llm.TextOutcome("unused")}}

	_, err := newTestLoop(provider, &fakeTools{}, 20).Run(ctx, nil)
	require.True(t, errors.Is(err, errors.KindCancelled))
	require.Empty(t, provider.seen)
}

func TestLoopSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	provider := &scriptedProvider{outcomes: []llm.Outcome{
		llm.CallsOutcome("", []llm.ToolCall{call("c1", "get_time", `{}`)}),
		llm.TextOutcome("done"),
	}}
	tools := &fakeTools{tools: []mcp.Tool{getTime}, outputs: map[string]string{"get_time": "now"}}
	loop := NewLoop(LoopConfig{Provider: provider, Catalog: tools, Executor: tools, Tracer: tp.Tracer("test")})

	_, err := loop.Run(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.NoError(t, err)

	counts := map[string]int{}
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
	}
	require.Equal(t, 1, counts["agent.run"])
	require.Equal(t, 2, counts["agent.turn"])
	require.Equal(t, 1, counts["agent.tool"])
}
