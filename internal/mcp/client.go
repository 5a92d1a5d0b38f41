package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/joebot/toolbot/internal/errors"
)

// Client is a JSON-RPC 2.0 MCP client that works over any Transport.
// It is safe for concurrent use; request ids come from one atomic counter.
type Client struct {
	name      string
	version   string
	transport Transport
	nextID    atomic.Uint64
}

// NewClient creates a client that identifies itself as name/version during initialize.
func NewClient(name, version string, transport Transport) *Client {
	return &Client{
		name:      name,
		version:   version,
		transport: transport,
	}
}

// Initialize performs the capability handshake. A server error is fatal.
// Transports that keep a server session start a new one.
func (c *Client) Initialize(ctx context.Context) error {
	if r, ok := c.transport.(interface{ ResetSession() }); ok {
		r.ResetSession()
	}
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: clientInfo{
			Name:    c.name,
			Version: c.version,
		},
	}

	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}
	return c.notify(ctx, "notifications/initialized")
}

// ListTools calls tools/list and returns the advertised tools in server order.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	const op = "mcp tools/list"
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Protocol(op, "parse result: %w", err)
	}
	if result.Tools == nil {
		return nil, errors.Protocol(op, "result has no tools list")
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns the text of the first content item.
// Further content items are dropped; the count is logged at debug level.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	op := "mcp tools/call " + name
	if len(bytes.TrimSpace(arguments)) == 0 {
		arguments = json.RawMessage("{}")
	}

	raw, err := c.call(ctx, "tools/call", toolCallParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.KindOf(err) == errors.KindVendor && stderrors.As(err, &rpcErr) {
			return "", errors.ToolExecution(op, "%s", rpcErr.Error())
		}
		return "", err
	}

	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", errors.Protocol(op, "parse result: %w", err)
	}
	if result.IsError {
		msg := "tool reported an error"
		if len(result.Content) > 0 && result.Content[0].Text != "" {
			msg = result.Content[0].Text
		}
		return "", errors.ToolExecution(op, "%s", msg)
	}
	if len(result.Content) == 0 {
		return "", errors.Protocol(op, "result has no content")
	}
	if len(result.Content) > 1 {
		slog.Debug("tool returned extra content items, keeping the first", "tool", name, "dropped", len(result.Content)-1)
	}
	return result.Content[0].Text, nil
}

// Close shuts down the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// --- internal helpers ---

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	op := "mcp " + method
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(op, err)
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	slog.Debug("mcp request", "method", method, "id", id)
	respData, err := c.transport.RoundTrip(ctx, data)
	if err != nil {
		return nil, classify(ctx, op, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, errors.Protocol(op, "parse response: %w", err)
	}
	if resp.ID == nil || *resp.ID != id {
		return nil, errors.Protocol(op, "response id %s does not match request id %d", formatID(resp.ID), id)
	}

	hasResult := len(resp.Result) > 0 && string(resp.Result) != "null"
	switch {
	case resp.Error != nil && hasResult:
		return nil, errors.Protocol(op, "response carries both result and error")
	case resp.Error != nil:
		return nil, &errors.Error{Kind: errors.KindVendor, Op: op, Err: resp.Error}
	case !hasResult:
		return nil, errors.Protocol(op, "response carries neither result nor error")
	}
	return resp.Result, nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	data, err := json.Marshal(rpcNotification{
		JSONRPC: jsonRPCVersion,
		Method:  method,
	})
	if err != nil {
		return err
	}
	if err := c.transport.Notify(ctx, data); err != nil {
		return classify(ctx, "mcp "+method, err)
	}
	return nil
}

// classify leaves categorized transport errors alone and maps the rest.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errors.Cancelled(op, ctx.Err())
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		categorized := *e
		categorized.Op = op
		return &categorized
	}
	return errors.Transport(op, err)
}

func formatID(id *uint64) string {
	if id == nil {
		return "<missing>"
	}
	return fmt.Sprint(*id)
}
