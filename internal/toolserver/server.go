// Package toolserver exposes a tool.Registry as an MCP server over
// streamable HTTP at /mcp.
package toolserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/joebot/toolbot/internal/tool"
)

// Server serves the registry's tools.
type Server struct {
	registry *tool.Registry
	mcp      *mcpsdk.Server
}

// New builds an MCP server advertising every tool in reg, in registration order.
func New(name, version string, reg *tool.Registry) *Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	s := &Server{registry: reg, mcp: srv}
	for _, t := range reg.List() {
		srv.AddTool(&mcpsdk.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		}, s.handler(t.Name()))
	}
	return s
}

func (s *Server) handler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		params := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
				return errorResult("invalid arguments: " + err.Error()), nil
			}
		}

		start := time.Now()
		out, err := s.registry.Execute(ctx, name, params)
		slog.Info("Tool served", "tool", name, "duration", time.Since(start).Round(time.Millisecond), "ok", err == nil)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		}, nil
	}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}

// Handler returns the HTTP routes: POST/GET/DELETE /mcp and GET /health.
func (s *Server) Handler() http.Handler {
	mcpHandler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.mcp
	}, nil)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/mcp", mcpHandler)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"tools":  s.registry.Names(),
		})
	})
	return r
}
