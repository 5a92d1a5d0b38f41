package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joebot/toolbot/internal/errors"
	"github.com/joebot/toolbot/internal/mcp"
	"github.com/joebot/toolbot/internal/tool"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo input" }
func (echoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}
func (echoTool) Execute(_ context.Context, params map[string]any) (string, error) {
	text, _ := params["text"].(string)
	if text == "" {
		return "", context.Canceled
	}
	return "echo:" + text, nil
}

func newTestClient(t *testing.T) *mcp.Client {
	t.Helper()
	reg := tool.NewRegistry()
	reg.Register(echoTool{})
	reg.Register(tool.NewClockTool())

	srv := httptest.NewServer(New("toolserver-test", "0.0.1", reg).Handler())
	t.Cleanup(srv.Close)

	client := mcp.NewClient("toolbot-test", "0.0.1", mcp.NewHTTPTransport(srv.URL, nil, srv.Client()))
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Initialize(context.Background()))
	return client
}

func TestServeThroughClient(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Name)
	}
	require.ElementsMatch(t, []string{"echo", "get_time"}, names)

	for _, tl := range tools {
		if tl.Name != "echo" {
			continue
		}
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tl.InputSchema, &schema))
		require.Equal(t, "object", schema["type"])
	}

	out, err := client.CallTool(ctx, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, "echo:hi", out)

	out, err = client.CallTool(ctx, "get_time", nil)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(out, "UTC)"), out)
}

func TestToolFailureIsToolExecution(t *testing.T) {
	client := newTestClient(t)

	_, err := client.CallTool(context.Background(), "echo", json.RawMessage(`{"text":""}`))
	require.Error(t, err)
	require.Equal(t, errors.KindToolExecution, errors.KindOf(err))
}

func TestHealth(t *testing.T) {
	reg := tool.Defaults("")
	srv := httptest.NewServer(New("toolserver-test", "0.0.1", reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string   `json:"status"`
		Tools  []string `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, []string{"get_time", "web_fetch"}, body.Tools)
}

// lateServer answers 503 until a handler is installed, like a tool server
// that is still starting.
type lateServer struct {
	mu sync.Mutex
	h  http.Handler
}

func (l *lateServer) set(h http.Handler) {
	l.mu.Lock()
	l.h = h
	l.mu.Unlock()
}

func (l *lateServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	h := l.h
	l.mu.Unlock()
	if h == nil {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

func TestSessionPicksUpLateAndRestartedServer(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(echoTool{})

	late := &lateServer{}
	srv := httptest.NewServer(late)
	defer srv.Close()

	session := mcp.NewSession(mcp.NewClient("toolbot-test", "0.0.1", mcp.NewHTTPTransport(srv.URL, nil, srv.Client())))
	ctx := context.Background()

	_, err := session.ListTools(ctx)
	require.Error(t, err)
	require.Equal(t, errors.KindVendor, errors.KindOf(err))

	late.set(New("toolserver-test", "0.0.1", reg).Handler())
	tools, err := session.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	// A restarted server has forgotten the session; at most one call fails
	// before the session handshakes again.
	late.set(New("toolserver-test", "0.0.1", reg).Handler())
	var out string
	for attempt := 0; attempt < 2; attempt++ {
		if out, err = session.CallTool(ctx, "echo", json.RawMessage(`{"text":"back"}`)); err == nil {
			break
		}
	}
	require.NoError(t, err)
	require.Equal(t, "echo:back", out)
}
