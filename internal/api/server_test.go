package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/joebot/toolbot/internal/agent"
	"github.com/joebot/toolbot/internal/errors"
)

type fakeChat struct {
	mu    sync.Mutex
	calls []ChatRequest
	err   error
}

func (f *fakeChat) ProcessMessage(_ context.Context, message, sessionID string) (*agent.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ChatRequest{Message: message, SessionID: sessionID})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if sessionID == "" {
		sessionID = "generated-id"
	}
	return &agent.ChatResponse{Response: "echo: " + message, SessionID: sessionID}, nil
}

func (f *fakeChat) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat(t *testing.T) {
	chat := &fakeChat{}
	h := NewServer(chat, Options{}).Router()

	rec := post(t, h, `{"message":"hello","session_id":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"response":"echo: hello","session_id":"abc"}`, rec.Body.String())

	rec = post(t, h, `{"message":"hi again"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "", chat.calls[1].SessionID)
	require.Contains(t, rec.Body.String(), `"session_id":"generated-id"`)
}

func TestChatBadRequests(t *testing.T) {
	chat := &fakeChat{}
	h := NewServer(chat, Options{}).Router()

	for _, body := range []string{`{not json`, `{"message":"   "}`, `{}`} {
		rec := post(t, h, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Empty(t, chat.calls)
}

func TestChatErrorCarriesKind(t *testing.T) {
	chat := &fakeChat{err: errors.Vendor("groq chat", 429, `{"error":"rate limited"}`)}
	h := NewServer(chat, Options{}).Router()

	rec := post(t, h, `{"message":"hello"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Failed to process message", body.Error)
	require.Equal(t, "vendor", body.Kind)
	require.Contains(t, body.Message, "groq chat")
}

func TestHealth(t *testing.T) {
	h := NewServer(&fakeChat{}, Options{}).Router()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(&fakeChat{}, Options{Health: func(context.Context) error {
		return context.DeadlineExceeded
	}}).Router()
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	h := NewServer(&fakeChat{}, Options{AllowedOrigins: []string{"http://localhost:8080"}}).Router()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginHosts(t *testing.T) {
	require.Equal(t, []string{"*"}, originHosts(nil))
	require.Equal(t, []string{"*"}, originHosts([]string{"http://a", "*"}))
	require.Equal(t, []string{"localhost:8080", "chat.example"},
		originHosts([]string{"http://localhost:8080", "https://chat.example"}))
}

func TestChatWebsocket(t *testing.T) {
	chat := &fakeChat{}
	srv := httptest.NewServer(NewServer(chat, Options{}).Router())
	defer srv.Close()

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, ChatRequest{Message: "first", SessionID: "s1"}))
	var resp agent.ChatResponse
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	require.Equal(t, "echo: first", resp.Response)
	require.Equal(t, "s1", resp.SessionID)

	require.NoError(t, wsjson.Write(ctx, conn, ChatRequest{Message: ""}))
	var bad ErrorResponse
	require.NoError(t, wsjson.Read(ctx, conn, &bad))
	require.Equal(t, "Invalid request", bad.Error)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Equal(t, 1, chat.count())
}
