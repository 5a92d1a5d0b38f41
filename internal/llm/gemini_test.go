package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joebot/toolbot/internal/errors"
)

func fakeGemini(t *testing.T, status int, reply string) (*httptest.Server, *http.Request, *[]byte) {
	t.Helper()
	var last []byte
	seen := &http.Request{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = *r.Clone(context.Background())
		last, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, seen, &last
}

func newTestGemini(srv *httptest.Server) *GeminiProvider {
	return NewGeminiProvider(Config{
		APIKey:      "g-key",
		APIBase:     srv.URL,
		Model:       "gemini-2.0-flash-exp",
		Temperature: 0.7,
		MaxTokens:   2000,
	})
}

func TestGeminiRequestShape(t *testing.T) {
	srv, seen, last := fakeGemini(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`)

	call := ToolCall{ID: "get_time", Name: "get_time", Arguments: json.RawMessage(`{"tz":"UTC"}`)}
	out, err := newTestGemini(srv).SendTurn(context.Background(), []Message{
		SystemMessage("sys"),
		UserMessage("time?"),
		ToolRequestMessage("", []ToolCall{call}),
		ToolResultMessage(call, "14:02"),
	}, testTools)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if out.Kind != FinalText || out.Text != "hello" {
		t.Errorf("outcome = %+v", out)
	}

	if seen.URL.Path != "/models/gemini-2.0-flash-exp:generateContent" {
		t.Errorf("path = %s", seen.URL.Path)
	}
	if seen.URL.Query().Get("key") != "g-key" {
		t.Errorf("key = %q", seen.URL.Query().Get("key"))
	}

	want := `{"contents":[` +
		`{"role":"user","parts":[{"text":"sys"}]},` +
		`{"role":"user","parts":[{"text":"time?"}]},` +
		`{"role":"model","parts":[{"functionCall":{"name":"get_time","args":{"tz":"UTC"}}}]},` +
		`{"role":"function","parts":[{"functionResponse":{"name":"get_time","response":{"result":"14:02"}}}]}],` +
		`"tools":[{"functionDeclarations":[{"name":"get_time","description":"Current time","parameters":{"type":"object","properties":{"tz":{"type":"string"}}}}]}],` +
		`"generationConfig":{"temperature":0.7,"maxOutputTokens":2000}}`
	if string(*last) != want {
		t.Errorf("body:\n got %s\nwant %s", *last, want)
	}
}

func TestGeminiFirstFunctionCallWins(t *testing.T) {
	reply := `{"candidates":[{"content":{"parts":[
		{"text":"let me check"},
		{"functionCall":{"name":"get_time","args":{"tz":"UTC"}}},
		{"functionCall":{"name":"get_weather","args":{"city":"Oslo"}}}
	]}}]}`
	srv, _, _ := fakeGemini(t, http.StatusOK, reply)

	out, err := newTestGemini(srv).SendTurn(context.Background(), []Message{UserMessage("time and weather?")}, testTools)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if out.Kind != ToolRequests || len(out.Calls) != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Calls[0].Name != "get_time" || string(out.Calls[0].Arguments) != `{"tz":"UTC"}` {
		t.Errorf("call = %+v", out.Calls[0])
	}
}

func TestGeminiFunctionCallWithoutArgs(t *testing.T) {
	srv, _, _ := fakeGemini(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_time"}}]}}]}`)

	out, err := newTestGemini(srv).SendTurn(context.Background(), []Message{UserMessage("time?")}, testTools)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if string(out.Calls[0].Arguments) != "{}" {
		t.Errorf("args = %s", out.Calls[0].Arguments)
	}
}

func TestGeminiFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		kind   errors.Kind
	}{
		{"no candidates", http.StatusOK, `{"candidates":[]}`, errors.KindProtocol},
		{"malformed", http.StatusOK, `not json`, errors.KindProtocol},
		{"http error", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid"}}`, errors.KindVendor},
		{"error body", http.StatusOK, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, errors.KindVendor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := fakeGemini(t, tt.status, tt.reply)
			_, err := newTestGemini(srv).SendTurn(context.Background(), []Message{UserMessage("hi")}, nil)
			if got := errors.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %v (%v), want %v", got, err, tt.kind)
			}
		})
	}
}

func TestGeminiCancelled(t *testing.T) {
	srv, _, _ := fakeGemini(t, http.StatusOK, `{}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestGemini(srv).SendTurn(ctx, []Message{UserMessage("hi")}, nil)
	if !errors.Is(err, errors.KindCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
}

func TestGoogleEmbedder(t *testing.T) {
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		io.WriteString(w, `{"embedding":{"values":[0.1,0.2,0.3]}}`)
	}))
	defer srv.Close()

	e := NewGoogleEmbedder("k", srv.URL, "", nil)
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
	if path != "/models/text-embedding-004:embedContent" {
		t.Errorf("path = %s", path)
	}
	if body["model"] != "models/text-embedding-004" {
		t.Errorf("model = %v", body["model"])
	}
}

func TestGoogleEmbedderEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"embedding":{"values":[]}}`)
	}))
	defer srv.Close()

	_, err := NewGoogleEmbedder("k", srv.URL, "", nil).Embed(context.Background(), "x")
	if !errors.Is(err, errors.KindProtocol) {
		t.Fatalf("err = %v, want protocol", err)
	}
}
