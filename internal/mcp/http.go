package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/joebot/toolbot/internal/errors"
)

// HTTPTransport posts JSON-RPC messages to a tool server's /mcp endpoint.
// Servers may answer with plain JSON or a single-response SSE stream.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client

	mu        sync.Mutex
	sessionID string // Mcp-Session-Id for session continuity
}

// NewHTTPTransport creates a transport for the tool server at baseURL.
// The /mcp path is appended unless baseURL already ends with it.
func NewHTTPTransport(baseURL string, headers map[string]string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		url:     Endpoint(baseURL),
		headers: headers,
		client:  client,
	}
}

// Endpoint returns the /mcp endpoint for a server base URL.
func Endpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/mcp") {
		return base
	}
	return base + "/mcp"
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	resp, err := t.post(ctx, request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Vendor("mcp http", resp.StatusCode, string(body))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body, request)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcp http: read response: %w", err)
	}
	return body, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, notification []byte) error {
	resp, err := t.post(ctx, notification)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Vendor("mcp http notify", resp.StatusCode, "")
	}
	return nil
}

// ResetSession forgets the server session id so the next initialize starts
// a fresh session.
func (t *HTTPTransport) ResetSession() {
	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mcp http: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp http: %w", err)
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return resp, nil
}

// readSSEResponse returns the data payload of the SSE event whose id matches
// the request. Server notifications interleaved on the stream are skipped.
func readSSEResponse(r io.Reader, request []byte) ([]byte, error) {
	var reqEnv struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(request, &reqEnv); err != nil {
		return nil, fmt.Errorf("mcp http: request id: %w", err)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var env struct {
			ID *uint64 `json:"id"`
		}
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			continue
		}
		if env.ID != nil && *env.ID == reqEnv.ID {
			return []byte(data), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mcp http: read sse: %w", err)
	}
	return nil, errors.Protocol("mcp http", "event stream ended without a response for id %d", reqEnv.ID)
}
