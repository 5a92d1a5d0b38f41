package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/joebot/toolbot/internal/errors"
)

// Session owns the handshake state of a Client. Calls initialize the client
// on first use; a failed handshake, or a transport or server failure after
// one, marks the session stale so the next call handshakes again. A tool
// server that starts after toolbot, or restarts under it, is picked up
// without restarting the process.
type Session struct {
	client *Client

	mu    sync.Mutex
	ready bool
}

// NewSession wraps c. c must not be initialized by anyone else.
func NewSession(c *Client) *Session {
	return &Session{client: c}
}

// Initialize performs the handshake unless it already succeeded.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.client.Initialize(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

// ListTools initializes if needed, then lists tools. A handshake failure is
// returned as is.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	tools, err := s.client.ListTools(ctx)
	s.observe(err)
	return tools, err
}

// CallTool initializes if needed, then calls the tool.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	if err := s.Initialize(ctx); err != nil {
		return "", err
	}
	out, err := s.client.CallTool(ctx, name, arguments)
	s.observe(err)
	return out, err
}

// Close closes the underlying client.
func (s *Session) Close() error {
	return s.client.Close()
}

// observe drops the handshake after failures that may mean the server lost
// the session. Tool and protocol errors leave it in place.
func (s *Session) observe(err error) {
	switch errors.KindOf(err) {
	case errors.KindTransport, errors.KindVendor:
		s.mu.Lock()
		s.ready = false
		s.mu.Unlock()
	}
}
