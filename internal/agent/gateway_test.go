package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joebot/toolbot/internal/bus"
	"github.com/joebot/toolbot/internal/errors"
	"github.com/joebot/toolbot/internal/session"
)

type fakeResponder struct {
	mu       sync.Mutex
	sessions []string
	err      error
}

func (f *fakeResponder) ProcessMessage(_ context.Context, message, sessionID string) (*ChatResponse, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Response: "re: " + message, SessionID: sessionID}, nil
}

// runGateway starts a gateway whose "discord" replies land on the returned
// channel.
func runGateway(t *testing.T, r Responder) (*bus.MessageBus, chan *bus.OutboundMessage) {
	t.Helper()
	b := bus.NewMessageBus()
	replies := make(chan *bus.OutboundMessage, 4)
	b.Route("discord", func(_ context.Context, msg *bus.OutboundMessage) error {
		replies <- msg
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.DispatchOutbound(ctx)
	go NewGateway(b, r).Run(ctx)
	return b, replies
}

func nextOutbound(t *testing.T, replies chan *bus.OutboundMessage) *bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-replies:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message")
		return nil
	}
}

func TestGatewayAnswersWithStableSession(t *testing.T) {
	r := &fakeResponder{}
	b, replies := runGateway(t, r)

	for i := 0; i < 2; i++ {
		b.Publish(context.Background(), &bus.InboundMessage{
			Channel:  "discord",
			ChatID:   "123",
			Content:  "ping",
			Metadata: map[string]any{"message_id": "m1"},
		})
		out := nextOutbound(t, replies)
		require.Equal(t, "discord", out.Channel)
		require.Equal(t, "123", out.ChatID)
		require.Equal(t, "re: ping", out.Content)
		require.Equal(t, "m1", out.ReplyTo)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.sessions, 2)
	require.Equal(t, session.KeyID("discord:123"), r.sessions[0])
	require.Equal(t, r.sessions[0], r.sessions[1])
}

func TestGatewayReportsFailure(t *testing.T) {
	b, replies := runGateway(t, &fakeResponder{err: errors.Protocol("groq chat", "no choices")})

	b.Publish(context.Background(), &bus.InboundMessage{Channel: "discord", ChatID: "9", Content: "hi"})
	out := nextOutbound(t, replies)
	require.Contains(t, out.Content, "protocol")
	require.Empty(t, out.ReplyTo)
}
