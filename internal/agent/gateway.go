package agent

import (
	"context"
	"log/slog"

	"github.com/joebot/toolbot/internal/bus"
	"github.com/joebot/toolbot/internal/errors"
	"github.com/joebot/toolbot/internal/session"
	"github.com/joebot/toolbot/internal/textutil"
)

// Responder answers one message within a session. *Orchestrator implements it.
type Responder interface {
	ProcessMessage(ctx context.Context, message, sessionID string) (*ChatResponse, error)
}

// Gateway answers chat-channel messages arriving on the bus. Each channel
// conversation maps to a stable session derived from its session key.
type Gateway struct {
	bus       *bus.MessageBus
	responder Responder
}

// NewGateway creates a Gateway.
func NewGateway(b *bus.MessageBus, r Responder) *Gateway {
	return &Gateway{bus: b, responder: r}
}

// Run processes inbound messages one at a time until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	slog.Info("Gateway started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Gateway stopped")
			return
		case msg := <-g.bus.Inbound():
			g.handle(ctx, msg)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg *bus.InboundMessage) {
	sessionID := session.KeyID(msg.SessionKey())
	slog.Info("Inbound message", "channel", msg.Channel, "chat", msg.ChatID, "session", sessionID,
		"preview", textutil.Truncate(msg.Content, 120))

	content := ""
	resp, err := g.responder.ProcessMessage(ctx, msg.Content, sessionID)
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case err != nil:
		slog.Error("Gateway message failed", "channel", msg.Channel, "kind", errors.KindOf(err), "err", err)
		content = "Sorry, I ran into a problem answering that (" + errors.KindOf(err).String() + "). Please try again."
	default:
		content = resp.Response
	}

	reply := &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		ReplyTo: msg.ReplyTo(),
	}
	if err := g.bus.Reply(ctx, reply); err != nil {
		slog.Warn("Reply not queued", "channel", msg.Channel, "err", err)
	}
}
