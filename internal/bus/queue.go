// Package bus carries chat-channel traffic between channels and the
// gateway that answers it.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/joebot/toolbot/internal/textutil"
)

const (
	queueSize       = 64
	deliveryTimeout = 30 * time.Second

	// fallbackLimit is the length a failed reply is cut to before retrying.
	fallbackLimit        = 1500
	deliveryFailedNotice = "Sorry, I ran into a technical issue and couldn't deliver my response. Please try again."
)

// OutboundHandler delivers a reply to one channel.
type OutboundHandler func(ctx context.Context, msg *OutboundMessage) error

// MessageBus queues inbound channel messages for the gateway and routes its
// replies back to the channel they came from.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage

	mu     sync.RWMutex
	routes map[string]OutboundHandler
}

// NewMessageBus creates a bus with buffered queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, queueSize),
		outbound: make(chan *OutboundMessage, queueSize),
		routes:   make(map[string]OutboundHandler),
	}
}

// Publish queues a message received by a channel. It blocks while the queue
// is full and gives up when ctx is done.
func (b *MessageBus) Publish(ctx context.Context, msg *InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound is the queue the gateway consumes.
func (b *MessageBus) Inbound() <-chan *InboundMessage {
	return b.inbound
}

// Reply queues an answer for delivery by DispatchOutbound.
func (b *MessageBus) Reply(ctx context.Context, msg *OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Route sets the handler that delivers replies for channel, replacing any
// earlier one.
func (b *MessageBus) Route(channel string, h OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[channel] = h
}

// DispatchOutbound delivers queued replies until ctx is cancelled. Replies
// for a channel without a route are dropped.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbound:
			b.mu.RLock()
			h, ok := b.routes[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				slog.Warn("No route for reply, dropping", "channel", msg.Channel, "chat", msg.ChatID)
				continue
			}
			b.deliver(ctx, h, msg)
		}
	}
}

func (b *MessageBus) deliver(ctx context.Context, h OutboundHandler, msg *OutboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	err := h(ctx, msg)
	if err == nil {
		return
	}
	slog.Warn("Reply delivery failed, retrying shorter", "channel", msg.Channel, "err", err)

	if utf8.RuneCountInString(msg.Content) > fallbackLimit {
		short := *msg
		short.Content = textutil.Cut(msg.Content, fallbackLimit) + "\n\n[message truncated]"
		if err := h(ctx, &short); err == nil {
			return
		}
	}

	notice := &OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: deliveryFailedNotice}
	if err := h(ctx, notice); err != nil {
		slog.Error("Reply lost, user not notified", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
	}
}
