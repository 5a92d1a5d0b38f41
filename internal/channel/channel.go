// Package channel connects chat platforms to the message bus.
package channel

import (
	"context"
	"slices"

	"github.com/joebot/toolbot/internal/bus"
)

// Channel receives user messages onto the bus and delivers the gateway's
// replies through Send, which is routed with bus.MessageBus.Route.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// AllowList holds the sender ids a channel answers. An empty list answers
// everyone.
type AllowList []string

// Allows reports whether senderID may talk to the bot.
func (a AllowList) Allows(senderID string) bool {
	return len(a) == 0 || slices.Contains(a, senderID)
}
