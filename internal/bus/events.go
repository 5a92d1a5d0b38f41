package bus

import "time"

// InboundMessage is a message a channel received from a user.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	// Metadata holds channel specifics such as "message_id" for replies.
	Metadata map[string]any
}

// SessionKey names the conversation a message belongs to, e.g.
// "discord:123". Every message in one chat shares a session.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// ReplyTo returns the id of the message an answer should reply to, if the
// channel recorded one.
func (m *InboundMessage) ReplyTo() string {
	id, _ := m.Metadata["message_id"].(string)
	return id
}

// OutboundMessage is an answer headed back to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// ReplyTo is the channel message id being answered; empty posts plainly.
	ReplyTo string
}
