package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/joebot/toolbot/internal/bus"
	"github.com/joebot/toolbot/internal/config"
)

const (
	// discordMaxMessage is Discord's per-message character limit.
	discordMaxMessage = 2000
	publishTimeout    = 5 * time.Second
)

// Discord connects to the Discord gateway and relays messages over the bus.
type Discord struct {
	config  config.DiscordConfig
	bus     *bus.MessageBus
	session *discordgo.Session

	// ctx is the Start context; gateway callbacks publish under it.
	ctx context.Context
}

// NewDiscord creates a Discord channel. The connection is opened by Start.
func NewDiscord(cfg config.DiscordConfig, b *bus.MessageBus) (*Discord, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord bot token not configured")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	d := &Discord{config: cfg, bus: b, session: s, ctx: context.Background()}
	s.AddHandler(d.onMessageCreate)
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Discord gateway READY", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	return d, nil
}

func (d *Discord) Name() string { return "discord" }

// Start opens the gateway connection and blocks until ctx is cancelled.
// discordgo reconnects on its own after transient drops.
func (d *Discord) Start(ctx context.Context) error {
	slog.Info("Connecting to Discord gateway...")
	d.ctx = ctx
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	<-ctx.Done()
	return d.Stop()
}

// Stop disconnects from Discord.
func (d *Discord) Stop() error {
	return d.session.Close()
}

// Send posts msg to its channel, split into Discord-sized chunks. The first
// chunk replies to msg.ReplyTo when set.
func (d *Discord) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	for i, chunk := range splitMessage(msg.Content, discordMaxMessage) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && msg.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChatID}
			send.AllowedMentions = &discordgo.MessageAllowedMentions{RepliedUser: false}
		}
		if _, err := d.session.ChannelMessageSendComplex(msg.ChatID, send, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	in, ok := inboundFromMessage(m.Message, d.config.AllowFrom)
	if !ok {
		return
	}
	if err := s.ChannelTyping(m.ChannelID); err != nil {
		slog.Debug("Discord typing indicator failed", "err", err)
	}
	ctx, cancel := context.WithTimeout(d.ctx, publishTimeout)
	defer cancel()
	if err := d.bus.Publish(ctx, in); err != nil {
		slog.Warn("Discord message dropped, gateway busy", "chat", in.ChatID, "err", err)
	}
}

// inboundFromMessage converts a gateway message into a bus message. Bot
// authors and senders outside allowFrom are dropped.
func inboundFromMessage(m *discordgo.Message, allowFrom AllowList) (*bus.InboundMessage, bool) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return nil, false
	}
	if m.Author.ID == "" || m.ChannelID == "" {
		return nil, false
	}
	if !allowFrom.Allows(m.Author.ID) {
		return nil, false
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		content = "[empty message]"
	}

	metadata := map[string]any{
		"message_id": m.ID,
		"guild_id":   m.GuildID,
	}
	if m.MessageReference != nil {
		metadata["reply_to"] = m.MessageReference.MessageID
	}

	return &bus.InboundMessage{
		Channel:   "discord",
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}, true
}

// splitMessage cuts s into pieces of at most limit bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitMessage(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var parts []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8Start(s[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		parts = append(parts, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
