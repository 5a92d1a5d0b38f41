package channel

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestAllowList(t *testing.T) {
	if !AllowList(nil).Allows("42") {
		t.Error("empty allow list should allow everyone")
	}
	if !(AllowList{"7", "42"}).Allows("42") {
		t.Error("listed sender rejected")
	}
	if (AllowList{"7", "42"}).Allows("43") {
		t.Error("unlisted sender allowed")
	}
}

func TestInboundFromMessage(t *testing.T) {
	msg := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "  what time is it?  ",
		Author:    &discordgo.User{ID: "u1"},
		MessageReference: &discordgo.MessageReference{
			MessageID: "m0",
		},
	}

	in, ok := inboundFromMessage(msg, nil)
	if !ok {
		t.Fatal("message dropped")
	}
	if in.Channel != "discord" || in.ChatID != "c1" || in.SenderID != "u1" {
		t.Errorf("inbound = %+v", in)
	}
	if in.Content != "what time is it?" {
		t.Errorf("content = %q", in.Content)
	}
	if in.SessionKey() != "discord:c1" {
		t.Errorf("session key = %q", in.SessionKey())
	}
	if in.Metadata["message_id"] != "m1" || in.Metadata["reply_to"] != "m0" {
		t.Errorf("metadata = %v", in.Metadata)
	}

	bot := *msg
	bot.Author = &discordgo.User{ID: "b1", Bot: true}
	if _, ok := inboundFromMessage(&bot, nil); ok {
		t.Error("bot message not dropped")
	}
	if _, ok := inboundFromMessage(msg, []string{"someone-else"}); ok {
		t.Error("disallowed sender not dropped")
	}

	empty := *msg
	empty.Content = ""
	in, _ = inboundFromMessage(&empty, nil)
	if in.Content != "[empty message]" {
		t.Errorf("empty content = %q", in.Content)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %q", got)
	}

	lines := "aaaa\nbbbb\ncccc"
	got := splitMessage(lines, 10)
	if strings.Join(got, "|") != "aaaa\nbbbb|cccc" {
		t.Errorf("lines = %q", got)
	}

	long := strings.Repeat("x", 25)
	got = splitMessage(long, 10)
	if len(got) != 3 || got[2] != "xxxxx" {
		t.Errorf("long = %q", got)
	}

	// "é" is two bytes; a cut at byte 3 would land inside the second one.
	got = splitMessage("ééé", 3)
	for _, p := range got {
		if !utf8Valid(p) {
			t.Errorf("split produced invalid utf8: %q", got)
		}
	}
	if strings.Join(got, "") != "ééé" {
		t.Errorf("content lost: %q", got)
	}
}

func utf8Valid(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}
