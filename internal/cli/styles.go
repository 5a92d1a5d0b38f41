package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

const Logo = "🤖"
const Version = "0.2.0"

var (
	Accent = lipgloss.Color("#00D4FF")
	Subtle = lipgloss.Color("#555555")
	Green  = lipgloss.Color("#04B575")
	Red    = lipgloss.Color("#FF4444")

	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	BoldStyle  = lipgloss.NewStyle().Bold(true)
	BotLabel   = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	UserLabel  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AAAAAA"))
	ErrStyle   = lipgloss.NewStyle().Foreground(Red)
	OkStyle    = lipgloss.NewStyle().Foreground(Green).Bold(true)
	DimStyle   = lipgloss.NewStyle().Foreground(Subtle)
)

func StatusBadge(ok bool) string {
	if ok {
		return OkStyle.Render("✓")
	}
	return DimStyle.Render("✗")
}

// RenderBanner returns the welcome banner shown above an empty chat.
func RenderBanner() string {
	title := TitleStyle.Render(fmt.Sprintf("  %s toolbot v%s", Logo, Version))
	return title + "\n" + DimStyle.Render("  Chat with an LLM that can call tools on your tool server") + "\n"
}
