package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joebot/toolbot/internal/config"
)

// --- init selection model ---

type initChoice int

const (
	choiceUpgrade initChoice = iota
	choiceOverwrite
	choiceSkip
)

type initModel struct {
	path    string
	choices []string
	cursor  int
	chosen  bool
	choice  initChoice
}

func (m initModel) Init() tea.Cmd { return nil }

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.choice = choiceSkip
			m.chosen = true
			return m, tea.Quit
		case tea.KeyUp, tea.KeyShiftTab:
			if m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown, tea.KeyTab:
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}
		case tea.KeyEnter:
			m.choice = initChoice(m.cursor)
			m.chosen = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m initModel) View() string {
	if m.chosen {
		return ""
	}

	s := "\n"
	s += fmt.Sprintf("  Config already exists at %s\n\n", DimStyle.Render(m.path))

	for i, choice := range m.choices {
		cursor := "  "
		if i == m.cursor {
			cursor = BotLabel.Render("❯ ")
		}
		s += "  " + cursor + choice + "\n"
	}

	s += "\n" + DimStyle.Render("  ↑/↓ navigate · enter select · ctrl+c cancel") + "\n"
	return s
}

// RunInit writes a config file at path (asking first when one exists) and
// creates the session directory.
func RunInit(path string) error {
	var cfg *config.Config

	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s toolbot Init", Logo)))

	if _, err := os.Stat(path); err == nil {
		m := initModel{
			path: path,
			choices: []string{
				"Upgrade: add new fields, keep existing values",
				"Overwrite: replace with fresh defaults",
				"Skip: do not modify config",
			},
		}
		final, err := tea.NewProgram(m).Run()
		if err != nil {
			return err
		}

		fmt.Println()
		switch final.(initModel).choice {
		case choiceUpgrade:
			if cfg, err = config.UpgradeAt(path); err != nil {
				return err
			}
			fmt.Println("  " + OkStyle.Render("✓") + " Upgraded config")
		case choiceOverwrite:
			cfg = config.DefaultConfig()
			if err := config.SaveTo(cfg, path); err != nil {
				return err
			}
			fmt.Println("  " + OkStyle.Render("✓") + " Overwritten config")
		default:
			fmt.Println("  " + DimStyle.Render("Config unchanged"))
			if cfg, err = config.LoadFrom(path); err != nil {
				return err
			}
		}
	} else {
		cfg = config.DefaultConfig()
		if err := config.SaveTo(cfg, path); err != nil {
			return err
		}
		fmt.Println()
		fmt.Println("  " + OkStyle.Render("✓") + " Created config at " + DimStyle.Render(path))
	}

	dir := cfg.Storage.SessionPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fmt.Println("  " + OkStyle.Render("✓") + " Sessions at " + DimStyle.Render(dir))

	fmt.Println()
	fmt.Println(OkStyle.Render("  toolbot is ready!"))
	fmt.Println()
	fmt.Println(DimStyle.Render("  Next steps:"))
	fmt.Println(DimStyle.Render("  1. Set GROQ_API_KEY (or llm.apiKey in " + path + ")"))
	fmt.Println(DimStyle.Render("  2. Start tools: toolserver"))
	fmt.Println(DimStyle.Render("  3. Chat: toolbot agent -m \"What time is it?\""))
	fmt.Println()
	return nil
}
