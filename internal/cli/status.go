package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joebot/toolbot/internal/config"
	"github.com/joebot/toolbot/internal/session"
)

// RunStatus displays the configuration and, when sessions is non-nil, the
// most recent sessions.
func RunStatus(ctx context.Context, cfgPath string, cfg *config.Config, sessions session.Store) {
	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s toolbot Status", Logo)))
	fmt.Println()

	fmt.Printf("  %-12s %s  %s\n", "Config", StatusBadge(fileExists(cfgPath)), DimStyle.Render(cfgPath))
	fmt.Printf("  %-12s %s  %s\n", "LLM", StatusBadge(cfg.LLM.APIKey != ""), cfg.LLM.Provider+" "+DimStyle.Render(cfg.LLM.Model))
	fmt.Printf("  %-12s %s  %s\n", "Embeddings", StatusBadge(cfg.Embedding.APIKey != ""), DimStyle.Render(cfg.Embedding.Model))
	fmt.Printf("  %-12s    %s\n", "Tools", cfg.MCP.URL)
	fmt.Printf("  %-12s    %s\n", "Storage", storageLabel(cfg.Storage))
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Integrations"))
	fmt.Printf("    %s  Discord\n", StatusBadge(cfg.Discord.Enabled))
	fmt.Printf("    %s  Kafka events\n", StatusBadge(len(cfg.Kafka.Brokers) > 0))
	fmt.Println()

	if sessions == nil {
		return
	}
	infos, err := sessions.List(ctx)
	if err != nil {
		fmt.Println("  " + ErrStyle.Render("Sessions: "+err.Error()))
		fmt.Println()
		return
	}
	fmt.Println("  " + BoldStyle.Render(fmt.Sprintf("Sessions (%d)", len(infos))))
	for i, info := range infos {
		if i == 10 {
			fmt.Println("    " + DimStyle.Render(fmt.Sprintf("… %d more", len(infos)-10)))
			break
		}
		fmt.Printf("    %s  %3d msgs  %s\n", info.ID, info.Messages,
			DimStyle.Render(info.UpdatedAt.Local().Format(time.DateTime)))
	}
	fmt.Println()
}

func storageLabel(s config.StorageConfig) string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	return s.SessionPath() + DimStyle.Render(" (files)")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
