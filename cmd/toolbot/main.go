package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joebot/toolbot/internal/agent"
	"github.com/joebot/toolbot/internal/api"
	"github.com/joebot/toolbot/internal/bus"
	"github.com/joebot/toolbot/internal/channel"
	"github.com/joebot/toolbot/internal/cli"
	"github.com/joebot/toolbot/internal/config"
	"github.com/joebot/toolbot/internal/logging"
	"github.com/joebot/toolbot/internal/maintenance"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe()
	case "agent":
		cmdAgent()
	case "gateway":
		cmdGateway()
	case "status":
		cmdStatus()
	case "init":
		if err := cli.RunInit(config.ConfigPath()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Println(cli.TitleStyle.Render(
			fmt.Sprintf("  %s toolbot v%s", cli.Logo, cli.Version),
		))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	dim := cli.DimStyle.Render
	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s toolbot", cli.Logo)) + dim(" · tool-calling chat agent"))
	fmt.Println()
	fmt.Println("  " + cli.BoldStyle.Render("Usage"))
	fmt.Println()
	fmt.Printf("    toolbot %-16s %s\n", "serve", dim("Start the chat HTTP API"))
	fmt.Printf("    toolbot %-16s %s\n", "agent", dim("Interactive chat"))
	fmt.Printf("    toolbot %-16s %s\n", "agent -m \"…\"", dim("Single message"))
	fmt.Printf("    toolbot %-16s %s\n", "agent -s <id>", dim("Continue a session"))
	fmt.Printf("    toolbot %-16s %s\n", "gateway", dim("Start channel gateway"))
	fmt.Printf("    toolbot %-16s %s\n", "status", dim("Show configuration and sessions"))
	fmt.Printf("    toolbot %-16s %s\n", "init", dim("Write a config file"))
	fmt.Printf("    toolbot %-16s %s\n", "version", dim("Show version"))
	fmt.Println()
}

// --- serve command ---

func cmdServe() {
	cfg := mustLoadConfig()
	setupLogging(cfg, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := mustNewApp(ctx, cfg)
	defer a.Close()

	go runMaintenance(ctx, a, cfg)

	srv := api.NewServer(a.orchestrator, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         a.health,
	})
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "err", err)
		}
	}()

	slog.Info("Chat API listening", "addr", httpServer.Addr, "provider", a.provider.Name(), "tools", cfg.MCP.URL)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "err", err)
		os.Exit(1)
	}
}

// --- agent command ---

func cmdAgent() {
	cfg := mustLoadConfig()

	message, sessionID := "", ""
	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "-m", "--message":
			if i+1 < len(os.Args) {
				message = os.Args[i+1]
				i++
			}
		case "-s", "--session":
			if i+1 < len(os.Args) {
				sessionID = os.Args[i+1]
				i++
			}
		}
	}

	redirectLogs(cfg)
	ctx := context.Background()
	a := mustNewApp(ctx, cfg)
	defer a.Close()

	if message != "" {
		if err := cli.RunSingleMessage(a.orchestrator, ctx, message, sessionID); err != nil {
			a.Close()
			os.Exit(1)
		}
		return
	}
	err := cli.RunChat(a.orchestrator, ctx, cli.ChatConfig{
		Provider:   a.provider.Name(),
		Model:      cfg.LLM.Model,
		ToolServer: cfg.MCP.URL,
		SessionID:  sessionID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		a.Close()
		os.Exit(1)
	}
}

// --- gateway command ---

func cmdGateway() {
	cfg := mustLoadConfig()
	setupLogging(cfg, os.Stderr)

	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s toolbot Gateway", cli.Logo)))
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := mustNewApp(ctx, cfg)
	defer a.Close()

	msgBus := bus.NewMessageBus()
	gateway := agent.NewGateway(msgBus, a.orchestrator)

	var discord *channel.Discord
	if cfg.Discord.Enabled {
		d, err := channel.NewDiscord(cfg.Discord, msgBus)
		if err != nil {
			fmt.Println("  " + cli.ErrStyle.Render("✗ Discord: "+err.Error()))
		} else {
			discord = d
			msgBus.Route(discord.Name(), discord.Send)
			fmt.Println("  " + cli.OkStyle.Render("✓") + " Discord")
		}
	} else {
		fmt.Println("  " + cli.DimStyle.Render("✗") + " Discord " + cli.DimStyle.Render("(not enabled)"))
	}
	fmt.Println()

	go msgBus.DispatchOutbound(ctx)
	go gateway.Run(ctx)
	go runMaintenance(ctx, a, cfg)

	if discord != nil {
		go func() {
			if err := discord.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Discord channel error", "err", err)
			}
		}()
	}

	fmt.Println(cli.DimStyle.Render("  Press Ctrl+C to stop"))
	<-ctx.Done()
	fmt.Println("\n  Shutting down...")
	if discord != nil {
		discord.Stop()
	}
}

// --- status command ---

func cmdStatus() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
		cfg = config.DefaultConfig()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	a := &app{cfg: cfg}
	if err := a.openStorage(ctx); err != nil {
		cli.RunStatus(ctx, config.ConfigPath(), cfg, nil)
		return
	}
	defer a.Close()
	cli.RunStatus(ctx, config.ConfigPath(), cfg, a.sessions)
}

// --- helpers ---

func runMaintenance(ctx context.Context, a *app, cfg *config.Config) {
	timeout := time.Duration(cfg.Storage.SessionTimeoutMinutes) * time.Minute
	svc, err := maintenance.NewService(a.sessions, timeout, cfg.Storage.PruneSchedule)
	if err != nil {
		slog.Error("Session pruning disabled", "err", err)
		return
	}
	svc.Run(ctx)
}

func setupLogging(cfg *config.Config, w io.Writer) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(logging.NewHandler(w, &logging.Options{Level: level, Color: isTerminal(w)})))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// redirectLogs keeps log output from tearing the TUI.
func redirectLogs(cfg *config.Config) {
	dir := config.DataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "agent.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return
	}
	setupLogging(cfg, f)
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println()
		fmt.Println(cli.ErrStyle.Render("  Error: " + err.Error()))
		fmt.Println(cli.DimStyle.Render("  Fix " + config.ConfigPath() + " or run: toolbot init"))
		fmt.Println()
		os.Exit(1)
	}
	return cfg
}

func mustNewApp(ctx context.Context, cfg *config.Config) *app {
	if cfg.LLM.APIKey == "" {
		fmt.Println()
		fmt.Println(cli.ErrStyle.Render("  Error: No API key configured"))
		fmt.Println(cli.DimStyle.Render("  Set GROQ_API_KEY, OPENAI_API_KEY or GOOGLE_AI_API_KEY, or llm.apiKey in " + config.ConfigPath()))
		fmt.Println()
		os.Exit(1)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return a
}
