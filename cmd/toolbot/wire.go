package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/joebot/toolbot/internal/agent"
	"github.com/joebot/toolbot/internal/cli"
	"github.com/joebot/toolbot/internal/config"
	"github.com/joebot/toolbot/internal/events"
	"github.com/joebot/toolbot/internal/llm"
	"github.com/joebot/toolbot/internal/mcp"
	"github.com/joebot/toolbot/internal/session"
	"github.com/joebot/toolbot/internal/store"
	"github.com/joebot/toolbot/internal/vector"
)

// app holds everything a command needs to answer chat messages.
type app struct {
	cfg          *config.Config
	provider     llm.Provider
	tools        *mcp.Session
	sessions     session.Store
	vectors      vector.Store
	events       events.Publisher
	orchestrator *agent.Orchestrator
	health       func(ctx context.Context) error
	closers      []func() error
}

// newApp connects the tool server, opens storage and builds the orchestrator.
// A failed startup handshake only logs; every loop run handshakes first if
// needed and fails with the handshake error while the server is down.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	provider, err := llm.New(llm.Config{
		Provider:     cfg.LLM.Provider,
		APIKey:       cfg.LLM.APIKey,
		APIBase:      cfg.LLM.APIBase,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		ExtraHeaders: cfg.LLM.ExtraHeaders,
	})
	if err != nil {
		return nil, err
	}
	a.provider = provider

	httpClient := &http.Client{Timeout: time.Duration(cfg.MCP.TimeoutSeconds) * time.Second}
	a.tools = mcp.NewSession(mcp.NewClient(cfg.Agent.Name, cli.Version, mcp.NewHTTPTransport(cfg.MCP.URL, nil, httpClient)))
	a.closers = append(a.closers, a.tools.Close)
	if err := a.tools.Initialize(ctx); err != nil {
		slog.Warn("Tool server not reachable yet, requests will retry the handshake", "url", cfg.MCP.URL, "err", err)
	}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		a.events = pub
		a.closers = append(a.closers, pub.Close)
	}

	var embedder llm.Embedder
	if cfg.Embedding.APIKey != "" {
		embedder = llm.NewGoogleEmbedder(cfg.Embedding.APIKey, cfg.Embedding.APIBase, cfg.Embedding.Model, nil)
	}

	tp := sdktrace.NewTracerProvider()
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	loop := agent.NewLoop(agent.LoopConfig{
		Provider: provider,
		Catalog:  a.tools,
		Executor: a.tools,
		MaxTurns: cfg.Agent.MaxTurns,
		Tracer:   tp.Tracer("github.com/joebot/toolbot/internal/agent"),
	})
	a.orchestrator = agent.NewOrchestrator(agent.OrchestratorConfig{
		Loop:         loop,
		Context:      agent.NewContextBuilder(cfg.Agent.Name, cfg.Agent.SystemPrompt),
		Sessions:     a.sessions,
		Vectors:      a.vectors,
		Embedder:     embedder,
		Events:       a.events,
		TopK:         cfg.Agent.TopK,
		HistoryLimit: cfg.Agent.HistoryLimit,
	})
	return a, nil
}

// openStorage picks the session and vector stores from storage.databaseURL:
// postgres:// URLs use pgvector, sqlite:// URLs or *.db paths use SQLite, and
// anything else keeps sessions as files with in-memory vectors.
func (a *app) openStorage(ctx context.Context) error {
	dsn := a.cfg.Storage.DatabaseURL
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.sessions, a.vectors, a.health = pg, pg, pg.Ping
		a.closers = append(a.closers, pg.Close)
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasSuffix(dsn, ".db"):
		lite, err := store.NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		a.sessions, a.vectors = lite, lite
		a.closers = append(a.closers, lite.Close)
	default:
		fs, err := session.NewFileStore(a.cfg.Storage.SessionPath())
		if err != nil {
			return err
		}
		a.sessions, a.vectors = fs, vector.NewMemory()
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Close failed", "err", err)
		}
	}
	a.closers = nil
}
