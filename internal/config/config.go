package config

import "path/filepath"

// Config is the root configuration for toolbot.
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	MCP       MCPConfig       `json:"mcp"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
	Agent     AgentConfig     `json:"agent"`
	Kafka     KafkaConfig     `json:"kafka"`
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
}

// LLMConfig selects the chat vendor and its sampling parameters.
type LLMConfig struct {
	Provider     string            `json:"provider"`
	APIKey       string            `json:"apiKey"`
	APIBase      string            `json:"apiBase,omitempty"`
	Model        string            `json:"model,omitempty"`
	Temperature  float64           `json:"temperature"`
	MaxTokens    int               `json:"maxTokens"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty"`
}

// EmbeddingConfig holds the embedding service settings. An empty APIKey
// disables retrieval.
type EmbeddingConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model"`
}

// MCPConfig points at the tool server.
type MCPConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// StorageConfig selects where sessions and embeddings live. DatabaseURL may be
// a postgres:// URL, a sqlite file path (sqlite://path or *.db), or empty for
// JSONL files under SessionDir.
type StorageConfig struct {
	DatabaseURL           string `json:"databaseUrl,omitempty"`
	SessionDir            string `json:"sessionDir"`
	SessionTimeoutMinutes int    `json:"sessionTimeoutMinutes"`
	PruneSchedule         string `json:"pruneSchedule"`
}

// SessionPath returns the expanded session directory.
func (s StorageConfig) SessionPath() string {
	return expandHome(s.SessionDir)
}

// ServerConfig holds HTTP front door settings.
type ServerConfig struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// AgentConfig holds the assistant's identity and loop limits.
type AgentConfig struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	MaxTurns     int    `json:"maxTurns"`
	HistoryLimit int    `json:"historyLimit"`
	TopK         int    `json:"topK"`
}

// KafkaConfig enables conversation events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic"`
}

// DiscordConfig holds Discord channel settings.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

// LoggingConfig holds the log level name (debug, info, warn, error).
type LoggingConfig struct {
	Level string `json:"level"`
}

const defaultSystemPrompt = `You are a helpful assistant with access to tools.
Use a tool whenever it gives a more accurate answer than you could on your own,
then answer the user in plain language.`

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "groq",
			Temperature: 0.7,
			MaxTokens:   2000,
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-004",
		},
		MCP: MCPConfig{
			URL:            "http://localhost:8002",
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			SessionDir:            "~/.toolbot/sessions",
			SessionTimeoutMinutes: 30,
			PruneSchedule:         "@every 5m",
		},
		Server: ServerConfig{
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:8080"},
		},
		Agent: AgentConfig{
			Name:         "toolbot",
			SystemPrompt: defaultSystemPrompt,
			MaxTurns:     20,
			HistoryLimit: 50,
			TopK:         5,
		},
		Kafka: KafkaConfig{
			Topic: "toolbot.conversations",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func expandHome(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		home := homeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
