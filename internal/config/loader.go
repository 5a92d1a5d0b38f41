package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(homeDir(), ".toolbot", "config.json")
}

// DataDir returns the toolbot data directory.
func DataDir() string {
	dir := filepath.Join(homeDir(), ".toolbot")
	os.MkdirAll(dir, 0o755)
	return dir
}

// Load reads configuration from disk, falling back to defaults.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads configuration from a JSON or YAML file, applies environment
// overrides and validates the result. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw, err := decodeRaw(path, data)
		if err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		if unknown := CheckUnknownFields(raw); len(unknown) > 0 {
			slog.Warn("Unknown config fields ignored", "path", path, "fields", strings.Join(unknown, ", "))
		}
		reData, _ := json.Marshal(raw)
		if err := json.Unmarshal(reData, cfg); err != nil {
			return cfg, fmt.Errorf("apply config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return cfg, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decodeRaw parses the file into a generic map. YAML and JSON share the same
// key names, so both end up going through the JSON struct tags.
func decodeRaw(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// applyDefaults fills zero values left by a sparse config file.
func applyDefaults(cfg *Config) {
	d := DefaultConfig()
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = d.Embedding.Model
	}
	if cfg.MCP.URL == "" {
		cfg.MCP.URL = d.MCP.URL
	}
	if cfg.MCP.TimeoutSeconds == 0 {
		cfg.MCP.TimeoutSeconds = d.MCP.TimeoutSeconds
	}
	if cfg.Storage.SessionDir == "" {
		cfg.Storage.SessionDir = d.Storage.SessionDir
	}
	if cfg.Storage.SessionTimeoutMinutes == 0 {
		cfg.Storage.SessionTimeoutMinutes = d.Storage.SessionTimeoutMinutes
	}
	if cfg.Storage.PruneSchedule == "" {
		cfg.Storage.PruneSchedule = d.Storage.PruneSchedule
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = d.Agent.Name
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = d.Agent.HistoryLimit
	}
	if cfg.Agent.TopK == 0 {
		cfg.Agent.TopK = d.Agent.TopK
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = d.Kafka.Topic
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
}

// applyEnv overrides file values with the service's environment variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}

	googleKey := firstEnv(getenv, "GOOGLE_AI_API_KEY", "GOOGLE_API_KEY")
	switch cfg.LLM.Provider {
	case "google", "gemini":
		if googleKey != "" {
			cfg.LLM.APIKey = googleKey
		}
	case "openai":
		if v := getenv("OPENAI_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
	default:
		if v := firstEnv(getenv, "GROQ_API_KEY", "GROQ_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
	}
	if googleKey != "" {
		cfg.Embedding.APIKey = googleKey
	}

	if v := getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := getenv("LLM_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LLM_TEMPERATURE: %w", err)
		}
		cfg.LLM.Temperature = f
	}
	if err := envInt(getenv, "LLM_MAX_TOKENS", &cfg.LLM.MaxTokens); err != nil {
		return err
	}
	if v := getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := getenv("MCP_SERVER_URL"); v != "" {
		cfg.MCP.URL = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if err := envInt(getenv, "AGENT_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := envInt(getenv, "SESSION_TIMEOUT_MINUTES", &cfg.Storage.SessionTimeoutMinutes); err != nil {
		return err
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
		cfg.Discord.Enabled = true
	}
	return nil
}

func firstEnv(getenv func(string) string, keys ...string) string {
	for _, k := range keys {
		if v := getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes configuration to the default path.
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes configuration to a specific path, as YAML when the extension
// asks for it and indented JSON otherwise.
func SaveTo(cfg *Config, path string) error {
	os.MkdirAll(filepath.Dir(path), 0o755)

	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	var out []byte
	if isYAML(path) {
		var raw map[string]any
		json.Unmarshal(data, &raw)
		out, err = yaml.Marshal(raw)
	} else {
		out, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, out, 0o600)
}

// Upgrade reads the existing config file, deep-merges it on top of
// DefaultConfig (local values win), and saves the result.
// New fields from defaults are added; existing user values are preserved.
func Upgrade() (*Config, error) {
	return UpgradeAt(ConfigPath())
}

// UpgradeAt is Upgrade for an explicit path.
func UpgradeAt(path string) (*Config, error) {
	defaultData, _ := json.Marshal(DefaultConfig())
	var defaultMap map[string]any
	json.Unmarshal(defaultData, &defaultMap)

	localData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	localMap, err := decodeRaw(path, localData)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	merged := deepMerge(defaultMap, localMap)

	cfg := DefaultConfig()
	reData, _ := json.Marshal(merged)
	if err := json.Unmarshal(reData, cfg); err != nil {
		return nil, fmt.Errorf("apply merged config: %w", err)
	}

	if err := SaveTo(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deepMerge recursively merges src into dst. Values from src take priority.
// For nested maps, merge recursively. For all other types, src wins.
func deepMerge(dst, src map[string]any) map[string]any {
	result := make(map[string]any, len(dst))
	for k, v := range dst {
		result[k] = v
	}
	for k, srcVal := range src {
		dstVal, exists := result[k]
		if !exists {
			result[k] = srcVal
			continue
		}
		dstMap, dstOK := dstVal.(map[string]any)
		srcMap, srcOK := srcVal.(map[string]any)
		if dstOK && srcOK {
			result[k] = deepMerge(dstMap, srcMap)
		} else {
			result[k] = srcVal
		}
	}
	return result
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
