package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validate() []string {
	var errs []string

	// llm
	switch c.LLM.Provider {
	case "groq", "openai", "google", "gemini":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not one of groq, openai, google, gemini", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, "llm.maxTokens must be non-negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	// mcp
	if c.MCP.URL == "" {
		errs = append(errs, "mcp.url is required")
	}
	if c.MCP.TimeoutSeconds < 0 {
		errs = append(errs, "mcp.timeoutSeconds must be non-negative")
	}

	// storage
	if c.Storage.SessionTimeoutMinutes <= 0 {
		errs = append(errs, "storage.sessionTimeoutMinutes must be positive")
	}

	// server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// agent
	a := c.Agent
	if a.MaxTurns < 0 {
		errs = append(errs, "agent.maxTurns must be non-negative")
	}
	if a.HistoryLimit < 0 {
		errs = append(errs, "agent.historyLimit must be non-negative")
	}
	if a.TopK < 0 {
		errs = append(errs, "agent.topK must be non-negative")
	}

	// kafka
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka.topic is required when brokers are set")
	}

	// discord
	if c.Discord.Enabled && c.Discord.Token == "" {
		errs = append(errs, "discord.token is required when discord is enabled")
	}

	// logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	return errs
}

// CheckUnknownFields walks the raw config map and returns paths of any keys
// that do not correspond to known Config struct fields.
func CheckUnknownFields(raw map[string]any) []string {
	result := checkUnknownFields(raw, reflect.TypeOf(Config{}), "")
	sort.Strings(result)
	return result
}

func checkUnknownFields(data map[string]any, t reflect.Type, prefix string) []string {
	t = derefType(t)

	switch t.Kind() {
	case reflect.Map:
		// Map keys are user-defined (e.g. extra headers); check values only.
		elemType := derefType(t.Elem())
		if elemType.Kind() != reflect.Struct {
			return nil
		}
		var unknown []string
		for key, val := range data {
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, elemType, joinPath(prefix, key))...)
			}
		}
		return unknown

	case reflect.Struct:
		known := jsonFieldMap(t)
		var unknown []string
		for key, val := range data {
			ft, ok := known[key]
			if !ok {
				unknown = append(unknown, joinPath(prefix, key))
				continue
			}
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, ft, joinPath(prefix, key))...)
			}
		}
		return unknown

	default:
		return nil
	}
}

func jsonFieldMap(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			m[name] = f.Type
		}
	}
	return m
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
