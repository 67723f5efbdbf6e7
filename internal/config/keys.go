package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TALBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origin", typ: kString, env: "TALBOT_SERVER_CORS_ORIGIN",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigin = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigin },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TALBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TALBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "remote.enabled", typ: kBool, env: "TALBOT_REMOTE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Remote.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Remote.Enabled },
	},
	{
		key: "remote.url", typ: kString, env: "TALBOT_REMOTE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.URL },
	},
	{
		key: "remote.timeout", typ: kString, env: "TALBOT_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Remote.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Timeout },
	},
	{
		key: "upstream.provider", typ: kString, env: "TALBOT_UPSTREAM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Upstream.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.Provider },
	},
	{
		key: "upstream.base_url", typ: kString, env: "TALBOT_UPSTREAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.BaseURL },
	},
	{
		key: "upstream.model", typ: kString, env: "TALBOT_UPSTREAM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.Model },
	},
	{
		key: "upstream.max_tokens", typ: kInt, env: "TALBOT_UPSTREAM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Upstream.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Upstream.MaxTokens },
	},
	{
		key: "upstream.api_key", typ: kString, env: "TALBOT_UPSTREAM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Upstream.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.APIKey },
	},
	{
		key: "conversation.window", typ: kInt, env: "TALBOT_CONVERSATION_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Conversation.Window = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.Window },
	},
	{
		key: "personalize.name_probability", typ: kFloat, env: "TALBOT_PERSONALIZE_NAME_PROBABILITY",
		apply:   func(cfg *Config, v any) { cfg.Personalize.NameProbability = v.(float64) },
		extract: func(cfg Config) any { return cfg.Personalize.NameProbability },
	},
	{
		key: "rules.path", typ: kString, env: "TALBOT_RULES_PATH",
		apply:   func(cfg *Config, v any) { cfg.Rules.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Rules.Path },
	},
	{
		key: "chat.rate_limit", typ: kFloat, env: "TALBOT_CHAT_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Chat.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Chat.RateLimit },
	},
	{
		key: "chat.rate_burst", typ: kInt, env: "TALBOT_CHAT_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.Chat.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.RateBurst },
	},
}

// parseValue converts raw text to the Go type of t.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment override", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
