package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	keychainService = "talbot"
	keychainAccount = "upstream_api_key"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Log          LogConfig
	Remote       RemoteConfig
	Upstream     UpstreamConfig
	Conversation ConversationConfig
	Personalize  PersonalizeConfig
	Rules        RulesConfig
	Chat         ChatConfig
}

type ServerConfig struct {
	Port       int
	CORSOrigin string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// RemoteConfig controls delegation of non-crisis messages to a remote
// response service.
type RemoteConfig struct {
	Enabled bool
	URL     string
	Timeout string
}

// UpstreamConfig selects the language model behind the relay endpoint.
type UpstreamConfig struct {
	Provider  string // "anthropic" or "ollama"
	BaseURL   string
	Model     string
	MaxTokens int
	APIKey    string
}

type ConversationConfig struct {
	Window int
}

type PersonalizeConfig struct {
	NameProbability float64
}

type RulesConfig struct {
	Path string
}

type ChatConfig struct {
	RateLimit float64
	RateBurst int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       4100,
			CORSOrigin: "*",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Remote: RemoteConfig{
			URL:     "http://127.0.0.1:4100/chat",
			Timeout: "20s",
		},
		Upstream: UpstreamConfig{
			Provider:  "anthropic",
			MaxTokens: 1000,
		},
		Conversation: ConversationConfig{
			Window: 50,
		},
		Personalize: PersonalizeConfig{
			NameProbability: 0.3,
		},
		Chat: ChatConfig{
			RateLimit: 2,
			RateBurst: 5,
		},
	}
}

// RemoteTimeout parses Remote.Timeout, falling back to 20s when it is
// missing or invalid.
func (c Config) RemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// LogLevel maps Log.Level to a slog level. Unknown names mean info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: app.talbot) and the upstream
// API key falls back to the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/talbot/config.json
// and the key falls back to $XDG_DATA_HOME/talbot/secrets.json.
//
// Environment variables (TALBOT_*) override backend values on all platforms.
// A missing API key is not an error: the relay then answers with fallbacks.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Upstream.APIKey == "" {
		if key, err := kc.Get(keychainService, keychainAccount); err == nil && key != "" {
			cfg.Upstream.APIKey = key
		}
	}

	if cfg.Conversation.Window <= 0 {
		return Config{}, fmt.Errorf("conversation.window must be positive, got %d", cfg.Conversation.Window)
	}
	return cfg, nil
}

// APIKeyHint tells the user where the upstream API key can be provided.
func APIKeyHint() string {
	return "set TALBOT_UPSTREAM_API_KEY" + apiKeyHint()
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
