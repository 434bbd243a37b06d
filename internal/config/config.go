// Package config loads process-wide settings once at startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Service ServiceConfig
	HTTP    HTTPConfig
	LLM     LLMConfig
	DB      DBDefaults
	Chat    ChatConfig
	Log     LogConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type LLMConfig struct {
	Provider    string // "groq", "openai" or "anthropic"
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration
	MaxTokens   int
}

// DBDefaults pre-fill the connect form. Password is only used by the
// terminal chat; the web form never renders it.
type DBDefaults struct {
	Dialect  string
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

type ChatConfig struct {
	HistoryTurns int
	MaxRows      int
	QueryTimeout time.Duration
	MaxSessions  int
}

type LogConfig struct {
	Level slog.Level
	JSON  bool
}

// LoadFromEnv reads an optional .env file and then the process environment.
func LoadFromEnv(serviceName string) (Config, error) {
	_ = godotenv.Load() // loads .env if present, silently ignores if not
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := defaults()
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var corsOrigins string
	steps := []func() error{
		func() error { return applyString(lookup, "DBCHAT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "DBCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "DBCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "DBCHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "DBCHAT_CORS_ORIGINS", &corsOrigins) },
		func() error { return applyString(lookup, "LLM_PROVIDER", &cfg.LLM.Provider) },
		func() error { return applyString(lookup, "LLM_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyString(lookup, "LLM_MODEL", &cfg.LLM.Model) },
		func() error { return applyString(lookup, "LLM_BASE_URL", &cfg.LLM.BaseURL) },
		func() error { return applyFloat(lookup, "LLM_TEMPERATURE", &cfg.LLM.Temperature) },
		func() error { return applyDuration(lookup, "LLM_TIMEOUT", &cfg.LLM.Timeout) },
		func() error { return applyInt(lookup, "LLM_MAX_TOKENS", &cfg.LLM.MaxTokens) },
		func() error { return applyString(lookup, "DBCHAT_DB_DIALECT", &cfg.DB.Dialect) },
		func() error { return applyString(lookup, "DBCHAT_DB_HOST", &cfg.DB.Host) },
		func() error { return applyString(lookup, "DBCHAT_DB_PORT", &cfg.DB.Port) },
		func() error { return applyString(lookup, "DBCHAT_DB_USER", &cfg.DB.User) },
		func() error { return applyString(lookup, "DBCHAT_DB_NAME", &cfg.DB.Database) },
		func() error { return applySecret(lookup, "DBCHAT_DB_PASSWORD", &cfg.DB.Password) },
		func() error { return applyInt(lookup, "DBCHAT_HISTORY_TURNS", &cfg.Chat.HistoryTurns) },
		func() error { return applyInt(lookup, "DBCHAT_MAX_ROWS", &cfg.Chat.MaxRows) },
		func() error { return applyDuration(lookup, "DBCHAT_QUERY_TIMEOUT", &cfg.Chat.QueryTimeout) },
		func() error { return applyInt(lookup, "DBCHAT_MAX_SESSIONS", &cfg.Chat.MaxSessions) },
		func() error { return applyLogLevel(lookup, "DBCHAT_LOG_LEVEL", &cfg.Log.Level) },
		func() error { return applyBool(lookup, "DBCHAT_LOG_JSON", &cfg.Log.JSON) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if corsOrigins != "" {
		cfg.HTTP.CORSOrigins = splitList(corsOrigins)
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.DB.Dialect = strings.ToLower(cfg.DB.Dialect)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Chat.HistoryTurns < 0 {
		return fmt.Errorf("DBCHAT_HISTORY_TURNS must not be negative")
	}
	if c.Chat.MaxRows <= 0 {
		return fmt.Errorf("DBCHAT_MAX_ROWS must be positive")
	}
	if c.Chat.MaxSessions <= 0 {
		return fmt.Errorf("DBCHAT_MAX_SESSIONS must be positive")
	}
	return nil
}

func defaults() Config {
	return Config{
		Service: ServiceConfig{Name: "dbchat"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "groq",
			Temperature: 0,
			Timeout:     60 * time.Second,
			MaxTokens:   1024,
		},
		DB: DBDefaults{
			Dialect: "mysql",
			Host:    "localhost",
			User:    "root",
		},
		Chat: ChatConfig{
			HistoryTurns: 10,
			MaxRows:      200,
			QueryTimeout: 30 * time.Second,
			MaxSessions:  100,
		},
		Log: LogConfig{
			Level: slog.LevelInfo,
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applySecret keeps the value byte for byte; passwords may carry spaces.
func applySecret(lookup LookupFunc, key string, dst *string) error {
	if raw, ok := lookup(key); ok {
		*dst = raw
	}
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
