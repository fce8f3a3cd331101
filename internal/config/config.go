// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or ~/.delaight/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: chat model, embedder, per-call timeout, tool-loop depth
//   - Audio: transcription and speech synthesis options
//   - Storage: PostgreSQL connection for the pgvector menu store
//   - Conversation: history window bound
//   - Server: listen address, CORS, rate limiting
//
// Security: Sensitive data (passwords) are never logged; OPENAI_API_KEY is
// read directly by the Genkit OpenAI plugin and the audio client, never
// stored in this struct.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates OPENAI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidToolDepth indicates the tool-loop depth is out of range.
	ErrInvalidToolDepth = errors.New("invalid tool depth")

	// ErrInvalidModelTimeout indicates the model call timeout is out of range.
	ErrInvalidModelTimeout = errors.New("invalid model timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidVoice indicates the speech voice is not supported.
	ErrInvalidVoice = errors.New("invalid speech voice")
)

// History window bounds.
const (
	// DefaultHistoryWindow is the default number of messages kept per
	// conversation. A turn commits two messages, user and model.
	DefaultHistoryWindow = 50

	// MaxHistoryWindow is the absolute maximum to prevent unbounded memory growth.
	MaxHistoryWindow = 200

	// MinHistoryWindow is the minimum usable window.
	MinHistoryWindow = 2
)

// AudioConfig holds transcription and speech synthesis options.
// One explicit record per provider concern with documented defaults,
// validated at startup rather than per-call.
type AudioConfig struct {
	TranscriptionModel string  `mapstructure:"transcription_model" json:"transcription_model"` // default "whisper-1"
	TranscriptionLang  string  `mapstructure:"transcription_lang" json:"transcription_lang"`   // default "en"
	SpeechModel        string  `mapstructure:"speech_model" json:"speech_model"`               // default "tts-1"
	SpeechVoice        string  `mapstructure:"speech_voice" json:"speech_voice"`               // default "alloy"
	SpeechSpeed        float64 `mapstructure:"speech_speed" json:"speech_speed"`               // default 1.0
}

// TracingConfig holds the optional OTLP trace export settings.
// Traces are exported to a local collector agent over OTLP HTTP.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"` // default "localhost:4318"
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, tokens), update MarshalJSON.
type Config struct {
	// AI model configuration
	ModelName     string  `mapstructure:"model_name" json:"model_name"`         // e.g. "gpt-4o-mini"
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"` // e.g. "text-embedding-3-small"
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`

	// Orchestration configuration
	MaxToolDepth   int     `mapstructure:"max_tool_depth" json:"max_tool_depth"`     // max tool-call iterations per turn
	ModelTimeoutMS int     `mapstructure:"model_timeout_ms" json:"model_timeout_ms"` // per-model-call timeout
	ModelRateLimit float64 `mapstructure:"model_rate_limit" json:"model_rate_limit"` // model calls per second across all conversations (0 = unlimited)
	HistoryWindow  int     `mapstructure:"history_window" json:"history_window"`     // messages kept per conversation (a turn commits 2)

	// Retrieval configuration
	RetrievalTopK     int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	RetrievalMinScore float64 `mapstructure:"retrieval_min_score" json:"retrieval_min_score"`
	MenuCSVPath       string  `mapstructure:"menu_csv_path" json:"menu_csv_path"`

	// Audio configuration
	Audio AudioConfig `mapstructure:"audio" json:"audio"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // per-IP token bucket burst (0 = default)

	// Observability configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".delaight")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(configDir)

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{".", configDir})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("model_name", "gpt-4o-mini")
	viper.SetDefault("embedder_model", "text-embedding-3-small")
	viper.SetDefault("temperature", 0.7)

	// Orchestration defaults
	viper.SetDefault("max_tool_depth", 5)
	viper.SetDefault("model_timeout_ms", 60000)
	viper.SetDefault("model_rate_limit", 0.0)
	viper.SetDefault("history_window", DefaultHistoryWindow)

	// Retrieval defaults
	viper.SetDefault("retrieval_top_k", 4)
	viper.SetDefault("retrieval_min_score", 0.0)
	viper.SetDefault("menu_csv_path", "data/italian_delaight_dishes.csv")

	// Audio defaults
	viper.SetDefault("audio.transcription_model", "whisper-1")
	viper.SetDefault("audio.transcription_lang", "en")
	viper.SetDefault("audio.speech_model", "tts-1")
	viper.SetDefault("audio.speech_voice", "alloy")
	viper.SetDefault("audio.speech_speed", 1.0)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "delaight")
	viper.SetDefault("postgres_password", "delaight_dev_password")
	viper.SetDefault("postgres_db_name", "delaight")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 0)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.service_name", "delaight")
	viper.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
// OPENAI_API_KEY is read directly by the Genkit plugin and the audio client,
// not via Viper; Validate() only checks its presence.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "DELAIGHT_MODEL_NAME")
	mustBind("embedder_model", "DELAIGHT_EMBEDDER_MODEL")
	mustBind("listen_addr", "DELAIGHT_LISTEN_ADDR")
	mustBind("cors_origins", "DELAIGHT_CORS_ORIGINS")
	mustBind("trust_proxy", "DELAIGHT_TRUST_PROXY")
	mustBind("rate_burst", "DELAIGHT_RATE_BURST")
	mustBind("model_rate_limit", "DELAIGHT_MODEL_RATE_LIMIT")
	mustBind("menu_csv_path", "DELAIGHT_MENU_CSV")
	mustBind("tracing.enabled", "DELAIGHT_TRACING")
}

// parseDatabaseURL overrides PostgreSQL settings from DATABASE_URL when set.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("invalid DATABASE_URL port %q: %w", p, err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if len(u.Path) > 1 {
		c.PostgresDBName = u.Path[1:]
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// PostgresURL returns the postgres:// URL form of the connection settings.
// Used by golang-migrate.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := u.Query()
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// PostgresConnectionString returns the keyword/value form used by pgxpool.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword,
		c.PostgresDBName, c.PostgresSSLMode)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "openai/gpt-4o-mini".
func (c *Config) FullModelName() string {
	return "openai/" + c.ModelName
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked to prevent substring attacks;
// longer ones show the first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
