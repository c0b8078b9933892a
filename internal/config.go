package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notegraph/internal/llm"
	"github.com/starford/notegraph/internal/similarity"
	"github.com/starford/notegraph/internal/sweep"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Knowledge  KnowledgeConfig   `yaml:"knowledge"`
	Ledger     LedgerConfig      `yaml:"ledger"`
	Sweep      SweepConfig       `yaml:"sweep"`
	Operations OperationsConfig  `yaml:"operations"`
	LLM        LLMConfig         `yaml:"llm"`
	Vault      VaultConfig       `yaml:"vault"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []interface{ Validate() error }{
		&c.App, &c.SQLite, &c.Auth, &c.Knowledge, &c.Sweep, &c.Operations, &c.LLM, &c.Vault,
	}
	for _, s := range sections {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// DefaultOwner serves requests that carry no owner.
	DefaultOwner string     `yaml:"default_owner"`
	HTTP         HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DefaultOwner, validation.Required),
	); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// KnowledgeConfig tunes suggestion generation.
type KnowledgeConfig struct {
	// Threshold is the minimum relevance for a suggestion, in [0,1].
	Threshold float64 `yaml:"threshold"`
	// Strategy is auto, lexical or vector.
	Strategy    string `yaml:"strategy"`
	Concurrency int    `yaml:"concurrency"`
	// Describe asks the LLM for a one-sentence reason per suggestion.
	Describe bool `yaml:"describe"`
}

// Validate validates the knowledge configuration.
func (c *KnowledgeConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Threshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Strategy, validation.In(similarity.StrategyAuto, similarity.StrategyLexical, similarity.StrategyVector)),
		validation.Field(&c.Concurrency, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	return nil
}

// LedgerConfig locates the decision ledger. An empty path keeps decisions
// in memory only.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// SweepConfig controls the background sweep.
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Throttle time.Duration `yaml:"throttle"`
}

// Validate validates the sweep configuration.
func (c *SweepConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Throttle, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}

// Worker returns the sweep worker settings.
func (c *SweepConfig) Worker() sweep.Config {
	return sweep.Config{Interval: c.Interval, Throttle: c.Throttle}
}

// OperationsConfig holds the timeouts of cancellable operations.
type OperationsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	LongTimeout    time.Duration `yaml:"long_timeout"`
}

// Validate validates the operations configuration.
func (c *OperationsConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DefaultTimeout, validation.Required),
		validation.Field(&c.LongTimeout, validation.Required),
	); err != nil {
		return fmt.Errorf("operations: %w", err)
	}
	return nil
}

// LLMConfig configures the OpenAI-compatible backend used for embeddings and
// suggestion descriptions.
type LLMConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	Temperature       float32       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.EmbeddingModel, validation.Required),
		validation.Field(&c.Temperature, validation.Min(float32(0)), validation.Max(float32(2))),
		validation.Field(&c.MaxTokens, validation.Min(1)),
		validation.Field(&c.MaxAttempts, validation.Min(1)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
	); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	return nil
}

// Client returns the llm client settings.
func (c *LLMConfig) Client() llm.Config {
	return llm.Config{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		Model:             c.Model,
		EmbeddingModel:    c.EmbeddingModel,
		MaxAttempts:       c.MaxAttempts,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           c.Timeout,
	}
}

// Options returns the generation options for suggestion descriptions.
func (c *LLMConfig) Options() llm.Options {
	return llm.Options{Temperature: c.Temperature, MaxTokens: c.MaxTokens}
}

// VaultConfig optionally mirrors a Markdown directory into one owner's notes.
type VaultConfig struct {
	Path  string `yaml:"path"`
	Owner string `yaml:"owner"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	if c.Path == "" {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Owner, validation.Required),
	); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:     slog.LevelInfo,
			DefaultOwner: "local",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./notegraph.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Knowledge: KnowledgeConfig{
			Threshold:   similarity.DefaultThreshold,
			Strategy:    similarity.StrategyAuto,
			Concurrency: 8,
			Describe:    true,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: 15 * time.Minute,
			Throttle: 15 * time.Minute,
		},
		Operations: OperationsConfig{
			DefaultTimeout: 60 * time.Second,
			LongTimeout:    120 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:           "http://localhost:11434/v1",
			Model:             "mistral",
			EmbeddingModel:    "nomic-embed-text",
			Temperature:       0.7,
			MaxTokens:         2048,
			MaxAttempts:       3,
			RequestsPerSecond: 4,
			Timeout:           60 * time.Second,
		},
		Vault: VaultConfig{
			Owner: "local",
		},
	}
}
