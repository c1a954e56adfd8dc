// Package config loads the application configuration from an optional YAML
// file, a .env file and PROMO_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PROMO"

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	ShutdownSecs    int    `mapstructure:"shutdown_secs" yaml:"shutdown_secs"`
	MaxImageUploads int    `mapstructure:"max_image_uploads" yaml:"max_image_uploads"`
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	MaxRounds         int      `mapstructure:"max_rounds" yaml:"max_rounds"`
	ParallelTools     int      `mapstructure:"parallel_tools" yaml:"parallel_tools"`
	ModelTimeoutSecs  int      `mapstructure:"model_timeout_secs" yaml:"model_timeout_secs"`
	SearchTimeoutSecs int      `mapstructure:"search_timeout_secs" yaml:"search_timeout_secs"`
	ImageTimeoutSecs  int      `mapstructure:"image_timeout_secs" yaml:"image_timeout_secs"`
	Currency          string   `mapstructure:"currency" yaml:"currency"`
	SystemPrompt      string   `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	ImageIntentCues   []string `mapstructure:"image_intent_cues" yaml:"image_intent_cues,omitempty"`
}

// ModelConfig selects the tool-calling language model.
type ModelConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Name      string `mapstructure:"name" yaml:"name"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey    string `mapstructure:"api_key" yaml:"-"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`
	Model      string `mapstructure:"model" yaml:"model"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey     string `mapstructure:"api_key" yaml:"-"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
	CacheSize  int    `mapstructure:"cache_size" yaml:"cache_size"`
}

// IndexConfig selects the vector index. Only the fields of the chosen Type
// are read.
type IndexConfig struct {
	Type       string `mapstructure:"type" yaml:"type"`
	URL        string `mapstructure:"url" yaml:"url,omitempty"`
	APIKey     string `mapstructure:"api_key" yaml:"-"`
	Collection string `mapstructure:"collection" yaml:"collection,omitempty"`
	Database   string `mapstructure:"database" yaml:"database,omitempty"`
	Table      string `mapstructure:"table" yaml:"table,omitempty"`
	IndexName  string `mapstructure:"index_name" yaml:"index_name,omitempty"`
	Label      string `mapstructure:"label" yaml:"label,omitempty"`
	Username   string `mapstructure:"username" yaml:"username,omitempty"`
	Password   string `mapstructure:"password" yaml:"-"`
}

// ImageConfig selects the image synthesis backend.
type ImageConfig struct {
	Provider     string `mapstructure:"provider" yaml:"provider"`
	Model        string `mapstructure:"model" yaml:"model"`
	BaseURL      string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey       string `mapstructure:"api_key" yaml:"-"`
	Referer      string `mapstructure:"referer" yaml:"referer,omitempty"`
	CacheSize    int    `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTLSecs int    `mapstructure:"cache_ttl_secs" yaml:"cache_ttl_secs"`
}

// CaptionConfig configures the promotional post writer.
type CaptionConfig struct {
	Model        string `mapstructure:"model" yaml:"model,omitempty"`
	AffiliateURL string `mapstructure:"affiliate_url" yaml:"affiliate_url,omitempty"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Model    ModelConfig    `mapstructure:"model" yaml:"model"`
	Embedder EmbedderConfig `mapstructure:"embedder" yaml:"embedder"`
	Index    IndexConfig    `mapstructure:"index" yaml:"index"`
	Image    ImageConfig    `mapstructure:"image" yaml:"image"`
	Caption  CaptionConfig  `mapstructure:"caption" yaml:"caption"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

func (a AgentConfig) ModelTimeout() time.Duration  { return seconds(a.ModelTimeoutSecs) }
func (a AgentConfig) SearchTimeout() time.Duration { return seconds(a.SearchTimeoutSecs) }
func (a AgentConfig) ImageTimeout() time.Duration  { return seconds(a.ImageTimeoutSecs) }
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return seconds(s.ShutdownSecs)
}
func (i ImageConfig) CacheTTL() time.Duration { return seconds(i.CacheTTLSecs) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Default returns the configuration used when nothing is set: an offline
// dummy model and embedder over an in-memory index.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", ShutdownSecs: 10, MaxImageUploads: 4},
		Agent: AgentConfig{
			MaxRounds:         10,
			ParallelTools:     4,
			ModelTimeoutSecs:  30,
			SearchTimeoutSecs: 15,
			ImageTimeoutSecs:  90,
			Currency:          "CZK",
		},
		Model:    ModelConfig{Provider: "dummy"},
		Embedder: EmbedderConfig{Provider: "dummy", CacheSize: 512},
		Index:    IndexConfig{Type: "memory"},
		Image:    ImageConfig{Provider: "openrouter", Model: "google/gemini-2.5-flash-image-preview", CacheSize: 32, CacheTTLSecs: 3600},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (optional; "" skips the file), then .env, then PROMO_*
// variables. Well-known provider keys such as OPENROUTER_API_KEY fill api
// keys left empty.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that are
// absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_secs", d.Server.ShutdownSecs)
	v.SetDefault("server.max_image_uploads", d.Server.MaxImageUploads)

	v.SetDefault("agent.max_rounds", d.Agent.MaxRounds)
	v.SetDefault("agent.parallel_tools", d.Agent.ParallelTools)
	v.SetDefault("agent.model_timeout_secs", d.Agent.ModelTimeoutSecs)
	v.SetDefault("agent.search_timeout_secs", d.Agent.SearchTimeoutSecs)
	v.SetDefault("agent.image_timeout_secs", d.Agent.ImageTimeoutSecs)
	v.SetDefault("agent.currency", d.Agent.Currency)
	v.SetDefault("agent.system_prompt", "")

	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.max_tokens", 0)

	v.SetDefault("embedder.provider", d.Embedder.Provider)
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.dimensions", 0)
	v.SetDefault("embedder.cache_size", d.Embedder.CacheSize)

	v.SetDefault("index.type", d.Index.Type)
	for _, k := range []string{"url", "api_key", "collection", "database", "table", "index_name", "label", "username", "password"} {
		v.SetDefault("index."+k, "")
	}

	v.SetDefault("image.provider", d.Image.Provider)
	v.SetDefault("image.model", d.Image.Model)
	v.SetDefault("image.base_url", "")
	v.SetDefault("image.api_key", "")
	v.SetDefault("image.referer", "")
	v.SetDefault("image.cache_size", d.Image.CacheSize)
	v.SetDefault("image.cache_ttl_secs", d.Image.CacheTTLSecs)

	v.SetDefault("caption.model", "")
	v.SetDefault("caption.affiliate_url", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func applyDefaults(cfg *Config) {
	openRouterKey := os.Getenv("OPENROUTER_API_KEY")
	if cfg.Model.APIKey == "" {
		switch strings.ToLower(cfg.Model.Provider) {
		case "openrouter":
			cfg.Model.APIKey = openRouterKey
		case "openai":
			cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.Embedder.APIKey == "" {
		switch strings.ToLower(cfg.Embedder.Provider) {
		case "openai":
			cfg.Embedder.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), openRouterKey)
		case "gemini":
			cfg.Embedder.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
	if cfg.Image.APIKey == "" {
		switch strings.ToLower(cfg.Image.Provider) {
		case "openrouter":
			cfg.Image.APIKey = openRouterKey
		case "gemini":
			cfg.Image.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
	if cfg.Index.APIKey == "" && strings.EqualFold(cfg.Index.Type, "qdrant") {
		cfg.Index.APIKey = os.Getenv("QDRANT_API_KEY")
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "microinfluencer-products"
	}
	if cfg.Agent.Currency == "" {
		cfg.Agent.Currency = "CZK"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects configurations that cannot produce a working orchestrator.
func (c *Config) Validate() error {
	var problems []string
	if c.Agent.MaxRounds < 1 {
		problems = append(problems, "agent.max_rounds must be at least 1")
	}
	if c.Agent.ImageTimeoutSecs > 0 && c.Agent.ModelTimeoutSecs > 0 && c.Agent.ImageTimeoutSecs < c.Agent.ModelTimeoutSecs {
		problems = append(problems, "agent.image_timeout_secs should not be shorter than agent.model_timeout_secs")
	}
	switch strings.ToLower(c.Index.Type) {
	case "memory":
	case "qdrant", "mongodb":
		if c.Index.URL == "" {
			problems = append(problems, "index.url is required for "+c.Index.Type)
		}
	case "postgres", "pgvector":
		if c.Index.URL == "" {
			problems = append(problems, "index.url (a postgres DSN) is required for postgres")
		}
	case "neo4j":
		if c.Index.URL == "" {
			problems = append(problems, "index.url is required for neo4j")
		}
	default:
		problems = append(problems, fmt.Sprintf("index.type %q is not supported", c.Index.Type))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes cfg as YAML, creating parent directories. Secrets are omitted.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
