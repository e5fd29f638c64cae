// Package config loads and validates cosci configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cosci configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LLMConfig configures the generative model provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai, genai
	APIKey    string `yaml:"api_key"`
	Endpoint  string `yaml:"endpoint"` // base URL for OpenAI-compatible endpoints
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // openai, genai
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// StoreConfig configures the SQLite paper store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SearchConfig configures hybrid search defaults.
type SearchConfig struct {
	TopK          int     `yaml:"top_k"`
	Threshold     float64 `yaml:"threshold"`
	VectorWeight  float64 `yaml:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "cosci",
		Version: "1.0.0",
		Server: ServerConfig{
			Address: "127.0.0.1",
			Port:    8080,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			MaxTokens: 2000,
			Timeout:   "120s",
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Store: StoreConfig{
			DatabasePath: ".cosci/cosci.db",
		},
		Search: SearchConfig{
			TopK:          10,
			Threshold:     0.7,
			VectorWeight:  0.6,
			KeywordWeight: 0.4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment variables override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("COSCI_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("COSCI_LLM_ENDPOINT"); url != "" {
		c.LLM.Endpoint = url
	}
	if model := os.Getenv("COSCI_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if key := os.Getenv("COSCI_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if url := os.Getenv("COSCI_EMBEDDING_ENDPOINT"); url != "" {
		c.Embedding.Endpoint = url
	}
	if path := os.Getenv("COSCI_DB_PATH"); path != "" {
		c.Store.DatabasePath = path
	}
	if addr := os.Getenv("COSCI_ADDR"); addr != "" {
		c.Server.Address = addr
	}
}

// validate rejects configurations the pipeline cannot run with.
func (c *Config) validate() error {
	if c.Search.VectorWeight+c.Search.KeywordWeight != 0 {
		sum := c.Search.VectorWeight + c.Search.KeywordWeight
		if sum < 0.99 || sum > 1.01 {
			return fmt.Errorf("search weights must sum to 1.0, got %.2f", sum)
		}
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search top_k must be positive, got %d", c.Search.TopK)
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return c.LLM.GetTimeout()
}

// GetTimeout parses the configured timeout, falling back to two minutes.
func (c LLMConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}
