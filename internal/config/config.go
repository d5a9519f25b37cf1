// Package config loads server configuration from an optional YAML file
// with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete local-rag configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Data      DataConfig      `yaml:"data" json:"data"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chat      ChatConfig      `yaml:"chat" json:"chat"`
	Upload    UploadConfig    `yaml:"upload" json:"upload"`
	Agents    AgentsConfig    `yaml:"agents" json:"agents"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// CORSOrigins are the allowed browser origins.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
	// DebugModelMode echoes prompts instead of calling the upstream LLM.
	DebugModelMode bool `yaml:"debug_model_mode" json:"debug_model_mode"`
	// ForceFallbackMultipart always uses the streaming multipart parser.
	ForceFallbackMultipart bool `yaml:"force_fallback_multipart" json:"force_fallback_multipart"`
	// EnableLegacyEngine keeps the pre-fusion retrieval path selectable.
	EnableLegacyEngine bool `yaml:"enable_legacy_engine" json:"enable_legacy_engine"`
}

// DataConfig configures the on-disk layout root.
type DataConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Provider  string        `yaml:"provider" json:"provider"` // ollama, openai, custom
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Endpoint  string        `yaml:"endpoint" json:"endpoint"` // explicit path override
	Model     string        `yaml:"model" json:"model"`
	Dim       int           `yaml:"dim" json:"dim"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	Normalize bool          `yaml:"normalize" json:"normalize"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	APIKey    string        `yaml:"api_key" json:"api_key"`
}

// ChatConfig configures the upstream chat client.
type ChatConfig struct {
	Provider string        `yaml:"provider" json:"provider"`
	BaseURL  string        `yaml:"base_url" json:"base_url"`
	Model    string        `yaml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	APIKey   string        `yaml:"api_key" json:"api_key"`
}

// UploadConfig bounds file uploads.
type UploadConfig struct {
	MaxUploadMB int64 `yaml:"max_upload_mb" json:"max_upload_mb"`
}

// AgentsConfig points at the agent manifest registry.
type AgentsConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// NewConfig returns configuration with all defaults applied.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8000",
			CORSOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Data: DataConfig{Dir: "data"},
		Embedding: EmbeddingConfig{
			Enabled:   true,
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dim:       768,
			BatchSize: 16,
			Normalize: true,
			Timeout:   120 * time.Second,
		},
		Chat: ChatConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Timeout:  60 * time.Second,
		},
		Upload:   UploadConfig{MaxUploadMB: 25},
		Agents:   AgentsConfig{Dir: "agents"},
		LogLevel: "info",
	}
}

// Load reads configuration from path (optional), then applies environment
// overrides and validates the result. An empty path or a missing file is
// not an error: defaults plus environment win.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies the fixed environment knobs.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EMBEDDING_ENABLED"); v != "" {
		c.Embedding.Enabled = parseBool(v)
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.Dim = n
		}
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
		c.Chat.APIKey = v
	}
	if v := os.Getenv("DEBUG_MODEL_MODE"); v != "" {
		c.Server.DebugModelMode = parseBool(v)
	}
	if v := os.Getenv("FORCE_FALLBACK_MULTIPART"); v != "" {
		c.Server.ForceFallbackMultipart = parseBool(v)
	}
	if v := os.Getenv("ENABLE_LEGACY_ENGINE"); v != "" {
		c.Server.EnableLegacyEngine = parseBool(v)
	}
	if v := os.Getenv("AGENTS_DIR"); v != "" {
		c.Agents.Dir = v
	}
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Upload.MaxUploadMB = n
		}
	}
}

// Validate checks the final configuration for nonsense values.
func (c *Config) Validate() error {
	if c.Upload.MaxUploadMB <= 0 {
		return fmt.Errorf("upload.max_upload_mb must be positive, got %d", c.Upload.MaxUploadMB)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "custom":
	default:
		return fmt.Errorf("embedding.provider must be one of ollama/openai/custom, got %q", c.Embedding.Provider)
	}
	return nil
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Upload.MaxUploadMB * 1024 * 1024
}

// Data layout helpers, all relative to Data.Dir.

func (c *Config) DocsDir(notebookID string) string {
	return filepath.Join(c.Data.Dir, "docs", notebookID)
}

func (c *Config) ParsingDir(notebookID string) string {
	return filepath.Join(c.Data.Dir, "parsing", notebookID)
}

func (c *Config) NotebookDBPath(notebookID string) string {
	return filepath.Join(c.Data.Dir, "notebooks", notebookID+".db")
}

func (c *Config) GlobalDBPath() string {
	return filepath.Join(c.Data.Dir, "store.db")
}

func (c *Config) CitationsRoot() string {
	return filepath.Join(c.Data.Dir, "citations")
}

func (c *Config) CitationsDir(notebookID string) string {
	return filepath.Join(c.CitationsRoot(), notebookID)
}

func (c *Config) NotesDir() string {
	return filepath.Join(c.Data.Dir, "notes")
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
