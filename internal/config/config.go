// Package config loads and validates the vaultmcp configuration.
//
// Precedence, lowest to highest:
//  1. Hardcoded defaults (NewConfig)
//  2. YAML file (vaultmcp.yaml in the working directory, or --config)
//  3. Environment variables, with .env loaded first via godotenv
//
// Validation runs on the merged result, so a bad value fails startup
// no matter where it came from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vaultmcp/vaultmcp/internal/chunk"
)

// DefaultFileName is the YAML file Load looks for when no explicit
// path is given.
const DefaultFileName = "vaultmcp.yaml"

// Embedding providers accepted by the factory.
const (
	ProviderStatic = "static"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config is the complete vaultmcp configuration.
type Config struct {
	Qdrant QdrantSettings `yaml:"qdrant" json:"qdrant"`
	Embed  EmbedSettings  `yaml:"embeddings" json:"embeddings"`
	Chunk  ChunkSettings  `yaml:"chunking" json:"chunking"`
	Dedup  DedupSettings  `yaml:"dedup" json:"dedup"`
	Backup BackupSettings `yaml:"backup" json:"backup"`
	Log    LogSettings    `yaml:"logging" json:"logging"`

	// apiKeySet records whether a Qdrant API key was supplied at all.
	// An empty key is valid for unauthenticated local instances, but it
	// has to be explicit.
	apiKeySet bool
}

// QdrantSettings configures the vector store connection and the two
// collections.
type QdrantSettings struct {
	// URL is the gRPC endpoint, e.g. http://localhost:6334. An https
	// scheme enables TLS.
	URL string `yaml:"url" json:"url"`

	// APIKey authenticates against Qdrant Cloud. Set it empty for
	// unauthenticated local instances.
	APIKey string `yaml:"api_key" json:"api_key"`

	Collection     string `yaml:"collection" json:"collection"`
	CodeCollection string `yaml:"code_collection" json:"code_collection"`
}

// EmbedSettings configures the embedding stack for both collections.
type EmbedSettings struct {
	// Provider is one of static, openai, ollama.
	Provider string `yaml:"provider" json:"provider"`

	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`

	// CodeModel and CodeDimensions apply to the code collection; code
	// models are usually larger than prose models.
	CodeModel      string `yaml:"code_model" json:"code_model"`
	CodeDimensions int    `yaml:"code_dimensions" json:"code_dimensions"`

	// OpenAIAPIKey is env-only (OPENAI_API_KEY); it never round-trips
	// through the YAML file.
	OpenAIAPIKey  string `yaml:"-" json:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`

	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// CacheSize caps the embedding LRU cache. Zero keeps the built-in
	// default.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkSettings configures the document splitter.
type ChunkSettings struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// DedupSettings configures the near-duplicate probe.
type DedupSettings struct {
	// SimilarityEnabled turns on the level 3 vector probe for whole
	// document writes. It costs one extra search per add.
	SimilarityEnabled bool `yaml:"similarity_enabled" json:"similarity_enabled"`

	// SimilarityThreshold is the cosine score at or above which a new
	// document is reported as a near duplicate.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
}

// BackupSettings configures the backup root directory.
type BackupSettings struct {
	Dir string `yaml:"dir" json:"dir"`
}

// LogSettings configures structured logging.
type LogSettings struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// File, when set, appends JSON log lines there with rotation. MCP
	// clients own stdout, so file logging is the way to keep verbose
	// logs without breaking the protocol.
	File string `yaml:"file" json:"file"`
}

// NewConfig returns the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Qdrant: QdrantSettings{
			Collection:     "vault_docs",
			CodeCollection: "vault_code",
		},
		Embed: EmbedSettings{
			Provider:       ProviderStatic,
			Dimensions:     384,
			CodeDimensions: 768,
			OllamaHost:     "http://localhost:11434",
		},
		Chunk: ChunkSettings{
			Size:    chunk.DefaultSize,
			Overlap: chunk.DefaultOverlap,
		},
		Dedup: DedupSettings{
			SimilarityThreshold: 0.85,
		},
		Backup: BackupSettings{
			Dir: "./backups",
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// Load builds the effective configuration. path names an explicit YAML
// file; empty means DefaultFileName if it exists. A .env file in the
// working directory is loaded first and never overrides real
// environment variables.
func Load(path string) (*Config, error) {
	// godotenv returns an error when .env does not exist; that is the
	// common case, not a failure.
	_ = godotenv.Load()

	cfg := NewConfig()

	explicit := path != ""
	if path == "" {
		path = DefaultFileName
	}
	if err := cfg.loadYAML(path, explicit); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Pointer fields
// distinguish absent values from explicit zero values, which matters
// for api_key (explicit empty is valid) and overlap (explicit zero is
// valid).
type fileConfig struct {
	Qdrant struct {
		URL            string  `yaml:"url"`
		APIKey         *string `yaml:"api_key"`
		Collection     string  `yaml:"collection"`
		CodeCollection string  `yaml:"code_collection"`
	} `yaml:"qdrant"`
	Embeddings struct {
		Provider       string `yaml:"provider"`
		Model          string `yaml:"model"`
		Dimensions     *int   `yaml:"dimensions"`
		CodeModel      string `yaml:"code_model"`
		CodeDimensions *int   `yaml:"code_dimensions"`
		OpenAIBaseURL  string `yaml:"openai_base_url"`
		OllamaHost     string `yaml:"ollama_host"`
		CacheSize      *int   `yaml:"cache_size"`
	} `yaml:"embeddings"`
	Chunking struct {
		Size    *int `yaml:"size"`
		Overlap *int `yaml:"overlap"`
	} `yaml:"chunking"`
	Dedup struct {
		SimilarityEnabled   *bool    `yaml:"similarity_enabled"`
		SimilarityThreshold *float64 `yaml:"similarity_threshold"`
	} `yaml:"dedup"`
	Backup struct {
		Dir string `yaml:"dir"`
	} `yaml:"backup"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

func (c *Config) loadYAML(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Qdrant.URL != "" {
		c.Qdrant.URL = fc.Qdrant.URL
	}
	if fc.Qdrant.APIKey != nil {
		c.Qdrant.APIKey = *fc.Qdrant.APIKey
		c.apiKeySet = true
	}
	if fc.Qdrant.Collection != "" {
		c.Qdrant.Collection = fc.Qdrant.Collection
	}
	if fc.Qdrant.CodeCollection != "" {
		c.Qdrant.CodeCollection = fc.Qdrant.CodeCollection
	}

	if fc.Embeddings.Provider != "" {
		c.Embed.Provider = fc.Embeddings.Provider
	}
	if fc.Embeddings.Model != "" {
		c.Embed.Model = fc.Embeddings.Model
	}
	if fc.Embeddings.Dimensions != nil {
		c.Embed.Dimensions = *fc.Embeddings.Dimensions
	}
	if fc.Embeddings.CodeModel != "" {
		c.Embed.CodeModel = fc.Embeddings.CodeModel
	}
	if fc.Embeddings.CodeDimensions != nil {
		c.Embed.CodeDimensions = *fc.Embeddings.CodeDimensions
	}
	if fc.Embeddings.OpenAIBaseURL != "" {
		c.Embed.OpenAIBaseURL = fc.Embeddings.OpenAIBaseURL
	}
	if fc.Embeddings.OllamaHost != "" {
		c.Embed.OllamaHost = fc.Embeddings.OllamaHost
	}
	if fc.Embeddings.CacheSize != nil {
		c.Embed.CacheSize = *fc.Embeddings.CacheSize
	}

	if fc.Chunking.Size != nil {
		c.Chunk.Size = *fc.Chunking.Size
	}
	if fc.Chunking.Overlap != nil {
		c.Chunk.Overlap = *fc.Chunking.Overlap
	}

	if fc.Dedup.SimilarityEnabled != nil {
		c.Dedup.SimilarityEnabled = *fc.Dedup.SimilarityEnabled
	}
	if fc.Dedup.SimilarityThreshold != nil {
		c.Dedup.SimilarityThreshold = *fc.Dedup.SimilarityThreshold
	}

	if fc.Backup.Dir != "" {
		c.Backup.Dir = fc.Backup.Dir
	}
	if fc.Logging.Level != "" {
		c.Log.Level = fc.Logging.Level
	}
	if fc.Logging.File != "" {
		c.Log.File = fc.Logging.File
	}

	return nil
}

// applyEnv applies environment overrides, the highest-precedence
// layer. QDRANT_API_KEY uses LookupEnv so an explicitly empty key
// counts as set.
func (c *Config) applyEnv() {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.Qdrant.URL = v
	}
	if v, ok := os.LookupEnv("QDRANT_API_KEY"); ok {
		c.Qdrant.APIKey = v
		c.apiKeySet = true
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" {
		c.Qdrant.Collection = v
	}
	if v := os.Getenv("QDRANT_CODE_COLLECTION"); v != "" {
		c.Qdrant.CodeCollection = v
	}

	if v := os.Getenv("VAULTMCP_EMBED_PROVIDER"); v != "" {
		c.Embed.Provider = v
	}
	if v := os.Getenv("VAULTMCP_EMBED_MODEL"); v != "" {
		c.Embed.Model = v
	}
	if v := os.Getenv("VAULTMCP_CODE_EMBED_MODEL"); v != "" {
		c.Embed.CodeModel = v
	}
	if v := os.Getenv("VAULTMCP_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embed.Dimensions = n
		}
	}
	if v := os.Getenv("VAULTMCP_CODE_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embed.CodeDimensions = n
		}
	}
	if v := os.Getenv("VAULTMCP_EMBED_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embed.CacheSize = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embed.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Embed.OpenAIBaseURL = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Embed.OllamaHost = v
	}

	if v := os.Getenv("VAULTMCP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunk.Size = n
		}
	}
	if v := os.Getenv("VAULTMCP_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunk.Overlap = n
		}
	}

	if v := os.Getenv("VAULTMCP_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("VAULTMCP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VAULTMCP_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// Validate range-checks the merged configuration.
func (c *Config) Validate() error {
	if c.Qdrant.URL == "" {
		return fmt.Errorf("qdrant.url is required (set QDRANT_URL, e.g. http://localhost:6334)")
	}
	if !c.apiKeySet {
		return fmt.Errorf("qdrant.api_key is not set (set QDRANT_API_KEY; an empty value is valid for unauthenticated local instances)")
	}
	if c.Qdrant.Collection == "" || c.Qdrant.CodeCollection == "" {
		return fmt.Errorf("collection names must not be empty")
	}
	if c.Qdrant.Collection == c.Qdrant.CodeCollection {
		return fmt.Errorf("qdrant.collection and qdrant.code_collection must differ, both are %q", c.Qdrant.Collection)
	}

	switch strings.ToLower(c.Embed.Provider) {
	case ProviderStatic, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("embeddings.provider must be 'static', 'openai', or 'ollama', got %s", c.Embed.Provider)
	}
	if strings.EqualFold(c.Embed.Provider, ProviderOpenAI) && c.Embed.OpenAIAPIKey == "" {
		return fmt.Errorf("embeddings.provider 'openai' requires OPENAI_API_KEY")
	}
	if c.Embed.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embed.Dimensions)
	}
	if c.Embed.CodeDimensions <= 0 {
		return fmt.Errorf("embeddings.code_dimensions must be positive, got %d", c.Embed.CodeDimensions)
	}

	if c.Chunk.Size < chunk.MinSize || c.Chunk.Size > chunk.MaxSize {
		return fmt.Errorf("chunking.size must be between %d and %d, got %d", chunk.MinSize, chunk.MaxSize, c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap > chunk.MaxOverlap {
		return fmt.Errorf("chunking.overlap must be between 0 and %d, got %d", chunk.MaxOverlap, c.Chunk.Overlap)
	}
	if c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)", c.Chunk.Overlap, c.Chunk.Size)
	}

	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1], got %g", c.Dedup.SimilarityThreshold)
	}

	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Qdrant.APIKey != "" {
		out.Qdrant.APIKey = "********"
	}
	if out.Embed.OpenAIAPIKey != "" {
		out.Embed.OpenAIAPIKey = "********"
	}
	return &out
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
