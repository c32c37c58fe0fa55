package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for pdfrag.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	Store     StoreConfig     `yaml:"store"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Answer    AnswerConfig    `yaml:"answer"`
	Minio     MinioConfig     `yaml:"minio"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IngestConfig holds ingestion and chunking configuration.
type IngestConfig struct {
	InputDir       string   `yaml:"input_dir"`
	Includes       []string `yaml:"includes"`
	Excludes       []string `yaml:"excludes"`
	ChunkSize      int      `yaml:"chunk_size"`    // characters
	ChunkOverlap   int      `yaml:"chunk_overlap"` // characters
	TextSplitter   string   `yaml:"text_splitter"` // "window", "recursive"
	Workers        int      `yaml:"workers"`       // documents in flight
	PageWorkers    int      `yaml:"page_workers"`  // pages in flight per document
	EmbedBatchSize int      `yaml:"embed_batch_size"`
}

// StoreConfig selects and configures the chunk store.
type StoreConfig struct {
	Backend  string         `yaml:"backend"` // "bolt", "memory", "weaviate"
	Path     string         `yaml:"path"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
}

type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
	Class  string `yaml:"class"`
}

// RetrieveConfig holds the two retrieval cut points.
type RetrieveConfig struct {
	TopK       int `yaml:"top_k"`
	RerankTopK int `yaml:"rerank_top_k"`
}

// KeywordConfig holds keyword boosting configuration.
type KeywordConfig struct {
	Fusion        string  `yaml:"fusion"` // "multiplicative", "additive"
	Boost         float64 `yaml:"boost"`
	AdditiveBonus float64 `yaml:"additive_bonus"`
	Match         string  `yaml:"match"` // "substring", "word"
	DropStopwords bool    `yaml:"drop_stopwords"`
}

// RerankConfig holds cross-encoder configuration.
type RerankConfig struct {
	Provider    string        `yaml:"provider"` // "lexical", "tei", "cohere", "none"
	Model       string        `yaml:"model"`
	URL         string        `yaml:"url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "openai", "hash"
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"` // Environment variable for API key
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AnswerConfig holds answer-generation configuration.
type AnswerConfig struct {
	Provider    string  `yaml:"provider"` // "openai", "none"
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
}

// MinioConfig configures the optional object-storage input sync.
type MinioConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// ServerConfig configures `pdfrag serve`.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CacheSize       int           `yaml:"cache_size"` // 0 disables the query cache
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			InputDir:       filepath.Join("data", "raw"),
			Includes:       []string{"**/*.pdf", "**/*.PDF"},
			Excludes:       []string{"**/.*/**"},
			ChunkSize:      600,
			ChunkOverlap:   120,
			TextSplitter:   "window",
			Workers:        4,
			PageWorkers:    4,
			EmbedBatchSize: 32,
		},
		Store: StoreConfig{
			Backend: "bolt",
			Path:    filepath.Join("data", "processed", "chunks.db"),
			Weaviate: WeaviateConfig{
				Host:   "localhost:8081",
				Scheme: "http",
				Class:  "PdfChunk",
			},
		},
		Retrieve: RetrieveConfig{
			TopK:       5,
			RerankTopK: 10,
		},
		Keyword: KeywordConfig{
			Fusion:        "multiplicative",
			Boost:         2.0,
			AdditiveBonus: 0.1,
			Match:         "substring",
		},
		Rerank: RerankConfig{
			Provider:    "lexical",
			Model:       "cross-encoder/ms-marco-MiniLM-L-6-v2",
			URL:         "http://localhost:8082",
			APIKeyEnv:   "COHERE_API_KEY",
			Timeout:     5 * time.Second,
			Concurrency: 4,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "intfloat/e5-large-v2",
			BaseURL:   "http://localhost:8083/v1",
			APIKeyEnv: "EMBEDDING_API_KEY",
			Dimension: 1024,
			Timeout:   60 * time.Second,
		},
		Answer: AnswerConfig{
			Provider:  "openai",
			Model:     "llama-3.3-70b-versatile",
			BaseURL:   "https://api.groq.com/openai/v1",
			APIKeyEnv: "GROQ_API_KEY",
		},
		Minio: MinioConfig{
			Endpoint:     "localhost:9000",
			Bucket:       "pdfs",
			AccessKeyEnv: "MINIO_ACCESS_KEY",
			SecretKeyEnv: "MINIO_SECRET_KEY",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			CacheSize:       256,
			CacheTTL:        10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for pdfrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "pdfrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".pdfrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	in := c.Ingest
	if in.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", in.ChunkSize)
	}
	if in.ChunkOverlap < 0 || in.ChunkOverlap >= in.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, %d), got %d", in.ChunkSize, in.ChunkOverlap)
	}
	if in.Workers <= 0 || in.PageWorkers <= 0 {
		return fmt.Errorf("ingest.workers and ingest.page_workers must be positive")
	}
	if in.EmbedBatchSize <= 0 {
		return fmt.Errorf("ingest.embed_batch_size must be positive, got %d", in.EmbedBatchSize)
	}
	if err := oneOf("ingest.text_splitter", in.TextSplitter, "window", "recursive"); err != nil {
		return err
	}
	if err := oneOf("store.backend", c.Store.Backend, "bolt", "memory", "weaviate"); err != nil {
		return err
	}

	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("retrieve.top_k must be positive, got %d", c.Retrieve.TopK)
	}
	if c.Retrieve.RerankTopK < c.Retrieve.TopK {
		return fmt.Errorf("retrieve.rerank_top_k (%d) must be >= retrieve.top_k (%d)", c.Retrieve.RerankTopK, c.Retrieve.TopK)
	}

	if err := oneOf("keyword.fusion", c.Keyword.Fusion, "multiplicative", "additive"); err != nil {
		return err
	}
	if c.Keyword.Fusion == "multiplicative" && c.Keyword.Boost < 1 {
		return fmt.Errorf("keyword.boost must be >= 1, got %g", c.Keyword.Boost)
	}
	if c.Keyword.Fusion == "additive" && c.Keyword.AdditiveBonus < 0 {
		return fmt.Errorf("keyword.additive_bonus must be >= 0, got %g", c.Keyword.AdditiveBonus)
	}
	if err := oneOf("keyword.match", c.Keyword.Match, "substring", "word"); err != nil {
		return err
	}

	if err := oneOf("rerank.provider", c.Rerank.Provider, "lexical", "tei", "cohere", "none"); err != nil {
		return err
	}
	if c.Rerank.Concurrency <= 0 {
		return fmt.Errorf("rerank.concurrency must be positive, got %d", c.Rerank.Concurrency)
	}
	if err := oneOf("embedding.provider", c.Embedding.Provider, "openai", "hash"); err != nil {
		return err
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if err := oneOf("answer.provider", c.Answer.Provider, "openai", "none"); err != nil {
		return err
	}
	if c.Server.CacheSize < 0 {
		return fmt.Errorf("server.cache_size must be >= 0, got %d", c.Server.CacheSize)
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %v)", field, value, allowed)
}

// IndexHash fingerprints the settings that shape stored chunks and vectors.
// A store built under a different hash must be rebuilt.
func (c *Config) IndexHash() string {
	data, _ := json.Marshal(struct {
		ChunkSize         int
		ChunkOverlap      int
		TextSplitter      string
		EmbeddingProvider string
		EmbeddingModel    string
		Dimension         int
	}{
		ChunkSize:         c.Ingest.ChunkSize,
		ChunkOverlap:      c.Ingest.ChunkOverlap,
		TextSplitter:      c.Ingest.TextSplitter,
		EmbeddingProvider: c.Embedding.Provider,
		EmbeddingModel:    c.Embedding.Model,
		Dimension:         c.Embedding.Dimension,
	})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// EnsureStoreDir ensures the directory holding the store file exists.
func EnsureStoreDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
