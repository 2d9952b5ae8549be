// Package config loads and validates process-wide configuration for the
// orchestrator, conversation store, and embedding pool via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object, decoded from a YAML/env source.
type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	ONNX         ONNXConfig         `mapstructure:"onnx"`
	Store        StoreConfig        `mapstructure:"store"`
	VectorIndex  VectorIndexConfig  `mapstructure:"vector_index"`
}

// OrchestratorConfig controls the default retry policy and resource pools
// for Core A when a request does not override them.
type OrchestratorConfig struct {
	DefaultMaxAttempts      int           `mapstructure:"default_max_attempts"`
	DefaultBaseDelay        time.Duration `mapstructure:"default_base_delay"`
	DefaultMaxDelay         time.Duration `mapstructure:"default_max_delay"`
	DefaultBackoffFactor    float64       `mapstructure:"default_backoff_factor"`
	ToolConcurrencyPerPhase int           `mapstructure:"tool_concurrency_per_phase"`
	CircuitBreakerEnabled   bool          `mapstructure:"circuit_breaker_enabled"`
	CircuitBreakerThreshold uint32        `mapstructure:"circuit_breaker_threshold"`
}

// EmbeddingConfig controls Core C's pool topology and provider selection.
type EmbeddingConfig struct {
	Provider    string `mapstructure:"provider"` // "onnx"
	ModelPath   string `mapstructure:"model_path"`
	Dims        int    `mapstructure:"dims"`
	MaxSeqLen   int    `mapstructure:"max_seq_len"`
	BatchSize   int    `mapstructure:"batch_size"`
	MaxSessions int    `mapstructure:"max_sessions"`
	CPUWorkers  int    `mapstructure:"cpu_workers"`
}

// ONNXConfig controls execution placement for the ONNX-backed provider.
type ONNXConfig struct {
	LibraryPath string `mapstructure:"library_path"`
	EP          string `mapstructure:"ep"` // "cpu" | "cuda"
	CUDADevice  int    `mapstructure:"cuda_device_id"`
}

// StoreConfig controls Core B's persistence directory and instance lock.
type StoreConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	LockBackend string `mapstructure:"lock_backend"` // "file" | "redis"
	RedisAddr   string `mapstructure:"redis_addr"`
}

// VectorIndexConfig controls the collection backing Core B's search layer.
type VectorIndexConfig struct {
	Backend        string `mapstructure:"backend"` // "libsql" | "external"
	CollectionName string `mapstructure:"collection_name"`
	DataDir        string `mapstructure:"data_dir"`
	TopK           int    `mapstructure:"top_k"`
}

// Load reads configuration from configPath (or the working directory's
// config.yaml) and environment variables, applying defaults for anything
// left unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.applyValidationDefaults()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("orchestrator.default_max_attempts", 3)
	v.SetDefault("orchestrator.default_base_delay", "1s")
	v.SetDefault("orchestrator.default_max_delay", "30s")
	v.SetDefault("orchestrator.default_backoff_factor", 2.0)
	v.SetDefault("orchestrator.tool_concurrency_per_phase", 8)
	v.SetDefault("orchestrator.circuit_breaker_enabled", true)
	v.SetDefault("orchestrator.circuit_breaker_threshold", 5)

	v.SetDefault("embedding.provider", "onnx")
	v.SetDefault("embedding.dims", 384)
	v.SetDefault("embedding.max_seq_len", 256)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.max_sessions", 2)
	v.SetDefault("embedding.cpu_workers", 4)

	v.SetDefault("onnx.ep", "cpu")

	v.SetDefault("store.base_dir", "./data/conversations")
	v.SetDefault("store.lock_backend", "file")

	v.SetDefault("vector_index.backend", "libsql")
	v.SetDefault("vector_index.collection_name", "conversations")
	v.SetDefault("vector_index.data_dir", "./data/vectors")
	v.SetDefault("vector_index.top_k", 10)
}

// applyValidationDefaults mirrors the teacher's pattern of clamping
// zero/invalid values rather than failing config load outright.
func (c *Config) applyValidationDefaults() {
	if c.Embedding.Dims <= 0 {
		c.Embedding.Dims = 384
	}
	if c.Embedding.MaxSeqLen <= 0 {
		c.Embedding.MaxSeqLen = 256
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.MaxSessions <= 0 {
		c.Embedding.MaxSessions = 2
	}
	if c.Embedding.CPUWorkers <= 0 {
		c.Embedding.CPUWorkers = 4
	}
	if c.Orchestrator.DefaultMaxAttempts <= 0 {
		c.Orchestrator.DefaultMaxAttempts = 3
	}
	if c.Orchestrator.DefaultBackoffFactor <= 0 {
		c.Orchestrator.DefaultBackoffFactor = 2.0
	}
	if c.Orchestrator.ToolConcurrencyPerPhase <= 0 {
		c.Orchestrator.ToolConcurrencyPerPhase = 8
	}
	if c.VectorIndex.TopK <= 0 {
		c.VectorIndex.TopK = 10
	}
}
