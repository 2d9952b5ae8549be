package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality.
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "toolmind-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	require.NoError(suite.T(), os.Chdir(tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadWithDefaults() {
	cfg, err := Load("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "info", cfg.LogLevel)
	assert.Equal(suite.T(), 3, cfg.Orchestrator.DefaultMaxAttempts)
	assert.Equal(suite.T(), 8, cfg.Orchestrator.ToolConcurrencyPerPhase)
	assert.True(suite.T(), cfg.Orchestrator.CircuitBreakerEnabled)
	assert.Equal(suite.T(), uint32(5), cfg.Orchestrator.CircuitBreakerThreshold)
	assert.Equal(suite.T(), "onnx", cfg.Embedding.Provider)
	assert.Equal(suite.T(), 384, cfg.Embedding.Dims)
	assert.Equal(suite.T(), "cpu", cfg.ONNX.EP)
	assert.Equal(suite.T(), "file", cfg.Store.LockBackend)
	assert.Equal(suite.T(), "libsql", cfg.VectorIndex.Backend)
	assert.Equal(suite.T(), 10, cfg.VectorIndex.TopK)
}

func (suite *ConfigTestSuite) TestLoadWithFile() {
	configContent := `
log_level: debug
orchestrator:
  default_max_attempts: 7
  tool_concurrency_per_phase: 16
embedding:
  dims: 768
  provider: onnx
store:
  base_dir: ./custom-data
vector_index:
  top_k: 25
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := Load(configFile)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "debug", cfg.LogLevel)
	assert.Equal(suite.T(), 7, cfg.Orchestrator.DefaultMaxAttempts)
	assert.Equal(suite.T(), 16, cfg.Orchestrator.ToolConcurrencyPerPhase)
	assert.Equal(suite.T(), 768, cfg.Embedding.Dims)
	assert.Equal(suite.T(), "./custom-data", cfg.Store.BaseDir)
	assert.Equal(suite.T(), 25, cfg.VectorIndex.TopK)

	// Fields left unset in the file still fall back to their defaults.
	assert.Equal(suite.T(), 32, cfg.Embedding.BatchSize)
	assert.Equal(suite.T(), "cpu", cfg.ONNX.EP)
}

func (suite *ConfigTestSuite) TestLoadInvalidFilePath() {
	cfg, err := Load("/nonexistent/path/config.yaml")
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadMalformedFile() {
	malformed := `
log_level: debug
orchestrator:
  default_max_attempts: [unclosed bracket
`
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(malformed), 0o644))

	cfg, err := Load(configFile)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestApplyValidationDefaultsClampsZeroValues() {
	cfg := &Config{}
	cfg.applyValidationDefaults()

	assert.Equal(suite.T(), 384, cfg.Embedding.Dims)
	assert.Equal(suite.T(), 256, cfg.Embedding.MaxSeqLen)
	assert.Equal(suite.T(), 32, cfg.Embedding.BatchSize)
	assert.Equal(suite.T(), 2, cfg.Embedding.MaxSessions)
	assert.Equal(suite.T(), 4, cfg.Embedding.CPUWorkers)
	assert.Equal(suite.T(), 3, cfg.Orchestrator.DefaultMaxAttempts)
	assert.Equal(suite.T(), 2.0, cfg.Orchestrator.DefaultBackoffFactor)
	assert.Equal(suite.T(), 8, cfg.Orchestrator.ToolConcurrencyPerPhase)
	assert.Equal(suite.T(), 10, cfg.VectorIndex.TopK)
}

func (suite *ConfigTestSuite) TestApplyValidationDefaultsPreservesExplicitValues() {
	cfg := &Config{}
	cfg.Embedding.Dims = 1024
	cfg.Orchestrator.DefaultMaxAttempts = 9
	cfg.applyValidationDefaults()

	assert.Equal(suite.T(), 1024, cfg.Embedding.Dims)
	assert.Equal(suite.T(), 9, cfg.Orchestrator.DefaultMaxAttempts)
}

func BenchmarkLoad(b *testing.B) {
	for b.Loop() {
		cfg, err := Load("")
		if err != nil {
			b.Fatal(err)
		}
		_ = cfg
	}
}
