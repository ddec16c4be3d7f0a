package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests loading from defaults, files and the environment
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	var err error
	s.origDir, err = os.Getwd()
	require.NoError(s.T(), err)

	s.tempDir = s.T().TempDir()
	require.NoError(s.T(), os.Chdir(s.tempDir))
	s.T().Setenv("HOME", s.tempDir)
}

func (s *ConfigTestSuite) TearDownTest() {
	if s.origDir != "" {
		_ = os.Chdir(s.origDir)
	}
}

func (s *ConfigTestSuite) TestLoadWithDefaults() {
	cfg, err := Load(New(), "")
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "ollama", cfg.Server.Backend)
	assert.Equal(s.T(), "granite3.2-vision", cfg.Server.Model)
	assert.Equal(s.T(), 5*time.Minute, cfg.Server.Timeout)
	assert.EqualValues(s.T(), 3, cfg.Server.PingAttempts)
	assert.Equal(s.T(), 1536, cfg.Image.SendSize)
	assert.Equal(s.T(), "https://huggingface.co", cfg.Hub.Endpoint)
	assert.Equal(s.T(), "info", cfg.Log.Level)
}

func (s *ConfigTestSuite) TestLoadFromFile() {
	path := filepath.Join(s.tempDir, "custom.yaml")
	content := `
server:
  backend: llamacpp
  url: http://gpu-box:8080
  model: granite-vision-3.2-2b
  timeout: 90s
generation:
  max_tokens: 100
  temperature: 0.2
image:
  send_size: 0
  send_format: png
`
	require.NoError(s.T(), os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "llamacpp", cfg.Server.Backend)
	assert.Equal(s.T(), "http://gpu-box:8080", cfg.Server.URL)
	assert.Equal(s.T(), 90*time.Second, cfg.Server.Timeout)
	assert.Equal(s.T(), 100, cfg.Generation.MaxTokens)
	assert.InDelta(s.T(), 0.2, cfg.Generation.Temperature, 1e-9)
	assert.Equal(s.T(), 0, cfg.Image.SendSize)
	assert.Equal(s.T(), "png", cfg.Image.SendFormat)
	// untouched keys keep their defaults
	assert.Equal(s.T(), 85, cfg.Image.SendQuality)
}

func (s *ConfigTestSuite) TestLoadFromWorkingDirectory() {
	require.NoError(s.T(), os.WriteFile(filepath.Join(s.tempDir, "config.yaml"), []byte("server:\n  model: llava:13b\n"), 0o644))

	cfg, err := Load(New(), "")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "llava:13b", cfg.Server.Model)
}

func (s *ConfigTestSuite) TestEnvironmentOverrides() {
	s.T().Setenv("VISIONQA_SERVER_MODEL", "qwen2.5vl")
	s.T().Setenv("VISIONQA_LOG_LEVEL", "debug")

	cfg, err := Load(New(), "")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "qwen2.5vl", cfg.Server.Model)
	assert.Equal(s.T(), "debug", cfg.Log.Level)
}

func (s *ConfigTestSuite) TestMissingExplicitFile() {
	_, err := Load(New(), filepath.Join(s.tempDir, "nope.yaml"))
	assert.Error(s.T(), err)
}

func (s *ConfigTestSuite) TestInvalidFileIsRejected() {
	path := filepath.Join(s.tempDir, "bad.yaml")
	require.NoError(s.T(), os.WriteFile(path, []byte("server:\n  backend: tgi\n"), 0o644))

	_, err := Load(New(), path)
	assert.ErrorContains(s.T(), err, "server.backend")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"backend", func(c *Config) { c.Server.Backend = "vllm" }},
		{"model", func(c *Config) { c.Server.Model = "" }},
		{"timeout", func(c *Config) { c.Server.Timeout = -time.Second }},
		{"format", func(c *Config) { c.Image.SendFormat = "gif" }},
		{"quality", func(c *Config) { c.Image.SendQuality = 0 }},
		{"size", func(c *Config) { c.Image.SendSize = -1 }},
		{"temperature", func(c *Config) { c.Generation.Temperature = 3 }},
		{"top_p", func(c *Config) { c.Generation.TopP = 1.5 }},
		{"max_tokens", func(c *Config) { c.Generation.MaxTokens = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, filepath.Join("/home/tester", ".config", "vision-qa", "config.yaml"), GetConfigPath())
}
