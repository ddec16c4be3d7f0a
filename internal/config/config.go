package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/menta2k/vision-qa/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. VISIONQA_SERVER_MODEL
const EnvPrefix = "VISIONQA"

// Config holds the application configuration
type Config struct {
	Server     ServerConfig  `mapstructure:"server"`
	Generation types.Options `mapstructure:"generation"`
	Image      ImageConfig   `mapstructure:"image"`
	Hub        HubConfig     `mapstructure:"hub"`
	Log        LogConfig     `mapstructure:"log"`
}

// ServerConfig selects the model server and model
type ServerConfig struct {
	Backend      string        `mapstructure:"backend"`
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PingAttempts uint          `mapstructure:"ping_attempts"`
}

// ImageConfig controls how images are prepared before upload
type ImageConfig struct {
	SendFormat   string `mapstructure:"send_format"`
	SendSize     int    `mapstructure:"send_size"`
	SendQuality  int    `mapstructure:"send_quality"`
	MinImageSize int    `mapstructure:"min_image_size"`
}

// HubConfig configures hf:// image downloads
type HubConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	CacheDir string `mapstructure:"cache_dir"`
	Token    string `mapstructure:"token"`
	Revision string `mapstructure:"revision"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Backend:      "ollama",
			Model:        "granite3.2-vision",
			Timeout:      5 * time.Minute,
			PingAttempts: 3,
		},
		Image: ImageConfig{
			SendFormat:   "jpg",
			SendSize:     1536,
			SendQuality:  85,
			MinImageSize: 16,
		},
		Hub: HubConfig{
			Endpoint: "https://huggingface.co",
			Revision: "main",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults registers Default() values with v so that env vars and
// unmarshalling see every key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.backend", d.Server.Backend)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.api_key", d.Server.APIKey)
	v.SetDefault("server.model", d.Server.Model)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.ping_attempts", d.Server.PingAttempts)

	v.SetDefault("generation.temperature", d.Generation.Temperature)
	v.SetDefault("generation.top_p", d.Generation.TopP)
	v.SetDefault("generation.num_ctx", d.Generation.NumCtx)
	v.SetDefault("generation.max_tokens", d.Generation.MaxTokens)

	v.SetDefault("image.send_format", d.Image.SendFormat)
	v.SetDefault("image.send_size", d.Image.SendSize)
	v.SetDefault("image.send_quality", d.Image.SendQuality)
	v.SetDefault("image.min_image_size", d.Image.MinImageSize)

	v.SetDefault("hub.endpoint", d.Hub.Endpoint)
	v.SetDefault("hub.cache_dir", d.Hub.CacheDir)
	v.SetDefault("hub.token", d.Hub.Token)
	v.SetDefault("hub.revision", d.Hub.Revision)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// New returns a viper instance wired for defaults and VISIONQA_* env vars
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile into v, or the default config path if configFile is
// empty. A missing default file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(GetConfigPath()))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Server.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("server.backend must be ollama or llamacpp, got %q", c.Server.Backend)
	}

	if c.Server.Model == "" {
		return fmt.Errorf("server.model cannot be empty")
	}

	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout cannot be negative")
	}

	switch strings.ToLower(c.Image.SendFormat) {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("image.send_format must be jpg or png")
	}

	if c.Image.SendQuality < 1 || c.Image.SendQuality > 100 {
		return fmt.Errorf("image.send_quality must be between 1 and 100")
	}

	if c.Image.SendSize < 0 {
		return fmt.Errorf("image.send_size cannot be negative")
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2")
	}

	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		return fmt.Errorf("generation.top_p must be between 0 and 1")
	}

	if c.Generation.MaxTokens < 0 {
		return fmt.Errorf("generation.max_tokens cannot be negative")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "vision-qa", "config.yaml")
}
