// Package config loads application configuration from the XDG config
// directory, with sane defaults so a fresh install runs without a config
// file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/damsac/health-assistant/internal/pricing"
	"github.com/damsac/health-assistant/internal/store"
)

type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Database  store.Config          `mapstructure:"database"`
	Anthropic AnthropicConfig       `mapstructure:"anthropic"`
	Chat      ChatConfig            `mapstructure:"chat"`
	Pricing   map[string]PriceEntry `mapstructure:"pricing"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"` // optional bearer token; empty disables auth
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// ChatConfig tunes turn execution.
type ChatConfig struct {
	MaxToolRounds   int `mapstructure:"max_tool_rounds"`
	MaxOutputTokens int `mapstructure:"max_output_tokens"`
}

// PriceEntry overrides the built-in price table for one model, in dollars
// per million tokens.
type PriceEntry struct {
	Input  float64 `mapstructure:"input"`
	Output float64 `mapstructure:"output"`
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("anthropic.model", "claude-3-haiku-20240307")
	viper.SetDefault("chat.max_tool_rounds", 5)
	viper.SetDefault("chat.max_output_tokens", 4096)

	// Config file is optional; defaults carry a fresh install.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return &cfg, nil
}

// PriceTable builds the effective price table: built-in defaults overlaid
// with any configured overrides.
func (c *Config) PriceTable() pricing.Table {
	table := pricing.DefaultTable()
	if len(c.Pricing) == 0 {
		return table
	}
	overrides := make(map[string]pricing.Price, len(c.Pricing))
	for model, entry := range c.Pricing {
		overrides[model] = pricing.Price{Input: entry.Input, Output: entry.Output}
	}
	return table.Merge(overrides)
}

// Addr returns the host:port the server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetConfigDir returns the XDG config directory for health-assistant.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "health-assistant"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "health-assistant"), nil
}

// GetConfigPath returns the path where the config file should be located.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists.
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes the config to disk as YAML.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	doc := map[string]any{
		"server": map[string]any{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		},
		"anthropic": map[string]any{
			"model": cfg.Anthropic.Model,
		},
		"chat": map[string]any{
			"max_tool_rounds":   cfg.Chat.MaxToolRounds,
			"max_output_tokens": cfg.Chat.MaxOutputTokens,
		},
	}
	if cfg.Database.Path != "" {
		doc["database"] = map[string]any{"path": cfg.Database.Path}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
