// Package config provides YAML-based configuration loading for the
// dispatch bot.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the static process configuration, loaded once at startup.
type Config struct {
	// BotToken is the chat platform credential. Required.
	BotToken string `yaml:"bot_token"`

	// AdminIDs and AdminUsernames form the admin allow-list. Handles
	// match case-insensitively.
	AdminIDs       []int64  `yaml:"admin_ids"`
	AdminUsernames []string `yaml:"admin_usernames"`

	// DBPath locates the SQLite database file.
	DBPath string `yaml:"db_path"`

	// OrdersChannel, when set, is the chat id of the channel that
	// receives topic-style broadcast summaries.
	OrdersChannel int64 `yaml:"orders_channel"`

	// HistoryLimit caps the /my_orders listing.
	HistoryLimit int `yaml:"history_limit"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./data/dispatch.db"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
}

// validate checks the fields without which the process cannot start.
func (c *Config) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("config: bot_token is required")
	}
	if len(c.AdminIDs) == 0 && len(c.AdminUsernames) == 0 {
		return fmt.Errorf("config: at least one admin id or username is required")
	}
	return nil
}
