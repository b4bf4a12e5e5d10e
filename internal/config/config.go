// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

// Package config loads settings for both binaries from defaults, an optional
// YAML file, and TRUENORTH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration tree shared by server and client.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the reconciliation endpoint.
type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

// ClientConfig configures the field client.
type ClientConfig struct {
	StorePath    string        `mapstructure:"store_path"`
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	CacheDir     string        `mapstructure:"cache_dir"`
	StagingDir   string        `mapstructure:"staging_dir"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	Standalone   bool          `mapstructure:"standalone"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("client.store_path", "truenorth.db")
	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.cache_dir", "cache")
	v.SetDefault("client.staging_dir", "staging")
	v.SetDefault("client.startup_delay", 15*time.Second)
	v.SetDefault("client.sync_interval", 5*time.Minute)
	v.SetDefault("client.grace_period", time.Duration(0))
	v.SetDefault("client.standalone", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetEnvPrefix("TRUENORTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// ValidateServer checks the settings the server cannot run without.
func (c *Config) ValidateServer() error {
	if c.Server.DatabaseURL == "" {
		return errors.New("server.database_url is required")
	}
	if c.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is required")
	}
	return nil
}

// ValidateClient checks the settings the client cannot run without.
func (c *Config) ValidateClient() error {
	if c.Client.BaseURL == "" {
		return errors.New("client.base_url is required")
	}
	if c.Client.StorePath == "" {
		return errors.New("client.store_path is required")
	}
	return nil
}
