// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package config loads server configuration from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/I1SSAACC/Soulshift/internal/auth"
	"github.com/I1SSAACC/Soulshift/internal/xdg"
)

// Default values.
const (
	DefaultListenAddr        = "127.0.0.1:7777"
	DefaultObservabilityAddr = "127.0.0.1:9100"
	DefaultStartingGold      = 100
	DefaultLogFormat         = "json"
)

// Config holds the server configuration.
type Config struct {
	ListenAddr        string `koanf:"listen_addr"`
	ObservabilityAddr string `koanf:"observability_addr"`
	DataDir           string `koanf:"data_dir"`
	PBKDF2Iterations  int    `koanf:"pbkdf2_iterations"`
	StartingGold      int64  `koanf:"starting_gold"`
	LogFormat         string `koanf:"log_format"`
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen_addr is required")
	}
	if c.DataDir == "" {
		return oops.Code("CONFIG_INVALID").Errorf("data_dir is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	if c.PBKDF2Iterations < auth.DefaultIterations {
		return oops.Code("CONFIG_INVALID").
			With("pbkdf2_iterations", c.PBKDF2Iterations).
			Errorf("pbkdf2_iterations must be at least %d", auth.DefaultIterations)
	}
	if c.StartingGold < 0 {
		return oops.Code("CONFIG_INVALID").
			With("starting_gold", c.StartingGold).
			Errorf("starting_gold cannot be negative")
	}
	return nil
}

// Load builds the configuration. path is an optional YAML file; flags, when
// non-nil, override everything (dashes in flag names map to underscores in
// config keys). A missing config file is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"listen_addr":        DefaultListenAddr,
		"observability_addr": DefaultObservabilityAddr,
		"data_dir":           xdg.DataDir(),
		"pbkdf2_iterations":  auth.DefaultIterations,
		"starting_gold":      int64(DefaultStartingGold),
		"log_format":         DefaultLogFormat,
	}
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, oops.Code("CONFIG_LOAD").With("path", path).Wrap(err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
