// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chronista/config.yaml",
	"/etc/chronista/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces Chronista's environment variables:
// CHRONISTA_INGESTION_MAX_CONCURRENT_TAILERS -> ingestion.max_concurrent_tailers
const envPrefix = "CHRONISTA_"

// Load builds the configuration with layered precedence (highest wins):
//
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. CHRONISTA_* environment variables
//
// The result is normalized (server ids assigned) and validated.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize assigns stable-by-session ids to servers configured without one.
// Operators should pin ids in the config so tail resume state survives
// config rewrites; a generated id only persists for the process lifetime of
// the state records it creates.
func (c *Config) normalize() {
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.Name == "" {
			s.Name = s.Type
		}
	}
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps CHRONISTA_* environment variable names to koanf
// config paths:
//
//	CHRONISTA_LOGGING_LEVEL                      -> logging.level
//	CHRONISTA_DATABASE_PATH                      -> database.path
//	CHRONISTA_INGESTION_MAX_CONCURRENT_TAILERS   -> ingestion.max_concurrent_tailers
//
// Section names contain no underscores, so the first segment is the section
// and the remainder is the key with underscores preserved.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}
