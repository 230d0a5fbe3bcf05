// Copyright 2023 qbee.io
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bridge's process-wide configuration once at
// startup: an optional YAML overlay for the non-secret knobs, with
// environment variables always taking precedence. Secrets (the Device
// security key) are environment-only and are never read from the YAML
// file, so they never land on disk next to a checked-in config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError is a fatal, non-retryable configuration problem detected at
// startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the bridge's complete, validated runtime configuration.
type Config struct {
	DeviceHost   string `yaml:"device_host"`
	DevicePort   int    `yaml:"device_port"`
	DeviceScheme string `yaml:"device_scheme"`

	// DeviceSecurityKey is environment-only (SPOOLBRIDGE_DEVICE_SECURITY_KEY).
	DeviceSecurityKey string `yaml:"-"`

	InventoryHost   string `yaml:"inventory_host"`
	InventoryPort   int    `yaml:"inventory_port"`
	InventoryScheme string `yaml:"inventory_scheme"`

	PollInterval        time.Duration `yaml:"-"`
	PollIntervalSec     int           `yaml:"poll_interval_sec"`
	DeltaThresholdG     float64       `yaml:"delta_threshold_g"`
	MappingFilePath     string        `yaml:"mapping_file_path"`
	InitialSyncDelay    time.Duration `yaml:"-"`
	InitialSyncDelaySec int           `yaml:"initial_sync_delay_sec"`
	LogLevel            string        `yaml:"log_level"`
}

// Defaults returns a Config populated with every default value the
// bridge ships with, before the YAML overlay or environment overrides
// are applied.
func Defaults() Config {
	return Config{
		DeviceScheme:        "https",
		DevicePort:          443,
		InventoryPort:       443,
		InventoryScheme:     "https",
		PollIntervalSec:     60,
		DeltaThresholdG:     0.1,
		MappingFilePath:     "/var/lib/spoolbridge/mapping.yaml",
		InitialSyncDelaySec: 5,
		LogLevel:            "INFO",
	}
}

// Load builds a Config by starting from Defaults, applying an optional
// YAML overlay file (path from SPOOLBRIDGE_CONFIG_FILE, if set), then
// applying environment variable overrides, and finally validating.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("SPOOLBRIDGE_CONFIG_FILE"); path != "" {
		if err := applyYAMLFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	cfg.PollInterval = time.Duration(cfg.PollIntervalSec) * time.Second
	cfg.InitialSyncDelay = time.Duration(cfg.InitialSyncDelaySec) * time.Second

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Field: "config_file", Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &ConfigError{Field: "config_file", Reason: err.Error()}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	stringVar(&cfg.DeviceHost, "SPOOLBRIDGE_DEVICE_HOST")
	stringVar(&cfg.DeviceScheme, "SPOOLBRIDGE_DEVICE_SCHEME")
	intVar(&cfg.DevicePort, "SPOOLBRIDGE_DEVICE_PORT")
	stringVar(&cfg.DeviceSecurityKey, "SPOOLBRIDGE_DEVICE_SECURITY_KEY")

	stringVar(&cfg.InventoryHost, "SPOOLBRIDGE_INVENTORY_HOST")
	intVar(&cfg.InventoryPort, "SPOOLBRIDGE_INVENTORY_PORT")
	stringVar(&cfg.InventoryScheme, "SPOOLBRIDGE_INVENTORY_SCHEME")

	intVar(&cfg.PollIntervalSec, "SPOOLBRIDGE_POLL_INTERVAL_SEC")
	floatVar(&cfg.DeltaThresholdG, "SPOOLBRIDGE_DELTA_THRESHOLD_G")
	stringVar(&cfg.MappingFilePath, "SPOOLBRIDGE_MAPPING_FILE_PATH")
	intVar(&cfg.InitialSyncDelaySec, "SPOOLBRIDGE_INITIAL_SYNC_DELAY_SEC")
	stringVar(&cfg.LogLevel, "SPOOLBRIDGE_LOG_LEVEL")
}

func stringVar(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intVar(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVar(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func (c Config) validate() error {
	if c.DeviceHost == "" {
		return &ConfigError{Field: "device_host", Reason: "required"}
	}
	if len(c.DeviceSecurityKey) != 7 {
		return &ConfigError{Field: "device_security_key", Reason: "must be exactly 7 characters"}
	}
	if c.InventoryHost == "" {
		return &ConfigError{Field: "inventory_host", Reason: "required"}
	}
	if c.DeviceScheme != "http" && c.DeviceScheme != "https" {
		return &ConfigError{Field: "device_scheme", Reason: "must be http or https"}
	}
	if c.InventoryScheme != "http" && c.InventoryScheme != "https" {
		return &ConfigError{Field: "inventory_scheme", Reason: "must be http or https"}
	}
	if c.PollIntervalSec <= 0 {
		return &ConfigError{Field: "poll_interval_sec", Reason: "must be positive"}
	}
	if c.DeltaThresholdG < 0 {
		return &ConfigError{Field: "delta_threshold_g", Reason: "must be non-negative"}
	}
	if c.MappingFilePath == "" {
		return &ConfigError{Field: "mapping_file_path", Reason: "required"}
	}

	return nil
}

// DeviceBaseURL returns the base URL of the Device REST surface.
func (c Config) DeviceBaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.DeviceScheme, c.DeviceHost, c.DevicePort)
}

// InventoryBaseURL returns the base URL of the Inventory REST surface.
func (c Config) InventoryBaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.InventoryScheme, c.InventoryHost, c.InventoryPort)
}
