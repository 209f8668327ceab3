// SPDX-License-Identifier: MIT

// Package config holds the engine's configuration surface (spec.md §6,
// SPEC_FULL.md §4.11): IPC root, timeouts, and the log level, loaded from
// a YAML file with environment-variable overrides via koanf.go's
// KoanfConfig wrapper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the engine configuration file.
const ConfigFilePath = "/etc/remotemedia/config.yaml"

// Config is the engine's full configuration (SPEC_FULL.md §4.11).
type Config struct {
	// IPCRoot is the directory channel backing files live under (spec.md
	// §6 "IPC root path"). Defaults to os.TempDir()/remotemedia.
	IPCRoot string `yaml:"ipc_root" koanf:"ipc_root"`

	// LogLevel is one of debug|info|warn|error (SPEC_FULL.md §4.12).
	LogLevel string `yaml:"log_level" koanf:"log_level"`

	// ReadinessTimeout bounds how long Initialize waits for every node to
	// report ready (spec.md §4.4, §4.5).
	ReadinessTimeout time.Duration `yaml:"readiness_timeout" koanf:"readiness_timeout"`

	// ChannelOpenTimeout bounds how long a handshake side retries opening
	// the other side's channel (spec.md §4.4).
	ChannelOpenTimeout time.Duration `yaml:"channel_open_timeout" koanf:"channel_open_timeout"`

	// WorkerShutdownGrace bounds how long Shutdown waits after SIGTERM
	// before force-killing a worker process (spec.md §5).
	WorkerShutdownGrace time.Duration `yaml:"worker_shutdown_grace" koanf:"worker_shutdown_grace"`

	// SerializationSizeLimitBytes is the instance-serialization size limit
	// (spec.md §4.7). It is loaded, validated and saved with the config;
	// no other package reads it, and no payload is checked against it.
	SerializationSizeLimitBytes int64 `yaml:"serialization_size_limit_bytes" koanf:"serialization_size_limit_bytes"`

	// HistorySize is the number of recent channel frames kept for a late
	// subscriber (spec.md §4.2). It is loaded, validated and saved with the
	// config but is not passed to the channels the engine creates, which
	// take their history from their own shmchannel.Config.
	HistorySize int `yaml:"history_size" koanf:"history_size"`

	// WorkerBinaryPath is the default out-of-process worker binary,
	// overridable per node via manifest params.
	WorkerBinaryPath string `yaml:"worker_binary_path" koanf:"worker_binary_path"`

	// HealthAddr is the listen address for the health/metrics HTTP surface
	// (SPEC_FULL.md §4.13). Empty disables it.
	HealthAddr string `yaml:"health_addr" koanf:"health_addr"`
}

// DefaultConfig returns a Config with the defaults SPEC_FULL.md §4.11
// names. Used when no config file exists or for testing.
func DefaultConfig() *Config {
	return &Config{
		IPCRoot:                     filepath.Join(os.TempDir(), "remotemedia"),
		LogLevel:                    "info",
		ReadinessTimeout:            30 * time.Second,
		ChannelOpenTimeout:          5 * time.Second,
		WorkerShutdownGrace:         10 * time.Second,
		SerializationSizeLimitBytes: 100 * 1024 * 1024,
		HistorySize:                 100,
		HealthAddr:                  "127.0.0.1:9998",
	}
}

// LoadConfig reads and parses a YAML configuration file, falling back to
// DefaultConfig's values for any field the file leaves zero.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - path is operator-controlled (CLI flag / well-known location)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := *DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to path atomically: write to a temp file
// in the same directory, sync, chmod, close, then rename. A crash mid-write
// leaves either the old file or the new file, never a partial one.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// Config files may reference filesystem paths and listen addresses;
	// restrict to owner+group only.
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// SaveWithBackup persists the config to path the way Save does, but backs
// up whatever config already lives there first (spec.md §6's config file
// is operator-edited, so an engine-initiated overwrite - e.g. "pin the
// effective, env-resolved config back to disk" - must not destroy the
// operator's prior copy). Backups accumulate under GetBackupDir(path);
// this also prunes them down to DefaultKeepBackups.
func (c *Config) SaveWithBackup(path string) (backupPath string, err error) {
	backupDir := GetBackupDir(path)
	backupPath, err = BackupBeforeSave(c, path, backupDir)
	if err != nil {
		return backupPath, err
	}
	if _, cleanErr := CleanOldBackups(backupDir, filepath.Base(path), DefaultKeepBackups); cleanErr != nil {
		return backupPath, fmt.Errorf("failed to prune old backups: %w", cleanErr)
	}
	return backupPath, nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.IPCRoot == "" {
		return fmt.Errorf("ipc_root must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.ReadinessTimeout <= 0 {
		return fmt.Errorf("readiness_timeout must be positive")
	}
	if c.ChannelOpenTimeout <= 0 {
		return fmt.Errorf("channel_open_timeout must be positive")
	}
	if c.WorkerShutdownGrace <= 0 {
		return fmt.Errorf("worker_shutdown_grace must be positive")
	}
	if c.SerializationSizeLimitBytes <= 0 {
		return fmt.Errorf("serialization_size_limit_bytes must be positive")
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative")
	}
	return nil
}
