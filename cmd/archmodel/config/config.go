// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads archmodel CLI settings.
//
// Settings come from, in increasing precedence: defaults,
// <model>/.archmodel/config.yaml, a .env file in the working directory,
// and ARCHMODEL_* environment variables. Command-line flags are applied by
// the caller afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ArchModel/pkg/telemetry"
)

const (
	// Dir is the per-model settings directory.
	Dir = ".archmodel"

	// FileName is the config file inside Dir.
	FileName = "config.yaml"

	envPrefix = "ARCHMODEL_"
)

// Config holds every CLI setting.
type Config struct {
	// ModelRoot is the model directory holding manifest.yaml.
	ModelRoot string `yaml:"model_root" validate:"required"`

	// ChangesetDir defaults to <model>/.changesets.
	ChangesetDir string `yaml:"changeset_dir"`

	// BackupDir defaults to <model>/.backups.
	BackupDir string `yaml:"backup_dir"`

	// MaxBackups keeps only the newest N backups. Zero keeps all.
	MaxBackups int `yaml:"max_backups" validate:"gte=0"`

	// Journal enables the lifecycle journal in <model>/.archmodel/journal.
	Journal bool `yaml:"journal"`

	// Actor is recorded on the active changeset and in the journal.
	Actor string `yaml:"actor"`

	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Default returns defaults for a model root.
func Default(modelRoot string) Config {
	return Config{
		ModelRoot: modelRoot,
		Journal:   true,
		Log:       LogConfig{Level: "warn"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load builds the configuration for modelRoot.
//
// # Outputs
//
//   - Config: Resolved settings with derived directories filled in.
//   - error: Parse errors of the config file or .env, or validation errors.
func Load(modelRoot string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	if env := os.Getenv(envPrefix + "MODEL"); env != "" && modelRoot == "" {
		modelRoot = env
	}
	if modelRoot == "" {
		modelRoot = "."
	}
	cfg := Default(modelRoot)

	path := filepath.Join(modelRoot, Dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg.ModelRoot = modelRoot
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.resolve()
	return cfg, cfg.Validate()
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// JournalPath is the badger directory of the journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.ModelRoot, Dir, "journal")
}

func (c *Config) resolve() {
	if c.ChangesetDir == "" {
		c.ChangesetDir = filepath.Join(c.ModelRoot, ".changesets")
	} else if !filepath.IsAbs(c.ChangesetDir) {
		c.ChangesetDir = filepath.Join(c.ModelRoot, c.ChangesetDir)
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.ModelRoot, ".backups")
	} else if !filepath.IsAbs(c.BackupDir) {
		c.BackupDir = filepath.Join(c.ModelRoot, c.BackupDir)
	}
}

// applyEnv overrides fields from ARCHMODEL_* variables.
func applyEnv(c *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}

	str("CHANGESET_DIR", &c.ChangesetDir)
	str("BACKUP_DIR", &c.BackupDir)
	str("ACTOR", &c.Actor)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_DIR", &c.Log.Dir)
	str("TRACE_EXPORTER", &c.Telemetry.TraceExporter)
	str("METRIC_EXPORTER", &c.Telemetry.MetricExporter)
	str("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("METRICS_FILE", &c.Telemetry.MetricsFile)

	if v, ok := os.LookupEnv(envPrefix + "MAX_BACKUPS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sMAX_BACKUPS: %w", envPrefix, err)
		}
		c.MaxBackups = n
	}
	if err := boolean("JOURNAL", &c.Journal); err != nil {
		return err
	}
	return boolean("LOG_JSON", &c.Log.JSON)
}
