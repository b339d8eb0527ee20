// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exporter moves changesets in and out of the local staging area.
//
// YAML and JSON exports round-trip every field. The patch format is a
// human-readable header plus unified diffs; importing it recovers only the
// header metadata (name, description, base snapshot) and yields a changeset
// with no changes.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ArchModel/services/changeset"
)

// Format is a serialization format.
type Format string

const (
	// FormatAuto detects the format on import.
	FormatAuto  Format = ""
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatPatch Format = "patch"
)

var (
	// ErrUnknownFormat is returned for an unsupported format name.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrInvalidContent is returned when content cannot be parsed in any
	// supported format.
	ErrInvalidContent = errors.New("invalid changeset content")
)

// ParseFormat parses a format name. "yml" is accepted for YAML and "diff"
// for patch; empty means auto-detect.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "patch", "diff":
		return FormatPatch, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatForPath infers a format from a file extension, or FormatAuto.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".patch", ".diff":
		return FormatPatch
	default:
		return FormatAuto
	}
}

// Exporter reads changesets from a store for export.
//
// # Thread Safety
//
// Safe for concurrent use.
type Exporter struct {
	store  *changeset.Store
	logger *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger.With("component", "exporter")
		}
	}
}

// New creates an Exporter over store.
func New(store *changeset.Store, opts ...Option) *Exporter {
	e := &Exporter{
		store:  store,
		logger: slog.Default().With("component", "exporter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export renders the changeset id in format. FormatAuto exports YAML.
func (e *Exporter) Export(_ context.Context, id string, format Format) (string, error) {
	cs, err := e.store.Load(id)
	if err != nil {
		return "", err
	}
	return Encode(cs, format)
}

// Encode renders cs in format. FormatAuto encodes YAML.
func Encode(cs *changeset.Changeset, format Format) (string, error) {
	switch format {
	case FormatAuto, FormatYAML:
		data, err := yaml.Marshal(cs)
		if err != nil {
			return "", fmt.Errorf("encoding yaml: %w", err)
		}
		return string(data), nil
	case FormatJSON:
		data, err := json.MarshalIndent(cs, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding json: %w", err)
		}
		return string(data) + "\n", nil
	case FormatPatch:
		return renderPatch(cs)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Import decodes content. With FormatAuto the content is tried as JSON,
// then YAML, then patch.
//
// # Limitations
//
//   - Patch content yields header metadata only: Changes is empty and
//     stats are zero.
func (e *Exporter) Import(_ context.Context, content string, format Format) (*changeset.Changeset, error) {
	cs, detected, err := Decode(content, format)
	if err != nil {
		return nil, err
	}
	if detected == FormatPatch {
		e.logger.Warn("patch import recovers metadata only; changes are not restored",
			slog.String("name", cs.Name))
	}
	return cs, nil
}

// Decode parses content and reports the format used.
func Decode(content string, format Format) (*changeset.Changeset, Format, error) {
	switch format {
	case FormatJSON:
		cs, err := decodeJSON(content)
		return cs, FormatJSON, err
	case FormatYAML:
		cs, err := decodeYAML(content)
		return cs, FormatYAML, err
	case FormatPatch:
		cs, err := parsePatch(content)
		return cs, FormatPatch, err
	case FormatAuto:
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, "", fmt.Errorf("%w: empty content", ErrInvalidContent)
	}
	if strings.HasPrefix(trimmed, "{") {
		if cs, err := decodeJSON(trimmed); err == nil {
			return cs, FormatJSON, nil
		}
	}
	if !looksLikePatch(trimmed) {
		if cs, err := decodeYAML(content); err == nil {
			return cs, FormatYAML, nil
		}
	}
	cs, err := parsePatch(content)
	if err != nil {
		return nil, "", err
	}
	return cs, FormatPatch, nil
}

func decodeJSON(content string) (*changeset.Changeset, error) {
	var cs changeset.Changeset
	if err := json.Unmarshal([]byte(content), &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if cs.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidContent)
	}
	return &cs, nil
}

func decodeYAML(content string) (*changeset.Changeset, error) {
	var cs changeset.Changeset
	if err := yaml.Unmarshal([]byte(content), &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if cs.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidContent)
	}
	return &cs, nil
}

// ExportToFile writes the export of id to path. FormatAuto picks the format
// from the file extension, defaulting to YAML.
func (e *Exporter) ExportToFile(ctx context.Context, id string, format Format, path string) error {
	if format == FormatAuto {
		format = FormatForPath(path)
	}
	content, err := e.Export(ctx, id, format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	e.logger.Info("changeset exported",
		slog.String("id", id),
		slog.String("format", string(format)),
		slog.String("path", path),
	)
	return nil
}

// ImportFromFile reads and decodes path. FormatAuto tries the extension's
// format first, then content detection.
func (e *Exporter) ImportFromFile(ctx context.Context, path string, format Format) (*changeset.Changeset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if format == FormatAuto {
		format = FormatForPath(path)
	}
	return e.Import(ctx, string(data), format)
}
