// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot computes deterministic content hashes of a model and
// detects drift between a recorded base hash and the current model.
//
// Hashes have the form "sha256:<64 lowercase hex>". Identical model content
// always yields the same hash regardless of the in-memory order of layers,
// elements or property maps.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/AleutianAI/ArchModel/services/model"
)

// HashPrefix is the algorithm prefix on every snapshot hash.
const HashPrefix = "sha256:"

// ErrInvalidHash is returned by ParseHash for malformed hashes.
var ErrInvalidHash = errors.New("invalid snapshot hash")

var hashPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// DriftReport compares a base hash to the model's current hash.
type DriftReport struct {
	BaseSnapshotHash string `json:"baseSnapshotHash" yaml:"baseSnapshotHash"`
	CurrentModelHash string `json:"currentModelHash" yaml:"currentModelHash"`
	HasDrift         bool   `json:"hasDrift" yaml:"hasDrift"`
}

// Comparison is the result of comparing two hashes.
type Comparison struct {
	Identical bool `json:"identical"`

	// Difference is nil when identical. It describes which hashes differ;
	// it is not a structural diff of the models.
	Difference *string `json:"difference"`
}

// Manager captures and compares model snapshots.
type Manager struct {
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a snapshot manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "snapshot")
	return m
}

// Capture returns the content hash of m.
//
// # Outputs
//
//   - string: "sha256:<hex>".
//   - error: Non-nil only when a property value cannot be encoded.
func (s *Manager) Capture(m *model.Model) (string, error) {
	return Capture(m)
}

// DetectDrift captures m and compares it with base.
func (s *Manager) DetectDrift(base string, m *model.Model) (*DriftReport, error) {
	report, err := DetectDrift(base, m)
	if err != nil {
		return nil, err
	}
	if report.HasDrift {
		s.logger.Debug("model drift detected",
			slog.String("base", report.BaseSnapshotHash),
			slog.String("current", report.CurrentModelHash),
		)
	}
	return report, nil
}

// Compare compares two hashes by string equality.
func (s *Manager) Compare(h1, h2 string) Comparison {
	return Compare(h1, h2)
}

// Capture returns the content hash of m.
func Capture(m *model.Model) (string, error) {
	data, err := canonicalBytes(m)
	if err != nil {
		return "", fmt.Errorf("canonicalizing model: %w", err)
	}
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}

// DetectDrift captures m and compares it with base. It has no side effects.
func DetectDrift(base string, m *model.Model) (*DriftReport, error) {
	current, err := Capture(m)
	if err != nil {
		return nil, err
	}
	return &DriftReport{
		BaseSnapshotHash: base,
		CurrentModelHash: current,
		HasDrift:         base != current,
	}, nil
}

// Compare compares two hashes by string equality.
func Compare(h1, h2 string) Comparison {
	if h1 == h2 {
		return Comparison{Identical: true}
	}
	diff := fmt.Sprintf("snapshot %s differs from %s", short(h1), short(h2))
	return Comparison{Identical: false, Difference: &diff}
}

// ParseHash validates the hash format.
func ParseHash(h string) (string, error) {
	if !hashPattern.MatchString(h) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, h)
	}
	return h, nil
}

func short(h string) string {
	const n = len(HashPrefix) + 12
	if len(h) > n {
		return h[:n]
	}
	return h
}
