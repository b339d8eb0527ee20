// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package migration registers point-to-point schema migrations and resolves
// and applies the path between two schema versions.
//
// Versions are plain semantic versions ("0.6.0"); comparisons use
// golang.org/x/mod/semver. Downgrades are never resolved.
package migration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/ArchModel/services/model"
)

// TransformFunc mutates a model in place and returns how many changes it made.
type TransformFunc func(m *model.Model) (int, error)

// Migration moves a model from one schema version to the next. Its identity
// is the (From, To) pair.
type Migration struct {
	From        string
	To          string
	Description string
	Transform   TransformFunc
}

// Info is the serializable description of a migration.
type Info struct {
	From        string `json:"fromVersion" yaml:"fromVersion"`
	To          string `json:"toVersion" yaml:"toVersion"`
	Description string `json:"description" yaml:"description"`
}

// Info returns the migration's description without its transform.
func (m Migration) Info() Info {
	return Info{From: m.From, To: m.To, Description: m.Description}
}

// Errors returned by Register.
var (
	ErrInvalidVersion     = errors.New("invalid schema version")
	ErrDuplicateMigration = errors.New("migration already registered")
	ErrNotForward         = errors.New("migration must move to a newer version")
)

// Registry holds registered migrations.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byFrom map[string][]Migration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byFrom: make(map[string][]Migration)}
}

// Register adds a migration.
func (r *Registry) Register(m Migration) error {
	from, ok := canonical(m.From)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.From)
	}
	to, ok := canonical(m.To)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.To)
	}
	if semver.Compare(from, to) >= 0 {
		return fmt.Errorf("%w: %s -> %s", ErrNotForward, m.From, m.To)
	}
	if m.Transform == nil {
		return fmt.Errorf("migration %s -> %s has no transform", m.From, m.To)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byFrom[from] {
		if existing.To == trim(to) {
			return fmt.Errorf("%w: %s -> %s", ErrDuplicateMigration, m.From, m.To)
		}
	}
	m.From, m.To = trim(from), trim(to)
	r.byFrom[from] = append(r.byFrom[from], m)
	return nil
}

// MustRegister is Register that panics on error. For static registration.
func (r *Registry) MustRegister(m Migration) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// All returns every migration ordered by From, then To.
func (r *Registry) All() []Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Migration
	for _, ms := range r.byFrom {
		out = append(out, ms...)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := semver.Compare("v"+out[i].From, "v"+out[j].From); c != 0 {
			return c < 0
		}
		return semver.Compare("v"+out[i].To, "v"+out[j].To) < 0
	})
	return out
}

// Latest returns the highest target version, or "" when empty.
func (r *Registry) Latest() string {
	latest := ""
	for _, m := range r.All() {
		if latest == "" || semver.Compare("v"+m.To, "v"+latest) > 0 {
			latest = m.To
		}
	}
	return latest
}

// canonical returns the "v"-prefixed canonical form semver compares, so
// "0.5", "v0.5" and "0.5.0" share one key.
func canonical(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

func trim(v string) string {
	return strings.TrimPrefix(v, "v")
}
