// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ArchModel/pkg/fsutil"
)

// File names inside the store.
const (
	MetadataFile = "metadata.yaml"
	ChangesFile  = "changes.yaml"
	ActiveFile   = "active.yaml"

	defaultCacheSize = 64
)

// ActiveRecord is the persisted pointer to the active changeset.
//
// It is a pointer, not a lock: two processes can race to update it.
type ActiveRecord struct {
	ID        string    `yaml:"id" json:"id"`
	SessionID string    `yaml:"sessionId,omitempty" json:"sessionId,omitempty"`
	Actor     string    `yaml:"actor,omitempty" json:"actor,omitempty"`
	SetAt     time.Time `yaml:"setAt" json:"setAt"`
}

// Store persists changesets as one directory per changeset:
//
//	<dir>/<id>/metadata.yaml
//	<dir>/<id>/changes.yaml
//	<dir>/active.yaml
//
// # Thread Safety
//
// Safe for concurrent use within one process. Loaded changesets are cached;
// callers always receive clones.
type Store struct {
	dir    string
	logger *slog.Logger
	cache  *lru.Cache[string, *Changeset]
	mu     sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	cache, err := lru.New[string, *Changeset](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating changeset cache: %w", err)
	}
	s := &Store{dir: dir, logger: slog.Default(), cache: cache}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "changeset_store")
	return s, nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// Create persists a new draft changeset. id is sanitized first.
func (s *Store) Create(id, name, description, baseSnapshot string) (*Changeset, error) {
	clean, err := SanitizeID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.existsLocked(clean) {
		return nil, fmt.Errorf("%w: %s", ErrExists, clean)
	}
	cs := New(clean, name, description, baseSnapshot)
	if err := s.writeLocked(cs); err != nil {
		return nil, err
	}
	s.logger.Info("changeset created", slog.String("id", clean), slog.String("name", name))
	return cs.Clone(), nil
}

// Load resolves idOrName as an exact id, then an exact name, then the
// sanitized form of idOrName as an id.
func (s *Store) Load(idOrName string) (*Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clean, cleanErr := SanitizeID(idOrName)
	if cleanErr == nil && clean == idOrName {
		if cs, err := s.loadLocked(clean); err == nil {
			return cs.Clone(), nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	ids, err := s.idsLocked()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		cs, err := s.loadLocked(id)
		if err != nil {
			return nil, err
		}
		if cs.Name == idOrName {
			return cs.Clone(), nil
		}
	}

	if cleanErr == nil && clean != idOrName {
		if cs, err := s.loadLocked(clean); err == nil {
			return cs.Clone(), nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrName)
}

// Save writes cs, creating it if necessary.
func (s *Store) Save(cs *Changeset) error {
	if _, err := SanitizeID(cs.ID); err != nil {
		return fmt.Errorf("%w: %q", err, cs.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(cs)
}

// Exists reports whether id is stored.
func (s *Store) Exists(id string) bool {
	clean, err := SanitizeID(id)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(clean)
}

// List returns every changeset ordered by creation time, then id.
func (s *Store) List() ([]*Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.idsLocked()
	if err != nil {
		return nil, err
	}
	out := make([]*Changeset, 0, len(ids))
	for _, id := range ids {
		cs, err := s.loadLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, cs.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes a changeset. If it was active, the active record is cleared.
func (s *Store) Delete(id string) error {
	clean, err := SanitizeID(id)
	if err != nil {
		return fmt.Errorf("%w: %q", err, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.existsLocked(clean) {
		return fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if err := os.RemoveAll(filepath.Join(s.dir, clean)); err != nil {
		return fmt.Errorf("deleting changeset %s: %w", clean, err)
	}
	s.cache.Remove(clean)

	active, err := s.activeLocked()
	if err != nil {
		return err
	}
	if active != nil && active.ID == clean {
		if err := s.clearActiveLocked(); err != nil {
			return err
		}
	}
	s.logger.Info("changeset deleted", slog.String("id", clean))
	return nil
}

// SetActive records id as the active changeset.
func (s *Store) SetActive(rec ActiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.existsLocked(rec.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	if rec.SetAt.IsZero() {
		rec.SetAt = now()
	}
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encoding active record: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(s.dir, ActiveFile), data)
}

// Active returns the active record, or nil when none is set.
func (s *Store) Active() (*ActiveRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// ClearActive removes the active record. Clearing when none is set is a no-op.
func (s *Store) ClearActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearActiveLocked()
}

func (s *Store) activeLocked() (*ActiveRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ActiveFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading active record: %w", err)
	}
	var rec ActiveRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Join(s.dir, ActiveFile), err)
	}
	if rec.ID == "" {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) clearActiveLocked() error {
	err := os.Remove(filepath.Join(s.dir, ActiveFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing active record: %w", err)
	}
	return nil
}

func (s *Store) existsLocked(id string) bool {
	_, err := os.Stat(filepath.Join(s.dir, id, MetadataFile))
	return err == nil
}

func (s *Store) idsLocked() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing changesets: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && s.existsLocked(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) loadLocked(id string) (*Changeset, error) {
	if cs, ok := s.cache.Get(id); ok {
		return cs, nil
	}

	dir := filepath.Join(s.dir, id)
	metaPath := filepath.Join(dir, MetadataFile)
	metaData, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", metaPath, err)
	}

	var d document
	if err := yaml.Unmarshal(metaData, &d.Metadata); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", metaPath, err)
	}

	changesPath := filepath.Join(dir, ChangesFile)
	changesData, err := os.ReadFile(changesPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", changesPath, err)
	default:
		if err := yaml.Unmarshal(changesData, &d.Changes); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", changesPath, err)
		}
	}

	cs, err := fromDocument(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", metaPath, err)
	}
	s.cache.Add(id, cs)
	return cs, nil
}

func (s *Store) writeLocked(cs *Changeset) error {
	dir := filepath.Join(s.dir, cs.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating changeset dir: %w", err)
	}

	d := cs.document()
	metaData, err := yaml.Marshal(&d.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	changesData, err := yaml.Marshal(d.Changes)
	if err != nil {
		return fmt.Errorf("encoding changes: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, ChangesFile), changesData); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, MetadataFile), metaData); err != nil {
		return err
	}
	s.cache.Add(cs.ID, cs.Clone())
	return nil
}
