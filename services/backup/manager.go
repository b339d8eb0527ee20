// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup copies a model directory tree before destructive operations
// and verifies those copies against a checksum manifest.
//
// A backup is a directory <root>/<timestamp>-<id>/ holding a full copy of
// the model tree plus backup-manifest.json. Backups are never modified after
// creation and are kept until removed by Cleanup or Prune.
//
// # Thread Safety
//
// Manager is safe for concurrent use. ValidateIntegrity is read-only and
// may run concurrently against the same backup.
package backup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	// ManifestFile is the manifest name inside every backup directory.
	ManifestFile = "backup-manifest.json"

	// AlgorithmBLAKE3 is the default checksum algorithm.
	AlgorithmBLAKE3 = "blake3"

	// AlgorithmSHA256 is accepted when validating older manifests.
	AlgorithmSHA256 = "sha256"
)

// FileEntry records one backed-up file.
type FileEntry struct {
	// Path is relative to the backup directory, slash separated.
	Path string `json:"path"`

	// Checksum is the lowercase hex digest of the file content.
	Checksum string `json:"checksum"`

	// Size is the byte length.
	Size int64 `json:"size"`
}

// Manifest is the content of backup-manifest.json.
type Manifest struct {
	Files     []FileEntry `json:"files"`
	Algorithm string      `json:"algorithm,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	Source    string      `json:"source,omitempty"`
}

// Info describes a stored backup.
type Info struct {
	Dir       string    `json:"dir"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	Files     int       `json:"files"`
	Size      int64     `json:"size"`
}

// Config configures a Manager.
type Config struct {
	// Root is the directory holding every backup.
	Root string

	// TimeFormat is the directory timestamp layout.
	// Default: "20060102-150405.000"
	TimeFormat string

	// MaxBackups prunes the oldest backups after each successful backup.
	// Zero keeps everything.
	MaxBackups int

	// Exclude lists directory base names never copied.
	// Default: [".backups", ".changesets", ".archmodel", ".git"]
	Exclude []string
}

// DefaultConfig returns defaults for a backup root.
func DefaultConfig(root string) Config {
	return Config{
		Root:       root,
		TimeFormat: "20060102-150405.000",
		Exclude:    []string{".backups", ".changesets", ".archmodel", ".git"},
	}
}

// Manager creates, validates, restores and removes backups.
type Manager struct {
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a backup manager.
func NewManager(config Config, opts ...ManagerOption) *Manager {
	defaults := DefaultConfig(config.Root)
	if config.TimeFormat == "" {
		config.TimeFormat = defaults.TimeFormat
	}
	if config.Exclude == nil {
		config.Exclude = defaults.Exclude
	}
	m := &Manager{
		config: config,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "backup")
	return m
}

// Root returns the backup root.
func (m *Manager) Root() string {
	return m.config.Root
}

// Backup copies modelRoot into a new backup directory.
//
// # Description
//
// Walks modelRoot, skipping excluded directories and the backup root
// itself, copies every regular file while hashing it, then writes the
// manifest. A partially written backup is removed before returning the
// error; a cleanup failure is logged and never replaces that error.
//
// # Outputs
//
//   - string: The backup directory.
//   - error: Non-nil if any file could not be copied.
func (m *Manager) Backup(ctx context.Context, modelRoot string) (string, error) {
	created := m.now()
	name := created.Format(m.config.TimeFormat) + "-" + uuid.NewString()[:8]
	dir := filepath.Join(m.config.Root, name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}

	manifest, err := m.copyTree(ctx, modelRoot, dir)
	if err == nil {
		manifest.CreatedAt = created
		manifest.Source = modelRoot
		err = writeManifest(dir, manifest)
	}
	if err != nil {
		if cerr := m.Cleanup(dir); cerr != nil {
			m.logger.Error("partial backup left on disk", slog.String("dir", dir), slog.String("error", cerr.Error()))
		}
		return "", fmt.Errorf("backing up %s: %w", modelRoot, err)
	}

	m.logger.Info("backup created",
		slog.String("dir", dir),
		slog.Int("files", len(manifest.Files)),
	)

	if m.config.MaxBackups > 0 {
		if _, err := m.Prune(m.config.MaxBackups); err != nil {
			m.logger.Warn("backup rotation failed", slog.String("error", err.Error()))
		}
	}
	return dir, nil
}

func (m *Manager) copyTree(ctx context.Context, src, dst string) (*Manifest, error) {
	manifest := &Manifest{Algorithm: AlgorithmBLAKE3, Files: []FileEntry{}}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if m.skipDir(path, d.Name(), dst) {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !d.Type().IsRegular() || rel == ManifestFile {
			return nil
		}

		entry, err := copyFile(path, filepath.Join(dst, rel))
		if err != nil {
			return err
		}
		entry.Path = filepath.ToSlash(rel)
		manifest.Files = append(manifest.Files, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// skipDir reports whether a walk of a model tree must not descend into
// path: an excluded name, the backup root, or one of the given directories.
func (m *Manager) skipDir(path, name string, also ...string) bool {
	if m.excluded(name) {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range append([]string{m.config.Root}, also...) {
		if d, err := filepath.Abs(dir); err == nil && d == abs {
			return true
		}
	}
	return false
}

func (m *Manager) excluded(name string) bool {
	for _, ex := range m.config.Exclude {
		if name == ex {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) (FileEntry, error) {
	in, err := os.Open(src)
	if err != nil {
		return FileEntry{}, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return FileEntry{}, err
	}

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return FileEntry{}, fmt.Errorf("copying %s: %w", src, err)
	}
	return FileEntry{Checksum: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

func writeManifest(dir string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}

// ReadManifest parses a backup's manifest.
//
// A missing file, malformed JSON, or a missing or non-array files field is
// an ErrInvalidManifest error rather than a soft validation failure.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	raw, ok := fields["files"]
	if !ok || len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: %s: files must be an array", ErrInvalidManifest, path)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	if manifest.Algorithm == "" {
		manifest.Algorithm = AlgorithmBLAKE3
	}
	return &manifest, nil
}

// List returns every backup under the root, newest first. Directories
// without a readable manifest are skipped.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.config.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.config.Root, e.Name())
		manifest, err := ReadManifest(dir)
		if err != nil {
			m.logger.Debug("skipping backup without manifest", slog.String("dir", dir))
			continue
		}
		info := Info{Dir: dir, Source: manifest.Source, CreatedAt: manifest.CreatedAt, Files: len(manifest.Files)}
		for _, f := range manifest.Files {
			info.Size += f.Size
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Dir > out[j].Dir
	})
	return out, nil
}

// Prune removes all but the newest keep backups and returns how many were
// removed.
func (m *Manager) Prune(keep int) (int, error) {
	backups, err := m.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for i := keep; i < len(backups); i++ {
		if err := m.Cleanup(backups[i].Dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Cleanup removes a backup directory.
//
// A directory that does not exist is not an error. Every other failure is
// logged at error level and returned as a *CleanupError with remediation
// guidance.
func (m *Manager) Cleanup(dir string) error {
	err := os.RemoveAll(dir)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	cerr := newCleanupError(dir, err)
	m.logger.Error("backup cleanup failed",
		slog.String("dir", dir),
		slog.String("kind", string(cerr.Kind)),
		slog.String("error", err.Error()),
		slog.String("guidance", cerr.Guidance),
	)
	return cerr
}

// Restore validates a backup and copies it over target.
//
// # Description
//
// Files under target that are not in the backup are removed (excluded
// directories are left alone), then every backed-up file is copied back.
// An invalid backup is refused with ErrIntegrity and target is not touched.
func (m *Manager) Restore(ctx context.Context, dir, target string) error {
	result, err := m.ValidateIntegrity(ctx, dir)
	if err != nil {
		return err
	}
	if !result.IsValid {
		return fmt.Errorf("%w: %s: %s", ErrIntegrity, dir, strings.Join(result.Errors, "; "))
	}
	manifest, err := ReadManifest(dir)
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(manifest.Files))
	for _, f := range manifest.Files {
		keep[f.Path] = true
	}
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != target && m.skipDir(path, d.Name(), dir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			return err
		}
		if !keep[filepath.ToSlash(rel)] {
			return os.Remove(path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing restore target: %w", err)
	}

	for _, f := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(target, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("restoring %s: %w", f.Path, err)
		}
		if _, err := copyFile(filepath.Join(dir, filepath.FromSlash(f.Path)), dst); err != nil {
			return fmt.Errorf("restoring %s: %w", f.Path, err)
		}
	}
	m.logger.Info("backup restored", slog.String("dir", dir), slog.String("target", target))
	return nil
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmBLAKE3, "":
		return blake3.New(), nil
	case AlgorithmSHA256:
		return newSHA256(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidManifest, algorithm)
	}
}
