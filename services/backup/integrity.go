// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// maxParallelChecks bounds concurrent file verification.
const maxParallelChecks = 8

// IntegrityResult aggregates every discrepancy found in one pass.
type IntegrityResult struct {
	IsValid      bool     `json:"isValid"`
	FilesChecked int      `json:"filesChecked"`
	Errors       []string `json:"errors"`
}

// ValidateIntegrity checks every manifest entry of the backup in dir.
//
// # Description
//
// For each entry: its layer directory must exist ("Missing layer
// directory"), the file must exist ("Missing file"), its size must match
// ("Size mismatch") and its digest must match ("Checksum mismatch"). All
// discrepancies are collected; none stops the pass. A backup listing no
// files is invalid.
//
// Entries are verified in parallel but reported in manifest order, so
// repeated runs produce identical results. Nothing in dir is modified.
//
// # Outputs
//
//   - *IntegrityResult: Aggregated outcome.
//   - error: ErrInvalidManifest for manifest problems, or ctx errors.
func (m *Manager) ValidateIntegrity(ctx context.Context, dir string) (*IntegrityResult, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if _, err := newHasher(manifest.Algorithm); err != nil {
		return nil, err
	}

	result := &IntegrityResult{FilesChecked: len(manifest.Files), Errors: []string{}}
	if len(manifest.Files) == 0 {
		result.Errors = append(result.Errors, "Backup contains no files")
		return result, nil
	}

	perFile := make([][]string, len(manifest.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)
	for i, entry := range manifest.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perFile[i] = checkEntry(dir, manifest.Algorithm, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, errs := range perFile {
		for _, e := range errs {
			if seen[e] {
				continue
			}
			seen[e] = true
			result.Errors = append(result.Errors, e)
		}
	}
	result.IsValid = len(result.Errors) == 0
	return result, nil
}

func checkEntry(dir, algorithm string, entry FileEntry) []string {
	clean := path.Clean(entry.Path)
	if entry.Path == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return []string{fmt.Sprintf("Invalid path in manifest: %q", entry.Path)}
	}

	if layer := path.Dir(clean); layer != "." {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(layer)))
		if err != nil || !info.IsDir() {
			return []string{fmt.Sprintf("Missing layer directory: %s", layer)}
		}
	}

	full := filepath.Join(dir, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return []string{fmt.Sprintf("Missing file: %s", clean)}
	}

	var errs []string
	if info.Size() != entry.Size {
		errs = append(errs, fmt.Sprintf("Size mismatch: %s (expected %d bytes, found %d)", clean, entry.Size, info.Size()))
	}

	sum, err := fileDigest(full, algorithm)
	if err != nil {
		return append(errs, fmt.Sprintf("Unreadable file: %s: %v", clean, err))
	}
	if !strings.EqualFold(sum, entry.Checksum) {
		errs = append(errs, fmt.Sprintf("Checksum mismatch: %s (expected %s, got %s)", clean, entry.Checksum, sum))
	}
	return errs
}

func fileDigest(path, algorithm string) (string, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func newSHA256() hash.Hash {
	return sha256.New()
}
