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
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrInvalidManifest is returned when backup-manifest.json is missing,
	// unparseable, or lacks a files array.
	ErrInvalidManifest = errors.New("invalid backup manifest")

	// ErrIntegrity is returned by Restore when the backup fails validation.
	ErrIntegrity = errors.New("backup failed integrity validation")
)

// CleanupKind classifies a cleanup failure.
type CleanupKind string

const (
	CleanupNoSpace    CleanupKind = "no_space"
	CleanupPermission CleanupKind = "permission"
	CleanupIO         CleanupKind = "io"
)

// CleanupError reports a backup directory that could not be removed.
//
// Guidance is operator-facing remediation text. Backups that fail cleanup
// stay on disk and accumulate until removed by hand.
type CleanupError struct {
	Dir      string
	Kind     CleanupKind
	Guidance string
	Err      error
}

// Error implements the error interface.
func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleaning up backup %s: %v. %s", e.Dir, e.Err, e.Guidance)
}

// Unwrap returns the underlying error.
func (e *CleanupError) Unwrap() error {
	return e.Err
}

func newCleanupError(dir string, err error) *CleanupError {
	manual := fmt.Sprintf("Remove it manually with: rm -rf %q.", dir)
	accumulate := "Failed backups are not retried and will accumulate on disk until removed."

	switch {
	case errors.Is(err, syscall.ENOSPC):
		return &CleanupError{
			Dir:      dir,
			Kind:     CleanupNoSpace,
			Guidance: "The disk is full. Free space, then " + lowerFirst(manual) + " " + accumulate,
			Err:      err,
		}
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return &CleanupError{
			Dir:      dir,
			Kind:     CleanupPermission,
			Guidance: "Permission denied. Check ownership of the backup directory. " + manual + " " + accumulate,
			Err:      err,
		}
	default:
		return &CleanupError{
			Dir:      dir,
			Kind:     CleanupIO,
			Guidance: "Unexpected I/O error. " + manual + " " + accumulate,
			Err:      err,
		}
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]+('a'-'A')) + s[1:]
}
