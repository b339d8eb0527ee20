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
	"strings"
)

var (
	// ErrNotFound is returned when no changeset matches an id or name.
	ErrNotFound = errors.New("changeset not found")

	// ErrExists is returned by Create when the id is already used.
	ErrExists = errors.New("changeset already exists")

	// ErrInvalidID is returned when an id sanitizes to the empty string.
	ErrInvalidID = errors.New("invalid changeset id")
)

// SanitizeID lowercases s and strips every character outside [a-z0-9-].
// Whitespace and underscores become hyphens first so "My Change_1" maps to
// "my-change-1".
func SanitizeID(s string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '\t':
			b.WriteRune('-')
		}
	}
	id := b.String()
	if id == "" {
		return "", ErrInvalidID
	}
	return id, nil
}
