// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model provides the in-memory architecture documentation model.
//
// A Model is a manifest plus a set of named layers. Each layer owns an
// ordered collection of elements keyed by id. Models are loaded from and
// saved to a directory tree:
//
//	<root>/manifest.yaml
//	<root>/<layer>/elements.yaml   (or elements.json)
//
// # Thread Safety
//
// Models are NOT safe for concurrent mutation. A Model is owned by a single
// caller for the duration of an operation; use Clone() to hand a copy to
// another goroutine.
package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for model operations.
var (
	// ErrElementNotFound is returned when an element id is not present.
	ErrElementNotFound = errors.New("element not found")

	// ErrDuplicateElement is returned when adding an element whose id is
	// already used anywhere in the model.
	ErrDuplicateElement = errors.New("duplicate element id")

	// ErrLayerNotFound is returned when a named layer does not exist.
	ErrLayerNotFound = errors.New("layer not found")

	// ErrInvalidElement is returned when an element is missing its id.
	ErrInvalidElement = errors.New("invalid element")
)

// ParseError reports a manifest or layer file that could not be decoded.
//
// Parse errors are structural and not recoverable locally; the offending
// path is always included so the caller can surface it.
type ParseError struct {
	// Path is the file that failed to parse.
	Path string

	// Err is the underlying decode error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ParseError) Unwrap() error {
	return e.Err
}
