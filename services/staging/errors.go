// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package staging

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/ArchModel/services/changeset"
)

var (
	// ErrNotFound is returned when a changeset does not exist.
	ErrNotFound = changeset.ErrNotFound

	// ErrChangeNotFound is returned by Unstage when no change targets the
	// element.
	ErrChangeNotFound = errors.New("no staged change for element")

	// ErrNoSession is returned when a nil session is passed.
	ErrNoSession = errors.New("session is required")

	// ErrCommitAborted is returned in AllOrNothing mode when a change fails.
	ErrCommitAborted = errors.New("commit aborted")

	// ErrBackupInvalid is returned when the pre-commit backup fails its
	// integrity check. Nothing is written in that case.
	ErrBackupInvalid = errors.New("pre-operation backup failed integrity check")

	// ErrElementExists is returned when an add targets an existing id.
	ErrElementExists = errors.New("element already exists")
)

// StatusError reports an operation the changeset's status does not permit.
type StatusError struct {
	ID     string
	Op     string
	Status changeset.Status
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s changeset %s: status is %s", e.Op, e.ID, e.Status)
}
