// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package changeset defines the staged changeset entity and its file store.
//
// A changeset is an ordered list of add/update/delete changes proposed
// against a base model. Sequence numbers are always dense and zero-based,
// and Stats is always a fold over the current changes.
//
// # Lifecycle
//
// The canonical status vocabulary is draft, staged, committed and discarded.
// The legacy values "applied" and "reverted" are accepted on input and
// normalized to committed and discarded. The entity itself never checks
// transitions; the staging manager enforces them.
package changeset

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/ArchModel/services/model"
)

// Status is a changeset lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusStaged    Status = "staged"
	StatusCommitted Status = "committed"
	StatusDiscarded Status = "discarded"

	// Legacy aliases accepted by ParseStatus.
	legacyApplied  = "applied"
	legacyReverted = "reverted"
)

// ErrUnknownStatus is returned by ParseStatus for unrecognized values.
var ErrUnknownStatus = errors.New("unknown changeset status")

// ParseStatus maps canonical and legacy status strings to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusDraft), string(StatusStaged), string(StatusCommitted), string(StatusDiscarded):
		return Status(s), nil
	case legacyApplied:
		return StatusCommitted, nil
	case legacyReverted:
		return StatusDiscarded, nil
	case "":
		return StatusDraft, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// IsTerminal reports whether no further staging is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCommitted || s == StatusDiscarded
}

// ChangeType is the kind of mutation a change performs.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ErrInvalidChange is returned by Change.Validate.
var ErrInvalidChange = errors.New("invalid change")

// Change is one proposed mutation of a layer.
type Change struct {
	Type           ChangeType     `json:"type" yaml:"type"`
	ElementID      string         `json:"elementId" yaml:"elementId"`
	LayerName      string         `json:"layerName" yaml:"layerName"`
	Before         *model.Element `json:"before,omitempty" yaml:"before,omitempty"`
	After          *model.Element `json:"after,omitempty" yaml:"after,omitempty"`
	Timestamp      time.Time      `json:"timestamp" yaml:"timestamp"`
	SequenceNumber int            `json:"sequenceNumber" yaml:"sequenceNumber"`
}

// Validate checks that the change carries the snapshots its type needs:
// Before for update and delete, After for add and update.
func (c *Change) Validate() error {
	if c.ElementID == "" {
		return fmt.Errorf("%w: element id is required", ErrInvalidChange)
	}
	if c.LayerName == "" {
		return fmt.Errorf("%w: layer name is required for %s", ErrInvalidChange, c.ElementID)
	}
	switch c.Type {
	case ChangeAdd:
		if c.After == nil {
			return fmt.Errorf("%w: add %s requires after", ErrInvalidChange, c.ElementID)
		}
	case ChangeUpdate:
		if c.Before == nil || c.After == nil {
			return fmt.Errorf("%w: update %s requires before and after", ErrInvalidChange, c.ElementID)
		}
	case ChangeDelete:
		if c.Before == nil {
			return fmt.Errorf("%w: delete %s requires before", ErrInvalidChange, c.ElementID)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidChange, c.Type)
	}
	if c.After != nil && c.After.ID != "" && c.After.ID != c.ElementID {
		return fmt.Errorf("%w: after.id %s does not match %s", ErrInvalidChange, c.After.ID, c.ElementID)
	}
	return nil
}

// Clone returns a deep copy of the change.
func (c Change) Clone() Change {
	c.Before = c.Before.Clone()
	c.After = c.After.Clone()
	return c
}

// Stats summarizes a changeset's changes by type.
type Stats struct {
	Additions     int `json:"additions" yaml:"additions"`
	Modifications int `json:"modifications" yaml:"modifications"`
	Deletions     int `json:"deletions" yaml:"deletions"`
}

// Total returns the number of changes counted.
func (s Stats) Total() int {
	return s.Additions + s.Modifications + s.Deletions
}

func foldStats(changes []Change) Stats {
	var s Stats
	for _, c := range changes {
		switch c.Type {
		case ChangeAdd:
			s.Additions++
		case ChangeUpdate:
			s.Modifications++
		case ChangeDelete:
			s.Deletions++
		}
	}
	return s
}
