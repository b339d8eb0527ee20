// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exporter

import (
	"fmt"

	"github.com/AleutianAI/ArchModel/services/changeset"
	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/snapshot"
)

// Compatibility reports whether a changeset can still be applied to a model.
//
// Drift alone does not make a changeset incompatible. Only update and
// delete changes whose element is gone, or adds whose id is already taken,
// do.
type Compatibility struct {
	Compatible        bool     `json:"compatible" yaml:"compatible"`
	BaseSnapshotMatch bool     `json:"baseSnapshotMatch" yaml:"baseSnapshotMatch"`
	CurrentSnapshot   string   `json:"currentSnapshot" yaml:"currentSnapshot"`
	MissingElements   []string `json:"missingElements" yaml:"missingElements"`
	ConflictingAdds   []string `json:"conflictingAdds" yaml:"conflictingAdds"`
}

// ValidateCompatibility checks cs against the current model m.
//
// Changes are replayed in sequence order against the set of element ids, so
// an update of an element added earlier in the same changeset is not
// reported missing.
func ValidateCompatibility(cs *changeset.Changeset, m *model.Model) (*Compatibility, error) {
	current, err := snapshot.Capture(m)
	if err != nil {
		return nil, fmt.Errorf("capturing current snapshot: %w", err)
	}

	result := &Compatibility{
		BaseSnapshotMatch: snapshot.Compare(cs.BaseSnapshot, current).Identical,
		CurrentSnapshot:   current,
		MissingElements:   []string{},
		ConflictingAdds:   []string{},
	}

	ids := m.ElementIDs()
	missing := make(map[string]bool)
	for _, c := range cs.Changes {
		_, exists := ids[c.ElementID]
		switch c.Type {
		case changeset.ChangeAdd:
			if exists {
				result.ConflictingAdds = append(result.ConflictingAdds, c.ElementID)
			}
			ids[c.ElementID] = struct{}{}
		case changeset.ChangeUpdate:
			if !exists && !missing[c.ElementID] {
				missing[c.ElementID] = true
				result.MissingElements = append(result.MissingElements, c.ElementID)
			}
		case changeset.ChangeDelete:
			if !exists && !missing[c.ElementID] {
				missing[c.ElementID] = true
				result.MissingElements = append(result.MissingElements, c.ElementID)
			}
			delete(ids, c.ElementID)
		}
	}
	result.Compatible = len(result.MissingElements) == 0 && len(result.ConflictingAdds) == 0
	return result, nil
}
