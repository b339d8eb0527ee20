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
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ArchModel/services/model"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// Changeset is a durable, ordered set of proposed changes.
type Changeset struct {
	ID           string
	Name         string
	Description  string
	Status       Status
	BaseSnapshot string
	Created      time.Time
	Modified     time.Time
	Changes      []Change
}

// New creates a draft changeset.
func New(id, name, description, baseSnapshot string) *Changeset {
	t := now()
	return &Changeset{
		ID:           id,
		Name:         name,
		Description:  description,
		Status:       StatusDraft,
		BaseSnapshot: baseSnapshot,
		Created:      t,
		Modified:     t,
		Changes:      []Change{},
	}
}

// Stats folds the current changes. It is never stored independently.
func (cs *Changeset) Stats() Stats {
	return foldStats(cs.Changes)
}

// AddChange appends a change built from its parts.
func (cs *Changeset) AddChange(typ ChangeType, elementID, layerName string, before, after *model.Element) Change {
	return cs.Append(Change{
		Type:      typ,
		ElementID: elementID,
		LayerName: layerName,
		Before:    before,
		After:     after,
	})
}

// Append adds c with the next sequence number and returns the stored copy.
// A zero Timestamp is set to now.
func (cs *Changeset) Append(c Change) Change {
	c.SequenceNumber = len(cs.Changes)
	if c.Timestamp.IsZero() {
		c.Timestamp = now()
	}
	cs.Changes = append(cs.Changes, c)
	cs.Modified = now()
	return c
}

// RemoveChange removes every change targeting elementID and renumbers the
// remaining changes densely from zero. It returns the number removed.
func (cs *Changeset) RemoveChange(elementID string) int {
	kept := cs.Changes[:0]
	removed := 0
	for _, c := range cs.Changes {
		if c.ElementID == elementID {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	cs.Changes = kept
	if removed > 0 {
		cs.renumber()
		cs.Modified = now()
	}
	return removed
}

// Clear removes every change.
func (cs *Changeset) Clear() {
	cs.Changes = []Change{}
	cs.Modified = now()
}

// HasChange reports whether any change targets elementID.
func (cs *Changeset) HasChange(elementID string) bool {
	for _, c := range cs.Changes {
		if c.ElementID == elementID {
			return true
		}
	}
	return false
}

// MarkStaged sets the status to staged.
func (cs *Changeset) MarkStaged() { cs.setStatus(StatusStaged) }

// MarkCommitted sets the status to committed.
func (cs *Changeset) MarkCommitted() { cs.setStatus(StatusCommitted) }

// MarkDiscarded sets the status to discarded.
func (cs *Changeset) MarkDiscarded() { cs.setStatus(StatusDiscarded) }

// MarkApplied is the legacy name for MarkCommitted.
func (cs *Changeset) MarkApplied() { cs.MarkCommitted() }

// MarkReverted is the legacy name for MarkDiscarded.
func (cs *Changeset) MarkReverted() { cs.MarkDiscarded() }

func (cs *Changeset) setStatus(s Status) {
	cs.Status = s
	cs.Modified = now()
}

func (cs *Changeset) renumber() {
	for i := range cs.Changes {
		cs.Changes[i].SequenceNumber = i
	}
}

// Clone returns a deep copy.
func (cs *Changeset) Clone() *Changeset {
	out := *cs
	out.Changes = make([]Change, len(cs.Changes))
	for i, c := range cs.Changes {
		out.Changes[i] = c.Clone()
	}
	return &out
}

// Metadata returns the changeset without its changes.
func (cs *Changeset) Metadata() Metadata {
	return Metadata{
		ID:           cs.ID,
		Name:         cs.Name,
		Description:  cs.Description,
		Status:       string(cs.Status),
		BaseSnapshot: cs.BaseSnapshot,
		Created:      cs.Created,
		Modified:     cs.Modified,
		Stats:        cs.Stats(),
	}
}

// Metadata is the serialized changeset header.
type Metadata struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Description  string    `json:"description" yaml:"description"`
	Status       string    `json:"status" yaml:"status"`
	BaseSnapshot string    `json:"baseSnapshot" yaml:"baseSnapshot"`
	Created      time.Time `json:"created" yaml:"created"`
	Modified     time.Time `json:"modified" yaml:"modified"`
	Stats        Stats     `json:"stats" yaml:"stats"`
}

// document is the full serialized form: header plus changes.
type document struct {
	Metadata `yaml:",inline"`
	Changes  []Change `json:"changes" yaml:"changes"`
}

func (cs *Changeset) document() document {
	changes := cs.Changes
	if changes == nil {
		changes = []Change{}
	}
	return document{Metadata: cs.Metadata(), Changes: changes}
}

// fromDocument rebuilds a changeset. Stats in the document are ignored and
// recomputed; legacy statuses are normalized.
func fromDocument(d document) (*Changeset, error) {
	status, err := ParseStatus(d.Status)
	if err != nil {
		return nil, err
	}
	cs := &Changeset{
		ID:           d.ID,
		Name:         d.Name,
		Description:  d.Description,
		Status:       status,
		BaseSnapshot: d.BaseSnapshot,
		Created:      d.Created,
		Modified:     d.Modified,
		Changes:      d.Changes,
	}
	if cs.Changes == nil {
		cs.Changes = []Change{}
	}
	return cs, nil
}

// MarshalJSON implements json.Marshaler.
func (cs *Changeset) MarshalJSON() ([]byte, error) {
	return json.Marshal(cs.document())
}

// UnmarshalJSON implements json.Unmarshaler.
func (cs *Changeset) UnmarshalJSON(data []byte) error {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	decoded, err := fromDocument(d)
	if err != nil {
		return err
	}
	*cs = *decoded
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (cs *Changeset) MarshalYAML() (any, error) {
	return cs.document(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (cs *Changeset) UnmarshalYAML(value *yaml.Node) error {
	var d document
	if err := value.Decode(&d); err != nil {
		return err
	}
	decoded, err := fromDocument(d)
	if err != nil {
		return err
	}
	*cs = *decoded
	return nil
}
