// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package refs indexes the directed references between model elements and
// traces dependencies over them.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Tracker only reads from the Registry.
package refs

import (
	"sync"

	"github.com/AleutianAI/ArchModel/services/model"
)

// Registry is a directed edge index built from element references.
//
// Edges are recorded once per scan hit. Registering the same element twice
// records its edges twice; duplicates are never collapsed.
type Registry struct {
	mu     sync.RWMutex
	all    []model.Reference
	from   map[string][]int
	to     map[string][]int
	byType map[model.Predicate][]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		from:   make(map[string][]int),
		to:     make(map[string][]int),
		byType: make(map[model.Predicate][]int),
	}
}

// BuildRegistry creates a registry populated from every element in m.
func BuildRegistry(m *model.Model) *Registry {
	r := NewRegistry()
	r.RegisterModel(m)
	return r
}

// RegisterElement records every whitelisted property reference and every
// explicit reference on e.
func (r *Registry) RegisterElement(e *model.Element) {
	if e == nil {
		return
	}
	refs := e.AllReferences()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range refs {
		idx := len(r.all)
		r.all = append(r.all, ref)
		r.from[ref.Source] = append(r.from[ref.Source], idx)
		r.to[ref.Target] = append(r.to[ref.Target], idx)
		r.byType[ref.Predicate] = append(r.byType[ref.Predicate], idx)
	}
}

// RegisterModel registers every element of every layer in load order.
func (r *Registry) RegisterModel(m *model.Model) {
	for _, l := range m.Layers() {
		for _, e := range l.Elements() {
			r.RegisterElement(e)
		}
	}
}

// ReferencesFrom returns edges whose source is id.
func (r *Registry) ReferencesFrom(id string) []model.Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.from[id])
}

// ReferencesTo returns edges whose target is id.
func (r *Registry) ReferencesTo(id string) []model.Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.to[id])
}

// ReferencesByType returns edges labeled with p.
func (r *Registry) ReferencesByType(p model.Predicate) []model.Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byType[p])
}

// All returns every recorded edge in registration order.
func (r *Registry) All() []model.Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Reference(nil), r.all...)
}

// Len returns the number of recorded edges.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// FindBrokenReferences returns every edge whose target is not in validIDs.
// Sources are not checked: an edge's source is the element that was scanned.
func (r *Registry) FindBrokenReferences(validIDs map[string]struct{}) []model.Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var broken []model.Reference
	for _, ref := range r.all {
		if _, ok := validIDs[ref.Target]; !ok {
			broken = append(broken, ref)
		}
	}
	return broken
}

// Clear drops every recorded edge.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = nil
	r.from = make(map[string][]int)
	r.to = make(map[string][]int)
	r.byType = make(map[model.Predicate][]int)
}

func (r *Registry) collect(idx []int) []model.Reference {
	if len(idx) == 0 {
		return nil
	}
	out := make([]model.Reference, len(idx))
	for i, n := range idx {
		out[i] = r.all[n]
	}
	return out
}
