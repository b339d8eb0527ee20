// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migration

import (
	"github.com/AleutianAI/ArchModel/services/model"
)

// DefaultRegistry returns a registry holding the built-in schema migrations:
//
//	0.4.0 -> 0.5.0  rename the "dependencies" property to "dependsOn"
//	0.5.0 -> 0.6.0  move reference properties into explicit references
//	0.6.0 -> 0.7.0  rename the "description" property to "documentation"
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Migration{
		From:        "0.4.0",
		To:          "0.5.0",
		Description: "Rename dependencies property to dependsOn",
		Transform:   renameProperty("dependencies", string(model.PredicateDependsOn)),
	})
	r.MustRegister(Migration{
		From:        "0.5.0",
		To:          "0.6.0",
		Description: "Move reference properties into explicit references",
		Transform:   explicitReferences,
	})
	r.MustRegister(Migration{
		From:        "0.6.0",
		To:          "0.7.0",
		Description: "Rename description property to documentation",
		Transform:   renameProperty("description", "documentation"),
	})
	return r
}

// renameProperty moves a property key on every element. An element already
// holding the new key keeps it and drops the old one.
func renameProperty(oldKey, newKey string) TransformFunc {
	return func(m *model.Model) (int, error) {
		changed := 0
		for _, l := range m.Layers() {
			for _, e := range l.Elements() {
				v, ok := e.Properties[oldKey]
				if !ok {
					continue
				}
				if _, exists := e.Properties[newKey]; !exists {
					e.Properties[newKey] = v
				}
				delete(e.Properties, oldKey)
				changed++
			}
		}
		return changed, nil
	}
}

// explicitReferences converts every whitelisted reference property into an
// entry of the element's references list and removes the property. It
// returns the number of references moved.
func explicitReferences(m *model.Model) (int, error) {
	moved := 0
	for _, l := range m.Layers() {
		for _, e := range l.Elements() {
			refs := e.PropertyReferences()
			if len(refs) == 0 {
				continue
			}
			for _, p := range model.ReferencePredicates {
				delete(e.Properties, string(p))
			}
			for _, ref := range refs {
				if hasReference(e.References, ref) {
					continue
				}
				e.References = append(e.References, model.Reference{Target: ref.Target, Predicate: ref.Predicate})
				moved++
			}
		}
	}
	return moved, nil
}

func hasReference(refs []model.Reference, ref model.Reference) bool {
	for _, r := range refs {
		if r.Target == ref.Target && r.Predicate == ref.Predicate {
			return true
		}
	}
	return false
}
