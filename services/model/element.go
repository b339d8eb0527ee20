// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

// Predicate is the typed relationship label on a directed reference edge.
type Predicate string

// Reference-bearing predicates. The property with the same name on an
// element holds either a single target id or a list of target ids.
const (
	PredicateRealizes    Predicate = "realizes"
	PredicateRealizedBy  Predicate = "realizedBy"
	PredicateServes      Predicate = "serves"
	PredicateServedBy    Predicate = "servedBy"
	PredicateAccesses    Predicate = "accesses"
	PredicateUses        Predicate = "uses"
	PredicateComposedOf  Predicate = "composedOf"
	PredicateAggregates  Predicate = "aggregates"
	PredicateAssignedTo  Predicate = "assignedTo"
	PredicateTriggers    Predicate = "triggers"
	PredicateFlowsTo     Predicate = "flowsTo"
	PredicateSpecializes Predicate = "specializes"
	PredicateDependsOn   Predicate = "dependsOn"
	PredicateImplements  Predicate = "implements"
)

// ReferencePredicates is the closed whitelist of property names scanned for
// references. Properties not listed here are never treated as references.
var ReferencePredicates = []Predicate{
	PredicateRealizes,
	PredicateRealizedBy,
	PredicateServes,
	PredicateServedBy,
	PredicateAccesses,
	PredicateUses,
	PredicateComposedOf,
	PredicateAggregates,
	PredicateAssignedTo,
	PredicateTriggers,
	PredicateFlowsTo,
	PredicateSpecializes,
	PredicateDependsOn,
	PredicateImplements,
}

var knownPredicates = func() map[Predicate]struct{} {
	m := make(map[Predicate]struct{}, len(ReferencePredicates))
	for _, p := range ReferencePredicates {
		m[p] = struct{}{}
	}
	return m
}()

// IsReferencePredicate reports whether p is in the reference whitelist.
func IsReferencePredicate(p Predicate) bool {
	_, ok := knownPredicates[p]
	return ok
}

// Reference is an explicit directed edge declared on an element.
type Reference struct {
	Source    string    `yaml:"source,omitempty" json:"source,omitempty"`
	Target    string    `yaml:"target" json:"target" validate:"required"`
	Predicate Predicate `yaml:"predicateType" json:"predicateType" validate:"required,predicate"`
}

// Element is a single documented architecture artifact.
//
// Properties is a free-form bag for domain data. Reference extraction never
// scans it heuristically: only the keys in ReferencePredicates are read, via
// PropertyReferences.
type Element struct {
	ID         string         `yaml:"id" json:"id" validate:"required"`
	Type       string         `yaml:"type" json:"type" validate:"required"`
	Name       string         `yaml:"name" json:"name" validate:"required"`
	Layer      string         `yaml:"layer,omitempty" json:"layer,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
	References []Reference    `yaml:"references,omitempty" json:"references,omitempty" validate:"dive"`
}

// PropertyTargets returns the target ids held by the property named after p.
//
// Both the singular string form and the list form are accepted. Empty
// strings and non-string list entries are skipped.
func (e *Element) PropertyTargets(p Predicate) []string {
	if e == nil || e.Properties == nil {
		return nil
	}
	switch v := e.Properties[string(p)].(type) {
	case string:
		if v != "" {
			return []string{v}
		}
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PropertyReferences returns one Reference per target found in the
// whitelisted reference properties, in whitelist order.
func (e *Element) PropertyReferences() []Reference {
	var refs []Reference
	for _, p := range ReferencePredicates {
		for _, target := range e.PropertyTargets(p) {
			refs = append(refs, Reference{Source: e.ID, Target: target, Predicate: p})
		}
	}
	return refs
}

// AllReferences returns property references followed by explicit references.
// An explicit reference without a source is attributed to this element.
func (e *Element) AllReferences() []Reference {
	refs := e.PropertyReferences()
	for _, r := range e.References {
		if r.Source == "" {
			r.Source = e.ID
		}
		refs = append(refs, r)
	}
	return refs
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := *e
	out.Properties = cloneMap(e.Properties)
	if e.References != nil {
		out.References = append([]Reference(nil), e.References...)
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
