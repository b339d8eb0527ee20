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

import "fmt"

// FileFormat is the on-disk encoding of a layer's element file.
type FileFormat string

const (
	FormatYAML FileFormat = "yaml"
	FormatJSON FileFormat = "json"
)

// Layer is a named, insertion-ordered collection of elements.
type Layer struct {
	// Name is the layer name, also the directory name on disk.
	Name string

	// Format is the encoding used when the layer is saved.
	Format FileFormat

	order    []string
	elements map[string]*Element
}

// NewLayer creates an empty YAML layer.
func NewLayer(name string) *Layer {
	return &Layer{
		Name:     name,
		Format:   FormatYAML,
		elements: make(map[string]*Element),
	}
}

// Get returns the element with the given id, or nil.
func (l *Layer) Get(id string) *Element {
	return l.elements[id]
}

// Has reports whether the layer holds id.
func (l *Layer) Has(id string) bool {
	_, ok := l.elements[id]
	return ok
}

// Add appends an element. The element's Layer field is set to this layer.
func (l *Layer) Add(e *Element) error {
	if e == nil || e.ID == "" {
		return ErrInvalidElement
	}
	if l.Has(e.ID) {
		return fmt.Errorf("%w: %s in layer %s", ErrDuplicateElement, e.ID, l.Name)
	}
	e.Layer = l.Name
	l.elements[e.ID] = e
	l.order = append(l.order, e.ID)
	return nil
}

// Update replaces an existing element in place, keeping its position.
func (l *Layer) Update(e *Element) error {
	if e == nil || e.ID == "" {
		return ErrInvalidElement
	}
	if !l.Has(e.ID) {
		return fmt.Errorf("%w: %s in layer %s", ErrElementNotFound, e.ID, l.Name)
	}
	e.Layer = l.Name
	l.elements[e.ID] = e
	return nil
}

// Delete removes an element.
func (l *Layer) Delete(id string) error {
	if !l.Has(id) {
		return fmt.Errorf("%w: %s in layer %s", ErrElementNotFound, id, l.Name)
	}
	delete(l.elements, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

// Elements returns the layer's elements in insertion order.
func (l *Layer) Elements() []*Element {
	out := make([]*Element, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.elements[id])
	}
	return out
}

// Len returns the number of elements.
func (l *Layer) Len() int {
	return len(l.order)
}

// Clone returns a deep copy of the layer.
func (l *Layer) Clone() *Layer {
	out := &Layer{
		Name:     l.Name,
		Format:   l.Format,
		order:    append([]string(nil), l.order...),
		elements: make(map[string]*Element, len(l.elements)),
	}
	for id, e := range l.elements {
		out.elements[id] = e.Clone()
	}
	return out
}
