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

import (
	"fmt"
	"sort"
)

// Manifest is the model-level metadata stored in manifest.yaml.
type Manifest struct {
	Name          string   `yaml:"name" json:"name" validate:"required"`
	Version       string   `yaml:"version,omitempty" json:"version,omitempty"`
	SchemaVersion string   `yaml:"schemaVersion" json:"schemaVersion"`
	Description   string   `yaml:"description,omitempty" json:"description,omitempty"`
	Layers        []string `yaml:"layers,omitempty" json:"layers,omitempty"`
}

// Model is a loaded architecture documentation model.
type Model struct {
	// Root is the directory the model was loaded from and saves to.
	Root string

	// Manifest holds the model metadata.
	Manifest Manifest

	layerOrder []string
	layers     map[string]*Layer
}

// New creates an empty model rooted at root.
func New(root string, manifest Manifest) *Model {
	m := &Model{
		Root:     root,
		Manifest: manifest,
		layers:   make(map[string]*Layer),
	}
	for _, name := range manifest.Layers {
		m.EnsureLayer(name)
	}
	return m
}

// Layer returns the named layer, or nil.
func (m *Model) Layer(name string) *Layer {
	return m.layers[name]
}

// EnsureLayer returns the named layer, creating and declaring it if absent.
func (m *Model) EnsureLayer(name string) *Layer {
	if l, ok := m.layers[name]; ok {
		return l
	}
	l := NewLayer(name)
	m.layers[name] = l
	m.layerOrder = append(m.layerOrder, name)
	if !m.IsDeclaredLayer(name) {
		m.Manifest.Layers = append(m.Manifest.Layers, name)
	}
	return l
}

// IsDeclaredLayer reports whether the manifest lists name.
func (m *Model) IsDeclaredLayer(name string) bool {
	for _, declared := range m.Manifest.Layers {
		if declared == name {
			return true
		}
	}
	return false
}

// LayerNames returns layer names in load order.
func (m *Model) LayerNames() []string {
	return append([]string(nil), m.layerOrder...)
}

// Layers returns layers in load order.
func (m *Model) Layers() []*Layer {
	out := make([]*Layer, 0, len(m.layerOrder))
	for _, name := range m.layerOrder {
		out = append(out, m.layers[name])
	}
	return out
}

// FindElement returns the element with id and its layer, searching all layers.
func (m *Model) FindElement(id string) (*Element, *Layer) {
	for _, name := range m.layerOrder {
		l := m.layers[name]
		if e := l.Get(id); e != nil {
			return e, l
		}
	}
	return nil, nil
}

// HasElement reports whether any layer holds id.
func (m *Model) HasElement(id string) bool {
	e, _ := m.FindElement(id)
	return e != nil
}

// ElementIDs returns the set of every element id in the model.
func (m *Model) ElementIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, l := range m.layers {
		for id := range l.elements {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// SortedElementIDs returns every element id in ascending order.
func (m *Model) SortedElementIDs() []string {
	ids := m.ElementIDs()
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ElementCount returns the total number of elements.
func (m *Model) ElementCount() int {
	n := 0
	for _, l := range m.layers {
		n += l.Len()
	}
	return n
}

// AddElement adds e to the named layer, creating the layer if needed.
// Element ids are unique across the whole model.
func (m *Model) AddElement(layer string, e *Element) error {
	if e == nil || e.ID == "" {
		return ErrInvalidElement
	}
	if _, existing := m.FindElement(e.ID); existing != nil {
		return fmt.Errorf("%w: %s already in layer %s", ErrDuplicateElement, e.ID, existing.Name)
	}
	return m.EnsureLayer(layer).Add(e)
}

// UpdateElement replaces the element with e.ID in the named layer.
func (m *Model) UpdateElement(layer string, e *Element) error {
	l := m.Layer(layer)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, layer)
	}
	return l.Update(e)
}

// DeleteElement removes id from the named layer.
func (m *Model) DeleteElement(layer, id string) error {
	l := m.Layer(layer)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, layer)
	}
	return l.Delete(id)
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	out := &Model{
		Root:       m.Root,
		Manifest:   m.Manifest,
		layerOrder: append([]string(nil), m.layerOrder...),
		layers:     make(map[string]*Layer, len(m.layers)),
	}
	out.Manifest.Layers = append([]string(nil), m.Manifest.Layers...)
	for name, l := range m.layers {
		out.layers[name] = l.Clone()
	}
	return out
}

// ReplaceWith overwrites m's contents with a deep copy of other, keeping
// m's identity so existing holders of the pointer see the new state.
func (m *Model) ReplaceWith(other *Model) {
	c := other.Clone()
	m.Root = c.Root
	m.Manifest = c.Manifest
	m.layerOrder = c.layerOrder
	m.layers = c.layers
}
