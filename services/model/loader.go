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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ArchModel/pkg/fsutil"
)

// On-disk file names.
const (
	ManifestFile     = "manifest.yaml"
	ElementsYAMLFile = "elements.yaml"
	ElementsJSONFile = "elements.json"
)

// layerFile is the serialized shape of a layer's element file.
type layerFile struct {
	Layer    string     `yaml:"layer,omitempty" json:"layer,omitempty"`
	Elements []*Element `yaml:"elements" json:"elements"`
}

// Load reads a model from root.
//
// # Description
//
// Reads manifest.yaml, then every subdirectory containing an elements.yaml
// or elements.json file. Layers declared in the manifest are loaded first in
// declared order; undeclared layer directories follow in name order and are
// kept so validation can flag them.
//
// # Outputs
//
//   - *Model: The loaded model.
//   - error: *ParseError for malformed files, or an I/O error.
func Load(root string) (*Model, error) {
	manifestPath := filepath.Join(root, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, &ParseError{Path: manifestPath, Err: err}
	}

	declared := append([]string(nil), manifest.Layers...)
	m := &Model{
		Root:     root,
		Manifest: manifest,
		layers:   make(map[string]*Layer),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading model root: %w", err)
	}
	var extra []string
	for _, entry := range entries {
		if !entry.IsDir() || contains(declared, entry.Name()) {
			continue
		}
		if _, _, ok := findLayerFile(filepath.Join(root, entry.Name())); ok {
			extra = append(extra, entry.Name())
		}
	}
	sort.Strings(extra)

	for _, name := range append(declared, extra...) {
		if err := m.loadLayer(name); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Model) loadLayer(name string) error {
	dir := filepath.Join(m.Root, name)
	path, format, ok := findLayerFile(dir)

	l := NewLayer(name)
	m.layers[name] = l
	m.layerOrder = append(m.layerOrder, name)
	if !ok {
		return nil
	}
	l.Format = format

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading layer %s: %w", name, err)
	}

	var lf layerFile
	switch format {
	case FormatJSON:
		err = json.Unmarshal(jsonc.ToJSON(data), &lf)
	default:
		err = yaml.Unmarshal(data, &lf)
	}
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}

	for _, e := range lf.Elements {
		if e == nil {
			continue
		}
		if e.ID == "" {
			return &ParseError{Path: path, Err: fmt.Errorf("%w: element without id", ErrInvalidElement)}
		}
		if err := l.Add(e); err != nil {
			return &ParseError{Path: path, Err: err}
		}
	}
	return nil
}

func findLayerFile(dir string) (string, FileFormat, bool) {
	yamlPath := filepath.Join(dir, ElementsYAMLFile)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, FormatYAML, true
	}
	jsonPath := filepath.Join(dir, ElementsJSONFile)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, FormatJSON, true
	}
	return "", "", false
}

// Save writes the model back to its Root.
func (m *Model) Save() error {
	return m.SaveTo(m.Root)
}

// SaveTo writes the manifest and every layer under root.
//
// Each file is written atomically (temp file plus rename). The model as a
// whole is not written atomically: a failure midway leaves earlier files
// updated.
func (m *Model) SaveTo(root string) error {
	if root == "" {
		return errors.New("model has no root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating model root: %w", err)
	}

	data, err := yaml.Marshal(&m.Manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(root, ManifestFile), data); err != nil {
		return err
	}

	for _, l := range m.Layers() {
		if err := saveLayer(root, l); err != nil {
			return err
		}
	}
	return nil
}

func saveLayer(root string, l *Layer) error {
	dir := filepath.Join(root, l.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating layer dir %s: %w", l.Name, err)
	}

	lf := layerFile{Layer: l.Name, Elements: l.Elements()}
	var (
		data []byte
		err  error
		name string
	)
	switch l.Format {
	case FormatJSON:
		data, err = json.MarshalIndent(&lf, "", "  ")
		name = ElementsJSONFile
	default:
		data, err = yaml.Marshal(&lf)
		name = ElementsYAMLFile
	}
	if err != nil {
		return fmt.Errorf("encoding layer %s: %w", l.Name, err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, name), data)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
