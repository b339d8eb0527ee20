// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/AleutianAI/ArchModel/services/model"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// shortest integer forms, no indefinite-length items.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
}

type canonicalModel struct {
	Name          string           `cbor:"name"`
	SchemaVersion string           `cbor:"schemaVersion"`
	Layers        []canonicalLayer `cbor:"layers"`
}

type canonicalLayer struct {
	Name     string             `cbor:"name"`
	Elements []canonicalElement `cbor:"elements"`
}

type canonicalElement struct {
	ID         string            `cbor:"id"`
	Type       string            `cbor:"type"`
	Name       string            `cbor:"name"`
	Properties map[string]any    `cbor:"properties"`
	References []model.Reference `cbor:"references"`
}

// canonicalBytes encodes m so that equal content always yields equal bytes.
//
// Layers are ordered by name, elements by id and explicit references by
// (source, target, predicate). List-valued properties keep their order.
// Empty and nil collections encode identically.
func canonicalBytes(m *model.Model) ([]byte, error) {
	cm := canonicalModel{
		Name:          m.Manifest.Name,
		SchemaVersion: m.Manifest.SchemaVersion,
		Layers:        []canonicalLayer{},
	}

	names := m.LayerNames()
	sort.Strings(names)
	for _, name := range names {
		elements := m.Layer(name).Elements()
		sort.Slice(elements, func(i, j int) bool { return elements[i].ID < elements[j].ID })

		cl := canonicalLayer{Name: name, Elements: make([]canonicalElement, 0, len(elements))}
		for _, e := range elements {
			props, err := normalizeMap(e.Properties)
			if err != nil {
				return nil, fmt.Errorf("element %s: %w", e.ID, err)
			}
			refs := append([]model.Reference{}, e.References...)
			sort.Slice(refs, func(i, j int) bool {
				a, b := refs[i], refs[j]
				if a.Source != b.Source {
					return a.Source < b.Source
				}
				if a.Target != b.Target {
					return a.Target < b.Target
				}
				return a.Predicate < b.Predicate
			})
			cl.Elements = append(cl.Elements, canonicalElement{
				ID:         e.ID,
				Type:       e.Type,
				Name:       e.Name,
				Properties: props,
				References: refs,
			})
		}
		cm.Layers = append(cm.Layers, cl)
	}
	return encMode.Marshal(cm)
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// normalizeValue folds the numeric and map types produced by the YAML and
// JSON decoders into one representation.
func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return normalizeUint(uint64(t)), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return normalizeUint(t), nil
	case float32:
		return normalizeFloat(float64(t)), nil
	case float64:
		return normalizeFloat(t), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case map[string]any:
		return normalizeMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			nv, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = nv
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported property value type %s", reflect.TypeOf(v))
	}
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return int64(f)
	}
	return f
}
