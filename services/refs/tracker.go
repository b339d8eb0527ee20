// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refs

import (
	"fmt"
	"sort"
)

// Direction selects which edges a trace follows.
type Direction int

const (
	// Up follows outgoing edges: what the origin depends on.
	Up Direction = iota

	// Down follows incoming edges: what depends on the origin.
	Down
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up", "UP", "upstream":
		return Up, nil
	case "down", "DOWN", "downstream":
		return Down, nil
	default:
		return 0, fmt.Errorf("unknown direction %q (want up or down)", s)
	}
}

// TraceResult holds reached elements grouped by distance from the origin.
type TraceResult struct {
	// Origin is the starting element id.
	Origin string `json:"origin"`

	// Direction is the traversal direction.
	Direction string `json:"direction"`

	// Levels[i] holds the ids at depth i+1, sorted.
	Levels [][]string `json:"levels"`
}

// IDs returns every reached id in depth order.
func (r *TraceResult) IDs() []string {
	var out []string
	for _, level := range r.Levels {
		out = append(out, level...)
	}
	return out
}

// Depth returns the number of levels reached.
func (r *TraceResult) Depth() int {
	return len(r.Levels)
}

// Tracker performs bounded breadth-first traversal over the dependency
// graph of a registry. Each trace walks a fresh DependencyGraph.
type Tracker struct {
	registry *Registry
}

// NewTracker creates a tracker over registry.
func NewTracker(registry *Registry) *Tracker {
	return &Tracker{registry: registry}
}

// Trace walks the reference graph breadth-first from id.
//
// # Description
//
// Up follows outgoing edges, Down follows incoming edges. A nil maxDepth
// means unbounded. The origin is never included in the result, and a
// visited set guarantees termination on cycles.
//
// # Outputs
//
//   - *TraceResult: Never nil. Empty Levels when id has no edges in the
//     chosen direction or is unknown.
func (t *Tracker) Trace(id string, dir Direction, maxDepth *int) *TraceResult {
	return t.trace(t.registry.DependencyGraph(), id, dir, maxDepth)
}

func (t *Tracker) trace(g *Graph, id string, dir Direction, maxDepth *int) *TraceResult {
	result := &TraceResult{Origin: id, Direction: dir.String(), Levels: [][]string{}}

	visited := map[string]bool{id: true}
	frontier := []string{id}

	for depth := 1; len(frontier) > 0; depth++ {
		if maxDepth != nil && depth > *maxDepth {
			break
		}
		var next []string
		for _, current := range frontier {
			for _, neighbor := range g.neighbors(current, dir) {
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				next = append(next, neighbor)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Strings(next)
		result.Levels = append(result.Levels, next)
		frontier = next
	}
	return result
}

// TraceBoth issues an Up and a Down trace from id.
func (t *Tracker) TraceBoth(id string, maxDepth *int) (up, down *TraceResult) {
	g := t.registry.DependencyGraph()
	return t.trace(g, id, Up, maxDepth), t.trace(g, id, Down, maxDepth)
}
