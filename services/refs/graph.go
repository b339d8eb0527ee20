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
	"sort"

	"github.com/AleutianAI/ArchModel/services/model"
)

// Edge is a typed directed edge in the dependency graph.
type Edge struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Predicate model.Predicate `json:"predicate"`
}

// Node is a vertex with its adjacent edges.
type Node struct {
	// ID is the element id. Nodes exist for every edge endpoint, including
	// targets that no element defines.
	ID string

	// Outgoing edges (this node depends on the target).
	Outgoing []*Edge

	// Incoming edges (the source depends on this node).
	Incoming []*Edge
}

// Graph is a materialized view of the registry.
type Graph struct {
	nodes map[string]*Node
	edges []*Edge
}

// DependencyGraph materializes every recorded edge as a Graph.
func (r *Registry) DependencyGraph() *Graph {
	refs := r.All()
	g := &Graph{nodes: make(map[string]*Node), edges: make([]*Edge, 0, len(refs))}
	for _, ref := range refs {
		e := &Edge{From: ref.Source, To: ref.Target, Predicate: ref.Predicate}
		g.edges = append(g.edges, e)
		from := g.node(ref.Source)
		from.Outgoing = append(from.Outgoing, e)
		to := g.node(ref.Target)
		to.Incoming = append(to.Incoming, e)
	}
	return g
}

func (g *Graph) node(id string) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id}
		g.nodes[id] = n
	}
	return n
}

// GetNode returns the node for id.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node ids sorted.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns every edge in registration order.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// neighbors returns the ids adjacent to id: edge targets for Up, edge
// sources for Down. Unknown ids have none.
func (g *Graph) neighbors(id string, dir Direction) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	if dir == Down {
		out := make([]string, len(n.Incoming))
		for i, e := range n.Incoming {
			out[i] = e.From
		}
		return out
	}
	out := make([]string, len(n.Outgoing))
	for i, e := range n.Outgoing {
		out[i] = e.To
	}
	return out
}

// EdgesWithin returns the edges whose endpoints are both in ids, in
// registration order.
func (g *Graph) EdgesWithin(ids []string) []*Edge {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	out := []*Edge{}
	for _, e := range g.edges {
		if in[e.From] && in[e.To] {
			out = append(out, e)
		}
	}
	return out
}
