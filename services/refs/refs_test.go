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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/model/modeltest"
)

func intPtr(n int) *int { return &n }

func TestRegistry_Indexes(t *testing.T) {
	r := BuildRegistry(modeltest.Sample(t.TempDir()))

	assert.Equal(t, 4, r.Len())
	assert.Len(t, r.ReferencesFrom("app-1"), 2)
	assert.Len(t, r.ReferencesTo("svc-1"), 2)
	assert.Len(t, r.ReferencesByType(model.PredicateRealizes), 2)
	assert.Empty(t, r.ReferencesFrom("ghost"))

	t.Run("duplicates are preserved", func(t *testing.T) {
		e := &model.Element{ID: "x", Properties: map[string]any{"uses": "data-1"}}
		r.RegisterElement(e)
		r.RegisterElement(e)
		assert.Len(t, r.ReferencesFrom("x"), 2)
	})
}

func TestRegistry_ExplicitReferences(t *testing.T) {
	r := NewRegistry()
	r.RegisterElement(&model.Element{
		ID:         "api-1",
		Properties: map[string]any{"notes": "svc-9"},
		References: []model.Reference{{Target: "svc-9", Predicate: model.PredicateImplements}},
	})

	refs := r.ReferencesFrom("api-1")
	require.Len(t, refs, 1)
	assert.Equal(t, model.Reference{Source: "api-1", Target: "svc-9", Predicate: model.PredicateImplements}, refs[0])
}

func TestRegistry_FindBrokenReferences(t *testing.T) {
	m := modeltest.Sample(t.TempDir())
	r := BuildRegistry(m)
	assert.Empty(t, r.FindBrokenReferences(m.ElementIDs()))

	r.RegisterElement(&model.Element{ID: "orphan-source", Properties: map[string]any{"dependsOn": []string{"missing", "goal-1"}}})
	broken := r.FindBrokenReferences(m.ElementIDs())
	require.Len(t, broken, 1)
	assert.Equal(t, "missing", broken[0].Target)
	assert.Equal(t, "orphan-source", broken[0].Source)
}

func TestRegistry_DependencyGraph(t *testing.T) {
	g := BuildRegistry(modeltest.Sample(t.TempDir())).DependencyGraph()

	assert.Equal(t, 4, g.EdgeCount())
	assert.Equal(t, []string{"app-1", "data-1", "goal-1", "proc-1", "svc-1"}, g.NodeIDs())

	svc, ok := g.GetNode("svc-1")
	require.True(t, ok)
	assert.Len(t, svc.Outgoing, 1)
	assert.Len(t, svc.Incoming, 2)
	assert.Equal(t, model.PredicateRealizes, svc.Outgoing[0].Predicate)
}

func TestGraph_EdgesWithin(t *testing.T) {
	g := BuildRegistry(modeltest.Sample(t.TempDir())).DependencyGraph()

	edges := g.EdgesWithin([]string{"app-1", "data-1", "svc-1"})
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, "app-1", e.From)
	}
	assert.ElementsMatch(t, []string{"data-1", "svc-1"}, []string{edges[0].To, edges[1].To})

	assert.Len(t, g.EdgesWithin(g.NodeIDs()), g.EdgeCount())
	assert.NotNil(t, g.EdgesWithin(nil))
	assert.Empty(t, g.EdgesWithin([]string{"goal-1"}))
}

func TestTracker_SeesLaterRegistrations(t *testing.T) {
	r := NewRegistry()
	tracker := NewTracker(r)
	assert.Empty(t, tracker.Trace("a", Up, nil).Levels)

	r.RegisterElement(&model.Element{ID: "a", Properties: map[string]any{"dependsOn": "b"}})
	assert.Equal(t, [][]string{{"b"}}, tracker.Trace("a", Up, nil).Levels)
	assert.Equal(t, [][]string{{"a"}}, tracker.Trace("b", Down, nil).Levels)
}

func TestTracker_Trace(t *testing.T) {
	tracker := NewTracker(BuildRegistry(modeltest.Sample(t.TempDir())))

	t.Run("up follows outgoing edges", func(t *testing.T) {
		res := tracker.Trace("app-1", Up, nil)
		assert.Equal(t, [][]string{{"data-1", "svc-1"}, {"goal-1"}}, res.Levels)
	})

	t.Run("down follows incoming edges", func(t *testing.T) {
		res := tracker.Trace("goal-1", Down, nil)
		assert.Equal(t, [][]string{{"svc-1"}, {"app-1", "proc-1"}}, res.Levels)
		assert.Equal(t, 2, res.Depth())
	})

	t.Run("max depth bounds traversal", func(t *testing.T) {
		res := tracker.Trace("app-1", Up, intPtr(1))
		assert.Equal(t, []string{"data-1", "svc-1"}, res.IDs())

		res = tracker.Trace("app-1", Up, intPtr(0))
		assert.Empty(t, res.Levels)
	})

	t.Run("unknown id yields empty result", func(t *testing.T) {
		res := tracker.Trace("ghost", Down, nil)
		require.NotNil(t, res)
		assert.Empty(t, res.Levels)
	})

	t.Run("both", func(t *testing.T) {
		up, down := tracker.TraceBoth("svc-1", nil)
		assert.Equal(t, []string{"goal-1"}, up.IDs())
		assert.ElementsMatch(t, []string{"app-1", "proc-1"}, down.IDs())
	})
}

func TestTracker_Cycles(t *testing.T) {
	r := NewRegistry()
	r.RegisterElement(&model.Element{ID: "a", Properties: map[string]any{"dependsOn": "b"}})
	r.RegisterElement(&model.Element{ID: "b", Properties: map[string]any{"dependsOn": "c"}})
	r.RegisterElement(&model.Element{ID: "c", Properties: map[string]any{"dependsOn": "a"}})

	res := NewTracker(r).Trace("a", Up, nil)
	assert.Equal(t, [][]string{{"b"}, {"c"}}, res.Levels)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("down")
	require.NoError(t, err)
	assert.Equal(t, Down, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestTracker_TraceProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "nodes")
		id := func(i int) string { return fmt.Sprintf("n%d", i) }

		r := NewRegistry()
		direct := map[string]bool{}
		edges := rapid.IntRange(0, 20).Draw(t, "edges")
		for i := 0; i < edges; i++ {
			from := rapid.IntRange(0, n-1).Draw(t, "from")
			to := rapid.IntRange(0, n-1).Draw(t, "to")
			r.RegisterElement(&model.Element{
				ID:         id(from),
				References: []model.Reference{{Target: id(to), Predicate: model.PredicateDependsOn}},
			})
			if from == 0 && to != 0 {
				direct[id(to)] = true
			}
		}

		res := NewTracker(r).Trace(id(0), Up, nil)
		seen := map[string]bool{}
		for _, level := range res.Levels {
			if !sort.StringsAreSorted(level) {
				t.Fatalf("level not sorted: %v", level)
			}
			for _, got := range level {
				if got == id(0) {
					t.Fatalf("origin in result")
				}
				if seen[got] {
					t.Fatalf("%s reached twice", got)
				}
				seen[got] = true
			}
		}
		var first []string
		if len(res.Levels) > 0 {
			first = res.Levels[0]
		}
		if len(first) != len(direct) {
			t.Fatalf("depth 1 = %v, want direct targets %v", first, direct)
		}
	})
}
