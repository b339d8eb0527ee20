// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modeltest builds small on-disk models for tests.
package modeltest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArchModel/services/model"
)

// Sample returns a three-layer model rooted at root:
//
//	motivation: goal-1
//	business:   svc-1 (realizes goal-1), proc-1 (serves svc-1)
//	application: app-1 (realizes svc-1, uses [data-1])
//	             data-1
func Sample(root string) *model.Model {
	m := model.New(root, model.Manifest{
		Name:          "sample",
		Version:       "1.0.0",
		SchemaVersion: "0.7.0",
		Layers:        []string{"motivation", "business", "application"},
	})
	must(m.AddElement("motivation", &model.Element{ID: "goal-1", Type: "goal", Name: "Grow revenue"}))
	must(m.AddElement("business", &model.Element{
		ID: "svc-1", Type: "business-service", Name: "Ordering",
		Properties: map[string]any{"realizes": "goal-1"},
	}))
	must(m.AddElement("business", &model.Element{
		ID: "proc-1", Type: "business-process", Name: "Take order",
		Properties: map[string]any{"serves": "svc-1"},
	}))
	must(m.AddElement("application", &model.Element{
		ID: "app-1", Type: "application-component", Name: "Order API",
		Properties: map[string]any{"realizes": "svc-1", "uses": []any{"data-1"}},
	}))
	must(m.AddElement("application", &model.Element{ID: "data-1", Type: "data-object", Name: "Order"}))
	return m
}

// Write saves Sample(root) to disk and reloads it.
func Write(t testing.TB, root string) *model.Model {
	t.Helper()
	require.NoError(t, Sample(root).Save())
	m, err := model.Load(root)
	require.NoError(t, err)
	return m
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
