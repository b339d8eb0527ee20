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
	"fmt"
	"sort"

	"golang.org/x/mod/semver"
)

// PathKind distinguishes the outcomes of path resolution.
type PathKind int

const (
	// PathFound means Migrations holds at least one step.
	PathFound PathKind = iota

	// AlreadyCurrent means from and to are the same version.
	AlreadyCurrent

	// NoPathFound means no chain of registered migrations reaches to.
	// Downgrades and unparseable versions always land here.
	NoPathFound
)

// String returns the kind name.
func (k PathKind) String() string {
	switch k {
	case PathFound:
		return "path"
	case AlreadyCurrent:
		return "already_current"
	case NoPathFound:
		return "no_path_found"
	default:
		return fmt.Sprintf("PathKind(%d)", int(k))
	}
}

// PathResult is the outcome of resolving from -> to.
type PathResult struct {
	Kind       PathKind
	From       string
	To         string
	Migrations []Migration
}

// NoPathError is returned when a caller needs a path and none exists.
type NoPathError struct {
	From string
	To   string
}

// Error implements the error interface.
func (e *NoPathError) Error() string {
	return fmt.Sprintf("no migration path from %s to %s", e.From, e.To)
}

// Path resolves the migrations leading from from to to.
//
// # Description
//
// A direct registered edge wins. Otherwise the registered edges are searched
// breadth-first from from, never stepping past to, which yields a path with
// the fewest steps. Among equally short paths the one taking larger jumps
// first is chosen. Equal versions yield AlreadyCurrent; downgrades, invalid
// versions and unreachable targets yield NoPathFound.
func (r *Registry) Path(from, to string) PathResult {
	result := PathResult{From: from, To: to, Migrations: []Migration{}}

	cf, okFrom := canonical(from)
	ct, okTo := canonical(to)
	if !okFrom || !okTo {
		result.Kind = NoPathFound
		return result
	}
	switch c := semver.Compare(cf, ct); {
	case c == 0:
		result.Kind = AlreadyCurrent
		return result
	case c > 0:
		result.Kind = NoPathFound
		return result
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.byFrom[cf] {
		if "v"+m.To == ct {
			result.Kind = PathFound
			result.Migrations = []Migration{m}
			return result
		}
	}

	via := map[string]Migration{}
	visited := map[string]bool{cf: true}
	queue := []string{cf}
	for len(queue) > 0 && !visited[ct] {
		current := queue[0]
		queue = queue[1:]
		for _, m := range r.stepsFrom(current) {
			next := "v" + m.To
			if visited[next] || semver.Compare(next, ct) > 0 {
				continue
			}
			visited[next] = true
			via[next] = m
			queue = append(queue, next)
		}
	}
	if !visited[ct] {
		result.Kind = NoPathFound
		return result
	}

	for v := ct; v != cf; {
		m := via[v]
		result.Migrations = append(result.Migrations, m)
		v = "v" + m.From
	}
	for i, j := 0, len(result.Migrations)-1; i < j; i, j = i+1, j-1 {
		result.Migrations[i], result.Migrations[j] = result.Migrations[j], result.Migrations[i]
	}
	result.Kind = PathFound
	return result
}

// stepsFrom returns the migrations leaving v, largest jump first. Callers
// hold r.mu.
func (r *Registry) stepsFrom(v string) []Migration {
	steps := append([]Migration(nil), r.byFrom[v]...)
	sort.Slice(steps, func(i, j int) bool {
		return semver.Compare("v"+steps[i].To, "v"+steps[j].To) > 0
	})
	return steps
}

// GetMigrationPath returns the resolved migrations, empty for both
// AlreadyCurrent and NoPathFound. Use Path to tell those apart.
func (r *Registry) GetMigrationPath(from, to string) []Migration {
	return r.Path(from, to).Migrations
}

// Summary describes what it would take to reach a target version.
type Summary struct {
	CurrentVersion   string `json:"currentVersion" yaml:"currentVersion"`
	TargetVersion    string `json:"targetVersion" yaml:"targetVersion"`
	MigrationsNeeded int    `json:"migrationsNeeded" yaml:"migrationsNeeded"`
	Migrations       []Info `json:"migrations" yaml:"migrations"`
	Result           string `json:"result" yaml:"result"`
}

// Summary resolves current -> target. An empty target means Latest().
func (r *Registry) Summary(current, target string) Summary {
	if target == "" {
		target = r.Latest()
	}
	path := r.Path(current, target)
	infos := make([]Info, len(path.Migrations))
	for i, m := range path.Migrations {
		infos[i] = m.Info()
	}
	return Summary{
		CurrentVersion:   current,
		TargetVersion:    target,
		MigrationsNeeded: len(infos),
		Migrations:       infos,
		Result:           path.Kind.String(),
	}
}
