// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exporter

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sourcegraph/go-diff/diff"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ArchModel/services/changeset"
	"github.com/AleutianAI/ArchModel/services/model"
)

// Patch header keys. Import reads only these lines back.
const (
	headerChangeset    = "# Changeset: "
	headerDescription  = "# Description: "
	headerBaseSnapshot = "# Base-Snapshot: "
	headerID           = "# ID: "
	headerStatus       = "# Status: "
	headerStats        = "# Stats: "

	devNull = "/dev/null"
)

// renderPatch writes cs as a header followed by one unified diff per change.
func renderPatch(cs *changeset.Changeset) (string, error) {
	var buf bytes.Buffer
	stats := cs.Stats()
	buf.WriteString(headerChangeset + encodeHeader(cs.Name) + "\n")
	buf.WriteString(headerDescription + encodeHeader(cs.Description) + "\n")
	buf.WriteString(headerBaseSnapshot + cs.BaseSnapshot + "\n")
	buf.WriteString(headerID + cs.ID + "\n")
	buf.WriteString(headerStatus + string(cs.Status) + "\n")
	fmt.Fprintf(&buf, "%s+%d ~%d -%d\n", headerStats, stats.Additions, stats.Modifications, stats.Deletions)
	buf.WriteString("\n")

	diffs := make([]*diff.FileDiff, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		fd, err := changeDiff(c)
		if err != nil {
			return "", fmt.Errorf("rendering change #%d: %w", c.SequenceNumber, err)
		}
		diffs = append(diffs, fd)
	}
	if len(diffs) > 0 {
		body, err := diff.PrintMultiFileDiff(diffs)
		if err != nil {
			return "", fmt.Errorf("printing diff: %w", err)
		}
		buf.Write(body)
	}
	return buf.String(), nil
}

// changeDiff renders one change as a single-hunk file diff over the
// element's YAML form.
func changeDiff(c changeset.Change) (*diff.FileDiff, error) {
	before, err := elementText(c.Before)
	if err != nil {
		return nil, err
	}
	after, err := elementText(c.After)
	if err != nil {
		return nil, err
	}

	path := c.LayerName + "/" + c.ElementID
	fd := &diff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Extended: []string{fmt.Sprintf("change %d %s %s", c.SequenceNumber, c.Type, path)},
	}
	switch c.Type {
	case changeset.ChangeAdd:
		fd.OrigName = devNull
		before = ""
	case changeset.ChangeDelete:
		fd.NewName = devNull
		after = ""
	}

	hunk := lineHunk(before, after)
	if hunk != nil {
		fd.Hunks = []*diff.Hunk{hunk}
	}
	return fd, nil
}

func elementText(e *model.Element) (string, error) {
	if e == nil {
		return "", nil
	}
	data, err := yaml.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// lineHunk builds one hunk spanning both texts. Returns nil when they are
// equal.
func lineHunk(before, after string) *diff.Hunk {
	if before == after {
		return nil
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var body bytes.Buffer
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range splitLines(d.Text) {
			body.WriteString(prefix + line + "\n")
		}
	}

	h := &diff.Hunk{
		OrigLines: int32(len(splitLines(before))),
		NewLines:  int32(len(splitLines(after))),
		Body:      body.Bytes(),
	}
	if h.OrigLines > 0 {
		h.OrigStartLine = 1
	}
	if h.NewLines > 0 {
		h.NewStartLine = 1
	}
	return h
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// encodeHeader returns s unchanged when it survives a line round trip and
// its Go-quoted form otherwise.
func encodeHeader(s string) string {
	quoted := strconv.Quote(s)
	if quoted == `"`+s+`"` && s == strings.TrimSpace(s) {
		return s
	}
	return quoted
}

// decodeHeader reverses encodeHeader. Hand-written values that are not
// valid quoted strings are taken verbatim.
func decodeHeader(s string) string {
	if strings.HasPrefix(s, `"`) {
		if v, err := strconv.Unquote(s); err == nil {
			return v
		}
	}
	return s
}

// looksLikePatch reports whether content starts with the patch header.
func looksLikePatch(content string) bool {
	return strings.HasPrefix(strings.TrimLeft(content, " \t\r\n"), strings.TrimSpace(headerChangeset))
}

// parsePatch recovers the header metadata of a patch.
//
// The per-change diffs are checked for well-formedness but not turned back
// into changes: a unified diff of an element's YAML does not carry enough to
// rebuild Change records. The result always has no changes and zero stats.
func parsePatch(content string) (*changeset.Changeset, error) {
	var (
		name, description, base, id string
		sawName                     bool
		bodyStart                   int
		offset                      int
	)
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		lineLen := len(line) + 1
		switch {
		case strings.HasPrefix(line, headerChangeset):
			name, sawName = decodeHeader(strings.TrimPrefix(line, headerChangeset)), true
		case line == strings.TrimSpace(headerChangeset):
			sawName = true
		case strings.HasPrefix(line, headerDescription):
			description = decodeHeader(strings.TrimPrefix(line, headerDescription))
		case strings.HasPrefix(line, headerBaseSnapshot):
			base = strings.TrimPrefix(line, headerBaseSnapshot)
		case strings.HasPrefix(line, headerID):
			id = strings.TrimPrefix(line, headerID)
		case strings.HasPrefix(line, "#"), strings.TrimSpace(line) == "":
		default:
			bodyStart = offset
			offset = -1
		}
		if offset < 0 {
			break
		}
		offset += lineLen
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if !sawName {
		return nil, fmt.Errorf("%w: missing %q header", ErrInvalidContent, strings.TrimSpace(headerChangeset))
	}
	if offset < 0 && bodyStart < len(content) {
		if _, err := diff.ParseMultiFileDiff([]byte(content[bodyStart:])); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}
	}

	if id == "" {
		if clean, err := changeset.SanitizeID(name); err == nil {
			id = clean
		}
	}
	cs := changeset.New(id, name, description, strings.TrimSpace(base))
	return cs, nil
}
