// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/ArchModel/services/changeset"
	"github.com/AleutianAI/ArchModel/services/staging"
	"github.com/AleutianAI/ArchModel/services/validation"
)

// Exit codes.
const (
	ExitSuccess  = 0 // Operation completed successfully
	ExitFindings = 1 // Completed with findings: drift, invalid backup, failed changes
	ExitError    = 2 // Operation failed
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorErr   = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#2C4A54")

	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#20B9B4"))
	styleOK    = lipgloss.NewStyle().Foreground(colorOK)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarn)
	styleErr   = lipgloss.NewStyle().Foreground(colorErr)
	styleMuted = lipgloss.NewStyle().Foreground(colorMuted)
	styleKey   = lipgloss.NewStyle().Bold(true)
)

// errFindings marks a command that ran to completion but found problems.
var errFindings = errors.New("findings reported")

// CommandResult is the JSON envelope of every command.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// printer renders command output as JSON or styled text.
type printer struct {
	w       io.Writer
	json    bool
	color   bool
	command string
	started time.Time
}

func newPrinter(w io.Writer, jsonMode bool) *printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{w: w, json: jsonMode, color: color, started: time.Now()}
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// result prints data. In JSON mode data is wrapped in a CommandResult; in
// text mode text is called to render it.
func (p *printer) result(data any, text func()) error {
	if p.json {
		return p.envelope(data, nil)
	}
	text()
	return nil
}

func (p *printer) envelope(data any, err error) error {
	res := CommandResult{
		APIVersion: "1.0",
		Command:    p.command,
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(p.started).Milliseconds(),
		Success:    err == nil || errors.Is(err, errFindings),
		Data:       data,
	}
	if err != nil && !errors.Is(err, errFindings) {
		res.Error = err.Error()
	}
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (p *printer) title(text string) {
	fmt.Fprintln(p.w, p.style(styleTitle, text))
}

func (p *printer) kv(key string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.style(styleKey, key+":"), value)
}

func (p *printer) ok(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.style(styleOK, "✓"), text)
}

func (p *printer) warn(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.style(styleWarn, "⚠"), text)
}

func (p *printer) fail(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.style(styleErr, "✗"), text)
}

func (p *printer) muted(text string) {
	fmt.Fprintln(p.w, p.style(styleMuted, text))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) changesetSummary(cs *changeset.Changeset, active bool) {
	marker := " "
	if active {
		marker = p.style(styleOK, "*")
	}
	s := cs.Stats()
	p.line("%s %-24s %-10s +%d ~%d -%d  %s", marker, cs.ID, cs.Status, s.Additions, s.Modifications, s.Deletions,
		p.style(styleMuted, cs.Name))
}

func (p *printer) report(r *validation.Report) {
	if r == nil {
		return
	}
	for _, issue := range r.Errors {
		p.fail(issue.String())
	}
	for _, issue := range r.Warnings {
		p.warn(issue.String())
	}
}

func (p *printer) commitResult(res *staging.Result) {
	verb := "Committed"
	if res.DryRun {
		verb = "Dry run:"
	}
	p.title(fmt.Sprintf("%s %s", verb, res.Changeset.ID))
	p.kv("applied", res.Committed)
	p.kv("failed", res.Failed)
	if res.BackupDir != "" {
		p.kv("backup", res.BackupDir)
	}
	for _, f := range res.Failures {
		p.fail(fmt.Sprintf("#%d %s %s: %s", f.SequenceNumber, f.Type, f.ElementID, f.Error))
	}
	p.report(res.Validation)
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errFindings):
		return ExitFindings
	default:
		return ExitError
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}
