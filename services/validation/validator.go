// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks a model for structural conformance.
//
// Commit and migration treat the Validator as a black box: they only look
// at Report.IsValid and surface the collected issues.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/ArchModel/services/model"
	"github.com/AleutianAI/ArchModel/services/refs"
)

// Validator checks a model and reports errors and warnings.
type Validator interface {
	ValidateModel(m *model.Model) *Report
}

// Issue is a single validation finding.
type Issue struct {
	Layer     string `json:"layer,omitempty"`
	ElementID string `json:"elementId,omitempty"`
	Message   string `json:"message"`
}

// String formats the issue with its location.
func (i Issue) String() string {
	switch {
	case i.ElementID != "":
		return fmt.Sprintf("%s/%s: %s", i.Layer, i.ElementID, i.Message)
	case i.Layer != "":
		return fmt.Sprintf("%s: %s", i.Layer, i.Message)
	default:
		return i.Message
	}
}

// Report aggregates findings.
type Report struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// IsValid reports whether no errors were found. Warnings do not count.
func (r *Report) IsValid() bool {
	return r == nil || len(r.Errors) == 0
}

// Err returns an *Error when the report has errors, nil otherwise.
func (r *Report) Err() error {
	if r.IsValid() {
		return nil
	}
	return &Error{Report: r}
}

// ErrInvalidModel matches every *Error.
var ErrInvalidModel = errors.New("model validation failed")

// Error wraps a failing report.
type Error struct {
	Report *Report
}

// Error implements the error interface.
func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Report.Errors))
	for _, issue := range e.Report.Errors {
		msgs = append(msgs, issue.String())
	}
	return fmt.Sprintf("%s: %d error(s): %s", ErrInvalidModel, len(msgs), strings.Join(msgs, "; "))
}

// Is matches ErrInvalidModel.
func (e *Error) Is(target error) bool {
	return target == ErrInvalidModel
}

// ModelValidator is the default Validator.
//
// It runs go-playground/validator struct checks on the manifest and every
// element, then flags duplicate ids, references whose target does not
// exist, and layers that are present on disk but not declared in the
// manifest (warning).
type ModelValidator struct {
	validate *validator.Validate
}

// New creates the default validator.
func New() *ModelValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("predicate", func(fl validator.FieldLevel) bool {
		return model.IsReferencePredicate(model.Predicate(fl.Field().String()))
	})
	return &ModelValidator{validate: v}
}

// ValidateModel implements Validator.
func (v *ModelValidator) ValidateModel(m *model.Model) *Report {
	report := &Report{Errors: []Issue{}, Warnings: []Issue{}}

	if err := v.validate.Struct(&m.Manifest); err != nil {
		for _, msg := range fieldErrors(err) {
			report.Errors = append(report.Errors, Issue{Message: "manifest " + msg})
		}
	}

	seen := make(map[string]string)
	for _, l := range m.Layers() {
		if !m.IsDeclaredLayer(l.Name) {
			report.Warnings = append(report.Warnings, Issue{Layer: l.Name, Message: "layer is not declared in the manifest"})
		}
		for _, e := range l.Elements() {
			if other, dup := seen[e.ID]; dup {
				report.Errors = append(report.Errors, Issue{
					Layer: l.Name, ElementID: e.ID,
					Message: fmt.Sprintf("duplicate element id (also in layer %s)", other),
				})
			} else {
				seen[e.ID] = l.Name
			}
			if err := v.validate.Struct(e); err != nil {
				for _, msg := range fieldErrors(err) {
					report.Errors = append(report.Errors, Issue{Layer: l.Name, ElementID: e.ID, Message: msg})
				}
			}
		}
	}

	registry := refs.BuildRegistry(m)
	for _, ref := range registry.FindBrokenReferences(m.ElementIDs()) {
		_, layer := m.FindElement(ref.Source)
		name := ""
		if layer != nil {
			name = layer.Name
		}
		report.Errors = append(report.Errors, Issue{
			Layer: name, ElementID: ref.Source,
			Message: fmt.Sprintf("broken reference: %s %s", ref.Predicate, ref.Target),
		})
	}
	return report
}

func fieldErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag()))
	}
	return out
}
