// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ReservedLabelToken stands in for "." inside aggregation bucket keys, where
// "." is the path separator. Labels may not contain it.
const ReservedLabelToken = "@@@"

// reservedLabelNames are the aggregate bucket names that sit next to the
// per-label buckets of a rule metric. A label with one of these names would
// collide with them.
var reservedLabelNames = map[string]struct{}{
	"covered_records":           {},
	"annotated_covered_records": {},
}

// ValidLabel reports whether label can be used as a rule label: non-empty,
// free of ReservedLabelToken and not a reserved bucket name.
func ValidLabel(label string) bool {
	if label == "" || strings.Contains(label, ReservedLabelToken) {
		return false
	}
	_, reserved := reservedLabelNames[label]
	return !reserved
}

// MaxRuleQueryBytes bounds the size of a rule query.
const MaxRuleQueryBytes = 4096

// ruleValidate is the validator instance for labeling rules.
var ruleValidate *validator.Validate

func init() {
	ruleValidate = validator.New()
	_ = ruleValidate.RegisterValidation("labelname", validateLabelName)
}

func validateLabelName(fl validator.FieldLevel) bool {
	return ValidLabel(fl.Field().String())
}

// LabelingRule is a saved search query plus the labels it is expected to
// imply. Within a dataset a rule is identified by its trimmed query.
type LabelingRule struct {
	Query       string         `json:"query" validate:"required,max=4096"`
	Labels      []string       `json:"labels,omitempty" validate:"omitempty,dive,required,labelname"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Normalized returns a copy of r with its query trimmed.
func (r LabelingRule) Normalized() LabelingRule {
	r.Query = strings.TrimSpace(r.Query)
	return r
}

// Validate checks r against the rule constraints.
//
// # Outputs
//
//   - error: Wraps ErrInvalidRule when the query is empty or too long, or
//     when a label is empty, contains ReservedLabelToken or is a reserved
//     bucket name.
func (r LabelingRule) Validate() error {
	if err := ruleValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}
