// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the shared model of the labeling backend: datasets,
// labeling rules, records and the metric summaries returned to callers.
package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Shared Errors
// =============================================================================

var (
	// ErrNotFound is matched by every "entity does not exist" error.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is matched by every "entity already exists" error.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrWrongVariant is returned when a dataset is narrowed to a task type
	// it does not carry.
	ErrWrongVariant = errors.New("dataset has a different task type")

	// ErrInvalidRule is returned when a labeling rule fails validation.
	ErrInvalidRule = errors.New("invalid labeling rule")
)

// =============================================================================
// Task Types
// =============================================================================

// TaskType tags the variant of a dataset.
type TaskType string

const (
	TaskTextClassification  TaskType = "TextClassification"
	TaskTokenClassification TaskType = "TokenClassification"
	TaskText2Text           TaskType = "Text2Text"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTextClassification, TaskTokenClassification, TaskText2Text:
		return true
	}
	return false
}

// =============================================================================
// Dataset
// =============================================================================

// Dataset is the persisted form of a dataset.
//
// # Description
//
// Dataset carries the identity fields common to every task type plus the
// payload of the variants. Only the text classification variant owns
// labeling rules; code that needs them must go through AsTextClassification
// rather than reading Rules directly.
//
// # Fields
//
//   - ID: Storage identifier (UUID).
//   - Name: Unique, human readable name.
//   - Owner: Optional owner (team or user).
//   - Task: The variant tag.
//   - Version: Optimistic concurrency token, bumped on every update.
//   - Rules: Labeling rules (text classification only), in insertion order.
type Dataset struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Owner       string            `json:"owner,omitempty"`
	Task        TaskType          `json:"task"`
	Tags        map[string]string `json:"tags,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUpdated time.Time         `json:"last_updated"`
	Version     int64             `json:"version"`
	Rules       []LabelingRule    `json:"rules,omitempty"`
}

// DatasetRef is the opaque handle callers pass to the labeling service.
type DatasetRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ref returns the handle for d.
func (d *Dataset) Ref() DatasetRef {
	return DatasetRef{ID: d.ID, Name: d.Name}
}

// TextClassificationDataset is a Dataset narrowed to the text classification
// variant. It shares storage with the Dataset it was narrowed from.
type TextClassificationDataset struct {
	*Dataset
}

// AsTextClassification narrows d to the text classification variant.
//
// # Outputs
//
//   - *TextClassificationDataset: View over d.
//   - error: ErrWrongVariant if d is nil or has another task type.
func (d *Dataset) AsTextClassification() (*TextClassificationDataset, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil dataset", ErrWrongVariant)
	}
	if d.Task != TaskTextClassification {
		return nil, fmt.Errorf("%w: dataset %q is %s", ErrWrongVariant, d.Name, d.Task)
	}
	return &TextClassificationDataset{Dataset: d}, nil
}

// RuleIndex returns the position of the first rule whose trimmed query equals
// query, or -1.
func (d *TextClassificationDataset) RuleIndex(query string) int {
	for i, r := range d.Rules {
		if strings.TrimSpace(r.Query) == query {
			return i
		}
	}
	return -1
}
