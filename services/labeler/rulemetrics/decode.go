// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rulemetrics

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

// LabelMetrics is the per-label breakdown of a rule.
type LabelMetrics struct {
	CorrectRecords   int64    `json:"correct_records"`
	IncorrectRecords int64    `json:"incorrect_records"`
	Annotated        int64    `json:"annotated"`
	Precision        *float64 `json:"precision,omitempty"`
}

// Result is a decoded aggregation result.
//
// # Fields
//
//   - CoveredRecords, AnnotatedCoveredRecords: The two top-level counters.
//   - Labels: Per-label breakdown keyed by the decoded label name. Empty for
//     the dataset metric.
//   - CorrectRecords, IncorrectRecords: Sums over Labels.
//   - Precision: Unweighted mean of the defined per-label precisions.
type Result struct {
	CoveredRecords          int64                   `json:"covered_records"`
	AnnotatedCoveredRecords int64                   `json:"annotated_covered_records"`
	CorrectRecords          int64                   `json:"correct_records"`
	IncorrectRecords        int64                   `json:"incorrect_records"`
	Precision               *float64                `json:"precision,omitempty"`
	Labels                  map[string]LabelMetrics `json:"labels,omitempty"`
}

// RuleSummary projects r onto the single-rule summary.
func (r *Result) RuleSummary() datatypes.LabelingRuleSummary {
	return datatypes.LabelingRuleSummary{
		CoveredRecords:          r.CoveredRecords,
		AnnotatedCoveredRecords: r.AnnotatedCoveredRecords,
		CorrectRecords:          r.CorrectRecords,
		IncorrectRecords:        r.IncorrectRecords,
		Precision:               r.Precision,
	}
}

// DatasetSummary projects r onto the dataset summary.
func (r *Result) DatasetSummary() datatypes.DatasetLabelingRulesSummary {
	return datatypes.DatasetLabelingRulesSummary{
		CoveredRecords:          r.CoveredRecords,
		AnnotatedCoveredRecords: r.AnnotatedCoveredRecords,
	}
}

// decode reduces a raw aggregation tree.
//
// # Description
//
//  1. If tree holds metricID as a branch, descend into it.
//  2. Unflatten dotted bucket names into nested branches.
//  3. Pop covered_records and annotated_covered_records.
//  4. Every remaining key is an encoded label: read its correct and
//     incorrect counts (0 when absent), derive annotated and, when
//     annotated > 0, precision.
//  5. Sum correct/incorrect over labels and average the defined precisions.
func decode(metricID string, tree aggregation.Tree) (*Result, error) {
	if n, ok := tree[metricID]; ok && !n.IsLeaf() {
		tree = n.Children()
	}

	nested, err := aggregation.Unflatten(aggregation.Flatten(tree))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	covered, err := popCount(nested, CoveredRecords)
	if err != nil {
		return nil, err
	}
	annotatedCovered, err := popCount(nested, AnnotatedCoveredRecords)
	if err != nil {
		return nil, err
	}

	result := &Result{
		CoveredRecords:          covered,
		AnnotatedCoveredRecords: annotatedCovered,
	}

	keys := make([]string, 0, len(nested))
	for k := range nested {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var precisions []float64
	for _, key := range keys {
		node := nested[key]
		if node.IsLeaf() {
			return nil, fmt.Errorf("%w: unexpected counter %q", ErrMalformedResult, key)
		}

		lm := LabelMetrics{
			CorrectRecords:   leafCount(node.Children(), CorrectRecords),
			IncorrectRecords: leafCount(node.Children(), IncorrectRecords),
		}
		lm.Annotated = lm.CorrectRecords + lm.IncorrectRecords
		if lm.Annotated > 0 {
			p := float64(lm.CorrectRecords) / float64(lm.Annotated)
			lm.Precision = &p
			precisions = append(precisions, p)
		}

		result.CorrectRecords += lm.CorrectRecords
		result.IncorrectRecords += lm.IncorrectRecords
		if result.Labels == nil {
			result.Labels = make(map[string]LabelMetrics)
		}
		result.Labels[DecodeLabel(key)] = lm
	}

	if len(precisions) > 0 {
		var sum float64
		for _, p := range precisions {
			sum += p
		}
		mean := sum / float64(len(precisions))
		result.Precision = &mean
	}

	return result, nil
}

func popCount(t aggregation.Tree, key string) (int64, error) {
	n, ok := t[key]
	if !ok || !n.IsLeaf() {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedResult, key)
	}
	delete(t, key)
	return n.Count(), nil
}

func leafCount(t aggregation.Tree, key string) int64 {
	if n, ok := t[key]; ok && n.IsLeaf() {
		return n.Count()
	}
	return 0
}
