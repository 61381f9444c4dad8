// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rulemetrics builds and decodes the aggregations behind labeling
// rule metrics.
//
// # Description
//
// Two metrics are defined:
//
//   - RuleMetric ("labeling_rule"): coverage of one rule query, optionally
//     broken down by the labels the rule is expected to imply.
//   - DatasetRulesMetric ("dataset_labeling_rules"): coverage of the union of
//     every rule in a dataset.
//
// Both produce an aggregation.Request keyed by their metric id and decode
// the matching aggregation.Tree through the same reducer.
//
// # Label Names
//
// Per-label buckets are named "<label>.correct_records". Since "." is the
// aggregation path separator, dots in labels are replaced by
// datatypes.ReservedLabelToken on the way in and restored on the way out.
// Labels already containing the token are rejected with ErrReservedLabel.
// Empty labels and labels named covered_records or annotated_covered_records
// would collide with the aggregate buckets and are rejected with
// ErrInvalidLabel.
package rulemetrics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
)

const (
	RuleMetricID         = "labeling_rule"
	DatasetRulesMetricID = "dataset_labeling_rules"

	CoveredRecords          = "covered_records"
	AnnotatedCoveredRecords = "annotated_covered_records"
	CorrectRecords          = "correct_records"
	IncorrectRecords        = "incorrect_records"
)

var (
	// ErrReservedLabel is returned for labels containing the placeholder
	// token.
	ErrReservedLabel = errors.New("label contains reserved token " + datatypes.ReservedLabelToken)

	// ErrInvalidLabel is returned for empty labels and labels named like the
	// aggregate buckets.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrMalformedResult is returned when an aggregation result lacks the
	// expected buckets.
	ErrMalformedResult = errors.New("malformed aggregation result")
)

// EncodeLabel makes label safe for use in a bucket key.
func EncodeLabel(label string) (string, error) {
	if strings.Contains(label, datatypes.ReservedLabelToken) {
		return "", fmt.Errorf("%w: %q", ErrReservedLabel, label)
	}
	if !datatypes.ValidLabel(label) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return strings.ReplaceAll(label, aggregation.Separator, datatypes.ReservedLabelToken), nil
}

// DecodeLabel reverses EncodeLabel.
func DecodeLabel(key string) string {
	return strings.ReplaceAll(key, datatypes.ReservedLabelToken, aggregation.Separator)
}

// =============================================================================
// Rule Metric
// =============================================================================

// RuleMetric computes metrics for a single labeling rule.
type RuleMetric struct{}

// ID returns the metric id used as the request key.
func (RuleMetric) ID() string { return RuleMetricID }

// Name describes the metric.
func (RuleMetric) Name() string { return "Computes metrics for a labeling rule" }

// Request builds the aggregation request for ruleQuery.
//
// # Description
//
// The request always holds covered_records (records matching the query) and
// annotated_covered_records (matching and annotated). For each label, two
// more buckets are added:
//
//   - "<label>.correct_records": annotated, matching the query and annotated
//     as label (both should clauses required).
//   - "<label>.incorrect_records": annotated, matching the query and not
//     annotated as label.
//
// A nil labels slice means no breakdown was requested. An empty, non-nil
// slice yields the same two aggregate buckets.
//
// # Outputs
//
//   - aggregation.Request: Keyed by RuleMetricID.
//   - error: ErrReservedLabel if a label contains the placeholder token,
//     ErrInvalidLabel if it is empty or a reserved bucket name.
func (m RuleMetric) Request(ruleQuery string, labels []string) (aggregation.Request, error) {
	annotated := filters.Annotated()
	rule := filters.TextQuery(ruleQuery)

	buckets := map[string]filters.Filter{
		CoveredRecords: rule,
		AnnotatedCoveredRecords: filters.Boolean(filters.BoolParams{
			Must:   []filters.Filter{annotated},
			Should: []filters.Filter{rule},
		}),
	}

	for _, label := range labels {
		key, err := EncodeLabel(label)
		if err != nil {
			return nil, err
		}
		annotatedAsLabel := filters.AnnotatedAs(label)

		buckets[key+aggregation.Separator+CorrectRecords] = filters.Boolean(filters.BoolParams{
			Must:               []filters.Filter{annotated},
			Should:             []filters.Filter{rule, annotatedAsLabel},
			MinimumShouldMatch: 2,
		})
		buckets[key+aggregation.Separator+IncorrectRecords] = filters.Boolean(filters.BoolParams{
			Must:    []filters.Filter{annotated, rule},
			MustNot: []filters.Filter{annotatedAsLabel},
		})
	}

	return aggregation.Request{m.ID(): {Filters: buckets}}, nil
}

// Result decodes the aggregation result of a rule request.
func (m RuleMetric) Result(tree aggregation.Tree) (*Result, error) {
	return decode(m.ID(), tree)
}

// =============================================================================
// Dataset Rules Metric
// =============================================================================

// DatasetRulesMetric computes the coverage of all rules of a dataset.
type DatasetRulesMetric struct{}

// ID returns the metric id used as the request key.
func (DatasetRulesMetric) ID() string { return DatasetRulesMetricID }

// Name describes the metric.
func (DatasetRulesMetric) Name() string {
	return "Computes overall metrics for defined rules in dataset"
}

// Request builds the aggregation request over rules.
//
// # Description
//
// Produces exactly two buckets: covered_records (any rule matches) and
// annotated_covered_records (annotated and any rule matches). With no rules
// both buckets require one of zero should clauses and therefore match
// nothing.
func (m DatasetRulesMetric) Request(rules []datatypes.LabelingRule) aggregation.Request {
	ruleFilters := make([]filters.Filter, 0, len(rules))
	for _, r := range rules {
		ruleFilters = append(ruleFilters, filters.TextQuery(r.Query))
	}

	buckets := map[string]filters.Filter{
		CoveredRecords: filters.Boolean(filters.BoolParams{
			Should:             ruleFilters,
			MinimumShouldMatch: 1,
		}),
		AnnotatedCoveredRecords: filters.Boolean(filters.BoolParams{
			Must:               []filters.Filter{filters.Annotated()},
			Should:             ruleFilters,
			MinimumShouldMatch: 1,
		}),
	}
	return aggregation.Request{m.ID(): {Filters: buckets}}
}

// Result decodes the aggregation result of a dataset request.
func (m DatasetRulesMetric) Result(tree aggregation.Tree) (*Result, error) {
	return decode(m.ID(), tree)
}
