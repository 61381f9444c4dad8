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

// DatasetLabelingRulesSummary is the coverage of the union of all rules in a
// dataset.
type DatasetLabelingRulesSummary struct {
	CoveredRecords          int64 `json:"covered_records"`
	AnnotatedCoveredRecords int64 `json:"annotated_covered_records"`
}

// LabelingRuleSummary holds the metrics of a single rule.
//
// # Fields
//
//   - CoveredRecords: Records matched by the rule query.
//   - AnnotatedCoveredRecords: Covered records that carry an annotation.
//   - CorrectRecords: Sum over requested labels of covered records annotated
//     as that label.
//   - IncorrectRecords: Sum over requested labels of covered, annotated
//     records not annotated as that label.
//   - Precision: Unweighted mean of the per-label precisions. Nil when no
//     requested label had annotated coverage.
type LabelingRuleSummary struct {
	CoveredRecords          int64    `json:"covered_records"`
	AnnotatedCoveredRecords int64    `json:"annotated_covered_records"`
	CorrectRecords          int64    `json:"correct_records"`
	IncorrectRecords        int64    `json:"incorrect_records"`
	Precision               *float64 `json:"precision,omitempty"`
}
