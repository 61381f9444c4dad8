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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
)

func bucketNames(t *testing.T, req aggregation.Request, id string) []string {
	t.Helper()
	agg, ok := req[id]
	require.True(t, ok, "request must be keyed by %s", id)
	names := make([]string, 0, len(agg.Filters))
	for name := range agg.Filters {
		names = append(names, name)
	}
	return names
}

func TestLabelEncoding(t *testing.T) {
	enc, err := EncodeLabel("A.B.C")
	require.NoError(t, err)
	assert.Equal(t, "A@@@B@@@C", enc)
	assert.Equal(t, "A.B.C", DecodeLabel(enc))

	_, err = EncodeLabel("A@@@B")
	assert.True(t, errors.Is(err, ErrReservedLabel))
}

func TestRuleMetric_RequestRejectsCollidingLabels(t *testing.T) {
	tests := []struct {
		label string
		want  error
	}{
		{"", ErrInvalidLabel},
		{CoveredRecords, ErrInvalidLabel},
		{AnnotatedCoveredRecords, ErrInvalidLabel},
		{"x@@@y", ErrReservedLabel},
	}
	for _, tt := range tests {
		t.Run("label "+tt.label, func(t *testing.T) {
			_, err := RuleMetric{}.Request("cheap", []string{"SPAM", tt.label})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	for _, label := range []string{"SPAM.", ".SPAM", CorrectRecords, IncorrectRecords} {
		_, err := RuleMetric{}.Request("cheap", []string{label})
		assert.NoError(t, err, label)
	}
}

func TestRuleMetric_Request(t *testing.T) {
	m := RuleMetric{}

	t.Run("no labels requested", func(t *testing.T) {
		req, err := m.Request("free offer", nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{CoveredRecords, AnnotatedCoveredRecords}, bucketNames(t, req, RuleMetricID))
	})

	t.Run("empty label list", func(t *testing.T) {
		req, err := m.Request("free offer", []string{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{CoveredRecords, AnnotatedCoveredRecords}, bucketNames(t, req, RuleMetricID))
	})

	t.Run("labels add correct and incorrect buckets", func(t *testing.T) {
		req, err := m.Request("free offer", []string{"SPAM", "promo.mail"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			CoveredRecords, AnnotatedCoveredRecords,
			"SPAM.correct_records", "SPAM.incorrect_records",
			"promo@@@mail.correct_records", "promo@@@mail.incorrect_records",
		}, bucketNames(t, req, RuleMetricID))

		buckets := req[RuleMetricID].Filters

		correct, ok := buckets["SPAM.correct_records"].(*filters.BoolFilter)
		require.True(t, ok)
		assert.Equal(t, 2, correct.MinimumShouldMatch)
		assert.Len(t, correct.Should, 2)
		assert.Equal(t, []filters.Filter{filters.Annotated()}, correct.Must)

		incorrect, ok := buckets["promo@@@mail.incorrect_records"].(*filters.BoolFilter)
		require.True(t, ok)
		assert.Equal(t, []filters.Filter{filters.AnnotatedAs("promo.mail")}, incorrect.MustNot)
		assert.Len(t, incorrect.Must, 2)
	})

	t.Run("reserved token rejected", func(t *testing.T) {
		_, err := m.Request("q", []string{"bad@@@label"})
		assert.True(t, errors.Is(err, ErrReservedLabel))
	})

	t.Run("request shape", func(t *testing.T) {
		req, err := m.Request("q", nil)
		require.NoError(t, err)
		out, err := json.Marshal(req)
		require.NoError(t, err)
		assert.JSONEq(t, `{"labeling_rule":{"filters":{"filters":{
			"covered_records":{"query_string":{"query":"q","default_field":"text","default_operator":"AND"}},
			"annotated_covered_records":{"bool":{
				"must":[{"exists":{"field":"annotated_as"}}],
				"should":[{"query_string":{"query":"q","default_field":"text","default_operator":"AND"}}],
				"minimum_should_match":1}}}}}}`, string(out))
	})
}

func TestDatasetRulesMetric_Request(t *testing.T) {
	m := DatasetRulesMetric{}

	t.Run("two buckets over all rules", func(t *testing.T) {
		req := m.Request([]datatypes.LabelingRule{{Query: "a"}, {Query: "b"}, {Query: "c"}})
		assert.ElementsMatch(t, []string{CoveredRecords, AnnotatedCoveredRecords}, bucketNames(t, req, DatasetRulesMetricID))

		covered := req[DatasetRulesMetricID].Filters[CoveredRecords].(*filters.BoolFilter)
		assert.Len(t, covered.Should, 3)
		assert.Equal(t, 1, covered.MinimumShouldMatch)
	})

	t.Run("empty rule list matches nothing", func(t *testing.T) {
		req := m.Request(nil)
		for _, name := range []string{CoveredRecords, AnnotatedCoveredRecords} {
			b := req[DatasetRulesMetricID].Filters[name].(*filters.BoolFilter)
			assert.Empty(t, b.Should)
			assert.True(t, b.MatchesNothing(), name)
		}
	})
}

func TestRuleMetric_Result(t *testing.T) {
	m := RuleMetric{}

	t.Run("escaped label is decoded", func(t *testing.T) {
		raw := aggregation.Tree{
			"covered_records":           aggregation.Leaf(10),
			"annotated_covered_records": aggregation.Leaf(4),
			"A@@@B.correct_records":     aggregation.Leaf(2),
			"A@@@B.incorrect_records":   aggregation.Leaf(2),
		}

		res, err := m.Result(raw)
		require.NoError(t, err)

		assert.Equal(t, int64(10), res.CoveredRecords)
		assert.Equal(t, int64(4), res.AnnotatedCoveredRecords)
		require.Contains(t, res.Labels, "A.B")
		label := res.Labels["A.B"]
		assert.Equal(t, int64(2), label.CorrectRecords)
		assert.Equal(t, int64(2), label.IncorrectRecords)
		assert.Equal(t, int64(4), label.Annotated)
		require.NotNil(t, label.Precision)
		assert.InDelta(t, 0.5, *label.Precision, 1e-9)

		assert.Equal(t, int64(2), res.CorrectRecords)
		assert.Equal(t, int64(2), res.IncorrectRecords)
		require.NotNil(t, res.Precision)
		assert.InDelta(t, 0.5, *res.Precision, 1e-9)
	})

	t.Run("precision from three correct one incorrect", func(t *testing.T) {
		raw := aggregation.Tree{RuleMetricID: aggregation.Branch(aggregation.Tree{
			"covered_records":           aggregation.Leaf(8),
			"annotated_covered_records": aggregation.Leaf(4),
			"L.correct_records":         aggregation.Leaf(3),
			"L.incorrect_records":       aggregation.Leaf(1),
		})}

		res, err := m.Result(raw)
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.Labels["L"].Annotated)
		assert.InDelta(t, 0.75, *res.Labels["L"].Precision, 1e-9)
	})

	t.Run("unannotated label has no precision and is not averaged", func(t *testing.T) {
		raw := aggregation.Tree{
			"covered_records":           aggregation.Leaf(5),
			"annotated_covered_records": aggregation.Leaf(3),
			"X.correct_records":         aggregation.Leaf(3),
			"X.incorrect_records":       aggregation.Leaf(0),
			"Y.correct_records":         aggregation.Leaf(0),
			"Y.incorrect_records":       aggregation.Leaf(0),
			"Z.correct_records":         aggregation.Leaf(1),
			"Z.incorrect_records":       aggregation.Leaf(3),
		}

		res, err := m.Result(raw)
		require.NoError(t, err)
		assert.Nil(t, res.Labels["Y"].Precision)
		assert.Equal(t, int64(0), res.Labels["Y"].Annotated)

		// mean(1.0, 0.25), not 4/7 from the summed counts
		require.NotNil(t, res.Precision)
		assert.InDelta(t, 0.625, *res.Precision, 1e-9)
		assert.Equal(t, int64(4), res.CorrectRecords)
		assert.Equal(t, int64(3), res.IncorrectRecords)
	})

	t.Run("missing counts default to zero", func(t *testing.T) {
		raw := aggregation.Tree{
			"covered_records":           aggregation.Leaf(1),
			"annotated_covered_records": aggregation.Leaf(1),
			"X.correct_records":         aggregation.Leaf(1),
		}
		res, err := m.Result(raw)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Labels["X"].IncorrectRecords)
		assert.InDelta(t, 1.0, *res.Labels["X"].Precision, 1e-9)
	})

	t.Run("no labels leaves precision unset", func(t *testing.T) {
		raw := aggregation.Tree{
			"covered_records":           aggregation.Leaf(1),
			"annotated_covered_records": aggregation.Leaf(0),
		}
		res, err := m.Result(raw)
		require.NoError(t, err)
		assert.Nil(t, res.Precision)
		assert.Empty(t, res.Labels)

		summary := res.RuleSummary()
		assert.Equal(t, int64(1), summary.CoveredRecords)
		assert.Equal(t, int64(0), summary.CorrectRecords)
	})

	t.Run("malformed results", func(t *testing.T) {
		_, err := m.Result(aggregation.Tree{"annotated_covered_records": aggregation.Leaf(1)})
		assert.True(t, errors.Is(err, ErrMalformedResult))

		_, err = m.Result(aggregation.Tree{
			"covered_records":           aggregation.Leaf(1),
			"annotated_covered_records": aggregation.Leaf(1),
			"stray":                     aggregation.Leaf(3),
		})
		assert.True(t, errors.Is(err, ErrMalformedResult))
	})
}

func TestDatasetRulesMetric_Result(t *testing.T) {
	raw := aggregation.Tree{DatasetRulesMetricID: aggregation.Branch(aggregation.Tree{
		"covered_records":           aggregation.Leaf(12),
		"annotated_covered_records": aggregation.Leaf(5),
	})}

	res, err := DatasetRulesMetric{}.Result(raw)
	require.NoError(t, err)
	assert.Equal(t, datatypes.DatasetLabelingRulesSummary{CoveredRecords: 12, AnnotatedCoveredRecords: 5}, res.DatasetSummary())
	assert.Nil(t, res.Precision)
}
