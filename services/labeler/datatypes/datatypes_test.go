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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsTextClassification(t *testing.T) {
	t.Run("text classification narrows", func(t *testing.T) {
		ds := &Dataset{ID: "1", Name: "news", Task: TaskTextClassification}
		tc, err := ds.AsTextClassification()
		require.NoError(t, err)
		assert.Same(t, ds, tc.Dataset)
	})

	t.Run("other task types fail", func(t *testing.T) {
		ds := &Dataset{ID: "2", Name: "ner", Task: TaskTokenClassification}
		_, err := ds.AsTextClassification()
		assert.True(t, errors.Is(err, ErrWrongVariant))
	})

	t.Run("nil dataset fails", func(t *testing.T) {
		var ds *Dataset
		_, err := ds.AsTextClassification()
		assert.True(t, errors.Is(err, ErrWrongVariant))
	})
}

func TestTextClassificationDataset_RuleIndex(t *testing.T) {
	tc := &TextClassificationDataset{Dataset: &Dataset{Rules: []LabelingRule{
		{Query: "a"}, {Query: " b "}, {Query: "b"},
	}}}

	assert.Equal(t, 0, tc.RuleIndex("a"))
	assert.Equal(t, 1, tc.RuleIndex("b"))
	assert.Equal(t, -1, tc.RuleIndex("c"))
}

func TestLabelingRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    LabelingRule
		wantErr bool
	}{
		{"query only", LabelingRule{Query: "hello"}, false},
		{"with labels", LabelingRule{Query: "hello", Labels: []string{"A", "B.C"}}, false},
		{"empty query", LabelingRule{Query: ""}, true},
		{"oversized query", LabelingRule{Query: strings.Repeat("x", MaxRuleQueryBytes+1)}, true},
		{"empty label", LabelingRule{Query: "q", Labels: []string{""}}, true},
		{"reserved token in label", LabelingRule{Query: "q", Labels: []string{"A@@@B"}}, true},
		{"label named like covered bucket", LabelingRule{Query: "q", Labels: []string{"covered_records"}}, true},
		{"label named like annotated bucket", LabelingRule{Query: "q", Labels: []string{"annotated_covered_records"}}, true},
		{"label named like per-label bucket", LabelingRule{Query: "q", Labels: []string{"correct_records"}}, false},
		{"dotted edges", LabelingRule{Query: "q", Labels: []string{"SPAM.", ".SPAM"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidRule), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLabelingRule_Normalized(t *testing.T) {
	r := LabelingRule{Query: "  spam offer \n", Labels: []string{"SPAM"}}
	n := r.Normalized()

	assert.Equal(t, "spam offer", n.Query)
	assert.Equal(t, "  spam offer \n", r.Query, "original must not change")
	assert.Error(t, LabelingRule{Query: "   "}.Normalized().Validate())
}

func TestTaskType_Valid(t *testing.T) {
	assert.True(t, TaskTextClassification.Valid())
	assert.True(t, TaskText2Text.Valid())
	assert.False(t, TaskType("Images").Valid())
}
