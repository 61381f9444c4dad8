// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/rulemetrics"
)

const testDataset = "ds-1"

func sampleRecords() []datatypes.Record {
	return []datatypes.Record{
		{ID: "r1", Text: "Buy cheap pills now", AnnotatedAs: []string{"SPAM"}, Metadata: map[string]string{"source": "mail"}},
		{ID: "r2", Text: "Cheap flights to Paris", AnnotatedAs: []string{"HAM"}, PredictedAs: []string{"SPAM"}},
		{ID: "r3", Text: "cheap pills, discount inside"},
		{ID: "r4", Text: "hello old friend", AnnotatedAs: []string{"HAM"}, Metadata: map[string]string{"source": "chat"}},
	}
}

func newTestEngine(t *testing.T) *LocalEngine {
	t.Helper()
	engine := NewLocalEngine(NewMemoryRecords())
	n, err := engine.Index(context.Background(), testDataset, sampleRecords())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	return engine
}

func TestMatches_TextQuery(t *testing.T) {
	r := sampleRecords()[0]

	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"*", true},
		{"cheap", true},
		{"CHEAP pills", true},
		{"cheap flights", false},
		{"che*", true},
		{"ch*ap", false},
		{`"cheap pills"`, true},
		{`"pills cheap"`, false},
		{"annotated_as:SPAM", true},
		{"annotated_as:spam", false},
		{"predicted_as:SPAM", false},
		{"metadata.source:mail", true},
		{"metadata.source:chat", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := Matches(filters.TextQuery(tt.query), r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches_Bool(t *testing.T) {
	r := sampleRecords()[1]

	t.Run("nil filter matches", func(t *testing.T) {
		ok, err := Matches(nil, r)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("minimum should match", func(t *testing.T) {
		f := filters.Boolean(filters.BoolParams{
			Should:             []filters.Filter{filters.TextQuery("cheap"), filters.AnnotatedAs("SPAM")},
			MinimumShouldMatch: 2,
		})
		ok, err := Matches(f, r)
		require.NoError(t, err)
		assert.False(t, ok)

		f.MinimumShouldMatch = 1
		ok, err = Matches(f, r)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("must not", func(t *testing.T) {
		f := filters.Boolean(filters.BoolParams{
			Must:    []filters.Filter{filters.Annotated()},
			MustNot: []filters.Filter{filters.AnnotatedAs("HAM")},
		})
		ok, err := Matches(f, r)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty should with minimum matches nothing", func(t *testing.T) {
		f := filters.Boolean(filters.BoolParams{MinimumShouldMatch: 1})
		ok, err := Matches(f, r)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown terms field", func(t *testing.T) {
		_, err := Matches(filters.Terms("owner", "x"), r)
		assert.True(t, errors.Is(err, ErrUnsupportedFilter))
	})
}

func TestLocalEngine_SearchCounts(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.Search(ctx, testDataset, Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Total)
	assert.Nil(t, res.Hits)

	res, err = engine.Search(ctx, testDataset, Request{Query: filters.Annotated(), Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, "r1", res.Hits[0].ID)
	assert.Equal(t, testDataset, res.Hits[0].DatasetID)

	res, err = engine.Search(ctx, "other", Request{})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestLocalEngine_RuleMetricEndToEnd(t *testing.T) {
	engine := newTestEngine(t)

	metric := rulemetrics.RuleMetric{}
	aggs, err := metric.Request("cheap", []string{"SPAM", "HAM"})
	require.NoError(t, err)

	res, err := engine.Search(context.Background(), testDataset, Request{Aggregations: aggs})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Total)

	decoded, err := metric.Result(res.Aggregations)
	require.NoError(t, err)
	assert.Equal(t, int64(3), decoded.CoveredRecords)
	assert.Equal(t, int64(2), decoded.AnnotatedCoveredRecords)
	assert.Equal(t, int64(2), decoded.CorrectRecords)
	assert.Equal(t, int64(2), decoded.IncorrectRecords)

	spam := decoded.Labels["SPAM"]
	assert.Equal(t, int64(1), spam.CorrectRecords)
	assert.Equal(t, int64(1), spam.IncorrectRecords)
	require.NotNil(t, spam.Precision)
	assert.InDelta(t, 0.5, *spam.Precision, 1e-9)
	require.NotNil(t, decoded.Precision)
	assert.InDelta(t, 0.5, *decoded.Precision, 1e-9)
}

func TestLocalEngine_DatasetRulesMetric(t *testing.T) {
	engine := newTestEngine(t)
	metric := rulemetrics.DatasetRulesMetric{}

	t.Run("rules", func(t *testing.T) {
		aggs := metric.Request([]datatypes.LabelingRule{{Query: "pills"}, {Query: "friend"}})
		res, err := engine.Search(context.Background(), testDataset, Request{Aggregations: aggs})
		require.NoError(t, err)

		decoded, err := metric.Result(res.Aggregations)
		require.NoError(t, err)
		assert.Equal(t, int64(3), decoded.CoveredRecords)
		assert.Equal(t, int64(2), decoded.AnnotatedCoveredRecords)
	})

	t.Run("no rules covers nothing", func(t *testing.T) {
		aggs := metric.Request(nil)
		res, err := engine.Search(context.Background(), testDataset, Request{Aggregations: aggs})
		require.NoError(t, err)

		decoded, err := metric.Result(res.Aggregations)
		require.NoError(t, err)
		assert.Zero(t, decoded.CoveredRecords)
		assert.Zero(t, decoded.AnnotatedCoveredRecords)
	})
}

func TestLocalEngine_IndexAssignsIDs(t *testing.T) {
	store := NewMemoryRecords()
	engine := NewLocalEngine(store)

	n, err := engine.Index(context.Background(), testDataset, []datatypes.Record{{Text: "no id"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := store.Records(context.Background(), testDataset)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ID)
}

type failingStore struct{ err error }

func (f failingStore) Records(context.Context, string) ([]datatypes.Record, error) {
	return nil, f.err
}

func (f failingStore) PutRecords(context.Context, string, []datatypes.Record) error {
	return f.err
}

func TestLocalEngine_StoreErrors(t *testing.T) {
	boom := errors.New("boom")
	engine := NewLocalEngine(failingStore{err: boom})

	_, err := engine.Search(context.Background(), testDataset, Request{})
	assert.ErrorIs(t, err, boom)

	_, err = engine.Index(context.Background(), testDataset, sampleRecords())
	assert.ErrorIs(t, err, boom)
}

func TestLocalEngine_EmptyMetricBranch(t *testing.T) {
	engine := newTestEngine(t)
	res, err := engine.Search(context.Background(), testDataset, Request{
		Aggregations: aggregation.Request{"empty": {}},
	})
	require.NoError(t, err)

	n, ok := res.Aggregations.Lookup("empty")
	require.True(t, ok)
	assert.False(t, n.IsLeaf())
	assert.Empty(t, n.Children())
}
