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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/labeling"
)

// runCLI executes one labeler invocation against the storage in dir.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LABELER_STORAGE_PATH", filepath.Join(t.TempDir(), "db"))
	t.Setenv("LABELER_SEARCH_BACKEND", "local")
	t.Setenv("LABELER_PORT", "")
	t.Setenv("LABELER_LOG_LEVEL", "error")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

const sampleJSONL = `{"id": "1", "text": "cheap pills online", "annotated_as": ["SPAM"]}
{"id": "2", "text": "cheap flights to Oslo", "annotated_as": ["HAM"]}

{"id": "3", "text": "cheap watches"}
{"id": "4", "text": "quarterly report", "annotated_as": ["HAM"]}
`

func TestCLI_Workflow(t *testing.T) {
	setupEnv(t)
	recordsPath := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, writeFile(recordsPath, sampleJSONL))

	out, err := runCLI(t, "datasets", "register", "mail")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered dataset mail")

	out, err = runCLI(t, "datasets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "mail")
	assert.Contains(t, out, "TextClassification")

	out, err = runCLI(t, "records", "load", "mail", recordsPath, "--batch-size", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 4 records")

	_, err = runCLI(t, "rules", "add", "mail", "cheap", "--label", "SPAM", "--author", "ops")
	require.NoError(t, err)

	out, err = runCLI(t, "rules", "list", "mail")
	require.NoError(t, err)
	assert.Contains(t, out, "cheap")
	assert.Contains(t, out, "SPAM")

	out, err = runCLI(t, "rules", "metrics", "mail", "cheap")
	require.NoError(t, err)
	var metrics struct {
		TotalRecords     int64                         `json:"total_records"`
		AnnotatedRecords int64                         `json:"annotated_records"`
		Summary          datatypes.LabelingRuleSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &metrics))
	assert.EqualValues(t, 4, metrics.TotalRecords)
	assert.EqualValues(t, 3, metrics.AnnotatedRecords)
	assert.EqualValues(t, 3, metrics.Summary.CoveredRecords)
	assert.EqualValues(t, 2, metrics.Summary.AnnotatedCoveredRecords)
	assert.EqualValues(t, 1, metrics.Summary.CorrectRecords)
	assert.EqualValues(t, 1, metrics.Summary.IncorrectRecords)

	out, err = runCLI(t, "rules", "metrics", "mail")
	require.NoError(t, err)
	assert.Contains(t, out, `"covered_records": 3`)

	_, err = runCLI(t, "rules", "delete", "mail", "cheap")
	require.NoError(t, err)
	out, err = runCLI(t, "rules", "list", "mail")
	require.NoError(t, err)
	assert.NotContains(t, out, "cheap")
}

func TestCLI_Errors(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "rules", "list", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = runCLI(t, "datasets", "register", "x", "--task", "Speech")
	require.Error(t, err)

	_, err = runCLI(t, "records", "load", "x", filepath.Join(t.TempDir(), "none.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}

type countingIndexer struct {
	calls []int
}

func (c *countingIndexer) Index(_ context.Context, _ string, records []datatypes.Record) (int, error) {
	c.calls = append(c.calls, len(records))
	return len(records), nil
}

func TestLoadRecords(t *testing.T) {
	idx := &countingIndexer{}
	n, err := loadRecords(context.Background(), idx, "ds", strings.NewReader(sampleJSONL), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int{3, 1}, idx.calls)

	_, err = loadRecords(context.Background(), idx, "ds", strings.NewReader("{\"id\":\"1\"}\nnot json\n"), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}

func TestIsTerminal_NonFileWriter(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}

type ruleFinderFunc func(ctx context.Context, ref datatypes.DatasetRef, query string) (datatypes.LabelingRule, error)

func (f ruleFinderFunc) FindRuleByQuery(ctx context.Context, ref datatypes.DatasetRef, query string) (datatypes.LabelingRule, error) {
	return f(ctx, ref, query)
}

func TestLabelsForMetrics(t *testing.T) {
	ref := datatypes.DatasetRef{ID: "ds", Name: "mail"}
	ctx := context.Background()

	t.Run("flag labels win", func(t *testing.T) {
		finder := ruleFinderFunc(func(context.Context, datatypes.DatasetRef, string) (datatypes.LabelingRule, error) {
			t.Fatal("saved rule must not be looked up")
			return datatypes.LabelingRule{}, nil
		})
		labels, err := labelsForMetrics(ctx, finder, ref, "cheap", []string{"HAM"})
		require.NoError(t, err)
		assert.Equal(t, []string{"HAM"}, labels)
	})

	t.Run("saved rule labels", func(t *testing.T) {
		finder := ruleFinderFunc(func(context.Context, datatypes.DatasetRef, string) (datatypes.LabelingRule, error) {
			return datatypes.LabelingRule{Query: "cheap", Labels: []string{"SPAM"}}, nil
		})
		labels, err := labelsForMetrics(ctx, finder, ref, "cheap", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"SPAM"}, labels)
	})

	t.Run("unsaved query", func(t *testing.T) {
		finder := ruleFinderFunc(func(context.Context, datatypes.DatasetRef, string) (datatypes.LabelingRule, error) {
			return datatypes.LabelingRule{}, &labeling.NotFoundError{Kind: "rule", Key: "cheap"}
		})
		labels, err := labelsForMetrics(ctx, finder, ref, "cheap", nil)
		require.NoError(t, err)
		assert.Empty(t, labels)
	})

	t.Run("repository failure is returned", func(t *testing.T) {
		boom := errors.New("badger: closed")
		finder := ruleFinderFunc(func(context.Context, datatypes.DatasetRef, string) (datatypes.LabelingRule, error) {
			return datatypes.LabelingRule{}, boom
		})
		_, err := labelsForMetrics(ctx, finder, ref, "cheap", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})
}
