// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
)

func diffTrees(want, got Tree) string {
	return cmp.Diff(want, got, cmp.AllowUnexported(Node{}))
}

func TestUnflatten(t *testing.T) {
	flat := map[string]int64{
		"covered_records":           10,
		"annotated_covered_records": 4,
		"A.correct_records":         7,
		"A.incorrect_records":       1,
		"B.nested.deep":             3,
	}

	got, err := Unflatten(flat)
	require.NoError(t, err)

	want := Tree{
		"covered_records":           Leaf(10),
		"annotated_covered_records": Leaf(4),
		"A": Branch(Tree{
			"correct_records":   Leaf(7),
			"incorrect_records": Leaf(1),
		}),
		"B": Branch(Tree{"nested": Branch(Tree{"deep": Leaf(3)})}),
	}
	if diff := diffTrees(want, got); diff != "" {
		t.Errorf("Unflatten() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnflatten_Errors(t *testing.T) {
	tests := []struct {
		name string
		flat map[string]int64
		want error
	}{
		{"leaf then branch", map[string]int64{"a": 1, "a.b": 2}, ErrPathConflict},
		{"deep conflict", map[string]int64{"a.b": 1, "a.b.c": 2}, ErrPathConflict},
		{"empty segment", map[string]int64{"a..b": 1}, ErrInvalidPath},
		{"leading separator", map[string]int64{".a": 1}, ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unflatten(tt.flat)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

// randomTree builds a tree without empty branches.
func randomTree(r *rand.Rand, depth int) Tree {
	t := Tree{}
	n := 1 + r.Intn(4)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%d_%d", depth, r.Intn(50))
		if depth > 0 && r.Intn(2) == 0 {
			t[key] = Branch(randomTree(r, depth-1))
		} else {
			t[key] = Leaf(r.Int63n(1000))
		}
	}
	return t
}

func TestFlattenUnflatten_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		tree := randomTree(r, 3)

		flat := Flatten(tree)
		back, err := Unflatten(flat)
		require.NoError(t, err)
		if diff := diffTrees(tree, back); diff != "" {
			t.Fatalf("round trip %d mismatch (-want +got):\n%s", i, diff)
		}
		assert.Equal(t, flat, Flatten(back))
	}
}

func TestFlatten_IdentityOnFlatTree(t *testing.T) {
	tree := Tree{"A@@@B.correct_records": Leaf(2), "covered_records": Leaf(1)}
	assert.Equal(t, map[string]int64{"A@@@B.correct_records": 2, "covered_records": 1}, Flatten(tree))
}

func TestTree_Lookup(t *testing.T) {
	tree := Tree{"a": Branch(Tree{"b": Leaf(3)}), "c": Leaf(1)}

	n, ok := tree.Lookup("a", "b")
	require.True(t, ok)
	assert.Equal(t, int64(3), n.Count())

	_, ok = tree.Lookup("c", "d")
	assert.False(t, ok)

	_, ok = tree.Lookup("missing")
	assert.False(t, ok)
}

func TestTree_JSON(t *testing.T) {
	raw := `{"labeling_rule":{"covered_records":10,"A.correct_records":2}}`

	var tree Tree
	require.NoError(t, json.Unmarshal([]byte(raw), &tree))

	n, ok := tree.Lookup("labeling_rule", "A.correct_records")
	require.True(t, ok)
	assert.True(t, n.IsLeaf())
	assert.Equal(t, int64(2), n.Count())

	out, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":"x"}`), &tree))
}

func TestMerge(t *testing.T) {
	a := Request{"m1": {Filters: map[string]filters.Filter{"x": filters.Annotated()}}}
	b := Request{"m2": {Filters: map[string]filters.Filter{"y": filters.TextQuery("q")}}}

	merged, err := Merge(a, b)
	require.NoError(t, err)
	assert.Len(t, merged, 2)

	_, err = Merge(a, a)
	assert.True(t, errors.Is(err, ErrDuplicateMetric))
}

func TestFiltersAggregation_MarshalJSON(t *testing.T) {
	req := Request{"m": {Filters: map[string]filters.Filter{"annotated": filters.Annotated()}}}
	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"m":{"filters":{"filters":{"annotated":{"exists":{"field":"annotated_as"}}}}}}`, string(out))
}
