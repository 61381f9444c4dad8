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
	"fmt"
	"strings"

	wvfilters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
)

// Properties of the Weaviate record class.
const (
	propRecordID      = "record_id"
	propDatasetID     = "dataset_id"
	propText          = "text"
	propAnnotatedAs   = "annotated_as"
	propPredictedAs   = "predicted_as"
	propAnnotated     = "annotated"
	propPredicted     = "predicted"
	propMetadataPairs = "metadata_pairs"
)

// maxShouldCombinations bounds the expansion of minimum_should_match > 1.
const maxShouldCombinations = 256

type whereOp string

const (
	opAnd         whereOp = "And"
	opOr          whereOp = "Or"
	opEqual       whereOp = "Equal"
	opNotEqual    whereOp = "NotEqual"
	opLike        whereOp = "Like"
	opContainsAny whereOp = "ContainsAny"
)

// whereNode is an engine-side where filter, kept separate from the client
// builder so translation can be inspected.
type whereNode struct {
	op       whereOp
	path     []string
	text     []string
	boolean  *bool
	operands []*whereNode
}

// clause is a translated filter. all and none short-circuit filters that
// match every record or no record.
type clause struct {
	node *whereNode
	all  bool
	none bool
}

var (
	matchAll  = clause{all: true}
	matchNone = clause{none: true}
)

func leaf(op whereOp, prop string, values ...string) *whereNode {
	return &whereNode{op: op, path: []string{prop}, text: values}
}

func boolLeaf(prop string, v bool) *whereNode {
	return &whereNode{op: opEqual, path: []string{prop}, boolean: &v}
}

func combine(op whereOp, nodes []*whereNode) clause {
	switch len(nodes) {
	case 0:
		if op == opOr {
			return matchNone
		}
		return matchAll
	case 1:
		return clause{node: nodes[0]}
	}
	return clause{node: &whereNode{op: op, operands: nodes}}
}

// translate converts a filter into a where clause.
func translate(f filters.Filter) (clause, error) {
	switch f := f.(type) {
	case nil:
		return matchAll, nil
	case *filters.TextQueryFilter:
		return translateQuery(f.Query)
	case *filters.ExistsFilter:
		switch {
		case f.Field == datatypes.FieldAnnotatedAs:
			return clause{node: boolLeaf(propAnnotated, true)}, nil
		case f.Field == datatypes.FieldPredictedAs:
			return clause{node: boolLeaf(propPredicted, true)}, nil
		case f.Field == datatypes.FieldText:
			return matchAll, nil
		case strings.HasPrefix(f.Field, datatypes.FieldMetadataPrefix):
			key := strings.TrimPrefix(f.Field, datatypes.FieldMetadataPrefix)
			return clause{node: leaf(opLike, propMetadataPairs, key+"=*")}, nil
		}
		return clause{}, fmt.Errorf("%w: exists on %q", ErrUnsupportedFilter, f.Field)
	case *filters.TermsFilter:
		if len(f.Values) == 0 {
			return matchNone, nil
		}
		prop, values, err := termsProperty(f.Field, f.Values)
		if err != nil {
			return clause{}, err
		}
		return clause{node: leaf(opContainsAny, prop, values...)}, nil
	case *filters.BoolFilter:
		return translateBool(f)
	}
	return clause{}, fmt.Errorf("%w: %T", ErrUnsupportedFilter, f)
}

func translateQuery(query string) (clause, error) {
	var nodes []*whereNode
	for _, t := range filters.ParseQuery(query) {
		switch t.Kind {
		case filters.TermAll:
			continue
		case filters.TermWord:
			nodes = append(nodes, leaf(opLike, propText, t.Value))
		case filters.TermPrefix:
			nodes = append(nodes, leaf(opLike, propText, t.Value+"*"))
		case filters.TermPhrase:
			// word tokenization: all phrase words must be present
			nodes = append(nodes, leaf(opEqual, propText, t.Value))
		case filters.TermField:
			prop, values, err := termsProperty(t.Field, []string{t.Value})
			if err != nil {
				return clause{}, err
			}
			nodes = append(nodes, leaf(opContainsAny, prop, values...))
		}
	}
	return combine(opAnd, nodes), nil
}

func translateBool(b *filters.BoolFilter) (clause, error) {
	if b.MatchesNothing() {
		return matchNone, nil
	}

	var parts []*whereNode
	for _, m := range b.Must {
		c, err := translate(m)
		if err != nil {
			return clause{}, err
		}
		if c.none {
			return matchNone, nil
		}
		if !c.all {
			parts = append(parts, c.node)
		}
	}
	for _, m := range b.MustNot {
		c, err := negate(m)
		if err != nil {
			return clause{}, err
		}
		if c.none {
			return matchNone, nil
		}
		if !c.all {
			parts = append(parts, c.node)
		}
	}

	if need := b.MinimumShouldMatch; need > 0 {
		var nodes []*whereNode
		for _, s := range b.Should {
			c, err := translate(s)
			if err != nil {
				return clause{}, err
			}
			switch {
			case c.all:
				need--
			case !c.none:
				nodes = append(nodes, c.node)
			}
		}
		if need > 0 {
			if need > len(nodes) {
				return matchNone, nil
			}
			c, err := atLeast(nodes, need)
			if err != nil {
				return clause{}, err
			}
			parts = append(parts, c.node)
		}
	}

	return combine(opAnd, parts), nil
}

// atLeast expresses "k of nodes" as an OR of k-sized ANDs.
func atLeast(nodes []*whereNode, k int) (clause, error) {
	if k == 1 {
		return combine(opOr, nodes), nil
	}
	if k == len(nodes) {
		return combine(opAnd, nodes), nil
	}

	var combos []*whereNode
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		group := make([]*whereNode, k)
		for i, j := range idx {
			group[i] = nodes[j]
		}
		combos = append(combos, combine(opAnd, group).node)
		if len(combos) > maxShouldCombinations {
			return clause{}, fmt.Errorf("%w: minimum_should_match %d over %d clauses", ErrUnsupportedFilter, k, len(nodes))
		}

		i := k - 1
		for i >= 0 && idx[i] == len(nodes)-k+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return combine(opOr, combos), nil
}

// negate translates a must_not clause. Only field filters can be negated.
func negate(f filters.Filter) (clause, error) {
	switch f := f.(type) {
	case *filters.TermsFilter:
		if len(f.Values) == 0 {
			return matchAll, nil
		}
		prop, values, err := termsProperty(f.Field, f.Values)
		if err != nil {
			return clause{}, err
		}
		nodes := make([]*whereNode, 0, len(values))
		for _, v := range values {
			nodes = append(nodes, leaf(opNotEqual, prop, v))
		}
		return combine(opAnd, nodes), nil
	case *filters.ExistsFilter:
		switch f.Field {
		case datatypes.FieldAnnotatedAs:
			return clause{node: boolLeaf(propAnnotated, false)}, nil
		case datatypes.FieldPredictedAs:
			return clause{node: boolLeaf(propPredicted, false)}, nil
		}
	}
	return clause{}, fmt.Errorf("%w: cannot negate %T", ErrUnsupportedFilter, f)
}

func termsProperty(field string, values []string) (string, []string, error) {
	switch {
	case field == datatypes.FieldAnnotatedAs:
		return propAnnotatedAs, values, nil
	case field == datatypes.FieldPredictedAs:
		return propPredictedAs, values, nil
	case strings.HasPrefix(field, datatypes.FieldMetadataPrefix):
		key := strings.TrimPrefix(field, datatypes.FieldMetadataPrefix)
		pairs := make([]string, len(values))
		for i, v := range values {
			pairs[i] = key + "=" + v
		}
		return propMetadataPairs, pairs, nil
	}
	return "", nil, fmt.Errorf("%w: terms on %q", ErrUnsupportedFilter, field)
}

// toBuilder converts a node into the client's where builder.
func toBuilder(n *whereNode) *wvfilters.WhereBuilder {
	if len(n.operands) > 0 {
		operands := make([]*wvfilters.WhereBuilder, len(n.operands))
		for i, o := range n.operands {
			operands[i] = toBuilder(o)
		}
		return wvfilters.Where().WithOperator(clientOperator(n.op)).WithOperands(operands)
	}

	b := wvfilters.Where().WithPath(n.path).WithOperator(clientOperator(n.op))
	if n.boolean != nil {
		return b.WithValueBoolean(*n.boolean)
	}
	return b.WithValueText(n.text...)
}

func clientOperator(op whereOp) wvfilters.WhereOperator {
	switch op {
	case opAnd:
		return wvfilters.And
	case opOr:
		return wvfilters.Or
	case opNotEqual:
		return wvfilters.NotEqual
	case opLike:
		return wvfilters.Like
	case opContainsAny:
		return wvfilters.ContainsAny
	}
	return wvfilters.Equal
}
