// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filters builds the search filter fragments used by labeling rule
// metrics.
//
// # Description
//
// A Filter is an engine-neutral tree. Search engines either evaluate it
// directly (search.LocalEngine) or translate it (search.WeaviateEngine).
// Every filter also marshals to the equivalent Elasticsearch query DSL
// fragment, which is the shape requests are logged and inspected in.
//
// # Boolean Composition
//
// Boolean is the single composition primitive. Should clauses are OR'd and
// gated by MinimumShouldMatch, Must clauses are AND'd and MustNot clauses are
// negated. A Boolean with MinimumShouldMatch greater than the number of
// Should clauses matches nothing.
package filters

import (
	"encoding/json"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

// Filter is a search filter fragment.
type Filter interface {
	json.Marshaler
	filter()
}

// TextQueryFilter matches records against a rule query string.
type TextQueryFilter struct {
	Query string
}

// ExistsFilter matches records where Field is present and non-empty.
type ExistsFilter struct {
	Field string
}

// TermsFilter matches records where Field holds any of Values.
type TermsFilter struct {
	Field  string
	Values []string
}

// BoolFilter combines other filters.
type BoolFilter struct {
	Must               []Filter
	MustNot            []Filter
	Should             []Filter
	MinimumShouldMatch int
}

func (*TextQueryFilter) filter() {}
func (*ExistsFilter) filter()    {}
func (*TermsFilter) filter()     {}
func (*BoolFilter) filter()      {}

// TextQuery returns the filter for a rule query.
func TextQuery(query string) *TextQueryFilter {
	return &TextQueryFilter{Query: query}
}

// Exists returns an existence filter for field.
func Exists(field string) *ExistsFilter {
	return &ExistsFilter{Field: field}
}

// Terms returns a filter matching any of values on field.
func Terms(field string, values ...string) *TermsFilter {
	return &TermsFilter{Field: field, Values: values}
}

// AnnotatedAs matches records annotated with any of labels.
func AnnotatedAs(labels ...string) *TermsFilter {
	return Terms(datatypes.FieldAnnotatedAs, labels...)
}

// Annotated matches records that carry an annotation.
func Annotated() *ExistsFilter {
	return Exists(datatypes.FieldAnnotatedAs)
}

// BoolParams are the inputs of Boolean. Nil entries are ignored.
type BoolParams struct {
	Must               []Filter
	MustNot            []Filter
	Should             []Filter
	MinimumShouldMatch int
}

// Boolean builds a BoolFilter.
//
// # Description
//
// MinimumShouldMatch defaults to 1 when at least one Should clause is present
// and no explicit value was given. An explicit MinimumShouldMatch with no
// Should clauses is kept, so the filter matches nothing.
func Boolean(p BoolParams) *BoolFilter {
	b := &BoolFilter{
		Must:               compact(p.Must),
		MustNot:            compact(p.MustNot),
		Should:             compact(p.Should),
		MinimumShouldMatch: p.MinimumShouldMatch,
	}
	if b.MinimumShouldMatch == 0 && len(b.Should) > 0 {
		b.MinimumShouldMatch = 1
	}
	return b
}

// MatchesNothing reports whether b can never match regardless of records.
func (b *BoolFilter) MatchesNothing() bool {
	return b.MinimumShouldMatch > len(b.Should)
}

func compact(in []Filter) []Filter {
	if len(in) == 0 {
		return nil
	}
	out := make([]Filter, 0, len(in))
	for _, f := range in {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// =============================================================================
// Query DSL Encoding
// =============================================================================

// MarshalJSON encodes the filter as a query_string query.
func (f *TextQueryFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"query_string": map[string]any{
			"query":            f.Query,
			"default_field":    datatypes.FieldText,
			"default_operator": "AND",
		},
	})
}

// MarshalJSON encodes the filter as an exists query.
func (f *ExistsFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"exists": map[string]string{"field": f.Field},
	})
}

// MarshalJSON encodes the filter as a terms query.
func (f *TermsFilter) MarshalJSON() ([]byte, error) {
	values := f.Values
	if values == nil {
		values = []string{}
	}
	return json.Marshal(map[string]any{
		"terms": map[string][]string{f.Field: values},
	})
}

// MarshalJSON encodes the filter as a bool query.
func (f *BoolFilter) MarshalJSON() ([]byte, error) {
	body := map[string]any{}
	if len(f.Must) > 0 {
		body["must"] = f.Must
	}
	if len(f.MustNot) > 0 {
		body["must_not"] = f.MustNot
	}
	if len(f.Should) > 0 {
		body["should"] = f.Should
	}
	if f.MinimumShouldMatch > 0 {
		body["minimum_should_match"] = f.MinimumShouldMatch
	}
	return json.Marshal(map[string]any{"bool": body})
}
