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
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
)

// ErrUnsupportedFilter is returned for filters an engine cannot evaluate.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// Matches evaluates f against a record. A nil filter matches everything.
func Matches(f filters.Filter, r datatypes.Record) (bool, error) {
	switch f := f.(type) {
	case nil:
		return true, nil
	case *filters.TextQueryFilter:
		return matchQuery(f.Query, r), nil
	case *filters.ExistsFilter:
		return fieldExists(f.Field, r)
	case *filters.TermsFilter:
		values, err := fieldValues(f.Field, r)
		if err != nil {
			return false, err
		}
		for _, v := range f.Values {
			if slices.Contains(values, v) {
				return true, nil
			}
		}
		return false, nil
	case *filters.BoolFilter:
		return matchBool(f, r)
	default:
		return false, fmt.Errorf("%w: %T", ErrUnsupportedFilter, f)
	}
}

func matchBool(f *filters.BoolFilter, r datatypes.Record) (bool, error) {
	if f.MatchesNothing() {
		return false, nil
	}
	for _, m := range f.Must {
		ok, err := Matches(m, r)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, m := range f.MustNot {
		ok, err := Matches(m, r)
		if err != nil || ok {
			return false, err
		}
	}
	if f.MinimumShouldMatch <= 0 {
		return true, nil
	}
	matched := 0
	for _, s := range f.Should {
		ok, err := Matches(s, r)
		if err != nil {
			return false, err
		}
		if ok {
			matched++
			if matched >= f.MinimumShouldMatch {
				return true, nil
			}
		}
	}
	return false, nil
}

func matchQuery(query string, r datatypes.Record) bool {
	terms := filters.ParseQuery(query)
	if len(terms) == 0 {
		return true
	}
	words := filters.Words(r.Text)
	for _, t := range terms {
		if !matchTerm(t, words, r) {
			return false
		}
	}
	return true
}

func matchTerm(t filters.Term, words []string, r datatypes.Record) bool {
	switch t.Kind {
	case filters.TermAll:
		return true
	case filters.TermWord:
		return slices.Contains(words, t.Value)
	case filters.TermPrefix:
		for _, w := range words {
			if strings.HasPrefix(w, t.Value) {
				return true
			}
		}
		return false
	case filters.TermPhrase:
		for i := 0; i+len(t.Words) <= len(words); i++ {
			if slices.Equal(words[i:i+len(t.Words)], t.Words) {
				return true
			}
		}
		return false
	case filters.TermField:
		values, err := fieldValues(t.Field, r)
		return err == nil && slices.Contains(values, t.Value)
	}
	return false
}

func fieldValues(field string, r datatypes.Record) ([]string, error) {
	switch {
	case field == datatypes.FieldAnnotatedAs:
		return r.AnnotatedAs, nil
	case field == datatypes.FieldPredictedAs:
		return r.PredictedAs, nil
	case field == datatypes.FieldText:
		return []string{r.Text}, nil
	case strings.HasPrefix(field, datatypes.FieldMetadataPrefix):
		v, ok := r.Metadata[strings.TrimPrefix(field, datatypes.FieldMetadataPrefix)]
		if !ok {
			return nil, nil
		}
		return []string{v}, nil
	}
	return nil, fmt.Errorf("%w: unknown field %q", ErrUnsupportedFilter, field)
}

func fieldExists(field string, r datatypes.Record) (bool, error) {
	values, err := fieldValues(field, r)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if v != "" {
			return true, nil
		}
	}
	return false, nil
}
