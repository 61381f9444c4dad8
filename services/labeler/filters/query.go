// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filters

import (
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

// TermKind classifies a parsed query term.
type TermKind int

const (
	// TermWord matches a whole word of the record text.
	TermWord TermKind = iota
	// TermPrefix matches any word starting with Value ("spam*").
	TermPrefix
	// TermPhrase matches consecutive words ("\"free offer\"").
	TermPhrase
	// TermAll matches every record ("*").
	TermAll
	// TermField matches a record field exactly ("annotated_as:SPAM").
	TermField
)

// Term is one clause of a rule query. All terms of a query must match.
type Term struct {
	Kind  TermKind
	Field string
	Value string
	Words []string
}

// ParseQuery splits a rule query into terms.
//
// # Description
//
// The grammar is deliberately small: whitespace separated terms, all of
// which must match. Double quotes group a phrase. A term of the form
// field:value targets annotated_as, predicted_as or metadata.<key>; any
// other colon is part of the word. Words are case-insensitive, field values
// are not.
//
// # Examples
//
//	ParseQuery(`free "limited offer" annotated_as:SPAM win*`)
//	// word(free), phrase(limited offer), field(annotated_as=SPAM), prefix(win)
func ParseQuery(query string) []Term {
	var terms []Term
	rs := []rune(query)
	for i := 0; i < len(rs); {
		if unicode.IsSpace(rs[i]) {
			i++
			continue
		}

		if rs[i] == '"' {
			text, next := readQuoted(rs, i)
			i = next
			if t, ok := wordsTerm(Words(text)); ok {
				terms = append(terms, t)
			}
			continue
		}

		start := i
		for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != '"' {
			i++
		}
		token := string(rs[start:i])

		if field, ok := fieldPrefix(token); ok {
			value := strings.TrimPrefix(token, field+":")
			if value == "" && i < len(rs) && rs[i] == '"' {
				value, i = readQuoted(rs, i)
			}
			if value != "" {
				terms = append(terms, Term{Kind: TermField, Field: field, Value: value})
			}
			continue
		}

		if token == "*" {
			terms = append(terms, Term{Kind: TermAll})
			continue
		}

		if strings.HasSuffix(token, "*") {
			words := Words(strings.TrimRight(token, "*"))
			if len(words) == 1 {
				terms = append(terms, Term{Kind: TermPrefix, Value: words[0]})
				continue
			}
		}

		if t, ok := wordsTerm(Words(token)); ok {
			terms = append(terms, t)
		}
	}
	return terms
}

// Words lower-cases text and splits it on anything that is not a letter or
// digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordsTerm(words []string) (Term, bool) {
	switch len(words) {
	case 0:
		return Term{}, false
	case 1:
		return Term{Kind: TermWord, Value: words[0]}, true
	default:
		return Term{Kind: TermPhrase, Value: strings.Join(words, " "), Words: words}, true
	}
}

// readQuoted reads a double quoted run starting at rs[i] == '"'. An
// unterminated quote runs to the end of the input.
func readQuoted(rs []rune, i int) (string, int) {
	end := i + 1
	for end < len(rs) && rs[end] != '"' {
		end++
	}
	text := string(rs[i+1 : end])
	if end < len(rs) {
		end++
	}
	return text, end
}

func fieldPrefix(token string) (string, bool) {
	idx := strings.Index(token, ":")
	if idx <= 0 {
		return "", false
	}
	field := token[:idx]
	switch {
	case field == datatypes.FieldAnnotatedAs, field == datatypes.FieldPredictedAs:
		return field, true
	case strings.HasPrefix(field, datatypes.FieldMetadataPrefix) && len(field) > len(datatypes.FieldMetadataPrefix):
		return field, true
	}
	return "", false
}
