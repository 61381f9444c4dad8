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

	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
)

// ErrDuplicateMetric is returned by Merge when two requests use the same
// metric id.
var ErrDuplicateMetric = errors.New("duplicate aggregation metric id")

// FiltersAggregation counts records per named filter bucket.
type FiltersAggregation struct {
	Filters map[string]filters.Filter
}

// MarshalJSON encodes the aggregation in the filters aggregation shape.
func (a FiltersAggregation) MarshalJSON() ([]byte, error) {
	buckets := a.Filters
	if buckets == nil {
		buckets = map[string]filters.Filter{}
	}
	return json.Marshal(map[string]any{
		"filters": map[string]any{"filters": buckets},
	})
}

// Request maps a metric id to its aggregation. Keying by metric id lets
// several metrics share one search call.
type Request map[string]FiltersAggregation

// Merge combines requests into one.
//
// # Outputs
//
//   - Request: Union of all metric ids.
//   - error: ErrDuplicateMetric if a metric id appears twice.
func Merge(requests ...Request) (Request, error) {
	out := Request{}
	for _, r := range requests {
		for id, agg := range r {
			if _, ok := out[id]; ok {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateMetric, id)
			}
			out[id] = agg
		}
	}
	return out, nil
}
