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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

// LocalEngine evaluates searches in process.
//
// # Thread Safety
//
// Safe for concurrent use if the RecordStore is.
type LocalEngine struct {
	store RecordStore
}

// NewLocalEngine returns an engine reading records from store.
func NewLocalEngine(store RecordStore) *LocalEngine {
	return &LocalEngine{store: store}
}

// Search implements Searcher.
func (e *LocalEngine) Search(ctx context.Context, datasetID string, req Request) (*Result, error) {
	records, err := e.store.Records(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load records for dataset %s: %w", datasetID, err)
	}

	matched := make([]datatypes.Record, 0, len(records))
	for _, r := range records {
		ok, err := Matches(req.Query, r)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, r)
		}
	}

	result := &Result{Total: int64(len(matched))}

	if len(req.Aggregations) > 0 {
		result.Aggregations = aggregation.Tree{}
		for metricID, agg := range req.Aggregations {
			buckets := aggregation.Tree{}
			for name, f := range agg.Filters {
				var count int64
				for _, r := range matched {
					ok, err := Matches(f, r)
					if err != nil {
						return nil, fmt.Errorf("bucket %s.%s: %w", metricID, name, err)
					}
					if ok {
						count++
					}
				}
				buckets[name] = aggregation.Leaf(count)
			}
			result.Aggregations[metricID] = aggregation.Branch(buckets)
		}
	}

	if req.Size > 0 {
		n := req.Size
		if n > len(matched) {
			n = len(matched)
		}
		result.Hits = matched[:n]
	}

	return result, nil
}

// Index implements Indexer. Records without an ID get a random one.
func (e *LocalEngine) Index(ctx context.Context, datasetID string, records []datatypes.Record) (int, error) {
	prepared := make([]datatypes.Record, len(records))
	for i, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.DatasetID = datasetID
		prepared[i] = r
	}
	if err := e.store.PutRecords(ctx, datasetID, prepared); err != nil {
		return 0, fmt.Errorf("store records for dataset %s: %w", datasetID, err)
	}
	slog.Info("Indexed records", "dataset_id", datasetID, "count", len(prepared))
	return len(prepared), nil
}

// =============================================================================
// In-memory Record Store
// =============================================================================

// MemoryRecords is a RecordStore kept in process memory.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]map[string]datatypes.Record
}

// NewMemoryRecords returns an empty store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]map[string]datatypes.Record)}
}

// Records returns the records of a dataset ordered by ID.
func (m *MemoryRecords) Records(_ context.Context, datasetID string) ([]datatypes.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := m.records[datasetID]
	out := make([]datatypes.Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutRecords inserts or replaces records by ID.
func (m *MemoryRecords) PutRecords(_ context.Context, datasetID string, records []datatypes.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.records[datasetID]
	if !ok {
		byID = make(map[string]datatypes.Record)
		m.records[datasetID] = byID
	}
	for _, r := range records {
		byID[r.ID] = r
	}
	return nil
}

var (
	_ Searcher    = (*LocalEngine)(nil)
	_ Indexer     = (*LocalEngine)(nil)
	_ RecordStore = (*MemoryRecords)(nil)
)
