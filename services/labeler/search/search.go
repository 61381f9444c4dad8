// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search defines the record search contract used by the labeling
// service and provides two engines.
//
// # Engines
//
//   - LocalEngine evaluates filters in process over records read from a
//     RecordStore. Used for the embedded deployment and in tests.
//   - WeaviateEngine translates filters into Weaviate where filters and
//     answers every aggregation bucket with an Aggregate count query.
//
// # Request Semantics
//
// Search scopes every request to one dataset. Total is the number of
// records matching Query (all records of the dataset when Query is nil).
// Aggregation buckets count records matching both Query and the bucket
// filter. Size > 0 additionally returns up to Size matching records.
package search

import (
	"context"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
)

// Request is a dataset-scoped search.
type Request struct {
	Query        filters.Filter
	Aggregations aggregation.Request
	Size         int
}

// Result is the answer to a Request.
//
// Aggregations holds one branch per metric id with one leaf per bucket.
type Result struct {
	Total        int64
	Aggregations aggregation.Tree
	Hits         []datatypes.Record
}

// Searcher runs searches over the records of a dataset.
type Searcher interface {
	Search(ctx context.Context, datasetID string, req Request) (*Result, error)
}

// Indexer stores records so a Searcher can find them. It returns the number
// of records indexed.
type Indexer interface {
	Index(ctx context.Context, datasetID string, records []datatypes.Record) (int, error)
}

// RecordStore is the record persistence LocalEngine reads from and writes to.
type RecordStore interface {
	Records(ctx context.Context, datasetID string) ([]datatypes.Record, error)
	PutRecords(ctx context.Context, datasetID string, records []datatypes.Record) error
}
