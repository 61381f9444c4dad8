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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

// BatchSize is the number of records imported per Weaviate batch.
const BatchSize = 100

// recordNamespace derives deterministic object ids from dataset and record id.
var recordNamespace = uuid.MustParse("6f1c3a52-8d0e-4c39-9a57-0b1f2e7d4c11")

// WeaviateOptions configures a WeaviateEngine.
type WeaviateOptions struct {
	// ClassName defaults to DefaultClassName.
	ClassName string
	// Concurrency bounds parallel bucket count queries. Defaults to 4.
	Concurrency int
}

// WeaviateEngine answers searches with Weaviate Aggregate and Get queries.
//
// # Description
//
// Every bucket becomes one Aggregate meta count over the intersection of
// the dataset scope, the request query and the bucket filter. Buckets
// whose filter can match nothing are answered without a round trip.
//
// # Limitations
//
//   - Phrase terms match records containing every phrase word, in any order.
//   - must_not supports only field terms and label existence.
//   - minimum_should_match above 1 is expanded into combinations and fails
//     past maxShouldCombinations.
type WeaviateEngine struct {
	client      *weaviate.Client
	className   string
	concurrency int
}

// NewWeaviateClient builds a client from a service URL such as
// http://weaviate:8080.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid weaviate URL %q: %w", rawURL, err)
	}
	if parsedURL.Host == "" || parsedURL.Scheme == "" {
		return nil, fmt.Errorf("invalid weaviate URL %q: scheme and host are required", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}

// NewWeaviateEngine returns an engine over client.
func NewWeaviateEngine(client *weaviate.Client, opts WeaviateOptions) *WeaviateEngine {
	if opts.ClassName == "" {
		opts.ClassName = DefaultClassName
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &WeaviateEngine{
		client:      client,
		className:   opts.ClassName,
		concurrency: opts.Concurrency,
	}
}

// Search implements Searcher.
func (e *WeaviateEngine) Search(ctx context.Context, datasetID string, req Request) (*Result, error) {
	scope := clause{node: leaf(opEqual, propDatasetID, datasetID)}
	query, err := translate(req.Query)
	if err != nil {
		return nil, err
	}

	plan, err := planBuckets(req.Aggregations)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var mu sync.Mutex
	counts := make(map[string]int64, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	g.Go(func() error {
		total, err := e.count(gctx, scope, query)
		if err != nil {
			return err
		}
		result.Total = total
		return nil
	})
	for _, b := range plan {
		g.Go(func() error {
			n, err := e.count(gctx, scope, query, b.clause)
			if err != nil {
				return fmt.Errorf("bucket %s: %w", b.key, err)
			}
			mu.Lock()
			counts[b.key] = n
			mu.Unlock()
			return nil
		})
	}
	if req.Size > 0 {
		g.Go(func() error {
			hits, err := e.fetch(gctx, req.Size, scope, query)
			if err != nil {
				return err
			}
			result.Hits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(req.Aggregations) > 0 {
		tree, err := aggregation.Unflatten(counts)
		if err != nil {
			return nil, err
		}
		// metrics with no buckets still get a branch
		for metricID := range req.Aggregations {
			if _, ok := tree[metricID]; !ok {
				tree[metricID] = aggregation.Branch(nil)
			}
		}
		result.Aggregations = tree
	}
	return result, nil
}

type plannedBucket struct {
	key    string
	clause clause
}

func planBuckets(req aggregation.Request) ([]plannedBucket, error) {
	var plan []plannedBucket
	for metricID, agg := range req {
		for name, f := range agg.Filters {
			c, err := translate(f)
			if err != nil {
				return nil, fmt.Errorf("bucket %s.%s: %w", metricID, name, err)
			}
			plan = append(plan, plannedBucket{key: metricID + aggregation.Separator + name, clause: c})
		}
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].key < plan[j].key })
	return plan, nil
}

// where intersects clauses. ok is false when the intersection is empty.
func where(clauses ...clause) (node *whereNode, ok bool) {
	var parts []*whereNode
	for _, c := range clauses {
		if c.none {
			return nil, false
		}
		if !c.all {
			parts = append(parts, c.node)
		}
	}
	return combine(opAnd, parts).node, true
}

func (e *WeaviateEngine) count(ctx context.Context, clauses ...clause) (int64, error) {
	node, ok := where(clauses...)
	if !ok {
		return 0, nil
	}

	builder := e.client.GraphQL().Aggregate().
		WithClassName(e.className).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		})
	if node != nil {
		builder = builder.WithWhere(toBuilder(node))
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", e.className, err)
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("aggregate %s: %s", e.className, resp.Errors[0].Message)
	}
	return parseAggregateCount(resp, e.className)
}

type aggregateCountResponse struct {
	Aggregate map[string][]struct {
		Meta struct {
			Count float64 `json:"count"`
		} `json:"meta"`
	} `json:"Aggregate"`
}

func parseAggregateCount(resp *models.GraphQLResponse, className string) (int64, error) {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal aggregate data: %w", err)
	}
	var parsed aggregateCountResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("failed to unmarshal aggregate data: %w", err)
	}
	groups := parsed.Aggregate[className]
	if len(groups) == 0 {
		return 0, nil
	}
	return int64(groups[0].Meta.Count), nil
}

type weaviateRecord struct {
	RecordID      string   `json:"record_id"`
	DatasetID     string   `json:"dataset_id"`
	Text          string   `json:"text"`
	AnnotatedAs   []string `json:"annotated_as"`
	PredictedAs   []string `json:"predicted_as"`
	MetadataPairs []string `json:"metadata_pairs"`
}

type getRecordsResponse struct {
	Get map[string][]weaviateRecord `json:"Get"`
}

func (e *WeaviateEngine) fetch(ctx context.Context, limit int, clauses ...clause) ([]datatypes.Record, error) {
	node, ok := where(clauses...)
	if !ok {
		return []datatypes.Record{}, nil
	}

	builder := e.client.GraphQL().Get().
		WithClassName(e.className).
		WithFields(
			graphql.Field{Name: propRecordID},
			graphql.Field{Name: propDatasetID},
			graphql.Field{Name: propText},
			graphql.Field{Name: propAnnotatedAs},
			graphql.Field{Name: propPredictedAs},
			graphql.Field{Name: propMetadataPairs},
		).
		WithLimit(limit)
	if node != nil {
		builder = builder.WithWhere(toBuilder(node))
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("query error: %s", resp.Errors[0].Message)
	}
	return parseRecords(resp, e.className)
}

func parseRecords(resp *models.GraphQLResponse, className string) ([]datatypes.Record, error) {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal get data: %w", err)
	}
	var parsed getRecordsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal get data: %w", err)
	}

	objects := parsed.Get[className]
	records := make([]datatypes.Record, 0, len(objects))
	for _, o := range objects {
		records = append(records, o.toRecord())
	}
	return records, nil
}

func (o weaviateRecord) toRecord() datatypes.Record {
	r := datatypes.Record{
		ID:          o.RecordID,
		DatasetID:   o.DatasetID,
		Text:        o.Text,
		AnnotatedAs: o.AnnotatedAs,
		PredictedAs: o.PredictedAs,
	}
	if len(o.MetadataPairs) > 0 {
		r.Metadata = make(map[string]string, len(o.MetadataPairs))
		for _, pair := range o.MetadataPairs {
			k, v, _ := strings.Cut(pair, "=")
			r.Metadata[k] = v
		}
	}
	return r
}

func recordObject(className, datasetID string, r datatypes.Record) *models.Object {
	pairs := make([]string, 0, len(r.Metadata))
	for k, v := range r.Metadata {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	annotatedAs := r.AnnotatedAs
	if annotatedAs == nil {
		annotatedAs = []string{}
	}
	predictedAs := r.PredictedAs
	if predictedAs == nil {
		predictedAs = []string{}
	}

	id := uuid.NewSHA1(recordNamespace, []byte(datasetID+"/"+r.ID))
	return &models.Object{
		Class: className,
		ID:    strfmt.UUID(id.String()),
		Properties: map[string]interface{}{
			propRecordID:      r.ID,
			propDatasetID:     datasetID,
			propText:          r.Text,
			propAnnotatedAs:   annotatedAs,
			propPredictedAs:   predictedAs,
			propMetadataPairs: pairs,
			propAnnotated:     len(r.AnnotatedAs) > 0,
			propPredicted:     len(r.PredictedAs) > 0,
		},
	}
}

// Index implements Indexer. Records are upserted by dataset and record id;
// records without an id get a random one.
func (e *WeaviateEngine) Index(ctx context.Context, datasetID string, records []datatypes.Record) (int, error) {
	indexed := 0
	for i := 0; i < len(records); i += BatchSize {
		end := min(i+BatchSize, len(records))

		objects := make([]*models.Object, 0, end-i)
		for _, r := range records[i:end] {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			objects = append(objects, recordObject(e.className, datasetID, r))
		}

		result, err := e.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return indexed, fmt.Errorf("batch import failed: %w", err)
		}
		for _, obj := range result {
			if obj.Result != nil && obj.Result.Errors == nil {
				indexed++
			}
		}
		slog.Info("Indexed record batch", "dataset_id", datasetID, "count", len(objects), "total_indexed", indexed)
	}
	return indexed, nil
}

var (
	_ Searcher = (*WeaviateEngine)(nil)
	_ Indexer  = (*WeaviateEngine)(nil)
)
