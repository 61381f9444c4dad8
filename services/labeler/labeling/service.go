// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package labeling implements labeling rule management and rule metrics for
// text classification datasets.
//
// # Description
//
// Service is the only writer of dataset rules. Rules are identified by
// their trimmed query and persisted by updating the owning dataset through a
// DatasetRepository. Metrics are computed on demand against a
// search.Searcher and never stored.
//
// # Thread Safety
//
// Service holds no mutable state and is safe for concurrent use. Two
// concurrent rule writes on the same dataset are arbitrated by the
// repository (see storage.ErrConflict); the service does not retry.
package labeling

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/aggregation"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/filters"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/observability"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/rulemetrics"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/search"
)

var tracer = otel.Tracer("labeler.labeling")

// Operation names used for spans and metrics.
const (
	OpListRules            = "list_rules"
	OpAddRule              = "add_rule"
	OpDeleteRule           = "delete_rule"
	OpReplaceRule          = "replace_rule"
	OpFindRule             = "find_rule"
	OpComputeRuleMetrics   = "compute_rule_metrics"
	OpRuleMetricsBreakdown = "rule_metrics_breakdown"
	OpAllRulesMetrics      = "all_rules_metrics"
)

const annotatedCountMetric = "annotated_count"

// DatasetRepository loads and persists datasets.
type DatasetRepository interface {
	FindByID(ctx context.Context, id string) (*datatypes.Dataset, error)
	Update(ctx context.Context, ds *datatypes.Dataset) error
}

// Service manages labeling rules.
type Service struct {
	repo     DatasetRepository
	searcher search.Searcher
	metrics  *observability.LabelingMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records operation and search metrics in m.
func WithMetrics(m *observability.LabelingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now for rule creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a service persisting through repo and computing
// metrics with searcher.
func NewService(repo DatasetRepository, searcher search.Searcher, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		searcher: searcher,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RuleMetrics is the full result of a single rule metric computation.
type RuleMetrics struct {
	TotalRecords     int64                               `json:"total_records"`
	AnnotatedRecords int64                               `json:"annotated_records"`
	Summary          datatypes.LabelingRuleSummary       `json:"summary"`
	Labels           map[string]rulemetrics.LabelMetrics `json:"labels,omitempty"`
}

// =============================================================================
// Rule CRUD
// =============================================================================

// ListRules returns the rules of a text classification dataset.
func (s *Service) ListRules(ctx context.Context, ref datatypes.DatasetRef) (rules []datatypes.LabelingRule, err error) {
	ctx, span := s.start(ctx, OpListRules, ref)
	defer func() { s.finish(span, OpListRules, err) }()

	ds, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(ds.Rules) == 0 {
		return []datatypes.LabelingRule{}, nil
	}
	return slices.Clone(ds.Rules), nil
}

// AddRule appends a rule to a dataset.
//
// # Description
//
// The query is trimmed and the rule validated before the dataset is loaded.
// CreatedAt is stamped when zero.
//
// # Outputs
//
//   - datatypes.LabelingRule: The stored rule.
//   - error: datatypes.ErrInvalidRule, *NotFoundError, *AlreadyExistsError
//     or a repository error.
func (s *Service) AddRule(ctx context.Context, ref datatypes.DatasetRef, rule datatypes.LabelingRule) (_ datatypes.LabelingRule, err error) {
	ctx, span := s.start(ctx, OpAddRule, ref)
	defer func() { s.finish(span, OpAddRule, err) }()

	rule = rule.Normalized()
	if err := rule.Validate(); err != nil {
		return datatypes.LabelingRule{}, err
	}

	ds, err := s.load(ctx, ref)
	if err != nil {
		return datatypes.LabelingRule{}, err
	}
	if ds.RuleIndex(rule.Query) >= 0 {
		return datatypes.LabelingRule{}, &AlreadyExistsError{Kind: "rule", Key: rule.Query}
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = s.now().UTC()
	}
	ds.Rules = append(ds.Rules, rule)
	if err := s.repo.Update(ctx, ds.Dataset); err != nil {
		return datatypes.LabelingRule{}, err
	}

	s.logger.Info("Added labeling rule", "dataset", ref.Name, "query", rule.Query, "labels", rule.Labels)
	return rule, nil
}

// DeleteRule removes every rule whose trimmed query equals query. The
// dataset is written only when something was removed.
func (s *Service) DeleteRule(ctx context.Context, ref datatypes.DatasetRef, query string) (err error) {
	ctx, span := s.start(ctx, OpDeleteRule, ref)
	defer func() { s.finish(span, OpDeleteRule, err) }()

	query = strings.TrimSpace(query)
	ds, err := s.load(ctx, ref)
	if err != nil {
		return err
	}

	kept := slices.DeleteFunc(slices.Clone(ds.Rules), func(r datatypes.LabelingRule) bool {
		return strings.TrimSpace(r.Query) == query
	})
	if len(kept) == len(ds.Rules) {
		return nil
	}

	ds.Rules = kept
	if err := s.repo.Update(ctx, ds.Dataset); err != nil {
		return err
	}
	s.logger.Info("Deleted labeling rule", "dataset", ref.Name, "query", query)
	return nil
}

// ReplaceRule overwrites the first rule with the same trimmed query. An
// unknown query leaves the rules untouched, but the dataset is still
// written.
func (s *Service) ReplaceRule(ctx context.Context, ref datatypes.DatasetRef, rule datatypes.LabelingRule) (err error) {
	ctx, span := s.start(ctx, OpReplaceRule, ref)
	defer func() { s.finish(span, OpReplaceRule, err) }()

	rule = rule.Normalized()
	if err := rule.Validate(); err != nil {
		return err
	}

	ds, err := s.load(ctx, ref)
	if err != nil {
		return err
	}

	if idx := ds.RuleIndex(rule.Query); idx >= 0 {
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = ds.Rules[idx].CreatedAt
		}
		ds.Rules[idx] = rule
	}
	return s.repo.Update(ctx, ds.Dataset)
}

// FindRuleByQuery returns the rule with the given trimmed query.
func (s *Service) FindRuleByQuery(ctx context.Context, ref datatypes.DatasetRef, query string) (_ datatypes.LabelingRule, err error) {
	ctx, span := s.start(ctx, OpFindRule, ref)
	defer func() { s.finish(span, OpFindRule, err) }()

	query = strings.TrimSpace(query)
	ds, err := s.load(ctx, ref)
	if err != nil {
		return datatypes.LabelingRule{}, err
	}
	idx := ds.RuleIndex(query)
	if idx < 0 {
		return datatypes.LabelingRule{}, &NotFoundError{Kind: "rule", Key: query}
	}
	return ds.Rules[idx], nil
}

// =============================================================================
// Metrics
// =============================================================================

// ComputeRuleMetrics evaluates query against the dataset records.
//
// # Description
//
// Runs two size-0 searches concurrently: one counting annotated records and
// one executing the rule aggregation. The rule does not need to be saved
// and the dataset is not loaded.
//
// # Outputs
//
//   - total: Records in the dataset.
//   - annotated: Annotated records in the dataset.
//   - datatypes.LabelingRuleSummary: Coverage and, when labels were given,
//     correctness and precision.
//   - error: rulemetrics.ErrReservedLabel or rulemetrics.ErrInvalidLabel,
//     the first search error unchanged,
//     or rulemetrics.ErrMalformedResult.
func (s *Service) ComputeRuleMetrics(ctx context.Context, ref datatypes.DatasetRef, query string, labels []string) (total, annotated int64, _ datatypes.LabelingRuleSummary, err error) {
	ctx, span := s.start(ctx, OpComputeRuleMetrics, ref)
	defer func() { s.finish(span, OpComputeRuleMetrics, err) }()

	m, err := s.ruleMetrics(ctx, ref, query, labels)
	if err != nil {
		return 0, 0, datatypes.LabelingRuleSummary{}, err
	}
	return m.TotalRecords, m.AnnotatedRecords, m.Summary, nil
}

// RuleMetricsBreakdown is ComputeRuleMetrics plus the per-label breakdown.
func (s *Service) RuleMetricsBreakdown(ctx context.Context, ref datatypes.DatasetRef, query string, labels []string) (_ *RuleMetrics, err error) {
	ctx, span := s.start(ctx, OpRuleMetricsBreakdown, ref)
	defer func() { s.finish(span, OpRuleMetricsBreakdown, err) }()

	return s.ruleMetrics(ctx, ref, query, labels)
}

func (s *Service) ruleMetrics(ctx context.Context, ref datatypes.DatasetRef, query string, labels []string) (*RuleMetrics, error) {
	metric := rulemetrics.RuleMetric{}
	aggs, err := metric.Request(strings.TrimSpace(query), labels)
	if err != nil {
		return nil, err
	}

	total, annotated, tree, err := s.searchWithAnnotated(ctx, ref.ID, metric.ID(), aggs)
	if err != nil {
		return nil, err
	}
	result, err := metric.Result(tree)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Computed rule metrics",
		"dataset", ref.Name,
		"query", query,
		"covered", result.CoveredRecords,
		"total", total)
	return &RuleMetrics{
		TotalRecords:     total,
		AnnotatedRecords: annotated,
		Summary:          result.RuleSummary(),
		Labels:           result.Labels,
	}, nil
}

// AllRulesMetrics computes the coverage of the union of all dataset rules.
func (s *Service) AllRulesMetrics(ctx context.Context, ref datatypes.DatasetRef) (total, annotated int64, _ datatypes.DatasetLabelingRulesSummary, err error) {
	ctx, span := s.start(ctx, OpAllRulesMetrics, ref)
	defer func() { s.finish(span, OpAllRulesMetrics, err) }()

	ds, err := s.load(ctx, ref)
	if err != nil {
		return 0, 0, datatypes.DatasetLabelingRulesSummary{}, err
	}

	metric := rulemetrics.DatasetRulesMetric{}
	span.SetAttributes(attribute.Int("labeling.rules", len(ds.Rules)))
	s.metrics.AddRulesEvaluated(len(ds.Rules))

	total, annotated, tree, err := s.searchWithAnnotated(ctx, ds.ID, metric.ID(), metric.Request(ds.Rules))
	if err != nil {
		return 0, 0, datatypes.DatasetLabelingRulesSummary{}, err
	}
	result, err := metric.Result(tree)
	if err != nil {
		return 0, 0, datatypes.DatasetLabelingRulesSummary{}, err
	}
	return total, annotated, result.DatasetSummary(), nil
}

// searchWithAnnotated runs the annotated count search and the aggregation
// search in parallel.
func (s *Service) searchWithAnnotated(ctx context.Context, datasetID, metricID string, aggs aggregation.Request) (total, annotated int64, tree aggregation.Tree, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.search(gctx, datasetID, annotatedCountMetric, search.Request{Query: filters.Annotated()})
		if err != nil {
			return err
		}
		annotated = res.Total
		return nil
	})
	g.Go(func() error {
		res, err := s.search(gctx, datasetID, metricID, search.Request{Aggregations: aggs})
		if err != nil {
			return err
		}
		total = res.Total
		tree = res.Aggregations
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, 0, nil, err
	}
	return total, annotated, tree, nil
}

func (s *Service) search(ctx context.Context, datasetID, metric string, req search.Request) (*search.Result, error) {
	start := time.Now()
	res, err := s.searcher.Search(ctx, datasetID, req)
	s.metrics.ObserveSearch(metric, time.Since(start))
	return res, err
}

// =============================================================================
// Helpers
// =============================================================================

// load resolves ref to a text classification dataset. A dataset of another
// task is reported as not found.
func (s *Service) load(ctx context.Context, ref datatypes.DatasetRef) (*datatypes.TextClassificationDataset, error) {
	key := ref.Name
	if key == "" {
		key = ref.ID
	}

	ds, err := s.repo.FindByID(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "dataset", Key: key, Err: err}
		}
		return nil, err
	}
	tc, err := ds.AsTextClassification()
	if err != nil {
		return nil, &NotFoundError{Kind: "dataset", Key: key, Err: err}
	}
	return tc, nil
}

func (s *Service) start(ctx context.Context, op string, ref datatypes.DatasetRef) (context.Context, trace.Span) {
	return tracer.Start(ctx, "labeling."+op,
		trace.WithAttributes(
			attribute.String("dataset.id", ref.ID),
			attribute.String("dataset.name", ref.Name),
		),
	)
}

func (s *Service) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.metrics.RecordOperation(op, err)
}
