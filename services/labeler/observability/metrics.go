// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the labeler.
//
// # Description
//
// Metrics cover the labeling service:
//   - Operation counters (by operation and status)
//   - Search latency histograms (by metric id)
//   - Rules evaluated by dataset-wide metric runs
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// A nil *LabelingMetrics is valid and records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "labeler"
	labelingSubsystem = "labeling"
)

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// LabelingMetrics holds the Prometheus collectors of the labeling service.
//
// # Fields
//
//   - OperationsTotal: Labels operation (list_rules, add_rule, ...) and
//     status (success, error).
//   - SearchDurationSeconds: Labels metric (labeling_rule,
//     dataset_labeling_rules, annotated_count).
//   - RulesEvaluatedTotal: Rules included in dataset-wide metric runs.
type LabelingMetrics struct {
	OperationsTotal       *prometheus.CounterVec
	SearchDurationSeconds *prometheus.HistogramVec
	RulesEvaluatedTotal   prometheus.Counter
}

// NewLabelingMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Target registerer. Pass prometheus.DefaultRegisterer in
//     production and prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if the collectors are already registered with reg.
func NewLabelingMetrics(reg prometheus.Registerer) *LabelingMetrics {
	factory := promauto.With(reg)
	return &LabelingMetrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelingSubsystem,
				Name:      "operations_total",
				Help:      "Total labeling service operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		SearchDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: labelingSubsystem,
				Name:      "search_duration_seconds",
				Help:      "Duration of record searches issued by the labeling service",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"metric"},
		),
		RulesEvaluatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelingSubsystem,
				Name:      "rules_evaluated_total",
				Help:      "Total rules evaluated by dataset-wide metric computations",
			},
		),
	}
}

// RecordOperation counts one finished operation.
func (m *LabelingMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveSearch records the duration of one search.
func (m *LabelingMetrics) ObserveSearch(metric string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDurationSeconds.WithLabelValues(metric).Observe(d.Seconds())
}

// AddRulesEvaluated adds n to the evaluated rules counter.
func (m *LabelingMetrics) AddRulesEvaluated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RulesEvaluatedTotal.Add(float64(n))
}
