// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the labeling rule HTTP endpoints.
//
// Every handler is a closure over its dependencies returning a
// gin.HandlerFunc. The dataset is named by the :name path parameter and the
// rule by the :query path parameter.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/labeling"
)

// DatasetFinder resolves a dataset name from the URL.
type DatasetFinder interface {
	FindByName(ctx context.Context, name string) (*datatypes.Dataset, error)
}

// RuleService is the labeling service as used by the handlers.
type RuleService interface {
	ListRules(ctx context.Context, ref datatypes.DatasetRef) ([]datatypes.LabelingRule, error)
	AddRule(ctx context.Context, ref datatypes.DatasetRef, rule datatypes.LabelingRule) (datatypes.LabelingRule, error)
	DeleteRule(ctx context.Context, ref datatypes.DatasetRef, query string) error
	ReplaceRule(ctx context.Context, ref datatypes.DatasetRef, rule datatypes.LabelingRule) error
	FindRuleByQuery(ctx context.Context, ref datatypes.DatasetRef, query string) (datatypes.LabelingRule, error)
	RuleMetricsBreakdown(ctx context.Context, ref datatypes.DatasetRef, query string, labels []string) (*labeling.RuleMetrics, error)
	AllRulesMetrics(ctx context.Context, ref datatypes.DatasetRef) (total, annotated int64, summary datatypes.DatasetLabelingRulesSummary, err error)
}

var _ RuleService = (*labeling.Service)(nil)

// CreateRuleRequest is the body of POST .../labeling/rules.
type CreateRuleRequest struct {
	Query       string         `json:"query" binding:"required"`
	Labels      []string       `json:"labels"`
	Description string         `json:"description"`
	Author      string         `json:"author"`
	Metadata    map[string]any `json:"metadata"`
}

// UpdateRuleRequest is the body of PATCH .../labeling/rules/:query. Absent
// fields keep their stored value.
type UpdateRuleRequest struct {
	Labels      *[]string `json:"labels"`
	Description *string   `json:"description"`
}

// RuleMetricsResponse is the reply of the single rule metrics endpoint.
type RuleMetricsResponse struct {
	Coverage          *float64                      `json:"coverage,omitempty"`
	CoverageAnnotated *float64                      `json:"coverage_annotated,omitempty"`
	Correct           int64                         `json:"correct"`
	Incorrect         int64                         `json:"incorrect"`
	Precision         *float64                      `json:"precision,omitempty"`
	TotalRecords      int64                         `json:"total_records"`
	AnnotatedRecords  int64                         `json:"annotated_records"`
	Summary           datatypes.LabelingRuleSummary `json:"summary"`
	Labels            map[string]labelMetricsBody   `json:"labels,omitempty"`
}

type labelMetricsBody struct {
	Correct   int64    `json:"correct"`
	Incorrect int64    `json:"incorrect"`
	Annotated int64    `json:"annotated"`
	Precision *float64 `json:"precision,omitempty"`
}

// DatasetRulesMetricsResponse is the reply of the all rules metrics endpoint.
type DatasetRulesMetricsResponse struct {
	Coverage          *float64                              `json:"coverage,omitempty"`
	CoverageAnnotated *float64                              `json:"coverage_annotated,omitempty"`
	TotalRecords      int64                                 `json:"total_records"`
	AnnotatedRecords  int64                                 `json:"annotated_records"`
	Summary           datatypes.DatasetLabelingRulesSummary `json:"summary"`
}

// fraction returns num/den, or nil when den is 0.
func fraction(num, den int64) *float64 {
	if den <= 0 {
		return nil
	}
	f := float64(num) / float64(den)
	return &f
}

// resolve loads the dataset named in the path. It writes the error reply
// and returns false on failure.
func resolve(c *gin.Context, datasets DatasetFinder) (datatypes.DatasetRef, bool) {
	name := c.Param("name")
	ds, err := datasets.FindByName(c.Request.Context(), name)
	if err != nil {
		writeError(c, "failed to load dataset", err)
		return datatypes.DatasetRef{}, false
	}
	return ds.Ref(), true
}

// ListRules handles GET /v1/datasets/:name/labeling/rules.
func ListRules(datasets DatasetFinder, svc RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := resolve(c, datasets)
		if !ok {
			return
		}
		rules, err := svc.ListRules(c.Request.Context(), ref)
		if err != nil {
			writeError(c, "failed to list rules", err)
			return
		}
		c.JSON(http.StatusOK, rules)
	}
}

// CreateRule handles POST /v1/datasets/:name/labeling/rules.
func CreateRule(datasets DatasetFinder, svc RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		ref, ok := resolve(c, datasets)
		if !ok {
			return
		}

		slog.Info("Received request to add a labeling rule", "dataset", ref.Name, "query", req.Query)
		rule, err := svc.AddRule(c.Request.Context(), ref, datatypes.LabelingRule{
			Query:       req.Query,
			Labels:      req.Labels,
			Description: req.Description,
			Author:      req.Author,
			Metadata:    req.Metadata,
		})
		if err != nil {
			writeError(c, "failed to add rule", err)
			return
		}
		c.JSON(http.StatusCreated, rule)
	}
}

// GetRule handles GET /v1/datasets/:name/labeling/rules/:query.
func GetRule(datasets DatasetFinder, svc RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := resolve(c, datasets)
		if !ok {
			return
		}
		rule, err := svc.FindRuleByQuery(c.Request.Context(), ref, c.Param("query"))
		if err != nil {
			writeError(c, "failed to find rule", err)
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

// UpdateRule handles PATCH /v1/datasets/:name/labeling/rules/:query.
func UpdateRule(datasets DatasetFinder, svc RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		ref, ok := resolve(c, datasets)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		rule, err := svc.FindRuleByQuery(ctx, ref, c.Param("query"))
		if err != nil {
			writeError(c, "failed to find rule", err)
			return
		}
		if req.Labels != nil {
			rule.Labels = *req.Labels
		}
		if req.Description != nil {
			rule.Description = *req.Description
		}

		slog.Info("Received request to update a labeling rule", "dataset", ref.Name, "query", rule.Query)
		if err := svc.ReplaceRule(ctx, ref, rule); err != nil {
			writeError(c, "failed to update rule", err)
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

// DeleteRule handles DELETE /v1/datasets/:name/labeling/rules/:query.
func DeleteRule(datasets DatasetFinder, svc RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := resolve(c, datasets)
		if !ok {
			return
		}
		query := c.Param("query")
		slog.Info("Received request to delete a labeling rule", "dataset", ref.Name, "query", query)
		if err := svc.DeleteRule(c.Request.Context(), ref, query); err != nil {
			writeError(c, "failed to delete rule", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_query": query})
	}
}

// RuleMetrics handles GET /v1/datasets/:name/labeling/rules/:query/metrics.
//
// Labels come from repeated ?label= parameters. Without any, the labels of
// the saved rule with that query are used; an unsaved query is evaluated
// for coverage only.
func RuleMetrics(datasets DatasetFinder, svc RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := resolve(c, datasets)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		query := c.Param("query")

		labels, given := c.GetQueryArray("label")
		if !given {
			rule, err := svc.FindRuleByQuery(ctx, ref, query)
			switch {
			case err == nil:
				labels = rule.Labels
			case !errors.Is(err, labeling.ErrNotFound):
				writeError(c, "failed to find rule", err)
				return
			}
		}

		m, err := svc.RuleMetricsBreakdown(ctx, ref, query, labels)
		if err != nil {
			writeError(c, "failed to compute rule metrics", err)
			return
		}

		resp := RuleMetricsResponse{
			Coverage:          fraction(m.Summary.CoveredRecords, m.TotalRecords),
			CoverageAnnotated: fraction(m.Summary.AnnotatedCoveredRecords, m.AnnotatedRecords),
			Correct:           m.Summary.CorrectRecords,
			Incorrect:         m.Summary.IncorrectRecords,
			Precision:         m.Summary.Precision,
			TotalRecords:      m.TotalRecords,
			AnnotatedRecords:  m.AnnotatedRecords,
			Summary:           m.Summary,
		}
		if len(m.Labels) > 0 {
			resp.Labels = make(map[string]labelMetricsBody, len(m.Labels))
			for label, lm := range m.Labels {
				resp.Labels[label] = labelMetricsBody{
					Correct:   lm.CorrectRecords,
					Incorrect: lm.IncorrectRecords,
					Annotated: lm.Annotated,
					Precision: lm.Precision,
				}
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// AllRulesMetrics handles GET /v1/datasets/:name/labeling/rules/metrics.
func AllRulesMetrics(datasets DatasetFinder, svc RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := resolve(c, datasets)
		if !ok {
			return
		}
		total, annotated, summary, err := svc.AllRulesMetrics(c.Request.Context(), ref)
		if err != nil {
			writeError(c, "failed to compute dataset rule metrics", err)
			return
		}
		c.JSON(http.StatusOK, DatasetRulesMetricsResponse{
			Coverage:          fraction(summary.CoveredRecords, total),
			CoverageAnnotated: fraction(summary.AnnotatedCoveredRecords, annotated),
			TotalRecords:      total,
			AnnotatedRecords:  annotated,
			Summary:           summary,
		})
	}
}
