// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/handlers"
)

// SetupRoutes registers the health, metrics and labeling rule endpoints.
//
// A nil gatherer exposes prometheus.DefaultGatherer at /metrics.
func SetupRoutes(router *gin.Engine, datasets handlers.DatasetFinder, svc handlers.RuleService, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		rules := v1.Group("/datasets/:name/labeling/rules")
		{
			rules.GET("", handlers.ListRules(datasets, svc))
			rules.POST("", handlers.CreateRule(datasets, svc))
			rules.GET("/metrics", handlers.AllRulesMetrics(datasets, svc))
			rules.GET("/:query", handlers.GetRule(datasets, svc))
			rules.PATCH("/:query", handlers.UpdateRule(datasets, svc))
			rules.DELETE("/:query", handlers.DeleteRule(datasets, svc))
			rules.GET("/:query/metrics", handlers.RuleMetrics(datasets, svc))
		}
	}
}
