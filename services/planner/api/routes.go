// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the planner over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

// NewRouter returns a router with tracing middleware and every route
// registered. serviceName labels the server spans.
func NewRouter(serviceName string, svc Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	SetupRoutes(router, svc)
	return router
}

// SetupRoutes registers the planner routes on router.
func SetupRoutes(router *gin.Engine, svc Service) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/plans", HandlePlan(svc.Planner))
		v1.POST("/plans/:planId/outcome", HandleOutcome(svc.Planner))
		v1.GET("/stats", HandleStats(svc))

		pats := v1.Group("/patterns")
		{
			pats.GET("", ListPatterns(svc.Patterns))
			pats.GET("/:patternId", GetPattern(svc.Patterns))
			pats.DELETE("/:patternId", DeletePattern(svc.Patterns))
		}

		if svc.Consolidator != nil {
			v1.POST("/consolidate", HandleConsolidate(svc.Consolidator))
		}
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
