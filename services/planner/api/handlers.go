// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/consolidation"
	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
)

// Planner is the planning surface served over HTTP.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*model.Plan, error)
	TrackExecutionByID(ctx context.Context, outcome model.ExecutionOutcome) (planner.TrackResult, error)
	Stats() planner.Stats
}

// Patterns is the pattern administration surface.
type Patterns interface {
	List(ctx context.Context) ([]*patterns.Pattern, error)
	Get(ctx context.Context, id string) (*patterns.Pattern, error)
	Delete(ctx context.Context, id string) error
	BreakerStats() patterns.BreakerStats
}

// Consolidator runs consolidation on demand.
type Consolidator interface {
	RunOnce(ctx context.Context) (patterns.Report, error)
	Status() consolidation.Status
}

var (
	_ Planner      = (*planner.Planner)(nil)
	_ Patterns     = (*patterns.Store)(nil)
	_ Consolidator = (*consolidation.Runner)(nil)
)

// Service bundles the handler dependencies. Consolidator and Extra are
// optional.
type Service struct {
	Planner      Planner
	Patterns     Patterns
	Consolidator Consolidator

	// Extra adds named sections to the stats response.
	Extra func() map[string]any
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Planner       planner.Stats         `json:"planner"`
	Store         patterns.BreakerStats `json:"store"`
	Consolidation *consolidation.Status `json:"consolidation,omitempty"`
	Extra         map[string]any        `json:"extra,omitempty"`
}

// HandlePlan answers POST /v1/plans with a plan for the request body.
func HandlePlan(p Planner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req planner.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		plan, err := p.Plan(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// HandleOutcome answers POST /v1/plans/:planId/outcome. The plan ID in the
// path wins over one in the body.
func HandleOutcome(p Planner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var outcome model.ExecutionOutcome
		if err := c.ShouldBindJSON(&outcome); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outcome body", "details": err.Error()})
			return
		}
		outcome.PlanID = c.Param("planId")
		res, err := p.TrackExecutionByID(c.Request.Context(), outcome)
		if err != nil {
			writeError(c, err)
			return
		}
		body := gin.H{"result": res}
		if res.Warning != nil {
			body["warning"] = res.Warning.Error()
		}
		c.JSON(http.StatusOK, body)
	}
}

// HandleStats answers GET /v1/stats.
func HandleStats(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := StatsResponse{Planner: svc.Planner.Stats()}
		if svc.Patterns != nil {
			resp.Store = svc.Patterns.BreakerStats()
		}
		if svc.Consolidator != nil {
			st := svc.Consolidator.Status()
			resp.Consolidation = &st
		}
		if svc.Extra != nil {
			resp.Extra = svc.Extra()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ListPatterns answers GET /v1/patterns.
func ListPatterns(store Patterns) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := store.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"patterns": list, "count": len(list)})
	}
}

// GetPattern answers GET /v1/patterns/:patternId.
func GetPattern(store Patterns) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := store.Get(c.Request.Context(), c.Param("patternId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// DeletePattern answers DELETE /v1/patterns/:patternId.
func DeletePattern(store Patterns) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("patternId")
		if err := store.Delete(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_pattern_id": id})
	}
}

// HandleConsolidate answers POST /v1/consolidate with the run's report.
func HandleConsolidate(r Consolidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := r.RunOnce(c.Request.Context())
		if err != nil {
			if errors.Is(err, consolidation.ErrRunInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, planner.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidOutcome),
		errors.Is(err, model.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, planner.ErrUnknownPlan), errors.Is(err, patterns.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, planner.ErrNoPlanFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, planner.ErrPlanningTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, patterns.ErrStoreUnavailable), errors.Is(err, planner.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
