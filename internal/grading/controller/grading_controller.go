// Package controller serves the worker's ops HTTP API.
package controller

import (
	"context"
	"strconv"
	"time"

	"instagrade/internal/grading/model"
	"instagrade/internal/grading/repository"
	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// GradingService is the part of service.JobService the controller calls.
type GradingService interface {
	Evaluation(ctx context.Context, submissionID int64) (*model.EvaluationSummary, error)
	RunScan(ctx context.Context, assignmentID int64, threshold float64) ([]model.SimilarityPair, error)
}

// Check is one named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// GradingController handles evaluation lookups, scan triggers and probes.
type GradingController struct {
	svc          GradingService
	scans        repository.ScanRequester
	checks       []Check
	checkTimeout time.Duration
}

// NewGradingController creates a controller. scans may be nil, in which case
// every scan runs inline.
func NewGradingController(svc GradingService, scans repository.ScanRequester, checks ...Check) *GradingController {
	return &GradingController{svc: svc, scans: scans, checks: checks, checkTimeout: 2 * time.Second}
}

// Register mounts the routes on r.
func (h *GradingController) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	api := r.Group("/api/v1/grading")
	api.GET("/evaluations/:id", h.GetEvaluation)
	api.POST("/assignments/:id/scan", h.TriggerScan)
}

func (h *GradingController) Healthz(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// Readyz runs every check and fails on the first error.
func (h *GradingController) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.checkTimeout)
	defer cancel()
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			response.Error(c, appErr.Wrapf(err, appErr.ServiceUnavailable, "%s not ready", check.Name))
			return
		}
	}
	response.Success(c, gin.H{"status": "ready"})
}

// GetEvaluation returns the latest summary of a submission.
func (h *GradingController) GetEvaluation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	summary, err := h.svc.Evaluation(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if summary == nil {
		response.Error(c, appErr.Newf(appErr.NotFound, "submission %d has not been graded", id))
		return
	}
	response.Success(c, summary)
}

type scanRequest struct {
	Threshold float64 `json:"threshold"`
	Async     bool    `json:"async"`
}

type scanResponse struct {
	AssignmentID int64                  `json:"assignment_id"`
	Threshold    float64                `json:"threshold,omitempty"`
	Flagged      []model.SimilarityPair `json:"flagged"`
}

// TriggerScan scans an assignment. With async set the scan is queued instead.
func (h *GradingController) TriggerScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req scanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid scan request")
			return
		}
	}
	if req.Async && h.scans != nil {
		if err := h.scans.RequestScan(c.Request.Context(), model.ScanJob{AssignmentID: id, Threshold: req.Threshold}); err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, gin.H{"assignment_id": id})
		return
	}
	pairs, err := h.svc.RunScan(c.Request.Context(), id, req.Threshold)
	if err != nil {
		response.Error(c, err)
		return
	}
	if pairs == nil {
		pairs = []model.SimilarityPair{}
	}
	response.Success(c, scanResponse{AssignmentID: id, Threshold: req.Threshold, Flagged: pairs})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid id")
		return 0, false
	}
	return id, true
}
