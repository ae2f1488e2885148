package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"launchforge/internal/deploy"
	"launchforge/internal/platform"
)

type deployRequest struct {
	ProjectID uint   `json:"project_id" binding:"required"`
	Platform  string `json:"platform" binding:"required"`
}

type fixRequest struct {
	ProjectID uint   `json:"project_id" binding:"required"`
	Platform  string `json:"platform" binding:"required"`
	Error     string `json:"error" binding:"required"`
}

// Deploy runs the full deployment pipeline for a project.
func (h *Handler) Deploy(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	p, err := platform.Parse(req.Platform)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "UNSUPPORTED_PLATFORM")
		return
	}

	result, err := h.Orchestrator.Deploy(c.Request.Context(), deploy.Request{
		UserID:    userID,
		ProjectID: req.ProjectID,
		Platform:  p,
	})
	if !h.handlePipelineError(c, err) {
		return
	}

	// Pipeline outcomes, including failures, are 200s: the request itself
	// succeeded and the body carries the result.
	c.JSON(http.StatusOK, result)
}

// Fix applies remediation for an externally observed failure without
// redeploying.
func (h *Handler) Fix(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	p, err := platform.Parse(req.Platform)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "UNSUPPORTED_PLATFORM")
		return
	}

	result, err := h.Orchestrator.Fix(c.Request.Context(), deploy.FixRequest{
		UserID:    userID,
		ProjectID: req.ProjectID,
		Platform:  p,
		Failure:   req.Error,
	})
	if !h.handlePipelineError(c, err) {
		return
	}

	c.JSON(http.StatusOK, result)
}

// DeploymentLogs returns the ordered audit trail for a project.
func (h *Handler) DeploymentLogs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := h.Orchestrator.Log(c.Request.Context(), userID, projectID)
	if !h.handlePipelineError(c, err) {
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: entries})
}

// handlePipelineError maps precondition errors to HTTP statuses. Returns
// false when a response has already been written.
func (h *Handler) handlePipelineError(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}

	var missing *deploy.CredentialsMissingError
	switch {
	case errors.Is(err, deploy.ErrProjectNotFound):
		fail(c, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
	case errors.As(err, &missing):
		fail(c, http.StatusPreconditionFailed, missing.Error(), "CREDENTIALS_MISSING")
	default:
		fail(c, http.StatusInternalServerError, err.Error(), "DEPLOYMENT_ERROR")
	}
	return false
}
