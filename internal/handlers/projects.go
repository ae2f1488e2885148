package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"launchforge/pkg/models"
)

type createProjectRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"max=500"`
	Framework   string `json:"framework"`
	RepoOwner   string `json:"repo_owner" binding:"required"`
	RepoName    string `json:"repo_name" binding:"required"`
}

type updateProjectRequest struct {
	Name           *string `json:"name" binding:"omitempty,min=1,max=100"`
	Description    *string `json:"description" binding:"omitempty,max=500"`
	Framework      *string `json:"framework"`
	Status         *string `json:"status" binding:"omitempty,oneof=active paused completed"`
	AutonomousMode *bool   `json:"autonomous_mode"`
	AutoApprove    *bool   `json:"auto_approve"`
	QualityTier    *string `json:"quality_tier" binding:"omitempty,oneof=standard premium"`
}

// GetProjects lists the authenticated user's projects, newest first.
func (h *Handler) GetProjects(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, limit := paginationParams(c)

	var total int64
	h.DB.Model(&models.Project{}).Where("owner_id = ?", userID).Count(&total)

	var projects []models.Project
	err := h.DB.Where("owner_id = ?", userID).
		Order("updated_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&projects).Error
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch projects", "DATABASE_ERROR")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects": projects,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// GetProject returns one project with its tasks preloaded.
func (h *Handler) GetProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var project models.Project
	err := h.DB.Preload("Tasks").
		Where("id = ? AND owner_id = ?", projectID, userID).
		First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch project", "DATABASE_ERROR")
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: project})
}

// CreateProject registers a new project pointing at an existing repository.
func (h *Handler) CreateProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	project := models.Project{
		Name:        req.Name,
		Description: req.Description,
		Framework:   req.Framework,
		OwnerID:     userID,
		RepoOwner:   req.RepoOwner,
		RepoName:    req.RepoName,
		Status:      models.ProjectActive,
	}
	if err := h.DB.Create(&project).Error; err != nil {
		fail(c, http.StatusInternalServerError, "failed to create project", "DATABASE_ERROR")
		return
	}

	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: project})
}

// UpdateProject applies a partial update. Deployment fields are owned by
// the pipeline and cannot be set here.
func (h *Handler) UpdateProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	var project models.Project
	err := h.DB.Where("id = ? AND owner_id = ?", projectID, userID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch project", "DATABASE_ERROR")
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Framework != nil {
		updates["framework"] = *req.Framework
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.AutonomousMode != nil {
		updates["autonomous_mode"] = *req.AutonomousMode
	}
	if req.AutoApprove != nil {
		updates["auto_approve"] = *req.AutoApprove
	}
	if req.QualityTier != nil {
		updates["quality_tier"] = *req.QualityTier
	}

	if len(updates) > 0 {
		if err := h.DB.Model(&project).Updates(updates).Error; err != nil {
			fail(c, http.StatusInternalServerError, "failed to update project", "DATABASE_ERROR")
			return
		}
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: project})
}

// DeleteProject soft-deletes a project and its tasks.
func (h *Handler) DeleteProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result := h.DB.Where("id = ? AND owner_id = ?", projectID, userID).Delete(&models.Project{})
	if result.Error != nil {
		fail(c, http.StatusInternalServerError, "failed to delete project", "DATABASE_ERROR")
		return
	}
	if result.RowsAffected == 0 {
		fail(c, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
		return
	}
	h.DB.Where("project_id = ?", projectID).Delete(&models.Task{})

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "project deleted"})
}

func paginationParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
