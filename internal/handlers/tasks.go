package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"launchforge/internal/tasks"
	"launchforge/pkg/models"
)

type createTaskRequest struct {
	Title       string   `json:"title" binding:"required,min=1,max=200"`
	Description string   `json:"description" binding:"max=2000"`
	Priority    string   `json:"priority" binding:"omitempty,oneof=low medium high"`
	Type        string   `json:"type" binding:"omitempty,oneof=ai-generated manual"`
	FilePaths   []string `json:"file_paths"`
	ParentID    *uint    `json:"parent_id"`
}

type runTasksRequest struct {
	ProjectID uint   `json:"project_id" binding:"required"`
	Action    string `json:"action" binding:"required,oneof=implement implement_all"`
	TaskID    uint   `json:"task_id"`
}

// CreateTask adds a development task to a project the caller owns.
func (h *Handler) CreateTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req createTaskRequest
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

	task := models.Task{
		ProjectID:   projectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskPending,
		Priority:    req.Priority,
		Type:        req.Type,
		FilePaths:   req.FilePaths,
		ParentID:    req.ParentID,
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	if task.Type == "" {
		task.Type = models.TaskTypeManual
	}
	if err := h.DB.Create(&task).Error; err != nil {
		fail(c, http.StatusInternalServerError, "failed to create task", "DATABASE_ERROR")
		return
	}

	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: task})
}

// GetTasks lists a project's tasks.
func (h *Handler) GetTasks(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
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

	var list []models.Task
	if err := h.DB.Where("project_id = ?", projectID).Order("id").Find(&list).Error; err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch tasks", "DATABASE_ERROR")
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: list})
}

// RunTasks executes one task or every pending task of a project.
func (h *Handler) RunTasks(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req runTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case "implement":
		if req.TaskID == 0 {
			fail(c, http.StatusBadRequest, "task_id is required for implement", "INVALID_REQUEST")
			return
		}
		outcome, err := h.Tasks.Implement(ctx, userID, req.ProjectID, req.TaskID)
		if !h.handleTaskError(c, err) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "results": []tasks.Outcome{*outcome}})

	case "implement_all":
		outcomes, err := h.Tasks.ImplementAll(ctx, userID, req.ProjectID)
		if !h.handleTaskError(c, err) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "results": outcomes})
	}
}

func (h *Handler) handleTaskError(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}

	var missing *tasks.CredentialsMissingError
	switch {
	case errors.Is(err, tasks.ErrProjectNotFound):
		fail(c, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
	case errors.Is(err, tasks.ErrTaskNotFound):
		fail(c, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
	case errors.Is(err, tasks.ErrTaskNotRunnable):
		fail(c, http.StatusConflict, err.Error(), "TASK_NOT_RUNNABLE")
	case errors.As(err, &missing):
		fail(c, http.StatusPreconditionFailed, missing.Error(), "CREDENTIALS_MISSING")
	default:
		fail(c, http.StatusInternalServerError, err.Error(), "TASK_ERROR")
	}
	return false
}
