package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"launchforge/internal/store"
	"launchforge/pkg/models"
)

// ListFiles lists one directory of the project's repository. The reserved
// pipeline namespace is hidden from the listing.
func (h *Handler) ListFiles(c *gin.Context) {
	project, fs, ok := h.projectStore(c)
	if !ok {
		return
	}

	path := strings.Trim(c.Query("path"), "/")
	entries, err := fs.List(c.Request.Context(), path)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "path not found", "PATH_NOT_FOUND")
		return
	}
	if err != nil {
		fail(c, http.StatusBadGateway, "failed to list files", "STORE_ERROR")
		return
	}

	visible := make([]store.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Path == store.Namespace || strings.HasPrefix(e.Path, store.Namespace+"/") {
			continue
		}
		visible = append(visible, e)
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"path":       path,
		"entries":    visible,
	})
}

// GetFileContent returns one file's content and version token.
func (h *Handler) GetFileContent(c *gin.Context) {
	project, fs, ok := h.projectStore(c)
	if !ok {
		return
	}

	path := strings.Trim(c.Query("path"), "/")
	if path == "" {
		fail(c, http.StatusBadRequest, "path query parameter is required", "INVALID_REQUEST")
		return
	}
	if path == store.Namespace || strings.HasPrefix(path, store.Namespace+"/") {
		fail(c, http.StatusForbidden, "path is reserved", "RESERVED_PATH")
		return
	}

	content, version, err := fs.Read(c.Request.Context(), path)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
		return
	}
	if err != nil {
		fail(c, http.StatusBadGateway, "failed to read file", "STORE_ERROR")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"path":       path,
		"content":    content,
		"version":    version,
	})
}

// projectStore resolves the project and a file store bound to the caller's
// token for it.
func (h *Handler) projectStore(c *gin.Context) (*models.Project, store.FileStore, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return nil, nil, false
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return nil, nil, false
	}

	var project models.Project
	err := h.DB.Where("id = ? AND owner_id = ?", projectID, userID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
		return nil, nil, false
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch project", "DATABASE_ERROR")
		return nil, nil, false
	}

	var cred models.Credential
	err = h.DB.Where("user_id = ? AND service = ?", userID, models.ServiceGitHub).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && cred.Token == "") {
		fail(c, http.StatusPreconditionFailed, "missing github credentials", "CREDENTIALS_MISSING")
		return nil, nil, false
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch credentials", "DATABASE_ERROR")
		return nil, nil, false
	}

	return &project, h.NewStore(cred.Token, project.RepoOwner, project.RepoName), true
}
