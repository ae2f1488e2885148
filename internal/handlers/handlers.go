// Package handlers exposes the REST surface: auth, project and task CRUD,
// credentials, file browsing, and the deployment pipeline endpoints.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"launchforge/internal/auth"
	"launchforge/internal/deploy"
	"launchforge/internal/middleware"
	"launchforge/internal/store"
	"launchforge/internal/tasks"
	"launchforge/pkg/models"
)

// Handler carries the dependencies shared by all endpoints.
type Handler struct {
	DB           *gorm.DB
	AuthService  *auth.Service
	Orchestrator *deploy.Orchestrator
	Tasks        *tasks.Engine
	NewStore     func(token, owner, repo string) store.FileStore
}

// NewHandler creates a handler instance.
func NewHandler(db *gorm.DB, authService *auth.Service, orch *deploy.Orchestrator, engine *tasks.Engine) *Handler {
	return &Handler{
		DB:           db,
		AuthService:  authService,
		Orchestrator: orch,
		Tasks:        engine,
		NewStore: func(token, owner, repo string) store.FileStore {
			return store.NewGitHub(token, owner, repo)
		},
	}
}

// StandardResponse is the common API envelope.
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func fail(c *gin.Context, status int, err, code string) {
	c.JSON(status, StandardResponse{Success: false, Error: err, Code: code})
}

// currentUser resolves the identity stored by the auth middleware.
func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "user not authenticated", "NOT_AUTHENTICATED")
	}
	return userID, ok
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "invalid "+name, "INVALID_ID")
		return 0, false
	}
	return uint(id), true
}

// Register handles user registration.
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request format", "INVALID_REQUEST")
		return
	}

	user, err := h.AuthService.Register(&req)
	if errors.Is(err, auth.ErrUserExists) {
		fail(c, http.StatusConflict, "user with this email or username already exists", "USER_EXISTS")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to create user", "DATABASE_ERROR")
		return
	}

	token, err := h.AuthService.GenerateToken(user)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to generate token", "TOKEN_GENERATION_FAILED")
		return
	}

	c.JSON(http.StatusCreated, StandardResponse{
		Success: true,
		Data:    gin.H{"user": user, "token": token},
	})
}

// Login handles credential verification and token issuance.
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request format", "INVALID_REQUEST")
		return
	}

	token, user, err := h.AuthService.Login(&req)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "invalid email or password", "INVALID_CREDENTIALS")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "login failed", "DATABASE_ERROR")
		return
	}

	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data:    gin.H{"user": user, "token": token},
	})
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		fail(c, http.StatusNotFound, "user not found", "USER_NOT_FOUND")
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: user})
}
