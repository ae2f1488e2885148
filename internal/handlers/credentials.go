package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"launchforge/pkg/models"
)

type upsertCredentialRequest struct {
	Service string `json:"service" binding:"required,oneof=github vercel netlify render anthropic"`
	Token   string `json:"token" binding:"required"`
}

// credentialView exposes credential metadata without the token itself.
type credentialView struct {
	Service   string `json:"service"`
	Preview   string `json:"preview"`
	UpdatedAt string `json:"updated_at"`
}

// UpsertCredential stores or replaces the caller's token for one service.
func (h *Handler) UpsertCredential(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req upsertCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	cred := models.Credential{UserID: userID, Service: req.Service, Token: req.Token}
	err := h.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "service"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(&cred).Error
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to store credential", "DATABASE_ERROR")
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "credential stored"})
}

// ListCredentials returns which services have a stored token, with a masked
// preview. Full tokens never leave the server.
func (h *Handler) ListCredentials(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var creds []models.Credential
	if err := h.DB.Where("user_id = ?", userID).Order("service").Find(&creds).Error; err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch credentials", "DATABASE_ERROR")
		return
	}

	views := make([]credentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, credentialView{
			Service:   cred.Service,
			Preview:   maskToken(cred.Token),
			UpdatedAt: cred.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: views})
}

// DeleteCredential removes the caller's token for one service.
func (h *Handler) DeleteCredential(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	service := c.Param("service")

	result := h.DB.Where("user_id = ? AND service = ?", userID, service).Delete(&models.Credential{})
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		fail(c, http.StatusInternalServerError, "failed to delete credential", "DATABASE_ERROR")
		return
	}
	if result.RowsAffected == 0 {
		fail(c, http.StatusNotFound, "credential not found", "CREDENTIAL_NOT_FOUND")
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "credential deleted"})
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
