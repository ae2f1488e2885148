package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"launchforge/internal/middleware"
)

// SetupRouter builds the gin engine with all routes and middleware.
func SetupRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery())
	router.Use(middleware.RateLimit(middleware.NewIPRateLimiter(rate.Limit(20), 40)))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
		}

		protected := v1.Group("")
		protected.Use(middleware.RequireAuth(h.AuthService))
		{
			protected.GET("/me", h.Me)

			protected.GET("/projects", h.GetProjects)
			protected.POST("/projects", h.CreateProject)
			protected.GET("/projects/:id", h.GetProject)
			protected.PATCH("/projects/:id", h.UpdateProject)
			protected.DELETE("/projects/:id", h.DeleteProject)

			protected.GET("/projects/:id/files", h.ListFiles)
			protected.GET("/projects/:id/files/content", h.GetFileContent)
			protected.GET("/projects/:id/tasks", h.GetTasks)
			protected.POST("/projects/:id/tasks", h.CreateTask)
			protected.GET("/projects/:id/deployments", h.DeploymentLogs)

			protected.POST("/credentials", h.UpsertCredential)
			protected.GET("/credentials", h.ListCredentials)
			protected.DELETE("/credentials/:service", h.DeleteCredential)

			protected.POST("/deploy", h.Deploy)
			protected.POST("/deploy/fix", h.Fix)

			protected.POST("/tasks", h.RunTasks)
		}
	}

	return router
}
