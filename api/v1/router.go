package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/siwaht/EchoSenseiX-sub003/api/v1/admin_tasks"
	"github.com/siwaht/EchoSenseiX-sub003/api/v1/approval_webhooks"
	"github.com/siwaht/EchoSenseiX-sub003/api/v1/auth"
	"github.com/siwaht/EchoSenseiX-sub003/api/v1/middleware"
	"github.com/siwaht/EchoSenseiX-sub003/api/v1/users"
	"github.com/siwaht/EchoSenseiX-sub003/internal/cache"
	"github.com/siwaht/EchoSenseiX-sub003/internal/config"
	"github.com/siwaht/EchoSenseiX-sub003/internal/httpx"
	"github.com/siwaht/EchoSenseiX-sub003/internal/task"
	"github.com/siwaht/EchoSenseiX-sub003/internal/webhook"
	"github.com/siwaht/EchoSenseiX-sub003/internal/ws"
)

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, db *gorm.DB, cfg *config.Config) {
	logger := logrus.NewEntry(logrus.StandardLogger())

	registry := webhook.NewRegistry(db, cache.Client, time.Duration(cfg.Webhook.SubscriberTTL)*time.Second)
	dispatcher := webhook.NewDispatcher(
		registry,
		&http.Client{Timeout: time.Duration(cfg.Webhook.TimeoutSec) * time.Second},
		logger,
		cfg.Webhook.SignatureHeader,
	)
	taskService := task.NewService(db, dispatcher, ws.TaskPublisher{}, logger)

	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(db, cfg))
		}

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", meHandler)

			// Admin task routes
			tasksHandler := admin_tasks.NewHandler(taskService)
			tasksGroup := protected.Group("/admin-tasks")
			{
				tasksGroup.GET("", tasksHandler.List)
				tasksGroup.GET("/:id", tasksHandler.GetByID)
				tasksGroup.POST("/create", tasksHandler.Create)

				// Lifecycle transitions are admin-only
				adminOnly := tasksGroup.Group("")
				adminOnly.Use(middleware.AdminRequired())
				{
					adminOnly.POST("/:id/approve", tasksHandler.Approve)
					adminOnly.POST("/:id/reject", tasksHandler.Reject)
					adminOnly.POST("/:id/update", tasksHandler.Update)
				}
			}

			// Approval webhook routes (admin-only)
			webhooksHandler := approval_webhooks.NewHandler(db, registry, dispatcher)
			webhooksGroup := protected.Group("/approval-webhooks")
			webhooksGroup.Use(middleware.AdminRequired())
			{
				webhooksGroup.GET("", webhooksHandler.List)
				webhooksGroup.GET("/:id", webhooksHandler.GetByID)
				webhooksGroup.POST("/create", webhooksHandler.Create)
				webhooksGroup.POST("/:id/update", webhooksHandler.Update)
				webhooksGroup.POST("/:id/delete", webhooksHandler.Delete)
				webhooksGroup.POST("/:id/test", webhooksHandler.Test)
				webhooksGroup.POST("/:id/reset-failures", webhooksHandler.ResetFailures)
			}

			// User administration routes (admin-only)
			usersHandler := users.NewHandler(db)
			usersGroup := protected.Group("/users")
			usersGroup.Use(middleware.AdminRequired())
			{
				usersGroup.GET("", usersHandler.List)
				usersGroup.POST("/create", usersHandler.Create)
				usersGroup.POST("/:id/update", usersHandler.Update)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")
	role, _ := c.Get("role")
	orgID, _ := c.Get("orgId")

	httpx.OK(c, gin.H{
		"uid":      uid,
		"username": username,
		"role":     role,
		"orgId":    orgID,
	})
}
