package admin_tasks

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/siwaht/EchoSenseiX-sub003/api/v1/middleware"
	"github.com/siwaht/EchoSenseiX-sub003/internal/httpx"
	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
	"github.com/siwaht/EchoSenseiX-sub003/internal/task"
)

// Handler handles admin task related requests
type Handler struct {
	svc *task.Service
}

// NewHandler creates a new admin task handler
func NewHandler(svc *task.Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /api/v1/admin-tasks
func (h *Handler) List(c *gin.Context) {
	// Parse query parameters
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	status := c.Query("status")
	taskType := c.Query("type")

	if status != "" && !validStatus(status) {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid status filter"))
		return
	}

	tasks, total, err := h.svc.List(c.Request.Context(), task.ListParams{
		OrganizationID: middleware.CallerOrgID(c),
		Status:         status,
		Type:           taskType,
		Page:           page,
		PageSize:       pageSize,
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list tasks", err))
		return
	}

	httpx.OKItems(c, tasks, total, page, pageSize)
}

// GetByID handles GET /api/v1/admin-tasks/:id
func (h *Handler) GetByID(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid task id"))
		return
	}

	got, err := h.svc.Get(c.Request.Context(), middleware.CallerOrgID(c), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("task not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to query task", err))
		return
	}

	httpx.OK(c, got)
}

// Create handles POST /api/v1/admin-tasks/create
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		Type              string         `json:"type" binding:"required"`
		Title             string         `json:"title" binding:"required"`
		Description       string         `json:"description"`
		Priority          string         `json:"priority"`
		RelatedEntityType string         `json:"relatedEntityType"`
		RelatedEntityID   string         `json:"relatedEntityId"`
		Metadata          datatypes.JSON `json:"metadata"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if req.Type != model.TaskTypeApproval && req.Type != model.TaskTypeIntegration && req.Type != model.TaskTypeReview {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid task type"))
		return
	}
	if req.Priority != "" && !validPriority(req.Priority) {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid task priority"))
		return
	}

	created, err := h.svc.Create(c.Request.Context(), task.CreateParams{
		Type:              req.Type,
		Title:             req.Title,
		Description:       req.Description,
		Priority:          req.Priority,
		RelatedEntityType: req.RelatedEntityType,
		RelatedEntityID:   req.RelatedEntityID,
		OrganizationID:    middleware.CallerOrgID(c),
		RequestedBy:       middleware.CallerUID(c),
		Metadata:          req.Metadata,
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create task", err))
		return
	}

	httpx.OK(c, created)
}

// Approve handles POST /api/v1/admin-tasks/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	id := c.Param("id")

	approved, err := h.svc.Approve(c.Request.Context(), middleware.CallerOrgID(c), id, middleware.CallerUID(c))
	if err != nil {
		failTransition(c, err)
		return
	}

	httpx.OK(c, approved)
}

// Reject handles POST /api/v1/admin-tasks/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	id := c.Param("id")

	// Reason is optional
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
			return
		}
	}

	rejected, err := h.svc.Reject(c.Request.Context(), middleware.CallerOrgID(c), id, middleware.CallerUID(c), req.Reason)
	if err != nil {
		failTransition(c, err)
		return
	}

	httpx.OK(c, rejected)
}

// Update handles POST /api/v1/admin-tasks/:id/update
func (h *Handler) Update(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Title       *string        `json:"title"`
		Description *string        `json:"description"`
		Priority    *string        `json:"priority"`
		Metadata    datatypes.JSON `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}
	if req.Priority != nil && !validPriority(*req.Priority) {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid task priority"))
		return
	}

	patched, err := h.svc.Patch(c.Request.Context(), middleware.CallerOrgID(c), id, task.PatchParams{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Metadata:    req.Metadata,
	})
	if err != nil {
		failTransition(c, err)
		return
	}

	httpx.OK(c, patched)
}

func failTransition(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		httpx.FailErr(c, httpx.ErrNotFound("task not found"))
	case errors.Is(err, task.ErrAlreadyFinalized):
		httpx.FailErr(c, httpx.ErrStateConflict("task already finalized"))
	default:
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update task", err))
	}
}

func validStatus(status string) bool {
	switch status {
	case model.TaskStatusPending, model.TaskStatusInProgress, model.TaskStatusCompleted, model.TaskStatusRejected:
		return true
	}
	return false
}

func validPriority(priority string) bool {
	switch priority {
	case model.TaskPriorityLow, model.TaskPriorityMedium, model.TaskPriorityHigh:
		return true
	}
	return false
}
