package approval_webhooks

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/siwaht/EchoSenseiX-sub003/api/v1/middleware"
	"github.com/siwaht/EchoSenseiX-sub003/internal/httpx"
	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
	"github.com/siwaht/EchoSenseiX-sub003/internal/webhook"
)

// Handler handles approval webhook administration
type Handler struct {
	db         *gorm.DB
	registry   *webhook.Registry
	dispatcher *webhook.Dispatcher
}

// NewHandler creates a new approval webhook handler
func NewHandler(db *gorm.DB, registry *webhook.Registry, dispatcher *webhook.Dispatcher) *Handler {
	return &Handler{db: db, registry: registry, dispatcher: dispatcher}
}

// List handles GET /api/v1/approval-webhooks
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := h.db.Model(&model.ApprovalWebhook{}).
		Where("organization_id = ?", middleware.CallerOrgID(c))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count webhooks", err))
		return
	}

	var hooks []model.ApprovalWebhook
	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&hooks).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list webhooks", err))
		return
	}

	httpx.OKItems(c, hooks, total, page, pageSize)
}

// GetByID handles GET /api/v1/approval-webhooks/:id
func (h *Handler) GetByID(c *gin.Context) {
	wh, ok := h.loadScoped(c)
	if !ok {
		return
	}
	httpx.OK(c, wh)
}

// Create handles POST /api/v1/approval-webhooks/create
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		Name       string            `json:"name" binding:"required"`
		WebhookURL string            `json:"webhookUrl" binding:"required"`
		Secret     string            `json:"secret"`
		Headers    map[string]string `json:"headers"`
		Events     []string          `json:"events" binding:"required"`
		IsActive   *bool             `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}
	if !validURL(req.WebhookURL) {
		httpx.FailErr(c, httpx.ErrParamInvalid("webhookUrl must be a valid http(s) URL"))
		return
	}
	if len(req.Events) == 0 {
		httpx.FailErr(c, httpx.ErrParamInvalid("at least one event is required"))
		return
	}

	wh := &model.ApprovalWebhook{
		Name:           req.Name,
		WebhookURL:     req.WebhookURL,
		Secret:         req.Secret,
		IsActive:       true,
		OrganizationID: middleware.CallerOrgID(c),
	}
	if req.IsActive != nil {
		wh.IsActive = *req.IsActive
	}
	if err := wh.SetEventList(req.Events); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid events"))
		return
	}
	if req.Headers != nil {
		if err := wh.SetHeaderMap(req.Headers); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid headers"))
			return
		}
	}

	if err := h.db.Create(wh).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create webhook", err))
		return
	}

	h.registry.InvalidateCache(c.Request.Context())
	httpx.OK(c, wh)
}

// Update handles POST /api/v1/approval-webhooks/:id/update
func (h *Handler) Update(c *gin.Context) {
	wh, ok := h.loadScoped(c)
	if !ok {
		return
	}

	var req struct {
		Name       *string            `json:"name"`
		WebhookURL *string            `json:"webhookUrl"`
		Secret     *string            `json:"secret"`
		Headers    *map[string]string `json:"headers"`
		Events     *[]string          `json:"events"`
		IsActive   *bool              `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if req.Name != nil {
		wh.Name = *req.Name
	}
	if req.WebhookURL != nil {
		if !validURL(*req.WebhookURL) {
			httpx.FailErr(c, httpx.ErrParamInvalid("webhookUrl must be a valid http(s) URL"))
			return
		}
		wh.WebhookURL = *req.WebhookURL
	}
	if req.Secret != nil {
		wh.Secret = *req.Secret
	}
	if req.Headers != nil {
		if err := wh.SetHeaderMap(*req.Headers); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid headers"))
			return
		}
	}
	if req.Events != nil {
		if len(*req.Events) == 0 {
			httpx.FailErr(c, httpx.ErrParamInvalid("at least one event is required"))
			return
		}
		if err := wh.SetEventList(*req.Events); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid events"))
			return
		}
	}
	if req.IsActive != nil {
		wh.IsActive = *req.IsActive
	}

	if err := h.db.Save(wh).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update webhook", err))
		return
	}

	h.registry.InvalidateCache(c.Request.Context())
	httpx.OK(c, wh)
}

// Delete handles POST /api/v1/approval-webhooks/:id/delete
func (h *Handler) Delete(c *gin.Context) {
	wh, ok := h.loadScoped(c)
	if !ok {
		return
	}

	if err := h.db.Delete(wh).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete webhook", err))
		return
	}

	h.registry.InvalidateCache(c.Request.Context())
	httpx.OK(c, gin.H{"deleted": wh.ID})
}

// Test handles POST /api/v1/approval-webhooks/:id/test — delivers a sample
// event to this endpoint only and surfaces the outcome to the admin
func (h *Handler) Test(c *gin.Context) {
	wh, ok := h.loadScoped(c)
	if !ok {
		return
	}

	err := h.dispatcher.DispatchTo(c.Request.Context(), wh, "webhook.test", gin.H{
		"message":        "test delivery",
		"organizationId": wh.OrganizationID,
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("test delivery failed: "+err.Error(), err))
		return
	}

	httpx.OKMsg(c, "test delivery succeeded", nil)
}

// ResetFailures handles POST /api/v1/approval-webhooks/:id/reset-failures
func (h *Handler) ResetFailures(c *gin.Context) {
	wh, ok := h.loadScoped(c)
	if !ok {
		return
	}

	if err := h.registry.ResetFailures(c.Request.Context(), wh.ID); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to reset failure count", err))
		return
	}

	httpx.OKMsg(c, "failure count reset", nil)
}

// loadScoped loads the webhook in the caller's tenant, writing the error
// response on failure
func (h *Handler) loadScoped(c *gin.Context) (*model.ApprovalWebhook, bool) {
	id := c.Param("id")
	if id == "" {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid webhook id"))
		return nil, false
	}

	var wh model.ApprovalWebhook
	err := h.db.
		Where("id = ? AND organization_id = ?", id, middleware.CallerOrgID(c)).
		First(&wh).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("webhook not found"))
			return nil, false
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to query webhook", err))
		return nil, false
	}
	return &wh, true
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
