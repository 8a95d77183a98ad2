package users

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/siwaht/EchoSenseiX-sub003/api/v1/middleware"
	"github.com/siwaht/EchoSenseiX-sub003/internal/auth"
	"github.com/siwaht/EchoSenseiX-sub003/internal/httpx"
	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
)

// Handler handles user administration requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new user handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// List handles GET /api/v1/users
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := h.db.Model(&model.User{}).
		Where("organization_id = ?", middleware.CallerOrgID(c))

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count users", err))
		return
	}

	var list []model.User
	offset := (page - 1) * pageSize
	if err := query.Order("id ASC").Offset(offset).Limit(pageSize).Find(&list).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list users", err))
		return
	}

	httpx.OKItems(c, list, total, page, pageSize)
}

// Create handles POST /api/v1/users/create
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email"`
		Password string `json:"password" binding:"required,min=8"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	role := req.Role
	if role == "" {
		role = model.RoleMember
	}
	if role != model.RoleAdmin && role != model.RoleMember {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid role"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to hash password", err))
		return
	}

	user := &model.User{
		Username:       req.Username,
		Email:          req.Email,
		PasswordHash:   hash,
		Role:           role,
		Status:         model.UserStatusActive,
		OrganizationID: middleware.CallerOrgID(c),
	}

	if err := h.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("username already taken"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create user", err))
		return
	}

	httpx.OK(c, user)
}

// Update handles POST /api/v1/users/:id/update
func (h *Handler) Update(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid user id"))
		return
	}

	var user model.User
	if err := h.db.Where("id = ? AND organization_id = ?", id, middleware.CallerOrgID(c)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("user not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to query user", err))
		return
	}

	var req struct {
		Email    *string `json:"email"`
		Role     *string `json:"role"`
		Status   *string `json:"status"`
		Password *string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		if *req.Role != model.RoleAdmin && *req.Role != model.RoleMember {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid role"))
			return
		}
		user.Role = *req.Role
	}
	if req.Status != nil {
		if *req.Status != string(model.UserStatusActive) && *req.Status != string(model.UserStatusInactive) {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid status"))
			return
		}
		user.Status = model.UserStatus(*req.Status)
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			httpx.FailErr(c, httpx.ErrParamInvalid("password must be at least 8 characters"))
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to hash password", err))
			return
		}
		user.PasswordHash = hash
	}

	if err := h.db.Save(&user).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update user", err))
		return
	}

	httpx.OK(c, user)
}
