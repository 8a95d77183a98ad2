package model

// UserStatus represents user status
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// User roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents a dashboard user belonging to one organization
type User struct {
	BaseModel
	Username       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email          string     `gorm:"type:varchar(255)" json:"email,omitempty"`
	PasswordHash   string     `gorm:"type:varchar(255);not null" json:"-"`
	Role           string     `gorm:"type:varchar(32);default:'member'" json:"role"`
	Status         UserStatus `gorm:"type:varchar(16);default:'active'" json:"status"`
	OrganizationID string     `gorm:"type:varchar(36);not null;index" json:"organizationId"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}
