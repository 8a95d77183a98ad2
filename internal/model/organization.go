package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrganizationStatus represents organization status
type OrganizationStatus string

const (
	OrganizationStatusActive    OrganizationStatus = "active"
	OrganizationStatusSuspended OrganizationStatus = "suspended"
)

// Organization represents a tenant: an agency managing voice-AI agents
type Organization struct {
	ID        string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string             `gorm:"type:varchar(128);not null" json:"name"`
	Slug      string             `gorm:"type:varchar(64);uniqueIndex;not null" json:"slug"`
	Status    OrganizationStatus `gorm:"type:varchar(16);default:'active'" json:"status"`
	CreatedAt time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Organization model
func (Organization) TableName() string {
	return "organizations"
}

// BeforeCreate assigns a UUID if the caller did not provide one
func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}
