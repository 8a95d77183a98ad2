package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AdminTask represents an item awaiting administrator approval
type AdminTask struct {
	ID                string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type              string         `gorm:"type:varchar(32);not null;index" json:"type"`
	Title             string         `gorm:"type:varchar(255);not null" json:"title"`
	Description       string         `gorm:"type:text" json:"description"`
	Status            string         `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	Priority          string         `gorm:"type:varchar(8);default:'medium'" json:"priority"`
	RelatedEntityType string         `gorm:"type:varchar(64)" json:"relatedEntityType,omitempty"`
	RelatedEntityID   string         `gorm:"type:varchar(36)" json:"relatedEntityId,omitempty"`
	OrganizationID    string         `gorm:"type:varchar(36);not null;index" json:"organizationId"`
	RequestedBy       int            `gorm:"not null;index" json:"requestedBy"`
	ApprovedBy        *int           `json:"approvedBy,omitempty"`
	RejectedBy        *int           `json:"rejectedBy,omitempty"`
	Metadata          datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for AdminTask
func (AdminTask) TableName() string {
	return "admin_tasks"
}

// BeforeCreate assigns a UUID if the caller did not provide one
func (t *AdminTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	return nil
}

// Task type constants
const (
	TaskTypeApproval    = "approval"
	TaskTypeIntegration = "integration"
	TaskTypeReview      = "review"
)

// Task status constants
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusRejected   = "rejected"
)

// Task priority constants
const (
	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
)

// Metadata key merged in on rejection
const MetadataKeyRejectionReason = "rejectionReason"

// IsTerminal reports whether the task has reached a final state
func (t *AdminTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusRejected
}

// MetadataMap decodes the metadata JSON column into a map.
// An empty or missing column yields an empty map.
func (t *AdminTask) MetadataMap() map[string]interface{} {
	out := map[string]interface{}{}
	if len(t.Metadata) == 0 {
		return out
	}
	if err := json.Unmarshal(t.Metadata, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// MergeMetadata merges a single key into the metadata bag, preserving
// existing keys
func (t *AdminTask) MergeMetadata(key string, value interface{}) error {
	meta := t.MetadataMap()
	meta[key] = value
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	t.Metadata = datatypes.JSON(raw)
	return nil
}

// RejectionReason returns the rejection reason stored in metadata, if any
func (t *AdminTask) RejectionReason() string {
	if reason, ok := t.MetadataMap()[MetadataKeyRejectionReason].(string); ok {
		return reason
	}
	return ""
}
