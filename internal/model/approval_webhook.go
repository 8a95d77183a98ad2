package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event names emitted by the task approval workflow
const (
	EventTaskApproved = "task.approved"
	EventTaskRejected = "task.rejected"

	// EventTaskStatusChanged is the wildcard subscription: an endpoint
	// subscribed to it receives every task lifecycle event
	EventTaskStatusChanged = "task.status_changed"
)

// ApprovalWebhook represents an externally-registered notification endpoint
type ApprovalWebhook struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name           string         `gorm:"type:varchar(128);not null" json:"name"`
	WebhookURL     string         `gorm:"type:varchar(512);not null" json:"webhookUrl"`
	Secret         string         `gorm:"type:varchar(255)" json:"-"`
	Headers        datatypes.JSON `gorm:"type:json" json:"headers,omitempty"`
	Events         datatypes.JSON `gorm:"type:json;not null" json:"events"`
	IsActive       bool           `gorm:"default:true;index" json:"isActive"`
	OrganizationID string         `gorm:"type:varchar(36);not null;index" json:"organizationId"`
	LastTriggered  *time.Time     `json:"lastTriggered,omitempty"`
	FailureCount   int            `gorm:"default:0" json:"failureCount"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for ApprovalWebhook
func (ApprovalWebhook) TableName() string {
	return "approval_webhooks"
}

// BeforeCreate assigns a UUID if the caller did not provide one
func (w *ApprovalWebhook) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// EventList decodes the events JSON column into a string slice
func (w *ApprovalWebhook) EventList() []string {
	var events []string
	if len(w.Events) == 0 {
		return events
	}
	if err := json.Unmarshal(w.Events, &events); err != nil {
		return nil
	}
	return events
}

// SetEventList encodes a string slice into the events JSON column
func (w *ApprovalWebhook) SetEventList(events []string) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return err
	}
	w.Events = datatypes.JSON(raw)
	return nil
}

// HeaderMap decodes the static headers JSON column into a map
func (w *ApprovalWebhook) HeaderMap() map[string]string {
	out := map[string]string{}
	if len(w.Headers) == 0 {
		return out
	}
	if err := json.Unmarshal(w.Headers, &out); err != nil {
		return map[string]string{}
	}
	return out
}

// SetHeaderMap encodes static headers into the headers JSON column
func (w *ApprovalWebhook) SetHeaderMap(headers map[string]string) error {
	raw, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	w.Headers = datatypes.JSON(raw)
	return nil
}

// SubscribesTo reports whether this endpoint subscribes to the given event,
// either directly or via the task.status_changed wildcard
func (w *ApprovalWebhook) SubscribesTo(event string) bool {
	for _, e := range w.EventList() {
		if e == event || e == EventTaskStatusChanged {
			return true
		}
	}
	return false
}
