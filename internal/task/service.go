package task

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
)

// Workflow errors mapped to client-visible conditions by the HTTP layer
var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrAlreadyFinalized = errors.New("task already finalized")
)

// EventDispatcher delivers a task lifecycle event to registered endpoints
type EventDispatcher interface {
	Dispatch(ctx context.Context, event string, data interface{}) error
}

// Publisher broadcasts a task lifecycle event to connected dashboard clients
type Publisher interface {
	PublishTaskEvent(eventType string, payload interface{}) error
}

// Service implements the admin task approval workflow. The state transition
// is persisted before any notification is attempted; notification failures
// never roll it back.
type Service struct {
	db         *gorm.DB
	dispatcher EventDispatcher
	publisher  Publisher
	logger     *logrus.Entry
}

// NewService creates the workflow service. dispatcher and publisher may be
// nil (events are then dropped, e.g. in migrations or tests).
func NewService(db *gorm.DB, dispatcher EventDispatcher, publisher Publisher, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		db:         db,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger.WithField("component", "task-workflow"),
	}
}

// CreateParams holds the fields a requester provides for a new task
type CreateParams struct {
	Type              string
	Title             string
	Description       string
	Priority          string
	RelatedEntityType string
	RelatedEntityID   string
	OrganizationID    string
	RequestedBy       int
	Metadata          datatypes.JSON
}

// Create stores a new task in status pending
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.AdminTask, error) {
	task := &model.AdminTask{
		Type:              params.Type,
		Title:             params.Title,
		Description:       params.Description,
		Status:            model.TaskStatusPending,
		Priority:          params.Priority,
		RelatedEntityType: params.RelatedEntityType,
		RelatedEntityID:   params.RelatedEntityID,
		OrganizationID:    params.OrganizationID,
		RequestedBy:       params.RequestedBy,
		Metadata:          params.Metadata,
	}
	if task.Priority == "" {
		task.Priority = model.TaskPriorityMedium
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// Approve transitions a pending or in-progress task to completed and emits
// task.approved. A repeat finalization fails with ErrAlreadyFinalized; the
// transition is guarded at the database level so concurrent admins cannot
// both finalize the same task.
func (s *Service) Approve(ctx context.Context, orgID, taskID string, adminID int) (*model.AdminTask, error) {
	task, err := s.load(ctx, orgID, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return nil, ErrAlreadyFinalized
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&model.AdminTask{}).
		Where("id = ? AND status NOT IN ?", task.ID, []string{model.TaskStatusCompleted, model.TaskStatusRejected}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCompleted,
			"approved_by":  adminID,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race against another finalization
		return nil, ErrAlreadyFinalized
	}

	task.Status = model.TaskStatusCompleted
	task.ApprovedBy = &adminID
	task.CompletedAt = &now

	s.emit(ctx, model.EventTaskApproved, map[string]interface{}{
		"taskId":         task.ID,
		"taskType":       task.Type,
		"taskTitle":      task.Title,
		"organizationId": task.OrganizationID,
		"approvedBy":     adminID,
		"approvedAt":     now.Format(time.RFC3339),
		"metadata":       task.MetadataMap(),
	})

	return task, nil
}

// Reject transitions a pending or in-progress task to rejected, merges the
// reason into metadata, and emits task.rejected. Same finalization guarantees
// as Approve.
func (s *Service) Reject(ctx context.Context, orgID, taskID string, adminID int, reason string) (*model.AdminTask, error) {
	task, err := s.load(ctx, orgID, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return nil, ErrAlreadyFinalized
	}

	if err := task.MergeMetadata(model.MetadataKeyRejectionReason, reason); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&model.AdminTask{}).
		Where("id = ? AND status NOT IN ?", task.ID, []string{model.TaskStatusCompleted, model.TaskStatusRejected}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusRejected,
			"rejected_by":  adminID,
			"completed_at": now,
			"metadata":     task.Metadata,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyFinalized
	}

	task.Status = model.TaskStatusRejected
	task.RejectedBy = &adminID
	task.CompletedAt = &now

	s.emit(ctx, model.EventTaskRejected, map[string]interface{}{
		"taskId":          task.ID,
		"taskType":        task.Type,
		"taskTitle":       task.Title,
		"organizationId":  task.OrganizationID,
		"rejectedBy":      adminID,
		"rejectedAt":      now.Format(time.RFC3339),
		"rejectionReason": reason,
		"metadata":        task.MetadataMap(),
	})

	return task, nil
}

// PatchParams holds the non-lifecycle fields an administrator may edit
// directly. Nil pointers leave the field untouched.
type PatchParams struct {
	Title       *string
	Description *string
	Priority    *string
	Metadata    datatypes.JSON
}

// Patch applies non-lifecycle edits without emitting any event. Terminal
// tasks accept only metadata updates (audit annotations).
func (s *Service) Patch(ctx context.Context, orgID, taskID string, params PatchParams) (*model.AdminTask, error) {
	task, err := s.load(ctx, orgID, taskID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if params.Title != nil {
		updates["title"] = *params.Title
	}
	if params.Description != nil {
		updates["description"] = *params.Description
	}
	if params.Priority != nil {
		updates["priority"] = *params.Priority
	}
	if task.IsTerminal() && len(updates) > 0 {
		return nil, ErrAlreadyFinalized
	}
	if len(params.Metadata) > 0 {
		updates["metadata"] = params.Metadata
	}
	if len(updates) == 0 {
		return task, nil
	}

	if err := s.db.WithContext(ctx).Model(task).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.load(ctx, orgID, taskID)
}

// ListParams holds task listing filters
type ListParams struct {
	OrganizationID string
	Status         string
	Type           string
	Page           int
	PageSize       int
}

// List returns org-scoped tasks, newest first
func (s *Service) List(ctx context.Context, params ListParams) ([]model.AdminTask, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&model.AdminTask{})
	if params.OrganizationID != "" {
		query = query.Where("organization_id = ?", params.OrganizationID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Type != "" {
		query = query.Where("type = ?", params.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tasks []model.AdminTask
	offset := (params.Page - 1) * params.PageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(params.PageSize).Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// Get returns a single org-scoped task
func (s *Service) Get(ctx context.Context, orgID, taskID string) (*model.AdminTask, error) {
	return s.load(ctx, orgID, taskID)
}

func (s *Service) load(ctx context.Context, orgID, taskID string) (*model.AdminTask, error) {
	query := s.db.WithContext(ctx).Where("id = ?", taskID)
	if orgID != "" {
		query = query.Where("organization_id = ?", orgID)
	}
	var task model.AdminTask
	if err := query.First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// emit fans the event out to webhooks and the dashboard. The transition is
// already durable; notification errors are logged and swallowed.
func (s *Service) emit(ctx context.Context, event string, payload map[string]interface{}) {
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, event, payload); err != nil {
			s.logger.WithField("event", event).Warnf("Webhook dispatch failed: %v", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishTaskEvent(event, payload); err != nil {
			s.logger.WithField("event", event).Warnf("Dashboard broadcast failed: %v", err)
		}
	}
}
