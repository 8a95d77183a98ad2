package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
)

type dispatchedEvent struct {
	Event string
	Data  map[string]interface{}
}

type fakeDispatcher struct {
	events []dispatchedEvent
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, event string, data interface{}) error {
	payload, _ := data.(map[string]interface{})
	f.events = append(f.events, dispatchedEvent{Event: event, Data: payload})
	return f.err
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) PublishTaskEvent(eventType string, payload interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&model.AdminTask{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *fakeDispatcher, *fakePublisher) {
	t.Helper()
	dispatcher := &fakeDispatcher{}
	publisher := &fakePublisher{}
	svc := NewService(newTestDB(t), dispatcher, publisher, nil)
	return svc, dispatcher, publisher
}

func createPendingTask(t *testing.T, svc *Service) *model.AdminTask {
	t.Helper()
	task, err := svc.Create(context.Background(), CreateParams{
		Type:           model.TaskTypeApproval,
		Title:          "Enable calendar tool",
		Description:    "Agent requests the calendar_sync tool",
		OrganizationID: "org-1",
		RequestedBy:    5,
		Metadata:       datatypes.JSON(`{"toolName":"calendar_sync"}`),
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return task
}

func TestService_Create(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)

	task := createPendingTask(t, svc)

	if task.ID == "" {
		t.Error("Expected task id to be assigned")
	}
	if task.Status != model.TaskStatusPending {
		t.Errorf("Expected status pending, got %s", task.Status)
	}
	if task.Priority != model.TaskPriorityMedium {
		t.Errorf("Expected default priority medium, got %s", task.Priority)
	}
	if task.CompletedAt != nil {
		t.Error("New task must not have completed_at set")
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("Create must not emit events, got %d", len(dispatcher.events))
	}
}

func TestService_Approve(t *testing.T) {
	svc, dispatcher, publisher := newTestService(t)
	task := createPendingTask(t, svc)

	approved, err := svc.Approve(context.Background(), "org-1", task.ID, 42)
	if err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}

	if approved.Status != model.TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", approved.Status)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != 42 {
		t.Errorf("Expected approvedBy 42, got %v", approved.ApprovedBy)
	}
	if approved.RejectedBy != nil {
		t.Error("Approved task must not have rejectedBy set")
	}
	if approved.CompletedAt == nil {
		t.Error("Expected completed_at to be set on terminal transition")
	}

	// Durable state matches
	reloaded, err := svc.Get(context.Background(), "org-1", task.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if reloaded.Status != model.TaskStatusCompleted || reloaded.CompletedAt == nil {
		t.Errorf("Persisted task state wrong: %+v", reloaded)
	}

	// Event shape
	if len(dispatcher.events) != 1 {
		t.Fatalf("Expected 1 dispatched event, got %d", len(dispatcher.events))
	}
	ev := dispatcher.events[0]
	if ev.Event != model.EventTaskApproved {
		t.Errorf("Expected event task.approved, got %s", ev.Event)
	}
	if ev.Data["taskId"] != task.ID {
		t.Errorf("Expected payload taskId %s, got %v", task.ID, ev.Data["taskId"])
	}
	if ev.Data["organizationId"] != "org-1" {
		t.Errorf("Expected payload organizationId org-1, got %v", ev.Data["organizationId"])
	}
	if ev.Data["approvedBy"] != 42 {
		t.Errorf("Expected payload approvedBy 42, got %v", ev.Data["approvedBy"])
	}
	meta, ok := ev.Data["metadata"].(map[string]interface{})
	if !ok || meta["toolName"] != "calendar_sync" {
		t.Errorf("Expected metadata in payload, got %v", ev.Data["metadata"])
	}

	if len(publisher.events) != 1 || publisher.events[0] != model.EventTaskApproved {
		t.Errorf("Expected dashboard broadcast of task.approved, got %v", publisher.events)
	}
}

func TestService_Approve_NotFound(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)

	_, err := svc.Approve(context.Background(), "org-1", "missing", 42)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Expected ErrTaskNotFound, got %v", err)
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("No dispatch may happen for a missing task, got %d events", len(dispatcher.events))
	}
}

func TestService_Approve_WrongOrganization(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)
	task := createPendingTask(t, svc)

	_, err := svc.Approve(context.Background(), "org-2", task.ID, 42)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Expected ErrTaskNotFound for foreign-tenant task, got %v", err)
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("No dispatch may happen across tenants, got %d events", len(dispatcher.events))
	}
}

func TestService_Approve_AlreadyFinalized(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)
	task := createPendingTask(t, svc)

	if _, err := svc.Approve(context.Background(), "org-1", task.ID, 42); err != nil {
		t.Fatalf("First Approve() failed: %v", err)
	}

	_, err := svc.Approve(context.Background(), "org-1", task.ID, 99)
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("Expected ErrAlreadyFinalized on repeat approve, got %v", err)
	}

	// First admin's decision stands; no event was re-fired
	got, _ := svc.Get(context.Background(), "org-1", task.ID)
	if got.ApprovedBy == nil || *got.ApprovedBy != 42 {
		t.Errorf("Repeat approve must not reassign approvedBy, got %v", got.ApprovedBy)
	}
	if len(dispatcher.events) != 1 {
		t.Errorf("Repeat approve must not re-fire events, got %d", len(dispatcher.events))
	}
}

func TestService_Reject(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)
	task := createPendingTask(t, svc)

	rejected, err := svc.Reject(context.Background(), "org-1", task.ID, 42, "invalid config")
	if err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}

	if rejected.Status != model.TaskStatusRejected {
		t.Errorf("Expected status rejected, got %s", rejected.Status)
	}
	if rejected.RejectedBy == nil || *rejected.RejectedBy != 42 {
		t.Errorf("Expected rejectedBy 42, got %v", rejected.RejectedBy)
	}
	if rejected.ApprovedBy != nil {
		t.Error("Rejected task must not have approvedBy set")
	}
	if rejected.CompletedAt == nil {
		t.Error("Expected completed_at to be set on terminal transition")
	}

	// Reason merged without clobbering existing metadata
	reloaded, _ := svc.Get(context.Background(), "org-1", task.ID)
	if reloaded.RejectionReason() != "invalid config" {
		t.Errorf("Expected rejection reason in metadata, got '%s'", reloaded.RejectionReason())
	}
	if reloaded.MetadataMap()["toolName"] != "calendar_sync" {
		t.Errorf("Existing metadata keys must survive rejection, got %v", reloaded.MetadataMap())
	}

	if len(dispatcher.events) != 1 {
		t.Fatalf("Expected 1 dispatched event, got %d", len(dispatcher.events))
	}
	ev := dispatcher.events[0]
	if ev.Event != model.EventTaskRejected {
		t.Errorf("Expected event task.rejected, got %s", ev.Event)
	}
	if ev.Data["rejectionReason"] != "invalid config" {
		t.Errorf("Expected rejectionReason in payload, got %v", ev.Data["rejectionReason"])
	}
}

func TestService_Reject_NotFound(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)

	_, err := svc.Reject(context.Background(), "org-1", "missing", 42, "reason")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Expected ErrTaskNotFound, got %v", err)
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("No dispatch may happen for a missing task, got %d events", len(dispatcher.events))
	}
}

func TestService_RejectThenApprove(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)
	task := createPendingTask(t, svc)

	if _, err := svc.Reject(context.Background(), "org-1", task.ID, 42, "no"); err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}

	_, err := svc.Approve(context.Background(), "org-1", task.ID, 43)
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("Expected ErrAlreadyFinalized on approve after reject, got %v", err)
	}

	got, _ := svc.Get(context.Background(), "org-1", task.ID)
	if got.Status != model.TaskStatusRejected {
		t.Errorf("Terminal state must not change, got %s", got.Status)
	}
	if got.ApprovedBy != nil {
		t.Error("approvedBy and rejectedBy are mutually exclusive")
	}
	if len(dispatcher.events) != 1 {
		t.Errorf("Expected only the rejection event, got %d", len(dispatcher.events))
	}
}

func TestService_Approve_DispatchFailureDoesNotRollBack(t *testing.T) {
	dispatcher := &fakeDispatcher{err: errors.New("registry unavailable")}
	svc := NewService(newTestDB(t), dispatcher, nil, nil)
	task := createPendingTask(t, svc)

	approved, err := svc.Approve(context.Background(), "org-1", task.ID, 42)
	if err != nil {
		t.Fatalf("Approve() must not fail on dispatch errors: %v", err)
	}
	if approved.Status != model.TaskStatusCompleted {
		t.Errorf("Expected status completed despite dispatch failure, got %s", approved.Status)
	}
}

func TestService_Patch(t *testing.T) {
	svc, dispatcher, _ := newTestService(t)
	task := createPendingTask(t, svc)

	title := "Enable calendar tool (revised)"
	patched, err := svc.Patch(context.Background(), "org-1", task.ID, PatchParams{Title: &title})
	if err != nil {
		t.Fatalf("Patch() failed: %v", err)
	}

	if patched.Title != title {
		t.Errorf("Expected patched title, got %s", patched.Title)
	}
	if patched.Status != model.TaskStatusPending {
		t.Errorf("Patch must not change status, got %s", patched.Status)
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("Patch must not emit events, got %d", len(dispatcher.events))
	}
}

func TestService_Patch_TerminalTask(t *testing.T) {
	svc, _, _ := newTestService(t)
	task := createPendingTask(t, svc)

	if _, err := svc.Approve(context.Background(), "org-1", task.ID, 42); err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}

	title := "retitled"
	_, err := svc.Patch(context.Background(), "org-1", task.ID, PatchParams{Title: &title})
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("Expected ErrAlreadyFinalized for field edits on terminal task, got %v", err)
	}

	// Audit metadata stays editable
	patched, err := svc.Patch(context.Background(), "org-1", task.ID, PatchParams{
		Metadata: datatypes.JSON(`{"toolName":"calendar_sync","auditNote":"reviewed"}`),
	})
	if err != nil {
		t.Fatalf("Metadata patch on terminal task failed: %v", err)
	}
	if patched.MetadataMap()["auditNote"] != "reviewed" {
		t.Errorf("Expected audit metadata to be stored, got %v", patched.MetadataMap())
	}
}

func TestService_List(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := createPendingTask(t, svc)
	createPendingTask(t, svc)
	if _, err := svc.Approve(ctx, "org-1", first.ID, 42); err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}

	// Other tenant's task is invisible
	if _, err := svc.Create(ctx, CreateParams{
		Type:           model.TaskTypeApproval,
		Title:          "other tenant",
		OrganizationID: "org-2",
		RequestedBy:    9,
	}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	tasks, total, err := svc.List(ctx, ListParams{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 2 || len(tasks) != 2 {
		t.Errorf("Expected 2 org-1 tasks, got total=%d len=%d", total, len(tasks))
	}

	pending, total, err := svc.List(ctx, ListParams{OrganizationID: "org-1", Status: model.TaskStatusPending})
	if err != nil {
		t.Fatalf("List() with status filter failed: %v", err)
	}
	if total != 1 || len(pending) != 1 {
		t.Errorf("Expected 1 pending task, got total=%d len=%d", total, len(pending))
	}
	if pending[0].Status != model.TaskStatusPending {
		t.Errorf("Status filter returned %s", pending[0].Status)
	}
}

func TestService_CompletedAtInvariant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pending := createPendingTask(t, svc)
	approvedSrc := createPendingTask(t, svc)
	rejectedSrc := createPendingTask(t, svc)

	if _, err := svc.Approve(ctx, "org-1", approvedSrc.ID, 1); err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	if _, err := svc.Reject(ctx, "org-1", rejectedSrc.ID, 1, "no"); err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}

	tasks, _, err := svc.List(ctx, ListParams{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	for _, task := range tasks {
		terminal := task.Status == model.TaskStatusCompleted || task.Status == model.TaskStatusRejected
		if terminal && task.CompletedAt == nil {
			t.Errorf("Terminal task %s missing completed_at", task.ID)
		}
		if !terminal && task.CompletedAt != nil {
			t.Errorf("Non-terminal task %s has completed_at set", task.ID)
		}
	}
	_ = pending
}
