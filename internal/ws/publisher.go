package ws

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/siwaht/EchoSenseiX-sub003/internal/db"
	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
)

const taskTopic = "admin_tasks"

// TaskPublisher broadcasts task lifecycle events to connected dashboard
// clients and records them for reconnect catch-up. It satisfies the
// workflow's Publisher contract.
type TaskPublisher struct{}

// PublishTaskEvent persists the event and broadcasts it to all clients.
// eventType is the lifecycle event name (task.approved, task.rejected).
func (TaskPublisher) PublishTaskEvent(eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WebSocket] Failed to marshal payload: %v", err)
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := model.WSEvent{
		Topic:     taskTopic,
		EventType: eventType,
		Payload:   string(payloadJSON),
	}

	if err := db.GetDB().Create(&event).Error; err != nil {
		log.Printf("[WebSocket] Failed to write event to database: %v", err)
		return fmt.Errorf("failed to write event to database: %w", err)
	}

	// Broadcast failure must not affect the approve/reject flow
	BroadcastToAll("tasks:update", map[string]interface{}{
		"eventId": event.ID,
		"type":    eventType,
		"data":    payload,
	})

	return nil
}

// GetIncrementalEvents retrieves task events with id > lastEventId,
// limited to maxCount
func GetIncrementalEvents(lastEventId int64, maxCount int) ([]model.WSEvent, error) {
	var events []model.WSEvent

	err := db.GetDB().
		Where("topic = ? AND id > ?", taskTopic, lastEventId).
		Order("id ASC").
		Limit(maxCount).
		Find(&events).Error

	if err != nil {
		return nil, fmt.Errorf("failed to query incremental events: %w", err)
	}

	return events, nil
}
