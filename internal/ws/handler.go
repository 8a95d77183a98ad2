package ws

import (
	"encoding/json"
	"log"

	socketio "github.com/googollee/go-socket.io"
)

const maxIncrementalEvents = 200

// handleRequestTasks handles the request:tasks event: a reconnecting client
// sends its last seen event id and receives everything it missed
func handleRequestTasks(s socketio.Conn, data interface{}) {
	var lastEventId int64
	if dataMap, ok := data.(map[string]interface{}); ok {
		if v, ok := dataMap["lastEventId"].(float64); ok {
			lastEventId = int64(v)
		}
	}

	events, err := GetIncrementalEvents(lastEventId, maxIncrementalEvents)
	if err != nil {
		log.Printf("[WebSocket] Failed to load incremental events for %s: %v", s.ID(), err)
		s.Emit("tasks:error", map[string]interface{}{
			"message": "failed to load events",
		})
		return
	}

	items := make([]map[string]interface{}, 0, len(events))
	for _, event := range events {
		var payload interface{}
		if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
			continue
		}
		items = append(items, map[string]interface{}{
			"eventId": event.ID,
			"type":    event.EventType,
			"data":    payload,
		})
	}

	s.Emit("tasks:snapshot", map[string]interface{}{
		"lastEventId": lastEventId,
		"items":       items,
	})
}
