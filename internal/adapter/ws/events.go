package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// EventRecorded is sent after a telemetry record has been stored.
const EventRecorded = "event.recorded"

// RecordedEvent is the payload of EventRecorded.
type RecordedEvent struct {
	Seq         int64     `json:"seq"`
	Experiment  int64     `json:"experiment"`
	Participant int64     `json:"user"`
	Kind        string    `json:"kind"`
	Category    string    `json:"type"`
	Action      string    `json:"event"`
	Time        time.Time `json:"time"`
}

// BroadcastEvent marshals a typed event and broadcasts it to clients
// watching experiment.
func (h *Hub) BroadcastEvent(ctx context.Context, experiment int64, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, experiment, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
