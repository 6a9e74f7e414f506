// Package broadcast defines the port for pushing real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to every client watching experiment
	// and to clients watching all experiments.
	BroadcastEvent(ctx context.Context, experiment int64, eventType string, payload any)
}
