// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject prefixes. The telemetry kind is appended as the last token,
// e.g. telemetry.ingest.block.
const (
	SubjectIngest   = "telemetry.ingest"   // producer → TraceLab: raw payload
	SubjectRecorded = "telemetry.recorded" // TraceLab → consumers: record stored
)

// IngestSubject returns the ingestion subject for kind.
func IngestSubject(kind string) string { return SubjectIngest + "." + kind }

// RecordedSubject returns the notification subject for kind.
func RecordedSubject(kind string) string { return SubjectRecorded + "." + kind }
