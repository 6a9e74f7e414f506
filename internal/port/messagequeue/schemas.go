package messagequeue

import "time"

// RecordedPayload is the schema for telemetry.recorded.* messages.
type RecordedPayload struct {
	Seq        int64     `json:"seq"`
	Experiment int64     `json:"experiment"`
	User       int64     `json:"user"`
	Kind       string    `json:"kind"`
	Category   string    `json:"type"`
	Action     string    `json:"event"`
	Time       time.Time `json:"time"`
	RequestID  string    `json:"request_id,omitempty"`
}
