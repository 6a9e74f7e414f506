package messagequeue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
//
// Ingest payloads are only checked for being a JSON object; field-level
// validation happens in the event parser so that malformed telemetry is
// classified rather than bounced.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasPrefix(subject, SubjectIngest+"."):
		if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
			return fmt.Errorf("payload on %s must be a JSON object", subject)
		}
		return nil
	case strings.HasPrefix(subject, SubjectRecorded+"."):
		var p RecordedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Seq <= 0 {
			return fmt.Errorf("schema validation failed for %s: seq must be positive", subject)
		}
		return nil
	default:
		return nil
	}
}
