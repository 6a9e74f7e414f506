package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire keys shared by every payload.
const (
	KeyUser       = "user"
	KeyExperiment = "experiment"
	KeyTime       = "time"
	KeyCategory   = "type"
	KeyAction     = "event"
)

// Fields is the flat textual field map a producer sends.
type Fields map[string]string

// Get returns the value for key and whether the key was present at all.
func (f Fields) Get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

// optional returns a pointer to the value of key, or nil when the key is
// absent or its value is empty. Other values, whitespace included, are kept
// as sent.
func (f Fields) optional(key string) *string {
	v, ok := f[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

// FieldsFromJSON flattens a JSON object into Fields. Strings are unquoted,
// numbers and booleans keep their literal text, null values are dropped and
// nested objects or arrays keep their raw JSON text.
func FieldsFromJSON(data []byte) (Fields, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	f := make(Fields, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
			continue
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("decode %s: %w", k, err)
			}
			f[k] = s
		default:
			f[k] = string(v)
		}
	}
	return f, nil
}
