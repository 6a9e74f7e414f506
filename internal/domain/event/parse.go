package event

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

// Reason classifies why a payload was rejected.
type Reason string

const (
	ReasonMissingField    Reason = "missing_field"
	ReasonInvalidID       Reason = "invalid_id"
	ReasonInvalidTime     Reason = "invalid_time"
	ReasonUnknownKind     Reason = "unknown_kind"
	ReasonUnknownCategory Reason = "unknown_category"
	ReasonUnknownAction   Reason = "unknown_action"
	ReasonIllegalPair     Reason = "illegal_pair"
	ReasonInvalidValue    Reason = "invalid_value"
	ReasonInvalidPayload  Reason = "invalid_payload"
)

// Reject describes a malformed payload. It is a result value, not an error:
// parsing never fails in any other way.
type Reject struct {
	Reason Reason
	Field  string
	Detail string
}

func (r *Reject) String() string {
	if r.Field == "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("%s (%s): %s", r.Reason, r.Field, r.Detail)
}

func reject(reason Reason, field, format string, args ...any) *Reject {
	return &Reject{Reason: reason, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Parse validates fields as a payload of the given kind. On success it returns
// a fully typed record and a nil Reject; otherwise it returns a nil record and
// the first failure found.
func Parse(kind taxonomy.Kind, fields Fields) (*Record, *Reject) {
	if !kind.Valid() {
		return nil, reject(ReasonUnknownKind, "", "%q", kind)
	}

	h, rej := parseHeader(kind, fields)
	if rej != nil {
		return nil, rej
	}

	rec := &Record{Header: h}
	switch kind {
	case taxonomy.KindBlock:
		rec.Block = &BlockAttrs{
			Sprite:   fields.optional("spritename"),
			Metadata: fields.optional("metadata"),
			XML:      fields.optional("xml"),
			Code:     fields.optional("json"),
		}
	case taxonomy.KindClick:
		rec.Click = &ClickAttrs{Metadata: fields.optional("metadata")}
	case taxonomy.KindResource:
		attrs, rej := parseResource(fields)
		if rej != nil {
			return nil, rej
		}
		rec.Resource = attrs
	case taxonomy.KindDebugger:
		attrs, rej := parseDebugger(fields)
		if rej != nil {
			return nil, rej
		}
		rec.Debugger = attrs
	case taxonomy.KindQuestion:
		attrs, rej := parseQuestion(fields)
		if rej != nil {
			return nil, rej
		}
		rec.Question = attrs
	}
	return rec, nil
}

func parseHeader(kind taxonomy.Kind, fields Fields) (Header, *Reject) {
	var h Header

	participant, rej := parseID(fields, KeyUser)
	if rej != nil {
		return h, rej
	}
	experiment, rej := parseID(fields, KeyExperiment)
	if rej != nil {
		return h, rej
	}
	at, rej := parseTime(fields, KeyTime)
	if rej != nil {
		return h, rej
	}

	rawCat, ok := fields.Get(KeyCategory)
	if !ok {
		return h, reject(ReasonMissingField, KeyCategory, "required")
	}
	cat, err := taxonomy.ParseCategory(kind, rawCat)
	if err != nil {
		return h, reject(ReasonUnknownCategory, KeyCategory, "%v", err)
	}

	rawAct, ok := fields.Get(KeyAction)
	if !ok {
		return h, reject(ReasonMissingField, KeyAction, "required")
	}
	act, err := taxonomy.ParseAction(kind, rawAct)
	if err != nil {
		return h, reject(ReasonUnknownAction, KeyAction, "%v", err)
	}

	if !taxonomy.Legal(cat, act) {
		return h, reject(ReasonIllegalPair, KeyAction, "%s is not a %s action", act, cat)
	}

	return Header{
		Experiment:  experiment,
		Participant: participant,
		OccurredAt:  at,
		Category:    cat,
		Action:      act,
	}, nil
}

func parseID(fields Fields, key string) (int64, *Reject) {
	raw, ok := fields.Get(key)
	if !ok {
		return 0, reject(ReasonMissingField, key, "required")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, reject(ReasonInvalidID, key, "%q is not a positive integer", raw)
	}
	return id, nil
}

func parseTime(fields Fields, key string) (time.Time, *Reject) {
	raw, ok := fields.Get(key)
	if !ok {
		return time.Time{}, reject(ReasonMissingField, key, "required")
	}
	t, err := time.Parse(TimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, reject(ReasonInvalidTime, key, "%q is not an RFC 3339 instant", raw)
	}
	return t.UTC(), nil
}

// optionalInt returns nil for an absent or empty value and rejects values
// that are present but not integers.
func optionalInt(fields Fields, key string) (*int, *Reject) {
	raw := fields.optional(key)
	if raw == nil {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*raw))
	if err != nil {
		return nil, reject(ReasonInvalidValue, key, "%q is not an integer", *raw)
	}
	return &n, nil
}

func parseResource(fields Fields) (*ResourceAttrs, *Reject) {
	attrs := &ResourceAttrs{
		Name:       fields.optional("name"),
		Hash:       fields.optional("md5"),
		DataFormat: fields.optional("dataFormat"),
		Library:    LibraryUnknown,
	}
	if raw := fields.optional("libraryResource"); raw != nil {
		lib := LibraryResource(strings.ToUpper(strings.TrimSpace(*raw)))
		if !lib.Valid() {
			return nil, reject(ReasonInvalidValue, "libraryResource", "%q is not TRUE, FALSE or UNKNOWN", *raw)
		}
		attrs.Library = lib
	}
	return attrs, nil
}

func parseDebugger(fields Fields) (*DebuggerAttrs, *Reject) {
	original, rej := optionalInt(fields, "original")
	if rej != nil {
		return nil, rej
	}
	execution, rej := optionalInt(fields, "execution")
	if rej != nil {
		return nil, rej
	}
	return &DebuggerAttrs{
		TargetID:  fields.optional("id"),
		Name:      fields.optional("name"),
		Original:  original,
		Execution: execution,
	}, nil
}

func parseQuestion(fields Fields) (*QuestionAttrs, *Reject) {
	feedback, rej := optionalInt(fields, "feedback")
	if rej != nil {
		return nil, rej
	}
	attrs := &QuestionAttrs{
		Feedback:     feedback,
		QuestionType: fields.optional("q_type"),
		Label:        fields.optional("category"),
		Form:         fields.optional("form"),
		BlockID:      fields.optional("id"),
		Opcode:       fields.optional("opcode"),
	}
	if raw := fields.optional("values"); raw != nil {
		attrs.Values = strings.Split(*raw, ",")
	}
	return attrs, nil
}

// ParseFile validates a file upload. The content is base64 encoded under "file".
func ParseFile(fields Fields) (*File, *Reject) {
	return parseBlob(fields, "file", false)
}

// ParseZip validates a project archive upload. The content is base64 encoded under "zip".
func ParseZip(fields Fields) (*File, *Reject) {
	return parseBlob(fields, "zip", true)
}

func parseBlob(fields Fields, contentKey string, isZip bool) (*File, *Reject) {
	participant, rej := parseID(fields, KeyUser)
	if rej != nil {
		return nil, rej
	}
	experiment, rej := parseID(fields, KeyExperiment)
	if rej != nil {
		return nil, rej
	}
	at, rej := parseTime(fields, KeyTime)
	if rej != nil {
		return nil, rej
	}

	name := fields.optional("name")
	if name == nil {
		return nil, reject(ReasonMissingField, "name", "required")
	}
	encoded, ok := fields.Get(contentKey)
	if !ok {
		return nil, reject(ReasonMissingField, contentKey, "required")
	}
	content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, reject(ReasonInvalidPayload, contentKey, "content is not valid base64")
	}

	f := &File{
		Experiment:  experiment,
		Participant: participant,
		OccurredAt:  at,
		Name:        *name,
		Content:     content,
		IsZip:       isZip,
	}
	if ct := fields.optional("type"); ct != nil && !isZip {
		f.ContentType = *ct
	}
	if isZip {
		f.ContentType = "application/zip"
	}
	return f, nil
}
