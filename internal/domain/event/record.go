// Package event defines telemetry records and the parser that turns raw
// producer payloads into them.
package event

import (
	"time"

	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

// TimeLayout is the textual format required for the "time" field.
const TimeLayout = time.RFC3339Nano

// LibraryResource tells whether a resource came from the built-in library.
type LibraryResource string

const (
	LibraryTrue    LibraryResource = "TRUE"
	LibraryFalse   LibraryResource = "FALSE"
	LibraryUnknown LibraryResource = "UNKNOWN"
)

// Valid reports whether l is one of the known values.
func (l LibraryResource) Valid() bool {
	switch l {
	case LibraryTrue, LibraryFalse, LibraryUnknown:
		return true
	}
	return false
}

// Header carries the fields every record has.
type Header struct {
	Experiment  int64             `json:"experiment"`
	Participant int64             `json:"user"`
	OccurredAt  time.Time         `json:"time"`
	Category    taxonomy.Category `json:"-"`
	Action      taxonomy.Action   `json:"-"`
}

// Record is one validated telemetry event. Exactly one of the attribute
// pointers matching Kind() is set; it may be nil for kinds without extra fields.
//
// Optional string attributes are nil when the producer sent no value, either
// by omitting the key or by sending a blank string.
type Record struct {
	Header

	// Seq is the arrival sequence assigned by the store. Zero until stored.
	Seq int64 `json:"seq,omitempty"`

	Block    *BlockAttrs    `json:"block,omitempty"`
	Click    *ClickAttrs    `json:"click,omitempty"`
	Resource *ResourceAttrs `json:"resource,omitempty"`
	Debugger *DebuggerAttrs `json:"debugger,omitempty"`
	Question *QuestionAttrs `json:"question,omitempty"`
}

// Kind returns the telemetry family of the record.
func (r *Record) Kind() taxonomy.Kind { return r.Action.Kind }

// HasCode reports whether the record carries a code-structure snapshot.
func (r *Record) HasCode() bool {
	return r.Block != nil && r.Block.Code != nil
}

// BlockAttrs are the optional fields of a block event.
type BlockAttrs struct {
	Sprite   *string `json:"spritename,omitempty"`
	Metadata *string `json:"metadata,omitempty"`
	XML      *string `json:"xml,omitempty"`
	Code     *string `json:"json,omitempty"`
}

// ClickAttrs are the optional fields of a click event.
type ClickAttrs struct {
	Metadata *string `json:"metadata,omitempty"`
}

// ResourceAttrs are the optional fields of a resource event.
type ResourceAttrs struct {
	Name       *string         `json:"name,omitempty"`
	Hash       *string         `json:"md5,omitempty"`
	DataFormat *string         `json:"dataFormat,omitempty"`
	Library    LibraryResource `json:"libraryResource"`
}

// DebuggerAttrs are the optional fields of a debugger event.
type DebuggerAttrs struct {
	TargetID  *string `json:"id,omitempty"`
	Name      *string `json:"name,omitempty"`
	Original  *int    `json:"original,omitempty"`
	Execution *int    `json:"execution,omitempty"`
}

// QuestionAttrs are the optional fields of a question event.
type QuestionAttrs struct {
	Feedback     *int     `json:"feedback,omitempty"`
	QuestionType *string  `json:"q_type,omitempty"`
	Values       []string `json:"values,omitempty"`
	Label        *string  `json:"category,omitempty"`
	Form         *string  `json:"form,omitempty"`
	BlockID      *string  `json:"id,omitempty"`
	Opcode       *string  `json:"opcode,omitempty"`
}

// File is an uploaded project artefact. Zip archives are files with IsZip set.
type File struct {
	Seq         int64     `json:"seq,omitempty"`
	Experiment  int64     `json:"experiment"`
	Participant int64     `json:"user"`
	OccurredAt  time.Time `json:"time"`
	Name        string    `json:"name"`
	ContentType string    `json:"type,omitempty"`
	Content     []byte    `json:"-"`
	IsZip       bool      `json:"zip"`
}

// CodesData is the number of distinct code-structure snapshots observed
// for one participant of an experiment.
type CodesData struct {
	Experiment  int64 `json:"experiment"`
	Participant int64 `json:"user"`
	Count       int   `json:"count"`
}

// Snapshot is the most recent code-structure snapshot of a participant.
type Snapshot struct {
	Seq        int64     `json:"seq"`
	OccurredAt time.Time `json:"time"`
	Code       string    `json:"json"`
}
