// Package eventstore defines the port interface for the append-only telemetry store.
package eventstore

import (
	"context"

	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

// Store persists validated records in arrival order. Records are never
// updated or deleted through this interface.
type Store interface {
	// Append persists rec and returns its arrival sequence.
	Append(ctx context.Context, rec *event.Record) (int64, error)

	// AppendFile persists an uploaded file or project archive.
	AppendFile(ctx context.Context, f *event.File) (int64, error)

	// LoadEvents returns every record of the experiment whose kind is in
	// kinds (all kinds when empty), ordered by arrival sequence.
	LoadEvents(ctx context.Context, experiment int64, kinds ...taxonomy.Kind) ([]event.Record, error)

	// LoadFiles returns the files of the experiment in arrival order.
	LoadFiles(ctx context.Context, experiment int64) ([]event.File, error)

	// CodesData returns, per participant, how many distinct code-structure
	// snapshots were stored. Participants with none are omitted.
	CodesData(ctx context.Context, experiment int64) ([]event.CodesData, error)

	// LatestCode returns the most recent code snapshot of a participant.
	// Returns domain.ErrNotFound when there is none.
	LatestCode(ctx context.Context, experiment, participant int64) (*event.Snapshot, error)
}

// Recorder appends a record and increments its action counter as one unit
// of work: either both happen or neither does.
type Recorder interface {
	Record(ctx context.Context, rec *event.Record) (seq int64, err error)
}
