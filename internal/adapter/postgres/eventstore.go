package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const insertEvent = `INSERT INTO events (experiment_id, user_id, kind, category, action, occurred_at,
	sprite, metadata, xml, code, resource_name, hash, data_format, library_resource, attrs)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING seq`

// eventColumns is the SELECT column list for events queries.
const eventColumns = `seq, experiment_id, user_id, kind, category, action, occurred_at,
	sprite, metadata, xml, code, resource_name, hash, data_format, library_resource, attrs`

// Append inserts rec into the events table.
func (s *EventStore) Append(ctx context.Context, rec *event.Record) (int64, error) {
	return appendEvent(ctx, s.pool, rec)
}

func appendEvent(ctx context.Context, q querier, rec *event.Record) (int64, error) {
	args, err := eventArgs(rec)
	if err != nil {
		return 0, err
	}
	var seq int64
	if err := q.QueryRow(ctx, insertEvent, args...).Scan(&seq); err != nil {
		return 0, constraintWrap(err, "append %s event", rec.Kind())
	}
	rec.Seq = seq
	return seq, nil
}

// eventArgs flattens a record into insertEvent parameters. Debugger and
// question attributes have no dedicated columns and go into attrs.
func eventArgs(rec *event.Record) ([]any, error) {
	var (
		sprite, metadata, xml, code *string
		name, hash, format, library *string
		attrs                       []byte
		err                         error
	)

	switch {
	case rec.Block != nil:
		sprite, metadata, xml, code = rec.Block.Sprite, rec.Block.Metadata, rec.Block.XML, rec.Block.Code
	case rec.Click != nil:
		metadata = rec.Click.Metadata
	case rec.Resource != nil:
		name, hash, format = rec.Resource.Name, rec.Resource.Hash, rec.Resource.DataFormat
		lib := string(rec.Resource.Library)
		library = &lib
	case rec.Debugger != nil:
		attrs, err = json.Marshal(rec.Debugger)
	case rec.Question != nil:
		attrs, err = json.Marshal(rec.Question)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s attributes: %w", rec.Kind(), err)
	}

	return []any{
		rec.Experiment, rec.Participant, string(rec.Kind()), rec.Category.Name, rec.Action.Name, rec.OccurredAt,
		sprite, metadata, xml, code, name, hash, format, library, attrs,
	}, nil
}

// scanRecord scans an events row and rebuilds the typed record.
func scanRecord(row scannable) (event.Record, error) {
	var (
		rec                         event.Record
		kind, category, action      string
		sprite, metadata, xml, code *string
		name, hash, format, library *string
		attrs                       []byte
	)
	if err := row.Scan(
		&rec.Seq, &rec.Experiment, &rec.Participant, &kind, &category, &action, &rec.OccurredAt,
		&sprite, &metadata, &xml, &code, &name, &hash, &format, &library, &attrs,
	); err != nil {
		return rec, err
	}

	k := taxonomy.Kind(kind)
	c, err := taxonomy.ParseCategory(k, category)
	if err != nil {
		return rec, fmt.Errorf("event %d: %w", rec.Seq, err)
	}
	a, err := taxonomy.ParseAction(k, action)
	if err != nil {
		return rec, fmt.Errorf("event %d: %w", rec.Seq, err)
	}
	rec.Category, rec.Action = c, a
	rec.OccurredAt = rec.OccurredAt.UTC()

	switch k {
	case taxonomy.KindBlock:
		rec.Block = &event.BlockAttrs{Sprite: sprite, Metadata: metadata, XML: xml, Code: code}
	case taxonomy.KindClick:
		rec.Click = &event.ClickAttrs{Metadata: metadata}
	case taxonomy.KindResource:
		rec.Resource = &event.ResourceAttrs{Name: name, Hash: hash, DataFormat: format, Library: event.LibraryUnknown}
		if library != nil {
			rec.Resource.Library = event.LibraryResource(*library)
		}
	case taxonomy.KindDebugger:
		rec.Debugger = &event.DebuggerAttrs{}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, rec.Debugger); err != nil {
				return rec, fmt.Errorf("event %d attrs: %w", rec.Seq, err)
			}
		}
	case taxonomy.KindQuestion:
		rec.Question = &event.QuestionAttrs{}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, rec.Question); err != nil {
				return rec, fmt.Errorf("event %d attrs: %w", rec.Seq, err)
			}
		}
	}
	return rec, nil
}

// LoadEvents returns the experiment's records of the given kinds ordered by seq.
func (s *EventStore) LoadEvents(ctx context.Context, experiment int64, kinds ...taxonomy.Kind) ([]event.Record, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM events
			WHERE experiment_id = $1 AND (cardinality($2::text[]) = 0 OR kind = ANY($2))
			ORDER BY seq ASC`, eventColumns),
		experiment, names)
	if err != nil {
		return nil, fmt.Errorf("load events for experiment %d: %w", experiment, err)
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendFile inserts an uploaded file or archive.
func (s *EventStore) AppendFile(ctx context.Context, f *event.File) (int64, error) {
	return appendFile(ctx, s.pool, f)
}

func appendFile(ctx context.Context, q querier, f *event.File) (int64, error) {
	var seq int64
	err := q.QueryRow(ctx,
		`INSERT INTO files (experiment_id, user_id, occurred_at, name, content_type, content, is_zip)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
		f.Experiment, f.Participant, f.OccurredAt, f.Name, f.ContentType, f.Content, f.IsZip,
	).Scan(&seq)
	if err != nil {
		return 0, constraintWrap(err, "append file %q", f.Name)
	}
	f.Seq = seq
	return seq, nil
}

// LoadFiles returns the experiment's files ordered by seq.
func (s *EventStore) LoadFiles(ctx context.Context, experiment int64) ([]event.File, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, experiment_id, user_id, occurred_at, name, content_type, content, is_zip
		 FROM files WHERE experiment_id = $1 ORDER BY seq ASC`, experiment)
	if err != nil {
		return nil, fmt.Errorf("load files for experiment %d: %w", experiment, err)
	}
	defer rows.Close()

	var out []event.File
	for rows.Next() {
		var f event.File
		if err := rows.Scan(&f.Seq, &f.Experiment, &f.Participant, &f.OccurredAt,
			&f.Name, &f.ContentType, &f.Content, &f.IsZip); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CodesData counts the distinct code snapshots of each participant.
func (s *EventStore) CodesData(ctx context.Context, experiment int64) ([]event.CodesData, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COUNT(DISTINCT code) FROM events
		 WHERE experiment_id = $1 AND kind = $2 AND code IS NOT NULL
		 GROUP BY user_id ORDER BY user_id`, experiment, string(taxonomy.KindBlock))
	if err != nil {
		return nil, fmt.Errorf("codes data for experiment %d: %w", experiment, err)
	}
	defer rows.Close()

	var out []event.CodesData
	for rows.Next() {
		cd := event.CodesData{Experiment: experiment}
		if err := rows.Scan(&cd.Participant, &cd.Count); err != nil {
			return nil, fmt.Errorf("scan codes data: %w", err)
		}
		out = append(out, cd)
	}
	return out, rows.Err()
}

// LatestCode returns the participant's most recent code snapshot.
func (s *EventStore) LatestCode(ctx context.Context, experiment, participant int64) (*event.Snapshot, error) {
	var (
		snap event.Snapshot
		at   time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT seq, occurred_at, code FROM events
		 WHERE experiment_id = $1 AND user_id = $2 AND code IS NOT NULL
		 ORDER BY seq DESC LIMIT 1`, experiment, participant,
	).Scan(&snap.Seq, &at, &snap.Code)
	if err != nil {
		return nil, notFoundWrap(err, "latest code for user %d in experiment %d", participant, experiment)
	}
	snap.OccurredAt = at.UTC()
	return &snap, nil
}
