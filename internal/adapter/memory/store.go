// Package memory provides in-process implementations of the storage ports.
// They back the "memory" storage driver and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/TraceLab/internal/domain"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

type streamKey struct {
	experiment  int64
	participant int64
}

// stream holds the records of one (experiment, participant) pair.
type stream struct {
	mu      sync.Mutex
	records []event.Record
	files   []event.File
}

// Store implements eventstore.Store. Appends to different participant
// streams never contend; the arrival sequence is a single atomic counter.
type Store struct {
	streams sync.Map // streamKey -> *stream
	seq     atomic.Int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) stream(experiment, participant int64) *stream {
	k := streamKey{experiment: experiment, participant: participant}
	if v, ok := s.streams.Load(k); ok {
		return v.(*stream)
	}
	v, _ := s.streams.LoadOrStore(k, &stream{})
	return v.(*stream)
}

// appendLocked must be called with st.mu held.
func (s *Store) appendLocked(st *stream, rec *event.Record) int64 {
	seq := s.seq.Add(1)
	stored := *rec
	stored.Seq = seq
	st.records = append(st.records, stored)
	rec.Seq = seq
	return seq
}

// Append persists rec and returns its arrival sequence.
func (s *Store) Append(ctx context.Context, rec *event.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st := s.stream(rec.Experiment, rec.Participant)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.appendLocked(st, rec), nil
}

// AppendFile persists an uploaded file.
func (s *Store) AppendFile(ctx context.Context, f *event.File) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st := s.stream(f.Experiment, f.Participant)
	st.mu.Lock()
	defer st.mu.Unlock()

	seq := s.seq.Add(1)
	stored := *f
	stored.Seq = seq
	stored.Content = append([]byte(nil), f.Content...)
	st.files = append(st.files, stored)
	f.Seq = seq
	return seq, nil
}

// LoadEvents returns the experiment's records of the given kinds in arrival order.
func (s *Store) LoadEvents(ctx context.Context, experiment int64, kinds ...taxonomy.Kind) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := kindSet(kinds)

	var out []event.Record
	s.each(experiment, func(_ streamKey, st *stream) {
		for i := range st.records {
			if want == nil || want[st.records[i].Kind()] {
				out = append(out, st.records[i])
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LoadFiles returns the experiment's files in arrival order.
func (s *Store) LoadFiles(ctx context.Context, experiment int64) ([]event.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []event.File
	s.each(experiment, func(_ streamKey, st *stream) {
		out = append(out, st.files...)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// CodesData counts the distinct code snapshots of each participant.
func (s *Store) CodesData(ctx context.Context, experiment int64) ([]event.CodesData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []event.CodesData
	s.each(experiment, func(k streamKey, st *stream) {
		seen := make(map[string]struct{})
		for i := range st.records {
			if st.records[i].HasCode() {
				seen[*st.records[i].Block.Code] = struct{}{}
			}
		}
		if len(seen) > 0 {
			out = append(out, event.CodesData{Experiment: experiment, Participant: k.participant, Count: len(seen)})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out, nil
}

// LatestCode returns the participant's most recent code snapshot.
func (s *Store) LatestCode(ctx context.Context, experiment, participant int64) (*event.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.streams.Load(streamKey{experiment: experiment, participant: participant})
	if !ok {
		return nil, domain.ErrNotFound
	}
	st := v.(*stream)
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := len(st.records) - 1; i >= 0; i-- {
		r := &st.records[i]
		if r.HasCode() {
			return &event.Snapshot{Seq: r.Seq, OccurredAt: r.OccurredAt, Code: *r.Block.Code}, nil
		}
	}
	return nil, domain.ErrNotFound
}

// each calls fn with the lock of every stream of the experiment held in turn.
func (s *Store) each(experiment int64, fn func(streamKey, *stream)) {
	s.streams.Range(func(key, value any) bool {
		k := key.(streamKey)
		if k.experiment != experiment {
			return true
		}
		st := value.(*stream)
		st.mu.Lock()
		fn(k, st)
		st.mu.Unlock()
		return true
	})
}

func kindSet(kinds []taxonomy.Kind) map[taxonomy.Kind]bool {
	if len(kinds) == 0 {
		return nil
	}
	m := make(map[taxonomy.Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}
