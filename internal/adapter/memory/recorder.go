package memory

import (
	"context"
	"fmt"

	"github.com/Strob0t/TraceLab/internal/domain"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/eventcount"
	"github.com/Strob0t/TraceLab/internal/port/participant"
)

// Recorder implements eventstore.Recorder over a Store and a Counter.
// The append and the increment happen under the participant's stream lock,
// so a concurrent reader of that stream never sees one without the other.
type Recorder struct {
	store    *Store
	counter  *Counter
	registry participant.Registry
}

// NewRecorder pairs a store with a counter. When registry is non-nil every
// write is refused with domain.ErrNoParticipant unless the registry reports
// the participant active at write time.
func NewRecorder(store *Store, counter *Counter, registry participant.Registry) *Recorder {
	return &Recorder{store: store, counter: counter, registry: registry}
}

// Record appends rec and increments its action tally.
func (r *Recorder) Record(ctx context.Context, rec *event.Record) (int64, error) {
	if err := r.checkActive(ctx, rec.Experiment, rec.Participant); err != nil {
		return 0, err
	}
	st := r.store.stream(rec.Experiment, rec.Participant)
	st.mu.Lock()
	defer st.mu.Unlock()

	seq := r.store.appendLocked(st, rec)
	r.counter.increment(eventcount.Key{
		Experiment:  rec.Experiment,
		Participant: rec.Participant,
		Action:      rec.Action,
	})
	return seq, nil
}

// AppendFile stores an uploaded file under the same participation check as Record.
func (r *Recorder) AppendFile(ctx context.Context, f *event.File) (int64, error) {
	if err := r.checkActive(ctx, f.Experiment, f.Participant); err != nil {
		return 0, err
	}
	return r.store.AppendFile(ctx, f)
}

func (r *Recorder) checkActive(ctx context.Context, experiment, user int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.registry == nil {
		return nil
	}
	active, err := r.registry.IsActive(ctx, experiment, user)
	if err != nil {
		return fmt.Errorf("participant check: %w", err)
	}
	if !active {
		return fmt.Errorf("user %d in experiment %d: %w", user, experiment, domain.ErrNoParticipant)
	}
	return nil
}
