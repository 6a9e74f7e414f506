package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TraceLab/internal/domain"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/eventcount"
)

// Recorder implements eventstore.Recorder: the participation check, the
// event insert and the counter upsert commit in one transaction, so a
// failure of any leaves nothing behind.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder creates a Recorder backed by the given pool.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record appends rec and increments its action tally atomically. It returns
// domain.ErrNoParticipant when the participation is not active at write time.
func (r *Recorder) Record(ctx context.Context, rec *event.Record) (int64, error) {
	var seq int64
	err := r.inParticipation(ctx, rec.Experiment, rec.Participant, func(tx pgx.Tx) error {
		var err error
		if seq, err = appendEvent(ctx, tx, rec); err != nil {
			return err
		}
		key := eventcount.Key{Experiment: rec.Experiment, Participant: rec.Participant, Action: rec.Action}
		return incrementCount(ctx, tx, key)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// AppendFile inserts an uploaded file under the same participation check as Record.
func (r *Recorder) AppendFile(ctx context.Context, f *event.File) (int64, error) {
	var seq int64
	err := r.inParticipation(ctx, f.Experiment, f.Participant, func(tx pgx.Tx) error {
		var err error
		seq, err = appendFile(ctx, tx, f)
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// inParticipation runs fn in a transaction holding share locks on the rows
// that make the participation active, so finishing the session waits for
// the write or the write sees the finished session.
func (r *Recorder) inParticipation(ctx context.Context, experiment, user int64, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM participants p
		 JOIN experiments e ON e.id = p.experiment_id
		 JOIN participant_users u ON u.id = p.user_id
		 WHERE p.experiment_id = $1 AND p.user_id = $2
		   AND p.finished_at IS NULL AND e.active AND u.active
		 FOR SHARE`, experiment, user,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("user %d in experiment %d: %w", user, experiment, domain.ErrNoParticipant)
	}
	if err != nil {
		return fmt.Errorf("check participation: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}
