package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TraceLab/internal/domain/eventcount"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

// Counter implements counter.Aggregator with a single-statement upsert;
// concurrent increments of one key serialise on its row lock.
type Counter struct {
	pool *pgxpool.Pool
}

// NewCounter creates a Counter backed by the given pool.
func NewCounter(pool *pgxpool.Pool) *Counter {
	return &Counter{pool: pool}
}

const upsertCount = `INSERT INTO event_counts (experiment_id, user_id, kind, action, count)
	VALUES ($1, $2, $3, $4, 1)
	ON CONFLICT (experiment_id, user_id, kind, action)
	DO UPDATE SET count = event_counts.count + 1`

// Increment adds one to the tally of key, creating it at 1.
func (c *Counter) Increment(ctx context.Context, key eventcount.Key) error {
	return incrementCount(ctx, c.pool, key)
}

func incrementCount(ctx context.Context, q querier, key eventcount.Key) error {
	_, err := q.Exec(ctx, upsertCount,
		key.Experiment, key.Participant, string(key.Action.Kind), key.Action.Name)
	if err != nil {
		return constraintWrap(err, "increment %s/%s", key.Action.Kind, key.Action.Name)
	}
	return nil
}

// CountsFor returns the participant's tallies grouped by kind.
func (c *Counter) CountsFor(ctx context.Context, experiment, participant int64) (eventcount.Summary, error) {
	counts, err := c.query(ctx,
		`SELECT user_id, kind, action, count FROM event_counts
		 WHERE experiment_id = $1 AND user_id = $2`, experiment, experiment, participant)
	if err != nil {
		return eventcount.Summary{}, fmt.Errorf("counts for user %d: %w", participant, err)
	}
	return eventcount.Summarize(experiment, participant, counts), nil
}

// CountsForExperiment returns the experiment's tallies of the given kinds.
func (c *Counter) CountsForExperiment(ctx context.Context, experiment int64, kinds ...taxonomy.Kind) ([]eventcount.Count, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	counts, err := c.query(ctx,
		`SELECT user_id, kind, action, count FROM event_counts
		 WHERE experiment_id = $1 AND (cardinality($2::text[]) = 0 OR kind = ANY($2))`,
		experiment, experiment, names)
	if err != nil {
		return nil, fmt.Errorf("counts for experiment %d: %w", experiment, err)
	}
	eventcount.Sort(counts)
	return orEmpty(counts), nil
}

func (c *Counter) query(ctx context.Context, sql string, experiment int64, args ...any) ([]eventcount.Count, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventcount.Count
	for rows.Next() {
		var (
			cnt          eventcount.Count
			kind, action string
		)
		if err := rows.Scan(&cnt.Participant, &kind, &action, &cnt.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		a, err := taxonomy.ParseAction(taxonomy.Kind(kind), action)
		if err != nil {
			return nil, err
		}
		cnt.Experiment = experiment
		cnt.Action = a
		out = append(out, cnt)
	}
	return out, rows.Err()
}
