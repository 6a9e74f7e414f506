package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry implements participant.Registry over the participation tables
// maintained by the experiment administration service.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry creates a Registry backed by the given pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// IsActive reports whether the participant is enrolled and unfinished, and
// both the user and the experiment are active.
func (r *Registry) IsActive(ctx context.Context, experiment, participant int64) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM participants p
			JOIN experiments e ON e.id = p.experiment_id
			JOIN participant_users u ON u.id = p.user_id
			WHERE p.experiment_id = $1 AND p.user_id = $2
			  AND p.finished_at IS NULL AND e.active AND u.active
		)`, experiment, participant,
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("participant %d in experiment %d: %w", participant, experiment, err)
	}
	return active, nil
}

// Enroll registers a participation, creating the experiment and user rows
// when missing. It exists for the admin CLI and integration tests; in
// production the administration service owns these rows.
func (r *Registry) Enroll(ctx context.Context, experiment, participant int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx,
		`INSERT INTO experiments (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, experiment); err != nil {
		return fmt.Errorf("ensure experiment %d: %w", experiment, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO participant_users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, participant); err != nil {
		return fmt.Errorf("ensure user %d: %w", participant, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO participants (experiment_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (experiment_id, user_id) DO UPDATE SET finished_at = NULL`,
		experiment, participant); err != nil {
		return fmt.Errorf("enroll user %d: %w", participant, err)
	}
	return tx.Commit(ctx)
}
