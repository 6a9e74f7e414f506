// Package counter defines the port for per-participant action tallies.
package counter

import (
	"context"

	"github.com/Strob0t/TraceLab/internal/domain/eventcount"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

// Aggregator maintains running counts keyed by (experiment, participant, action).
// Implementations must make Increment safe for concurrent callers on the same
// key without a lock shared by unrelated keys.
type Aggregator interface {
	// Increment creates the tally at 1 or adds one to it.
	Increment(ctx context.Context, key eventcount.Key) error

	// CountsFor returns the participant's tallies grouped by kind.
	CountsFor(ctx context.Context, experiment, participant int64) (eventcount.Summary, error)

	// CountsForExperiment returns every tally of the experiment whose kind is
	// in kinds (all kinds when empty), sorted with eventcount.Sort.
	CountsForExperiment(ctx context.Context, experiment int64, kinds ...taxonomy.Kind) ([]eventcount.Count, error)
}
