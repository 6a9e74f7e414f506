// Package participant defines the lookup into the external participation registry.
package participant

import "context"

// Registry answers whether a participant is currently taking part in an
// experiment: enrolled, not finished, with both the user and the experiment
// active.
type Registry interface {
	IsActive(ctx context.Context, experiment, participant int64) (bool, error)
}
