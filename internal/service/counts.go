package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/TraceLab/internal/domain"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/eventcount"
	"github.com/Strob0t/TraceLab/internal/port/counter"
	"github.com/Strob0t/TraceLab/internal/port/eventstore"
)

// CountsService answers per-participant read queries.
type CountsService struct {
	counts counter.Aggregator
	store  eventstore.Store
}

// NewCountsService creates a CountsService.
func NewCountsService(counts counter.Aggregator, store eventstore.Store) *CountsService {
	return &CountsService{counts: counts, store: store}
}

// CountsFor returns the participant's action tallies grouped by kind.
func (s *CountsService) CountsFor(ctx context.Context, experiment, user int64) (eventcount.Summary, error) {
	if err := validateIDs(experiment, user); err != nil {
		return eventcount.Summary{}, err
	}
	sum, err := s.counts.CountsFor(ctx, experiment, user)
	if err != nil {
		return eventcount.Summary{}, fmt.Errorf("counts for %d/%d: %w", experiment, user, err)
	}
	return sum, nil
}

// LatestCode returns the participant's most recent code snapshot, or
// domain.ErrNotFound.
func (s *CountsService) LatestCode(ctx context.Context, experiment, user int64) (*event.Snapshot, error) {
	if err := validateIDs(experiment, user); err != nil {
		return nil, err
	}
	return s.store.LatestCode(ctx, experiment, user)
}

func validateIDs(experiment, user int64) error {
	if experiment <= 0 {
		return fmt.Errorf("experiment id %d: %w", experiment, domain.ErrValidation)
	}
	if user <= 0 {
		return fmt.Errorf("user id %d: %w", user, domain.ErrValidation)
	}
	return nil
}
