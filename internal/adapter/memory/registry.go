package memory

import (
	"context"
	"sync"
	"time"
)

type enrollment struct {
	started  time.Time
	finished *time.Time
}

// Registry implements participant.Registry for the memory driver and tests.
// Experiments and users are active unless explicitly deactivated.
type Registry struct {
	mu           sync.RWMutex
	allowAll     bool
	enrollments  map[streamKey]enrollment
	closedExps   map[int64]bool
	blockedUsers map[int64]bool
}

// NewRegistry creates a registry with no participants.
func NewRegistry() *Registry {
	return &Registry{
		enrollments:  make(map[streamKey]enrollment),
		closedExps:   make(map[int64]bool),
		blockedUsers: make(map[int64]bool),
	}
}

// AllowAll makes every (experiment, participant) pair count as active.
// Used when TraceLab runs without a participation database.
func (r *Registry) AllowAll() *Registry {
	r.mu.Lock()
	r.allowAll = true
	r.mu.Unlock()
	return r
}

// Enroll starts a participation.
func (r *Registry) Enroll(experiment, participant int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrollments[streamKey{experiment, participant}] = enrollment{started: time.Now().UTC()}
}

// Finish ends a participation.
func (r *Registry) Finish(experiment, participant int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := streamKey{experiment, participant}
	if e, ok := r.enrollments[k]; ok {
		now := time.Now().UTC()
		e.finished = &now
		r.enrollments[k] = e
	}
}

// SetExperimentActive opens or closes an experiment.
func (r *Registry) SetExperimentActive(experiment int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closedExps[experiment] = !active
}

// SetUserActive activates or deactivates a user across all experiments.
func (r *Registry) SetUserActive(participant int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedUsers[participant] = !active
}

// IsActive reports whether the participant is currently taking part.
func (r *Registry) IsActive(ctx context.Context, experiment, participant int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closedExps[experiment] || r.blockedUsers[participant] {
		return false, nil
	}
	if r.allowAll {
		return true, nil
	}
	e, ok := r.enrollments[streamKey{experiment, participant}]
	return ok && e.finished == nil, nil
}
