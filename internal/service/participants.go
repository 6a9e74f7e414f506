package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/TraceLab/internal/port/cache"
	"github.com/Strob0t/TraceLab/internal/port/participant"
)

// errInactive keeps negative lookups out of the cache so that a freshly
// enrolled participant is recognised on the next submission.
var errInactive = errors.New("participant inactive")

var activeFlag = []byte("1")

// CachedRegistry fronts the participation registry with a TTL cache.
// Only positive answers are cached.
type CachedRegistry struct {
	registry participant.Registry
	cache    cache.LoadingCache
	ttl      time.Duration
}

var _ participant.Registry = (*CachedRegistry)(nil)

// NewCachedRegistry wraps registry. A nil cache or zero ttl disables caching.
func NewCachedRegistry(registry participant.Registry, c cache.LoadingCache, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{registry: registry, cache: c, ttl: ttl}
}

// IsActive reports whether the participant is currently taking part in the experiment.
func (r *CachedRegistry) IsActive(ctx context.Context, experiment, user int64) (bool, error) {
	if r.cache == nil || r.ttl <= 0 {
		return r.registry.IsActive(ctx, experiment, user)
	}

	_, err := r.cache.GetOrLoad(ctx, participantKey(experiment, user), r.ttl, func(ctx context.Context) ([]byte, error) {
		ok, err := r.registry.IsActive(ctx, experiment, user)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errInactive
		}
		return activeFlag, nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errInactive):
		return false, nil
	default:
		return false, fmt.Errorf("participant lookup: %w", err)
	}
}

// Forget drops the cached answer for a participant, e.g. after their
// session was finished by the lifecycle collaborator.
func (r *CachedRegistry) Forget(ctx context.Context, experiment, user int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, participantKey(experiment, user)); err != nil {
		slog.WarnContext(ctx, "participant cache delete failed", "experiment", experiment, "user", user, "error", err)
	}
}

func participantKey(experiment, user int64) string {
	return fmt.Sprintf("participant.%d.%d", experiment, user)
}
