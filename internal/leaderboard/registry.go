package leaderboard

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Source fetches the raw trader ranking.
type Source interface {
	FetchLeaderboard(ctx context.Context, limit int) ([]string, error)
}

// Registry maintains the current target address set sourced from the
// external ranking. The previous snapshot is discarded once a diff is
// computed.
type Registry struct {
	source Source
	topN   int
	logger *slog.Logger

	mu          sync.RWMutex
	current     map[string]struct{}
	lastRefresh time.Time
	refreshErrs int
}

// NewRegistry creates a registry capped to the top-N ranked addresses.
func NewRegistry(source Source, topN int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		source:  source,
		topN:    topN,
		logger:  logger,
		current: make(map[string]struct{}),
	}
}

// Refresh fetches the ranking and diffs it against the previous target
// set. On failure the previous set is retained unchanged and the error
// is returned to the caller (stale-but-available policy).
func (r *Registry) Refresh(ctx context.Context) (added, removed []string, err error) {
	addrs, err := r.source.FetchLeaderboard(ctx, r.topN)
	if err != nil {
		r.mu.Lock()
		r.refreshErrs++
		r.mu.Unlock()

		r.logger.Warn("leaderboard refresh failed, retaining previous target set",
			"targets", r.Size(),
			"error", err,
		)
		return nil, nil, err
	}

	next := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		next[a] = struct{}{}
	}

	r.mu.Lock()
	for _, a := range addrs {
		if _, ok := r.current[a]; !ok {
			added = append(added, a)
		}
	}
	for a := range r.current {
		if _, ok := next[a]; !ok {
			removed = append(removed, a)
		}
	}
	r.current = next
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	sort.Strings(removed)

	r.logger.Info("leaderboard refreshed",
		"targets", len(next),
		"added", len(added),
		"removed", len(removed),
	)

	return added, removed, nil
}

// Current returns the current target set, sorted for determinism.
func (r *Registry) Current() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]string, 0, len(r.current))
	for a := range r.current {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

// Contains reports whether an address is in the current target set.
func (r *Registry) Contains(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.current[address]
	return ok
}

// Size returns the current target set size.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.current)
}

// LastRefresh returns when the target set last changed hands.
// Zero until the first successful refresh.
func (r *Registry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}
