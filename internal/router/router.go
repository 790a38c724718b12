package router

import (
	"sort"
	"sync"
	"time"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/quota"
)

// errorPenaltyCap bounds how far a recent error streak can demote a key.
const errorPenaltyCap = 5

// Router selects targets for classified requests. It holds the static
// route table and consults the quota view on every selection.
type Router struct {
	routes  map[string][]domain.RouteTier
	targets map[domain.ProviderKey]*domain.Target
	view    quota.View
	sticky  *StickyStore

	errorPriorityWindow time.Duration

	mu      sync.Mutex
	cursors map[string]int

	now func() time.Time
}

// New builds a router over resolved routes and targets.
func New(routes map[string][]domain.RouteTier, targets map[domain.ProviderKey]*domain.Target, view quota.View, sticky *StickyStore, errorPriorityWindow time.Duration) *Router {
	return &Router{
		routes:              routes,
		targets:             targets,
		view:                view,
		sticky:              sticky,
		errorPriorityWindow: errorPriorityWindow,
		cursors:             make(map[string]int),
		now:                 time.Now,
	}
}

// Select picks one ready target for the classified request. exclude holds
// keys already attempted this request; the executor passes it on failover.
func (r *Router) Select(cl Classification, sessionID string, exclude map[domain.ProviderKey]bool) (domain.RouteDecision, error) {
	now := r.now()

	if cl.PinnedKey != "" {
		return r.selectPinned(cl, exclude, now)
	}

	tiers, ok := r.routes[cl.RouteName]
	if !ok {
		tiers, ok = r.routes["default"]
		if !ok {
			return domain.RouteDecision{}, domain.NewError(domain.KindNoAvailableProvider,
				"no route named %q and no default route", cl.RouteName)
		}
		cl.RouteName = "default"
	}

	// A sticky session reuses its last key while that key stays ready.
	// A pin that can no longer serve is dropped, not just skipped, so the
	// session rebinds to whichever key serves it next.
	if r.sticky != nil && sessionID != "" {
		if key, ok := r.sticky.Get(sessionID); ok {
			t, configured := r.targets[key]
			if !exclude[key] && configured && r.ready(key, now) && routeContains(tiers, key) {
				return domain.RouteDecision{
					RouteName:   cl.RouteName,
					PoolID:      "sticky",
					ProviderKey: key,
					Target:      t,
				}, nil
			}
			r.sticky.Forget(sessionID)
		}
	}

	var earliestRecovery int64
	for _, backup := range []bool{false, true} {
		ordered := tiersByPriority(tiers, backup)
		for _, tier := range ordered {
			candidates := r.readyCandidates(tier, exclude, now, &earliestRecovery)
			if len(candidates) == 0 {
				continue
			}
			key := r.pick(cl.RouteName, tier, candidates, now)
			return domain.RouteDecision{
				RouteName:   cl.RouteName,
				PoolID:      tier.ID,
				ProviderKey: key,
				Target:      r.targets[key],
			}, nil
		}
	}

	gerr := domain.NewError(domain.KindNoAvailableProvider,
		"all providers for route %q are unavailable", cl.RouteName)
	if earliestRecovery > 0 {
		if wait := time.UnixMilli(earliestRecovery).Sub(now); wait > 0 {
			gerr.RetryAfter = wait
		}
	}
	return domain.RouteDecision{}, gerr
}

func (r *Router) selectPinned(cl Classification, exclude map[domain.ProviderKey]bool, now time.Time) (domain.RouteDecision, error) {
	key := cl.PinnedKey
	t, ok := r.targets[key]
	if !ok {
		return domain.RouteDecision{}, domain.NewError(domain.KindNoAvailableProvider,
			"pinned provider %q is not configured", key)
	}
	if exclude[key] || !r.ready(key, now) {
		return domain.RouteDecision{}, domain.NewError(domain.KindNoAvailableProvider,
			"pinned provider %q is unavailable", key)
	}
	return domain.RouteDecision{
		RouteName:   cl.RouteName,
		PoolID:      "pinned",
		ProviderKey: key,
		Target:      t,
	}, nil
}

func (r *Router) ready(key domain.ProviderKey, now time.Time) bool {
	v, ok := r.view(key)
	return ok && v.Ready(now)
}

// readyCandidates filters a tier to selectable keys, tracking the earliest
// recovery time of the ones it skips.
func (r *Router) readyCandidates(tier domain.RouteTier, exclude map[domain.ProviderKey]bool, now time.Time, earliest *int64) []domain.ProviderKey {
	out := make([]domain.ProviderKey, 0, len(tier.Targets))
	for _, key := range tier.Targets {
		if exclude[key] {
			continue
		}
		if _, ok := r.targets[key]; !ok {
			continue
		}
		v, ok := r.view(key)
		if !ok {
			continue
		}
		if !v.Ready(now) {
			if v.CooldownUntilMs > 0 && (*earliest == 0 || v.CooldownUntilMs < *earliest) {
				*earliest = v.CooldownUntilMs
			}
			continue
		}
		out = append(out, key)
	}
	return out
}

// pick orders the ready candidates per the tier mode and returns the first.
// Ordering is deterministic: ties resolve to config order.
func (r *Router) pick(routeName string, tier domain.RouteTier, candidates []domain.ProviderKey, now time.Time) domain.ProviderKey {
	switch tier.Mode {
	case domain.TierRoundRobin:
		r.mu.Lock()
		cursorKey := routeName + "/" + tier.ID
		i := r.cursors[cursorKey] % len(candidates)
		r.cursors[cursorKey]++
		r.mu.Unlock()
		return candidates[i]

	case domain.TierWeighted:
		type scored struct {
			key   domain.ProviderKey
			score int
			idx   int
		}
		ranked := make([]scored, len(candidates))
		for i, key := range candidates {
			ranked[i] = scored{key: key, score: r.demotion(key, now), idx: i}
		}
		sort.SliceStable(ranked, func(a, b int) bool {
			if ranked[a].score != ranked[b].score {
				return ranked[a].score < ranked[b].score
			}
			return ranked[a].idx < ranked[b].idx
		})
		return ranked[0].key

	default: // priority: config order, demoted keys last
		best := candidates[0]
		bestScore := r.demotion(best, now)
		for _, key := range candidates[1:] {
			if s := r.demotion(key, now); s < bestScore {
				best, bestScore = key, s
			}
		}
		return best
	}
}

// demotion is the selection penalty: the key's priority tier plus its
// recent consecutive error count, counted only within the error priority
// window and capped so one bad streak cannot bury a key forever.
func (r *Router) demotion(key domain.ProviderKey, now time.Time) int {
	v, ok := r.view(key)
	if !ok {
		return 0
	}
	score := v.PriorityTier
	if v.ConsecutiveErrorCount > 0 && v.LastErrorAtMs > 0 {
		age := now.Sub(time.UnixMilli(v.LastErrorAtMs))
		if r.errorPriorityWindow <= 0 || age <= r.errorPriorityWindow {
			penalty := v.ConsecutiveErrorCount
			if penalty > errorPenaltyCap {
				penalty = errorPenaltyCap
			}
			score += penalty
		}
	}
	return score
}

// RecordSuccess pins the session to the key that served it.
func (r *Router) RecordSuccess(sessionID string, key domain.ProviderKey) {
	if r.sticky != nil && sessionID != "" {
		r.sticky.Put(sessionID, key)
	}
}

// Routes exposes the route table for the admin surface.
func (r *Router) Routes() map[string][]domain.RouteTier { return r.routes }

// Targets exposes the resolved target set for the admin surface and the
// models endpoint.
func (r *Router) Targets() map[domain.ProviderKey]*domain.Target { return r.targets }

func tiersByPriority(tiers []domain.RouteTier, backup bool) []domain.RouteTier {
	out := make([]domain.RouteTier, 0, len(tiers))
	for _, t := range tiers {
		if t.Backup == backup {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Priority < out[b].Priority })
	return out
}

func routeContains(tiers []domain.RouteTier, key domain.ProviderKey) bool {
	for _, t := range tiers {
		for _, k := range t.Targets {
			if k == key {
				return true
			}
		}
	}
	return false
}
