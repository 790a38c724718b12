package router

import (
	"errors"
	"testing"
	"time"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/quota"
)

// staticView builds a quota view over fixed entries; keys not listed read
// as ready, matching the daemon's behavior for unknown keys.
func staticView(entries map[domain.ProviderKey]quota.ViewEntry) quota.View {
	return func(key domain.ProviderKey) (quota.ViewEntry, bool) {
		if v, ok := entries[key]; ok {
			return v, true
		}
		return quota.ViewEntry{ProviderKey: key, InPool: true, Reason: quota.ReasonOK}, true
	}
}

func blocked(key domain.ProviderKey, untilMs int64) quota.ViewEntry {
	return quota.ViewEntry{
		ProviderKey:     key,
		InPool:          false,
		Reason:          quota.ReasonCooldown,
		CooldownUntilMs: untilMs,
	}
}

func testTargets(keys ...domain.ProviderKey) map[domain.ProviderKey]*domain.Target {
	out := make(map[domain.ProviderKey]*domain.Target, len(keys))
	for _, k := range keys {
		out[k] = &domain.Target{ProviderKey: k, ProviderType: k.Provider()}
	}
	return out
}

func TestSelectPrimaryBeforeBackup(t *testing.T) {
	primary := domain.ProviderKey("glm.k.glm-4.6")
	backup := domain.ProviderKey("lmstudio.local.qwen3-4b")
	routes := map[string][]domain.RouteTier{
		"default": {
			{ID: "backup", Backup: true, Targets: []domain.ProviderKey{backup}},
			{ID: "main", Targets: []domain.ProviderKey{primary}},
		},
	}
	r := New(routes, testTargets(primary, backup), staticView(nil), nil, 0)

	d, err := r.Select(Classification{RouteName: "default"}, "", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != primary {
		t.Errorf("selected %s, want primary tier first", d.ProviderKey)
	}

	// With the primary exhausted, the backup tier serves.
	d, err = r.Select(Classification{RouteName: "default"}, "", map[domain.ProviderKey]bool{primary: true})
	if err != nil {
		t.Fatalf("Select with exclusion: %v", err)
	}
	if d.ProviderKey != backup {
		t.Errorf("selected %s, want backup", d.ProviderKey)
	}
}

func TestSelectTierPriorityOrder(t *testing.T) {
	a := domain.ProviderKey("p.a.m")
	b := domain.ProviderKey("p.b.m")
	routes := map[string][]domain.RouteTier{
		"default": {
			{ID: "second", Priority: 2, Targets: []domain.ProviderKey{b}},
			{ID: "first", Priority: 1, Targets: []domain.ProviderKey{a}},
		},
	}
	r := New(routes, testTargets(a, b), staticView(nil), nil, 0)

	d, err := r.Select(Classification{RouteName: "default"}, "", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != a {
		t.Errorf("selected %s, want the lower-priority-number tier", d.ProviderKey)
	}
}

func TestSelectRoundRobinCursor(t *testing.T) {
	a := domain.ProviderKey("p.a.m")
	b := domain.ProviderKey("p.b.m")
	routes := map[string][]domain.RouteTier{
		"default": {{ID: "rr", Mode: domain.TierRoundRobin, Targets: []domain.ProviderKey{a, b}}},
	}
	r := New(routes, testTargets(a, b), staticView(nil), nil, 0)

	var got []domain.ProviderKey
	for i := 0; i < 4; i++ {
		d, err := r.Select(Classification{RouteName: "default"}, "", nil)
		if err != nil {
			t.Fatalf("Select %d: %v", i, err)
		}
		got = append(got, d.ProviderKey)
	}
	want := []domain.ProviderKey{a, b, a, b}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestSelectWeightedDemotesErrorStreaks(t *testing.T) {
	flaky := domain.ProviderKey("p.flaky.m")
	steady := domain.ProviderKey("p.steady.m")
	now := time.Unix(1_700_000_000, 0)
	view := staticView(map[domain.ProviderKey]quota.ViewEntry{
		flaky: {
			ProviderKey:           flaky,
			InPool:                true,
			Reason:                quota.ReasonOK,
			ConsecutiveErrorCount: 2,
			LastErrorAtMs:         now.Add(-time.Minute).UnixMilli(),
		},
	})
	routes := map[string][]domain.RouteTier{
		"default": {{ID: "w", Mode: domain.TierWeighted, Targets: []domain.ProviderKey{flaky, steady}}},
	}
	r := New(routes, testTargets(flaky, steady), view, nil, 10*time.Minute)
	r.now = func() time.Time { return now }

	d, err := r.Select(Classification{RouteName: "default"}, "", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != steady {
		t.Errorf("selected %s, want the key without a recent error streak", d.ProviderKey)
	}

	// Outside the error priority window the streak stops counting and config
	// order decides again.
	r.now = func() time.Time { return now.Add(time.Hour) }
	d, err = r.Select(Classification{RouteName: "default"}, "", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != flaky {
		t.Errorf("selected %s, want config order once the streak aged out", d.ProviderKey)
	}
}

func TestSelectStickySession(t *testing.T) {
	a := domain.ProviderKey("p.a.m")
	b := domain.ProviderKey("p.b.m")
	routes := map[string][]domain.RouteTier{
		"default": {{ID: "main", Targets: []domain.ProviderKey{a, b}}},
	}
	sticky := NewStickyStore(true, time.Minute)
	r := New(routes, testTargets(a, b), staticView(nil), sticky, 0)

	r.RecordSuccess("sess-1", b)
	d, err := r.Select(Classification{RouteName: "default"}, "sess-1", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != b || d.PoolID != "sticky" {
		t.Errorf("decision = %+v, want sticky reuse of %s", d, b)
	}

	// An excluded sticky key falls back to normal selection.
	d, err = r.Select(Classification{RouteName: "default"}, "sess-1", map[domain.ProviderKey]bool{b: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != a {
		t.Errorf("selected %s, want fallback past the excluded pin", d.ProviderKey)
	}
}

func TestStickyBindingClearedOnUnready(t *testing.T) {
	a := domain.ProviderKey("p.a.m")
	b := domain.ProviderKey("p.b.m")
	routes := map[string][]domain.RouteTier{
		"default": {{ID: "main", Targets: []domain.ProviderKey{a, b}}},
	}
	now := time.Unix(1_700_000_000, 0)
	view := staticView(map[domain.ProviderKey]quota.ViewEntry{
		b: blocked(b, now.Add(time.Hour).UnixMilli()),
	})
	sticky := NewStickyStore(true, time.Minute)
	r := New(routes, testTargets(a, b), view, sticky, 0)
	r.now = func() time.Time { return now }

	r.RecordSuccess("sess-1", b)
	d, err := r.Select(Classification{RouteName: "default"}, "sess-1", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != a {
		t.Errorf("selected %s, want fallback past the unready pin", d.ProviderKey)
	}
	// The stale binding is cleared, not just skipped, so the session
	// rebinds to whichever key serves it next.
	if _, ok := sticky.Get("sess-1"); ok {
		t.Error("unready pin still bound after selection")
	}

	r.RecordSuccess("sess-1", a)
	if key, ok := sticky.Get("sess-1"); !ok || key != a {
		t.Errorf("rebind = %s/%v, want %s", key, ok, a)
	}
}

func TestStickyPinExpires(t *testing.T) {
	s := NewStickyStore(true, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	s.Put("sess", "p.a.m")
	if _, ok := s.Get("sess"); !ok {
		t.Fatal("fresh pin missing")
	}
	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := s.Get("sess"); ok {
		t.Error("expired pin still served")
	}
}

func TestSelectPinnedKey(t *testing.T) {
	pinned := domain.ProviderKey("glm.k.glm-4.6")
	routes := map[string][]domain.RouteTier{
		"default": {{ID: "main", Targets: []domain.ProviderKey{"p.a.m"}}},
	}
	r := New(routes, testTargets(pinned, "p.a.m"), staticView(nil), nil, 0)

	d, err := r.Select(Classification{RouteName: "default", PinnedKey: pinned}, "", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ProviderKey != pinned || d.PoolID != "pinned" {
		t.Errorf("decision = %+v, want pinned %s", d, pinned)
	}

	// A pinned key that is not configured fails rather than falling back.
	_, err = r.Select(Classification{RouteName: "default", PinnedKey: "nope.x.y"}, "", nil)
	if domain.KindOf(err) != domain.KindNoAvailableProvider {
		t.Errorf("error = %v, want no_available_provider", err)
	}
}

func TestSelectNoProviderCarriesRetryAfter(t *testing.T) {
	key := domain.ProviderKey("glm.k.glm-4.6")
	now := time.Unix(1_700_000_000, 0)
	view := staticView(map[domain.ProviderKey]quota.ViewEntry{
		key: blocked(key, now.Add(10*time.Minute).UnixMilli()),
	})
	routes := map[string][]domain.RouteTier{
		"default": {{ID: "main", Targets: []domain.ProviderKey{key}}},
	}
	r := New(routes, testTargets(key), view, nil, 0)
	r.now = func() time.Time { return now }

	_, err := r.Select(Classification{RouteName: "default"}, "", nil)
	var ge *domain.GatewayError
	if !errors.As(err, &ge) || ge.Kind != domain.KindNoAvailableProvider {
		t.Fatalf("error = %v, want no_available_provider", err)
	}
	if ge.RetryAfter != 10*time.Minute {
		t.Errorf("retry after = %v, want 10m from the earliest recovery", ge.RetryAfter)
	}
}

func TestSelectUnknownRouteFallsBackToDefault(t *testing.T) {
	key := domain.ProviderKey("p.a.m")
	routes := map[string][]domain.RouteTier{
		"default": {{ID: "main", Targets: []domain.ProviderKey{key}}},
	}
	r := New(routes, testTargets(key), staticView(nil), nil, 0)

	d, err := r.Select(Classification{RouteName: "nonexistent"}, "", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.RouteName != "default" || d.ProviderKey != key {
		t.Errorf("decision = %+v, want default route fallback", d)
	}
}
