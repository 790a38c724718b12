package quota

import (
	"testing"
	"time"

	"github.com/routecodex/routecodex/internal/domain"
)

func newTestDaemon(t *testing.T, now time.Time) *Daemon {
	t.Helper()
	d := NewDaemon(Options{})
	d.now = func() time.Time { return now }
	return d
}

func viewOf(t *testing.T, d *Daemon, key domain.ProviderKey) ViewEntry {
	t.Helper()
	v, ok := d.View()(key)
	if !ok {
		t.Fatalf("view missing key %s", key)
	}
	return v
}

func TestQuotaDepletedUsesCarriedTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("glm.key1.glm-4.6")

	d.HandleError(domain.ProviderErrorEvent{
		ProviderKey: key,
		Code:        domain.CodeQuotaDepleted,
		CooldownMs:  (30 * time.Minute).Milliseconds(),
	})

	v := viewOf(t, d, key)
	if v.Reason != ReasonQuotaDepleted {
		t.Fatalf("reason = %s, want quotaDepleted", v.Reason)
	}
	want := now.Add(30 * time.Minute).UnixMilli()
	if v.CooldownUntilMs != want {
		t.Errorf("cooldownUntil = %d, want %d", v.CooldownUntilMs, want)
	}
}

func TestAutomaticCooldownCappedAtThreeHours(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("glm.key1.glm-4.6")

	d.HandleError(domain.ProviderErrorEvent{
		ProviderKey: key,
		Code:        domain.CodeQuotaDepleted,
		CooldownMs:  (24 * time.Hour).Milliseconds(),
	})

	v := viewOf(t, d, key)
	want := now.Add(AutoCooldownMax).UnixMilli()
	if v.CooldownUntilMs != want {
		t.Errorf("cooldownUntil = %d, want capped %d", v.CooldownUntilMs, want)
	}
}

func TestQuotaDepletedParsesResetAfterMessage(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("iflow.main.qwen3-max")

	d.HandleError(domain.ProviderErrorEvent{
		ProviderKey: key,
		Code:        domain.CodeQuotaDepleted,
		Message:     "daily quota exceeded, will reset after 1h30m",
	})

	v := viewOf(t, d, key)
	want := now.Add(90 * time.Minute).UnixMilli()
	if v.CooldownUntilMs != want {
		t.Errorf("cooldownUntil = %d, want %d", v.CooldownUntilMs, want)
	}
}

func TestQuotaRecoveryFlipsDepletedOnly(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	depleted := domain.ProviderKey("p.a.m1")
	cooled := domain.ProviderKey("p.a.m2")

	d.HandleError(domain.ProviderErrorEvent{
		ProviderKey: depleted,
		Code:        domain.CodeQuotaDepleted,
		CooldownMs:  (time.Hour).Milliseconds(),
	})
	d.HandleError(domain.ProviderErrorEvent{ProviderKey: cooled, Status: 401})

	d.HandleError(domain.ProviderErrorEvent{ProviderKey: depleted, Code: domain.CodeQuotaRecovery})
	d.HandleError(domain.ProviderErrorEvent{ProviderKey: cooled, Code: domain.CodeQuotaRecovery})

	if v := viewOf(t, d, depleted); !v.Ready(now) {
		t.Errorf("depleted key not recovered: %+v", v)
	}
	if v := viewOf(t, d, cooled); v.Ready(now) {
		t.Errorf("auth cooldown must survive quota recovery: %+v", v)
	}
}

func TestUntrackedGateReleasedOnlyByRecovery(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("antigravity.acct.gemini-3-pro")

	d.GateUntracked(key)

	v := viewOf(t, d, key)
	if v.Ready(now) {
		t.Fatal("gated key should not be ready")
	}
	if v.Reason != ReasonCooldown || v.CooldownUntilMs != 0 {
		t.Fatalf("gate = %+v, want cooldown with no deadline", v)
	}

	// Time alone never releases the gate.
	d.now = func() time.Time { return now.Add(100 * time.Hour) }
	d.advanceAll()
	if v := viewOf(t, d, key); v.Ready(now.Add(100 * time.Hour)) {
		t.Fatal("gate expired by time")
	}

	d.HandleError(domain.ProviderErrorEvent{ProviderKey: key, Code: domain.CodeQuotaRecovery})
	if v := viewOf(t, d, key); !v.Ready(now.Add(100 * time.Hour)) {
		t.Fatalf("gate not released by recovery: %+v", v)
	}
}

func TestOperatorBlacklistUncappedAndSticky(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("p.a.m")

	d.DisableProvider(key, "blacklist", 48*time.Hour)

	v := viewOf(t, d, key)
	if v.Reason != ReasonBlacklist {
		t.Fatalf("reason = %s, want blacklist", v.Reason)
	}
	want := now.Add(48 * time.Hour).UnixMilli()
	if v.BlacklistUntilMs != want {
		t.Errorf("blacklistUntil = %d, want uncapped %d", v.BlacklistUntilMs, want)
	}

	// Automatic signals never overwrite an active blacklist.
	d.HandleError(domain.ProviderErrorEvent{ProviderKey: key, Code: domain.CodeQuotaRecovery})
	d.HandleError(domain.ProviderErrorEvent{ProviderKey: key, Status: 429})
	if v := viewOf(t, d, key); v.Reason != ReasonBlacklist {
		t.Errorf("blacklist overwritten: %+v", v)
	}

	// The operator can always recover.
	d.RecoverProvider(key)
	if v := viewOf(t, d, key); !v.Ready(now) {
		t.Errorf("recover did not clear blacklist: %+v", v)
	}
}

func TestGenericErrorsEscalateAfterThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("p.a.m")

	for i := 0; i < errorEscalationThreshold-1; i++ {
		d.HandleError(domain.ProviderErrorEvent{ProviderKey: key, Status: 500})
	}
	if v := viewOf(t, d, key); !v.Ready(now) {
		t.Fatalf("key pulled from pool before threshold: %+v", v)
	}

	d.HandleError(domain.ProviderErrorEvent{ProviderKey: key, Status: 500})
	if v := viewOf(t, d, key); v.Ready(now) {
		t.Fatal("key still ready after hitting error threshold")
	}
}

func TestSuccessResetsErrorSeries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("p.a.m")

	d.HandleError(domain.ProviderErrorEvent{ProviderKey: key, Status: 500})
	d.HandleError(domain.ProviderErrorEvent{ProviderKey: key, Status: 500})
	d.HandleSuccess(domain.ProviderSuccessEvent{ProviderKey: key, TokensUsed: 42})

	if v := viewOf(t, d, key); v.ConsecutiveErrorCount != 0 {
		t.Errorf("consecutive errors = %d, want 0", v.ConsecutiveErrorCount)
	}

	entries := d.Entries()
	if len(entries) != 1 || entries[0].TotalTokensUsed != 42 {
		t.Errorf("entries = %+v, want totalTokensUsed 42", entries)
	}
}

func TestLegacyKeysCanonicalizedOnEvent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)

	d.HandleError(domain.ProviderErrorEvent{
		ProviderKey: "antigravity.3-foo.gemini-3-pro",
		Status:      429,
	})

	if _, ok := d.entries[domain.ProviderKey("antigravity.foo.gemini-3-pro")]; !ok {
		t.Error("legacy key not canonicalized before state write")
	}
	if _, ok := d.entries[domain.ProviderKey("antigravity.3-foo.gemini-3-pro")]; ok {
		t.Error("raw legacy key leaked into state")
	}
}

func TestViewLazyRecovery(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("p.a.m")

	d.HandleError(domain.ProviderErrorEvent{
		ProviderKey: key,
		Code:        domain.CodeQuotaDepleted,
		CooldownMs:  (time.Minute).Milliseconds(),
	})

	// Before expiry the key is blocked; after expiry the view reports ready
	// without a maintenance pass.
	if v := viewOf(t, d, key); v.Ready(now) {
		t.Fatal("key ready during cooldown")
	}
	d.now = func() time.Time { return now.Add(2 * time.Minute) }
	if v := viewOf(t, d, key); !v.Ready(now.Add(2 * time.Minute)) {
		t.Fatalf("expired cooldown not lazily recovered: %+v", v)
	}
}

func TestVerificationURLRecorded(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newTestDaemon(t, now)
	key := domain.ProviderKey("antigravity.acct.gemini-3-pro")

	d.HandleError(domain.ProviderErrorEvent{
		ProviderKey: key,
		Status:      403,
		Code:        domain.CodeVerificationRequired,
		Details:     map[string]any{"verification_url": "https://accounts.google.com/verify?x=1"},
	})

	entries := d.Entries()
	if len(entries) != 1 || entries[0].VerificationURL == "" {
		t.Errorf("verification url not recorded: %+v", entries)
	}
	if v := viewOf(t, d, key); v.Ready(now) {
		t.Error("verification-gated key should be out of pool")
	}
}
