package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/events"
)

const (
	defaultMaintenanceInterval = time.Minute
	defaultPersistDebounce     = 5 * time.Second

	// capacityCooldown is the short cooldown applied on 429s that signal
	// model capacity rather than quota exhaustion.
	capacityCooldown = 60 * time.Second

	// errorEscalationThreshold is the consecutive-error count at which
	// generic failures start pulling a key out of the pool.
	errorEscalationThreshold = 3
	errorEscalationBase      = 30 * time.Second
)

// Options configures the daemon.
type Options struct {
	SnapshotPath        string
	AntigravityPath     string
	MaintenanceInterval time.Duration
	PersistDebounce     time.Duration
	Logger              *slog.Logger
}

// Daemon owns all QuotaState writes. It consumes provider error/success
// events and exposes a read-only view to the router.
type Daemon struct {
	mu      sync.RWMutex
	entries map[domain.ProviderKey]*Entry

	opts   Options
	logger *slog.Logger

	dirty chan struct{}

	// sessionPins bind antigravity session ids to aliases; cleared as a
	// safety measure on snapshot load/save failures.
	pinMu           sync.Mutex
	sessionPins     map[string]string
	pinClearLogged  map[string]bool
	protectedModels map[domain.ProviderKey]bool

	now func() time.Time
}

// NewDaemon creates a daemon and rehydrates persisted state. Load failures
// are not fatal; they clear session pins and start empty.
func NewDaemon(opts Options) *Daemon {
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = defaultMaintenanceInterval
	}
	if opts.PersistDebounce <= 0 {
		opts.PersistDebounce = defaultPersistDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		entries:         make(map[domain.ProviderKey]*Entry),
		opts:            opts,
		logger:          logger,
		dirty:           make(chan struct{}, 1),
		sessionPins:     make(map[string]string),
		pinClearLogged:  make(map[string]bool),
		protectedModels: make(map[domain.ProviderKey]bool),
		now:             time.Now,
	}
	if opts.SnapshotPath != "" {
		if err := d.load(); err != nil {
			d.logger.Warn("quota snapshot load failed, starting empty",
				slog.String("path", opts.SnapshotPath),
				slog.String("error", err.Error()),
			)
			d.ClearSessionPins("load_error")
		}
	}
	return d
}

// Run consumes events and drives periodic maintenance until the context is
// cancelled. It persists once more on the way out.
func (d *Daemon) Run(ctx context.Context, bus *events.Broadcaster) error {
	errCh, unsubErr := bus.SubscribeErrors()
	defer unsubErr()
	okCh, unsubOK := bus.SubscribeSuccesses()
	defer unsubOK()

	maintenance := time.NewTicker(d.opts.MaintenanceInterval)
	defer maintenance.Stop()

	var persistTimer *time.Timer
	var persistC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if err := d.save(); err != nil {
				d.logger.Error("quota snapshot save on shutdown failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case ev, ok := <-errCh:
			if !ok {
				return nil
			}
			d.HandleError(ev)
		case ev, ok := <-okCh:
			if !ok {
				return nil
			}
			d.HandleSuccess(ev)
		case <-maintenance.C:
			d.advanceAll()
			if err := d.save(); err != nil {
				d.logger.Error("quota snapshot save failed", slog.String("error", err.Error()))
				d.ClearSessionPins("save_error")
			}
		case <-d.dirty:
			if persistTimer == nil {
				persistTimer = time.NewTimer(d.opts.PersistDebounce)
				persistC = persistTimer.C
			}
		case <-persistC:
			persistTimer = nil
			persistC = nil
			if err := d.save(); err != nil {
				d.logger.Error("quota snapshot save failed", slog.String("error", err.Error()))
				d.ClearSessionPins("save_error")
			}
		}
	}
}

func (d *Daemon) markDirty() {
	select {
	case d.dirty <- struct{}{}:
	default:
	}
}

func (d *Daemon) entry(key domain.ProviderKey) *Entry {
	e, ok := d.entries[key]
	if !ok {
		e = &Entry{
			ProviderKey: key,
			InPool:      true,
			Reason:      ReasonOK,
			AuthType:    domain.AuthUnknown,
		}
		d.entries[key] = e
	}
	return e
}

// HandleError applies one provider error event to the state machine.
func (d *Daemon) HandleError(ev domain.ProviderErrorEvent) {
	key := domain.CanonicalProviderKey(string(ev.ProviderKey))
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entry(key)
	if e.blacklistActive(now) {
		// An operator blacklist is never overwritten by automatic signals.
		return
	}
	if d.protectedModels[key] {
		return
	}

	e.LastErrorCode = ev.Code
	e.LastErrorAtMs = nowMs(now)
	if e.WindowStartMs == 0 {
		e.WindowStartMs = nowMs(now)
	}

	switch {
	case ev.Code == domain.CodeQuotaDepleted:
		ttl := time.Duration(ev.CooldownMs) * time.Millisecond
		if ttl <= 0 {
			if parsed, ok := ParseResetAfter(ev.Message); ok {
				ttl = parsed
			} else {
				ttl = AutoCooldownMax
			}
		}
		d.applyCooldownLocked(e, ReasonQuotaDepleted, ttl, now)
		e.LastErrorSeries = "quota"

	case ev.Code == domain.CodeQuotaRecovery:
		d.applyRecoveryLocked(e, now)

	case ev.Status == 429:
		ttl, series := classify429(ev)
		reason := ReasonCooldown
		if series == "quota" {
			reason = ReasonQuotaDepleted
		}
		d.applyCooldownLocked(e, reason, ttl, now)
		e.LastErrorSeries = series

	case ev.Code == domain.CodeVerificationRequired:
		if url, ok := ev.Details["verification_url"].(string); ok {
			e.VerificationURL = url
		}
		d.applyCooldownLocked(e, ReasonCooldown, AutoCooldownMax, now)
		e.LastErrorSeries = "verification"

	case ev.Status == 401 || ev.Status == 402 || ev.Status == 403,
		ev.Code == domain.CodeIFlowBlocked,
		ev.Stage == "auth" || ev.Stage == "config" || ev.Stage == "compat":
		// Fatal-for-quota: formerly an indefinite blacklist, now a capped
		// automatic cooldown.
		d.applyCooldownLocked(e, ReasonCooldown, AutoCooldownMax, now)
		e.LastErrorSeries = "auth"

	default:
		e.ConsecutiveErrorCount++
		e.LastErrorSeries = "generic"
		if e.ConsecutiveErrorCount >= errorEscalationThreshold {
			shift := e.ConsecutiveErrorCount - errorEscalationThreshold
			if shift > 8 {
				shift = 8
			}
			ttl := errorEscalationBase << shift
			d.applyCooldownLocked(e, ReasonCooldown, ttl, now)
		}
	}

	d.markDirty()
}

// applyCooldownLocked sets a bounded automatic cooldown. The ceiling holds
// for every automatic path; only operator calls bypass it.
func (d *Daemon) applyCooldownLocked(e *Entry, reason Reason, ttl time.Duration, now time.Time) {
	if ttl > AutoCooldownMax {
		ttl = AutoCooldownMax
	}
	until := nowMs(now.Add(ttl))
	// A stronger signal may flip cooldown <-> quotaDepleted and may extend
	// the window, never shorten it.
	if (e.Reason == ReasonCooldown || e.Reason == ReasonQuotaDepleted) && e.CooldownUntilMs > until {
		until = e.CooldownUntilMs
	}
	e.Reason = reason
	e.InPool = false
	e.CooldownUntilMs = until
}

// applyRecoveryLocked handles QUOTA_RECOVERY: it only flips keys that are
// quota-depleted or sitting on the untracked-oauth gate (cooldown with no
// deadline); active non-quota cooldowns are preserved.
func (d *Daemon) applyRecoveryLocked(e *Entry, now time.Time) {
	gate := e.Reason == ReasonCooldown && e.CooldownUntilMs == 0
	if e.Reason != ReasonQuotaDepleted && !gate {
		return
	}
	e.Reason = ReasonOK
	e.InPool = true
	e.CooldownUntilMs = 0
	e.ConsecutiveErrorCount = 0
}

// HandleSuccess resets the error series and records token usage.
func (d *Daemon) HandleSuccess(ev domain.ProviderSuccessEvent) {
	key := domain.CanonicalProviderKey(string(ev.ProviderKey))

	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entry(key)
	e.ConsecutiveErrorCount = 0
	e.LastErrorSeries = ""
	e.TotalTokensUsed += int64(ev.TokensUsed)
	d.markDirty()
}

// DisableProvider is the operator override. mode is "cooldown" or
// "blacklist"; the duration is NOT capped.
func (d *Daemon) DisableProvider(key domain.ProviderKey, mode string, duration time.Duration) {
	key = domain.CanonicalProviderKey(string(key))
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entry(key)
	e.InPool = false
	switch mode {
	case "blacklist":
		e.Reason = ReasonBlacklist
		e.BlacklistUntilMs = nowMs(now.Add(duration))
	default:
		e.Reason = ReasonCooldown
		e.CooldownUntilMs = nowMs(now.Add(duration))
	}
	d.markDirty()
}

// RecoverProvider clears every window on a key, including blacklists.
func (d *Daemon) RecoverProvider(key domain.ProviderKey) {
	key = domain.CanonicalProviderKey(string(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entry(key)
	e.Reason = ReasonOK
	e.InPool = true
	e.CooldownUntilMs = 0
	e.BlacklistUntilMs = 0
	e.ConsecutiveErrorCount = 0
	d.markDirty()
}

// ResetProvider drops all recorded state for a key.
func (d *Daemon) ResetProvider(key domain.ProviderKey) {
	key = domain.CanonicalProviderKey(string(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.entries, key)
	d.markDirty()
}

// SetProtected pins a key out of the pool; generic recovery never flips it.
func (d *Daemon) SetProtected(key domain.ProviderKey) {
	key = domain.CanonicalProviderKey(string(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	d.protectedModels[key] = true
	e := d.entry(key)
	e.InPool = false
	e.Reason = ReasonProtected
	d.markDirty()
}

// GateUntracked parks an untracked oauth alias on the recovery gate: out of
// pool, cooldown with no deadline, released only by QUOTA_RECOVERY.
func (d *Daemon) GateUntracked(key domain.ProviderKey) {
	key = domain.CanonicalProviderKey(string(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entry(key)
	if e.Reason == ReasonOK && e.LastErrorAtMs == 0 && e.TotalTokensUsed == 0 {
		e.InPool = false
		e.Reason = ReasonCooldown
		e.CooldownUntilMs = 0
		e.AuthType = domain.AuthOAuth
		d.markDirty()
	}
}

// View returns the read-only lookup handed to the router. Each call reads
// the live entry under the read lock and copies it out.
func (d *Daemon) View() View {
	return func(key domain.ProviderKey) (ViewEntry, bool) {
		key = domain.CanonicalProviderKey(string(key))
		now := d.now()

		d.mu.RLock()
		e, ok := d.entries[key]
		if !ok {
			d.mu.RUnlock()
			// Unknown keys are ready; state is created on first event.
			return ViewEntry{ProviderKey: key, InPool: true, Reason: ReasonOK}, true
		}
		v := ViewEntry{
			ProviderKey:           e.ProviderKey,
			InPool:                e.InPool,
			Reason:                e.Reason,
			CooldownUntilMs:       e.CooldownUntilMs,
			BlacklistUntilMs:      e.BlacklistUntilMs,
			PriorityTier:          e.PriorityTier,
			ConsecutiveErrorCount: e.ConsecutiveErrorCount,
			LastErrorAtMs:         e.LastErrorAtMs,
		}
		d.mu.RUnlock()

		// Lazy recovery: expired windows read as ready without waiting for
		// the maintenance tick.
		if (v.Reason == ReasonCooldown || v.Reason == ReasonQuotaDepleted) &&
			v.CooldownUntilMs > 0 && nowMs(now) >= v.CooldownUntilMs {
			v.Reason = ReasonOK
			v.InPool = true
			v.CooldownUntilMs = 0
		}
		if v.Reason == ReasonBlacklist && v.BlacklistUntilMs > 0 && nowMs(now) >= v.BlacklistUntilMs {
			v.Reason = ReasonOK
			v.InPool = true
			v.BlacklistUntilMs = 0
		}
		return v, true
	}
}

// Entries returns a copy of all entries for the admin surface.
func (d *Daemon) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	return out
}

func (d *Daemon) advanceAll() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.entries {
		if d.protectedModels[key] {
			continue
		}
		e.advance(now)
	}
}

// PinSession binds a session id to an antigravity alias.
func (d *Daemon) PinSession(sessionID, alias string) {
	d.pinMu.Lock()
	defer d.pinMu.Unlock()
	d.sessionPins[sessionID] = alias
}

// SessionPin looks up a session's pinned alias.
func (d *Daemon) SessionPin(sessionID string) (string, bool) {
	d.pinMu.Lock()
	defer d.pinMu.Unlock()
	alias, ok := d.sessionPins[sessionID]
	return alias, ok
}

// ClearSessionPins drops all session-alias pins. One log line per distinct
// reason keeps snapshot failures from flooding the log.
func (d *Daemon) ClearSessionPins(reason string) {
	d.pinMu.Lock()
	defer d.pinMu.Unlock()
	d.sessionPins = make(map[string]string)
	if !d.pinClearLogged[reason] {
		d.pinClearLogged[reason] = true
		d.logger.Warn("cleared antigravity session pins", slog.String("reason", reason))
	}
}

// classify429 extracts a cooldown hint from a 429 event: an explicit
// quotaResetDelay, a "reset after" message, or the capacity default.
func classify429(ev domain.ProviderErrorEvent) (time.Duration, string) {
	if delay, ok := ev.Details["quotaResetDelay"].(string); ok {
		if d, ok := ParseQuotaResetDelay(delay); ok {
			return d, "quota"
		}
	}
	if d, ok := ParseResetAfter(ev.Message); ok {
		return d, "quota"
	}
	if ev.CooldownMs > 0 {
		series := "capacity"
		if s, ok := ev.Details["series"].(string); ok {
			series = s
		}
		return time.Duration(ev.CooldownMs) * time.Millisecond, series
	}
	return capacityCooldown, "capacity"
}
