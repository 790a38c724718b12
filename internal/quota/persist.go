package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/routecodex/routecodex/internal/domain"
)

// snapshot is the on-disk form of the daemon state.
type snapshot struct {
	Version   int                            `json:"version"`
	SavedAtMs int64                          `json:"savedAtMs"`
	Entries   map[domain.ProviderKey]*Entry  `json:"entries"`
	Pins      map[string]string              `json:"sessionPins,omitempty"`
	Protected map[domain.ProviderKey]bool    `json:"protected,omitempty"`
}

// save writes the snapshot atomically: marshal to a temp file in the same
// directory, fsync, then rename over the target.
func (d *Daemon) save() error {
	if d.opts.SnapshotPath == "" {
		return nil
	}

	d.mu.RLock()
	d.pinMu.Lock()
	snap := snapshot{
		Version:   1,
		SavedAtMs: nowMs(d.now()),
		Entries:   make(map[domain.ProviderKey]*Entry, len(d.entries)),
		Pins:      make(map[string]string, len(d.sessionPins)),
		Protected: make(map[domain.ProviderKey]bool, len(d.protectedModels)),
	}
	for k, e := range d.entries {
		clone := *e
		snap.Entries[k] = &clone
	}
	for k, v := range d.sessionPins {
		snap.Pins[k] = v
	}
	for k := range d.protectedModels {
		snap.Protected[k] = true
	}
	d.pinMu.Unlock()
	d.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quota snapshot: %w", err)
	}

	dir := filepath.Dir(d.opts.SnapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create quota state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".quota-manager-*.json")
	if err != nil {
		return fmt.Errorf("create quota temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write quota snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync quota snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close quota snapshot: %w", err)
	}
	if err := os.Rename(tmpName, d.opts.SnapshotPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename quota snapshot: %w", err)
	}
	return nil
}

// load rehydrates state from disk. Legacy provider keys are canonicalized
// and the retired fatal reason migrates to a bounded cooldown.
func (d *Daemon) load() error {
	data, err := os.ReadFile(d.opts.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read quota snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode quota snapshot: %w", err)
	}

	now := d.now()
	d.mu.Lock()
	for rawKey, e := range snap.Entries {
		key := domain.CanonicalProviderKey(string(rawKey))
		e.ProviderKey = key
		migrateEntry(e, now)
		// On key collision after canonicalization the stricter entry wins.
		if existing, ok := d.entries[key]; ok && !existing.InPool && e.InPool {
			continue
		}
		d.entries[key] = e
	}
	for k := range snap.Protected {
		d.protectedModels[domain.CanonicalProviderKey(string(k))] = true
	}
	d.mu.Unlock()

	d.pinMu.Lock()
	if snap.Pins != nil {
		d.sessionPins = snap.Pins
	}
	d.pinMu.Unlock()
	return nil
}

// migrateEntry converts retired persisted states into current ones. A fatal
// entry becomes a cooldown ending at the later of its recorded windows, or
// AutoCooldownMax from now when it carried no deadline at all.
func migrateEntry(e *Entry, now time.Time) {
	if e.Reason != ReasonFatal {
		return
	}
	until := e.CooldownUntilMs
	if e.BlacklistUntilMs > until {
		until = e.BlacklistUntilMs
	}
	if until == 0 {
		until = nowMs(now.Add(AutoCooldownMax))
	}
	e.Reason = ReasonCooldown
	e.CooldownUntilMs = until
	e.BlacklistUntilMs = 0
	e.InPool = false
}
