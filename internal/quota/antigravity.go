package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/routecodex/routecodex/internal/domain"
)

const (
	antigravityRefreshInterval = 5 * time.Minute
	antigravityMaxFailures     = 3
)

// antigravityToken is the persisted OAuth credential file format.
type antigravityToken struct {
	AccessToken string `json:"access_token"`
	ProjectID   string `json:"project_id"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// modelQuota is one model's allowance as reported by the upstream quota
// endpoint.
type modelQuota struct {
	Model     string  `json:"model"`
	Remaining float64 `json:"remainingFraction"`
	Protected bool    `json:"protected"`
}

type quotaReport struct {
	Models []modelQuota `json:"models"`
}

// AntigravityRefresher polls the antigravity quota endpoint and feeds the
// results into the daemon: depleted models go on quota cooldown, recovered
// ones come back, protected ones are pinned out of the pool.
type AntigravityRefresher struct {
	daemon    *Daemon
	client    *http.Client
	endpoint  string
	tokenPath string
	provider  string
	alias     string
	models    []string
	snapPath  string
	logger    *slog.Logger

	mu       sync.Mutex
	failures int
	disabled bool
	kick     chan struct{}

	now func() time.Time
}

// AntigravityOptions configures one refresher, one per oauth alias.
type AntigravityOptions struct {
	Endpoint  string
	TokenPath string
	Provider  string
	Alias     string
	Models    []string
	StateDir  string
	Logger    *slog.Logger
}

// NewAntigravityRefresher builds a refresher. Aliases whose token file is
// missing are gated immediately rather than waiting for the first poll.
func NewAntigravityRefresher(d *Daemon, opts AntigravityOptions) *AntigravityRefresher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &AntigravityRefresher{
		daemon:    d,
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		tokenPath: opts.TokenPath,
		provider:  opts.Provider,
		alias:     opts.Alias,
		models:    opts.Models,
		logger:    logger,
		kick:      make(chan struct{}, 1),
		now:       time.Now,
	}
	if opts.StateDir != "" {
		r.snapPath = filepath.Join(opts.StateDir, "state", "quota", "antigravity.json")
	}
	if _, err := os.Stat(opts.TokenPath); err != nil {
		for _, m := range opts.Models {
			d.GateUntracked(r.key(m))
		}
		d.ClearSessionPins("missing")
	}
	return r
}

func (r *AntigravityRefresher) key(model string) domain.ProviderKey {
	return domain.ProviderKey(fmt.Sprintf("%s.%s.%s", r.provider, r.alias, model))
}

// RefreshNow requests an immediate poll without waiting for the interval.
func (r *AntigravityRefresher) RefreshNow() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled. After three consecutive poll
// failures the refresher disables itself; RefreshNow re-arms it.
func (r *AntigravityRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(antigravityRefreshInterval)
	defer ticker.Stop()

	r.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.mu.Lock()
			skip := r.disabled
			r.mu.Unlock()
			if skip {
				continue
			}
			r.poll(ctx)
		case <-r.kick:
			r.mu.Lock()
			r.disabled = false
			r.failures = 0
			r.mu.Unlock()
			r.poll(ctx)
		}
	}
}

func (r *AntigravityRefresher) poll(ctx context.Context) {
	report, err := r.fetch(ctx)
	if err != nil {
		r.mu.Lock()
		r.failures++
		failures := r.failures
		if failures >= antigravityMaxFailures {
			r.disabled = true
		}
		disabled := r.disabled
		r.mu.Unlock()

		r.logger.Warn("antigravity quota refresh failed",
			slog.String("alias", r.alias),
			slog.Int("consecutive_failures", failures),
			slog.Bool("self_disabled", disabled),
			slog.String("error", err.Error()),
		)
		return
	}

	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()

	r.apply(report)
	if err := r.snapshot(report); err != nil {
		r.logger.Warn("antigravity snapshot write failed", slog.String("error", err.Error()))
	}
}

func (r *AntigravityRefresher) fetch(ctx context.Context) (*quotaReport, error) {
	raw, err := os.ReadFile(r.tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	var tok antigravityToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode oauth token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("oauth token file has no access_token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/v1internal:fetchAvailableModels", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if tok.ProjectID != "" {
		req.Header.Set("X-Goog-User-Project", tok.ProjectID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quota endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quota endpoint returned %d", resp.StatusCode)
	}

	var report quotaReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode quota report: %w", err)
	}
	return &report, nil
}

// apply reconciles daemon state with the report. Models the report omits
// stay untouched; the untracked gate covers aliases the report never
// mentions at all.
func (r *AntigravityRefresher) apply(report *quotaReport) {
	seen := make(map[string]bool, len(report.Models))
	for _, mq := range report.Models {
		seen[mq.Model] = true
		key := r.key(mq.Model)
		switch {
		case mq.Protected:
			r.daemon.SetProtected(key)
		case mq.Remaining <= 0:
			r.daemon.HandleError(domain.ProviderErrorEvent{
				ProviderKey: key,
				Code:        domain.CodeQuotaDepleted,
				Message:     "antigravity reports zero remaining quota",
				Timestamp:   r.now(),
			})
		default:
			r.daemon.HandleError(domain.ProviderErrorEvent{
				ProviderKey: key,
				Code:        domain.CodeQuotaRecovery,
				Timestamp:   r.now(),
			})
		}
	}
	for _, m := range r.models {
		if !seen[m] {
			r.daemon.GateUntracked(r.key(m))
		}
	}
}

// snapshot mirrors the last report to disk for debugging and the admin API.
func (r *AntigravityRefresher) snapshot(report *quotaReport) error {
	if r.snapPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.snapPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(struct {
		FetchedAtMs int64        `json:"fetchedAtMs"`
		Alias       string       `json:"alias"`
		Models      []modelQuota `json:"models"`
	}{nowMs(r.now()), r.alias, report.Models}, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.snapPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.snapPath)
}
