// Package config loads gateway configuration from a YAML file plus
// ROUTECODEX_-prefixed environment variables, with defaults applied before
// unmarshalling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/routecodex/routecodex/internal/domain"
)

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Routes    map[string][]TierConfig   `koanf:"routes"`
	Router    RouterConfig              `koanf:"router"`
	Quota     QuotaConfig               `koanf:"quota"`
	Storage   StorageConfig             `koanf:"storage"`
	Logging   LoggingConfig             `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port    int      `koanf:"port"`
	APIKeys []string `koanf:"api_keys"`

	// RequestTimeoutSeconds bounds unary requests; streams are bounded by
	// the idle timeout instead.
	RequestTimeoutSeconds int `koanf:"request_timeout_seconds"`
}

// ProviderConfig describes one upstream provider account.
type ProviderConfig struct {
	// Type selects the adapter: openai, anthropic, gemini, antigravity,
	// iflow, glm, qwen, lmstudio, mock.
	Type     string `koanf:"type"`
	Endpoint string `koanf:"endpoint"`

	// OutboundProfile overrides the wire protocol implied by Type.
	OutboundProfile string `koanf:"outbound_profile"`
	Compat          string `koanf:"compat"`
	ProjectID       string `koanf:"project_id"`

	Aliases map[string]AliasConfig `koanf:"aliases"`
}

// AliasConfig is one credential under a provider, with the models it
// serves.
type AliasConfig struct {
	APIKey   string   `koanf:"api_key"`
	AuthFile string   `koanf:"auth_file"`
	Models   []string `koanf:"models"`
}

// TierConfig is one pool within a route.
type TierConfig struct {
	ID       string   `koanf:"id"`
	Priority int      `koanf:"priority"`
	Backup   bool     `koanf:"backup"`
	Mode     string   `koanf:"mode"`
	Targets  []string `koanf:"targets"`
}

// RouterConfig tunes classification and stickiness.
type RouterConfig struct {
	LongContextThresholdTokens int      `koanf:"long_context_threshold_tokens"`
	ThinkingKeywords           []string `koanf:"thinking_keywords"`
	BackgroundKeywords         []string `koanf:"background_keywords"`
	StickySessions             bool     `koanf:"sticky_sessions"`
	StickyTTLSeconds           int      `koanf:"sticky_ttl_seconds"`
	ErrorPriorityWindowMs      int64    `koanf:"error_priority_window_ms"`
}

// QuotaConfig tunes the quota daemon.
type QuotaConfig struct {
	DaemonIntervalMs  int64  `koanf:"daemon_interval_ms"`
	PersistDebounceMs int64  `koanf:"persist_debounce_ms"`
	StateDir          string `koanf:"state_dir"`
}

// StorageConfig locates the interaction store.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig selects slog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads configuration from an optional YAML file and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	applyDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("ROUTECODEX_CFG_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "ROUTECODEX_CFG_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	k.Set("server.port", 5520)
	k.Set("server.request_timeout_seconds", 120)
	k.Set("router.long_context_threshold_tokens", 180000)
	k.Set("router.thinking_keywords", []string{"think step by step", "reason carefully", "ultrathink"})
	k.Set("router.background_keywords", []string{"background task", "summarize quietly"})
	k.Set("router.sticky_ttl_seconds", 1800)
	k.Set("router.error_priority_window_ms", 10*60*1000)
	k.Set("quota.daemon_interval_ms", 60*1000)
	k.Set("quota.persist_debounce_ms", 5*1000)
	k.Set("logging.level", "info")
	k.Set("logging.format", "json")
}

// applyEnvOverrides honors the individually documented environment
// variables, which take precedence over file values.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt64("ROUTECODEX_QUOTA_DAEMON_INTERVAL_MS"); ok {
		cfg.Quota.DaemonIntervalMs = v
	}
	if v, ok := envInt64("ROUTECODEX_QUOTA_PERSIST_DEBOUNCE_MS"); ok {
		cfg.Quota.PersistDebounceMs = v
	}
	if v, ok := envInt64("ROUTECODEX_QUOTA_ERROR_PRIORITY_WINDOW_MS"); ok {
		cfg.Router.ErrorPriorityWindowMs = v
	}
	if v := os.Getenv("ROUTECODEX_ENABLE_STICKY"); v != "" {
		cfg.Router.StickySessions = v == "1" || strings.EqualFold(v, "true")
	}
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks cross-references between routes and providers.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	for name, tiers := range c.Routes {
		if len(tiers) == 0 {
			return fmt.Errorf("route %q has no tiers", name)
		}
		for _, tier := range tiers {
			if len(tier.Targets) == 0 {
				return fmt.Errorf("route %q tier %q has no targets", name, tier.ID)
			}
			switch domain.TierMode(tier.Mode) {
			case "", domain.TierPriority, domain.TierWeighted, domain.TierRoundRobin:
			default:
				return fmt.Errorf("route %q tier %q: unknown mode %q", name, tier.ID, tier.Mode)
			}
			for _, t := range tier.Targets {
				key, err := domain.ParseProviderKey(t)
				if err != nil {
					return fmt.Errorf("route %q tier %q: %w", name, tier.ID, err)
				}
				pc, ok := c.Providers[key.Provider()]
				if !ok {
					return fmt.Errorf("route %q references unknown provider %q", name, key.Provider())
				}
				if len(pc.Aliases) > 0 {
					if _, ok := pc.Aliases[key.Alias()]; !ok {
						return fmt.Errorf("route %q references unknown alias %q of provider %q",
							name, key.Alias(), key.Provider())
					}
				}
			}
		}
	}
	if len(c.Routes) > 0 {
		if _, ok := c.Routes["default"]; !ok {
			return fmt.Errorf("routes must include a default route")
		}
	}
	return nil
}

// StateDir resolves the on-disk state directory, defaulting to
// $HOME/.routecodex.
func (c *Config) StateDir() string {
	if c.Quota.StateDir != "" {
		return c.Quota.StateDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".routecodex"
	}
	return filepath.Join(home, ".routecodex")
}
