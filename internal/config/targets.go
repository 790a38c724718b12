package config

import (
	"fmt"

	"github.com/routecodex/routecodex/internal/domain"
)

// defaultEndpoints cover the common hosted surfaces so small configs only
// need provider type and credentials.
var defaultEndpoints = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"anthropic":   "https://api.anthropic.com",
	"gemini":      "https://generativelanguage.googleapis.com",
	"antigravity": "https://cloudcode-pa.googleapis.com",
	"iflow":       "https://apis.iflow.cn/v1",
	"glm":         "https://open.bigmodel.cn/api/paas/v4",
	"qwen":        "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"lmstudio":    "http://127.0.0.1:1234/v1",
}

// outboundProfileFor infers the wire protocol from the provider type when
// the config does not pin one.
func outboundProfileFor(providerType string) domain.Protocol {
	switch providerType {
	case "anthropic":
		return domain.ProtocolAnthropic
	case "gemini", "antigravity":
		return domain.ProtocolGemini
	default:
		return domain.ProtocolOpenAIChat
	}
}

// BuildTargets resolves the configured routes into runtime targets and
// route tiers. Validate must have passed first.
func (c *Config) BuildTargets() (map[domain.ProviderKey]*domain.Target, map[string][]domain.RouteTier, error) {
	targets := make(map[domain.ProviderKey]*domain.Target)
	routes := make(map[string][]domain.RouteTier, len(c.Routes))

	for routeName, tiers := range c.Routes {
		resolved := make([]domain.RouteTier, 0, len(tiers))
		for _, tc := range tiers {
			tier := domain.RouteTier{
				ID:       tc.ID,
				Priority: tc.Priority,
				Backup:   tc.Backup,
				Mode:     domain.TierMode(tc.Mode),
			}
			if tier.Mode == "" {
				tier.Mode = domain.TierPriority
			}
			for _, raw := range tc.Targets {
				key, err := domain.ParseProviderKey(raw)
				if err != nil {
					return nil, nil, err
				}
				tier.Targets = append(tier.Targets, key)
				if _, ok := targets[key]; ok {
					continue
				}
				t, err := c.buildTarget(key)
				if err != nil {
					return nil, nil, fmt.Errorf("route %q: %w", routeName, err)
				}
				targets[key] = t
			}
			resolved = append(resolved, tier)
		}
		routes[routeName] = resolved
	}
	return targets, routes, nil
}

func (c *Config) buildTarget(key domain.ProviderKey) (*domain.Target, error) {
	pc, ok := c.Providers[key.Provider()]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", key.Provider())
	}
	endpoint := pc.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoints[pc.Type]
	}
	if endpoint == "" && pc.Type != "mock" {
		return nil, fmt.Errorf("provider %q has no endpoint", key.Provider())
	}

	profile := domain.Protocol(pc.OutboundProfile)
	if profile == "" {
		profile = outboundProfileFor(pc.Type)
	}

	t := &domain.Target{
		ProviderKey:     key,
		ProviderType:    pc.Type,
		OutboundProfile: profile,
		CompatProfile:   pc.Compat,
		RuntimeKey:      key.String(),
		Endpoint:        endpoint,
		DefaultModel:    key.Model(),
		ProjectID:       pc.ProjectID,
	}
	if ac, ok := pc.Aliases[key.Alias()]; ok {
		switch {
		case ac.AuthFile != "":
			t.AuthRef = ac.AuthFile
			t.AuthKind = domain.AuthOAuth
		case ac.APIKey != "":
			t.AuthRef = ac.APIKey
			t.AuthKind = domain.AuthAPIKey
		default:
			t.AuthKind = domain.AuthUnknown
		}
	} else if pc.Type == "mock" || pc.Type == "lmstudio" {
		t.AuthKind = domain.AuthUnknown
		t.AuthRef = "local"
	} else {
		return nil, fmt.Errorf("provider %q has no alias %q", key.Provider(), key.Alias())
	}
	return t, nil
}
