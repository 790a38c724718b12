package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/routecodex/routecodex/internal/domain"
)

func minimalConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 5520},
		Providers: map[string]ProviderConfig{
			"glm": {
				Type: "glm",
				Aliases: map[string]AliasConfig{
					"key1": {APIKey: "sk-test", Models: []string{"glm-4.6"}},
				},
			},
			"lmstudio": {Type: "lmstudio"},
		},
		Routes: map[string][]TierConfig{
			"default": {{ID: "main", Targets: []string{"glm.key1.glm-4.6"}}},
			"background": {{
				ID:      "local",
				Targets: []string{"lmstudio.local.qwen3-4b"},
			}},
		},
	}
}

func TestValidateMinimalConfig(t *testing.T) {
	if err := minimalConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty tier", func(c *Config) {
			c.Routes["default"] = []TierConfig{{ID: "main"}}
		}},
		{"unknown tier mode", func(c *Config) {
			c.Routes["default"][0].Mode = "random"
		}},
		{"malformed target key", func(c *Config) {
			c.Routes["default"][0].Targets = []string{"glm.key1"}
		}},
		{"unknown provider", func(c *Config) {
			c.Routes["default"][0].Targets = []string{"nope.key1.m"}
		}},
		{"unknown alias", func(c *Config) {
			c.Routes["default"][0].Targets = []string{"glm.otherkey.glm-4.6"}
		}},
		{"missing default route", func(c *Config) {
			delete(c.Routes, "default")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := minimalConfig()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestBuildTargets(t *testing.T) {
	c := minimalConfig()
	targets, routes, err := c.BuildTargets()
	if err != nil {
		t.Fatalf("BuildTargets: %v", err)
	}

	glm := targets[domain.ProviderKey("glm.key1.glm-4.6")]
	if glm == nil {
		t.Fatal("glm target missing")
	}
	if glm.AuthKind != domain.AuthAPIKey || glm.AuthRef != "sk-test" {
		t.Errorf("glm auth = %s/%s", glm.AuthKind, glm.AuthRef)
	}
	if glm.Endpoint != defaultEndpoints["glm"] {
		t.Errorf("glm endpoint = %q, want provider default", glm.Endpoint)
	}
	if glm.OutboundProfile != domain.ProtocolOpenAIChat {
		t.Errorf("glm profile = %s, want openai-chat", glm.OutboundProfile)
	}
	if glm.DefaultModel != "glm-4.6" {
		t.Errorf("glm default model = %q", glm.DefaultModel)
	}

	// Local servers without an alias block still resolve.
	local := targets[domain.ProviderKey("lmstudio.local.qwen3-4b")]
	if local == nil {
		t.Fatal("lmstudio target missing")
	}
	if local.AuthKind != domain.AuthUnknown || local.AuthRef != "local" {
		t.Errorf("lmstudio auth = %s/%s", local.AuthKind, local.AuthRef)
	}

	if routes["default"][0].Mode != domain.TierPriority {
		t.Errorf("tier mode = %s, want priority default", routes["default"][0].Mode)
	}
}

func TestBuildTargetsOAuthAndProfileOverride(t *testing.T) {
	c := minimalConfig()
	c.Providers["antigravity"] = ProviderConfig{
		Type:      "antigravity",
		ProjectID: "proj-1",
		Aliases: map[string]AliasConfig{
			"acct": {AuthFile: "/tmp/oauth.json", Models: []string{"gemini-3-pro"}},
		},
	}
	c.Routes["default"] = []TierConfig{{ID: "main", Targets: []string{"antigravity.acct.gemini-3-pro"}}}

	targets, _, err := c.BuildTargets()
	if err != nil {
		t.Fatalf("BuildTargets: %v", err)
	}
	tgt := targets[domain.ProviderKey("antigravity.acct.gemini-3-pro")]
	if tgt.AuthKind != domain.AuthOAuth || tgt.AuthRef != "/tmp/oauth.json" {
		t.Errorf("auth = %s/%s, want oauth token file", tgt.AuthKind, tgt.AuthRef)
	}
	if tgt.OutboundProfile != domain.ProtocolGemini {
		t.Errorf("profile = %s, want gemini", tgt.OutboundProfile)
	}
	if tgt.ProjectID != "proj-1" {
		t.Errorf("project = %q", tgt.ProjectID)
	}
	if tgt.Endpoint != defaultEndpoints["antigravity"] {
		t.Errorf("endpoint = %q, want cloud code default", tgt.Endpoint)
	}
}

func TestLoadFromFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 6001
providers:
  mock:
    type: mock
routes:
  default:
    - id: main
      targets: ["mock.local.test-model"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 6001 {
		t.Errorf("port = %d, want file value", cfg.Server.Port)
	}
	// Defaults survive a partial file.
	if cfg.Router.LongContextThresholdTokens != 180000 {
		t.Errorf("long context threshold = %d, want default", cfg.Router.LongContextThresholdTokens)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging format = %q, want default json", cfg.Logging.Format)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROUTECODEX_QUOTA_DAEMON_INTERVAL_MS", "1234")
	t.Setenv("ROUTECODEX_ENABLE_STICKY", "true")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
providers:
  mock:
    type: mock
routes:
  default:
    - id: main
      targets: ["mock.local.test-model"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Quota.DaemonIntervalMs != 1234 {
		t.Errorf("daemon interval = %d, want env override", cfg.Quota.DaemonIntervalMs)
	}
	if !cfg.Router.StickySessions {
		t.Error("sticky sessions not enabled by env override")
	}
}

func TestStateDirPrefersConfig(t *testing.T) {
	c := minimalConfig()
	c.Quota.StateDir = "/var/lib/routecodex"
	if got := c.StateDir(); got != "/var/lib/routecodex" {
		t.Errorf("state dir = %q", got)
	}
}
