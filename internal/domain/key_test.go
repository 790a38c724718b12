package domain

import "testing"

func TestParseProviderKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ProviderKey
		wantErr bool
	}{
		{
			name:  "simple key",
			input: "glm.key1.glm-4.6",
			want:  "glm.key1.glm-4.6",
		},
		{
			name:  "model with dots",
			input: "openai.main.gpt-4.1-mini",
			want:  "openai.main.gpt-4.1-mini",
		},
		{
			name:  "legacy numeric alias prefix stripped",
			input: "antigravity.3-foo.gemini-3-pro",
			want:  "antigravity.foo.gemini-3-pro",
		},
		{
			name:    "missing segments",
			input:   "openai.main",
			wantErr: true,
		},
		{
			name:    "empty segment",
			input:   "openai..gpt-4",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProviderKey(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseProviderKey(%q) expected error, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProviderKey(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseProviderKey(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestProviderKeySegments(t *testing.T) {
	key := ProviderKey("glm.key1.glm-4.6")
	if got := key.Provider(); got != "glm" {
		t.Errorf("Provider() = %q, want glm", got)
	}
	if got := key.Alias(); got != "key1" {
		t.Errorf("Alias() = %q, want key1", got)
	}
	if got := key.Model(); got != "glm-4.6" {
		t.Errorf("Model() = %q, want glm-4.6", got)
	}
}

func TestCanonicalProviderKeyIdempotent(t *testing.T) {
	once := CanonicalProviderKey("iflow.2-main.qwen3-max")
	twice := CanonicalProviderKey(string(once))
	if once != twice {
		t.Errorf("canonicalization not idempotent: %q then %q", once, twice)
	}
	if once != "iflow.main.qwen3-max" {
		t.Errorf("CanonicalProviderKey = %q, want iflow.main.qwen3-max", once)
	}
}

func TestSanitizeRequestID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"req-123_ok.v2", "req-123_ok.v2"},
		{"req/../../etc", "req_.._.._etc"},
		{"id with spaces", "id_with_spaces"},
	}
	for _, tt := range tests {
		if got := SanitizeRequestID(tt.input); got != tt.want {
			t.Errorf("SanitizeRequestID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
