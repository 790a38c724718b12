package gemini

import (
	"strings"
	"testing"
)

func TestValidateEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "valid envelope",
			body: `{"project":"p","requestId":"r","model":"m","request":{"contents":[]}}`,
		},
		{
			name:    "contents at top level",
			body:    `{"project":"p","request":{},"contents":[]}`,
			wantErr: "contents",
		},
		{
			name:    "generationConfig at top level",
			body:    `{"project":"p","request":{},"generationConfig":{}}`,
			wantErr: "generationConfig",
		},
		{
			name:    "safetySettings at top level",
			body:    `{"project":"p","request":{},"safetySettings":[]}`,
			wantErr: "safetySettings",
		},
		{
			name:    "stream inside inner request",
			body:    `{"project":"p","request":{"stream":true}}`,
			wantErr: "stream",
		},
		{
			name:    "sessionId inside inner request",
			body:    `{"project":"p","request":{"sessionId":"s"}}`,
			wantErr: "sessionId",
		},
		{
			name:    "missing request",
			body:    `{"project":"p"}`,
			wantErr: "missing request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvelope([]byte(tt.body))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateEnvelope returned error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
