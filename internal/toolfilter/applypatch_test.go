package toolfilter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/routecodex/routecodex/internal/domain"
)

func TestValidatePatch(t *testing.T) {
	tests := []struct {
		name    string
		patch   string
		wantErr bool
	}{
		{
			name: "add file",
			patch: "*** Begin Patch\n" +
				"*** Add File: pkg/new.go\n" +
				"+package pkg\n" +
				"*** End Patch",
		},
		{
			name: "update with hunk",
			patch: "*** Begin Patch\n" +
				"*** Update File: main.go\n" +
				"@@ func main\n" +
				" unchanged\n" +
				"-old\n" +
				"+new\n" +
				"*** End Patch",
		},
		{
			name: "update with move and eof",
			patch: "*** Begin Patch\n" +
				"*** Update File: old.go\n" +
				"*** Move to: new.go\n" +
				"@@\n" +
				"+line\n" +
				"*** End of File\n" +
				"*** End Patch",
		},
		{
			name: "delete file",
			patch: "*** Begin Patch\n" +
				"*** Delete File: gone.go\n" +
				"*** End Patch",
		},
		{
			name:    "missing header",
			patch:   "*** Add File: x\n+1\n*** End Patch",
			wantErr: true,
		},
		{
			name:    "missing footer",
			patch:   "*** Begin Patch\n*** Add File: x\n+1",
			wantErr: true,
		},
		{
			name:    "empty body",
			patch:   "*** Begin Patch\n*** End Patch",
			wantErr: true,
		},
		{
			name: "content before section",
			patch: "*** Begin Patch\n" +
				"+stray\n" +
				"*** End Patch",
			wantErr: true,
		},
		{
			name: "bad change line prefix",
			patch: "*** Begin Patch\n" +
				"*** Update File: f.go\n" +
				"@@\n" +
				"xnot a change line\n" +
				"*** End Patch",
			wantErr: true,
		},
		{
			name: "move outside update",
			patch: "*** Begin Patch\n" +
				"*** Add File: f.go\n" +
				"*** Move to: g.go\n" +
				"*** End Patch",
			wantErr: true,
		},
		{
			name: "hunk outside update",
			patch: "*** Begin Patch\n" +
				"*** Add File: f.go\n" +
				"@@\n" +
				"*** End Patch",
			wantErr: true,
		},
		{
			name: "update without change lines",
			patch: "*** Begin Patch\n" +
				"*** Update File: f.go\n" +
				"@@\n" +
				"*** End Patch",
			wantErr: true,
		},
		{
			name: "empty update before next section",
			patch: "*** Begin Patch\n" +
				"*** Update File: f.go\n" +
				"*** Add File: g.go\n" +
				"+x\n" +
				"*** End Patch",
			wantErr: true,
		},
		{
			name: "add file without path",
			patch: "*** Begin Patch\n" +
				"*** Add File: \n" +
				"*** End Patch",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatch(tt.patch)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateToolCall(t *testing.T) {
	valid := "*** Begin Patch\n*** Add File: a.go\n+x\n*** End Patch"

	tests := []struct {
		name     string
		call     domain.ToolCall
		wantKind domain.ErrorKind
	}{
		{
			name: "regular tool passes",
			call: domain.ToolCall{Function: domain.ToolCallFunction{Name: "search", Arguments: `{"q":"x"}`}},
		},
		{
			name:     "empty arguments rejected",
			call:     domain.ToolCall{Function: domain.ToolCallFunction{Name: "search", Arguments: "  "}},
			wantKind: domain.KindToolPayloadInvalid,
		},
		{
			name: "apply_patch with patch field",
			call: domain.ToolCall{Function: domain.ToolCallFunction{
				Name:      "apply_patch",
				Arguments: mustJSON(map[string]string{"patch": valid}),
			}},
		},
		{
			name: "apply_patch with input field",
			call: domain.ToolCall{Function: domain.ToolCallFunction{
				Name:      "apply_patch",
				Arguments: mustJSON(map[string]string{"input": valid}),
			}},
		},
		{
			name: "apply_patch invalid body",
			call: domain.ToolCall{Function: domain.ToolCallFunction{
				Name:      "apply_patch",
				Arguments: mustJSON(map[string]string{"patch": "not a patch"}),
			}},
			wantKind: domain.KindToolPayloadInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToolCall(&tt.call)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ge *domain.GatewayError
			if !errors.As(err, &ge) || ge.Kind != tt.wantKind {
				t.Errorf("error = %v, want kind %s", err, tt.wantKind)
			}
		})
	}
}

func TestApplyCoercesHistoricalToolCalls(t *testing.T) {
	req := &domain.CanonicalRequest{
		Messages: []domain.Message{{
			Role: "assistant",
			ToolCalls: []domain.ToolCall{{
				ID:       "call_1",
				Function: domain.ToolCallFunction{Name: "f", Arguments: ""},
			}},
		}},
	}
	if err := Apply(req); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := req.Messages[0].ToolCalls[0].Function.Arguments; got != "{}" {
		t.Errorf("arguments = %q, want {}", got)
	}
}

func mustJSON(v map[string]string) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
