package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/pipeline"
)

func TestRecordAndRecent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "interactions.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	store.Record(ctx, pipeline.Interaction{
		RequestID:   "req-1",
		Endpoint:    "/v1/chat/completions",
		Entry:       domain.ProtocolOpenAIChat,
		Target:      domain.ProtocolGemini,
		RouteName:   "default",
		ProviderKey: "antigravity.acct.gemini-3-pro",
		ClientModel: "gemini-3-pro",
		DurationMs:  120,
		Usage:       domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	store.Record(ctx, pipeline.Interaction{
		RequestID: "req-2",
		Endpoint:  "/v1/messages",
		Entry:     domain.ProtocolAnthropic,
		Stream:    true,
		ErrorKind: "no_available_provider",
	})

	recs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Newest first.
	if recs[0].RequestID != "req-2" || recs[1].RequestID != "req-1" {
		t.Errorf("order = %s, %s", recs[0].RequestID, recs[1].RequestID)
	}
	if !recs[0].Stream || recs[0].ErrorKind != "no_available_provider" {
		t.Errorf("req-2 = %+v", recs[0])
	}
	first := recs[1]
	if first.Target != domain.ProtocolGemini || first.Usage.TotalTokens != 15 || first.DurationMs != 120 {
		t.Errorf("req-1 = %+v", first)
	}
	if first.CreatedAt.IsZero() {
		t.Error("created_at not round-tripped")
	}

	limited, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent limited: %v", err)
	}
	if len(limited) != 1 || limited[0].RequestID != "req-2" {
		t.Errorf("limited = %+v", limited)
	}
}
