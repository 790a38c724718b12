// Package sqlite records completed interactions for offline inspection.
// The store is best-effort: failures are logged, never surfaced to the
// request path.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	entry_protocol TEXT NOT NULL,
	target_protocol TEXT,
	route_name TEXT,
	provider_key TEXT,
	client_model TEXT,
	stream INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_request_id ON interactions(request_id);
CREATE INDEX IF NOT EXISTS idx_interactions_provider_key ON interactions(provider_key);
`

// Store persists interactions to a local sqlite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Record implements pipeline.Recorder.
func (s *Store) Record(ctx context.Context, rec pipeline.Interaction) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			request_id, endpoint, entry_protocol, target_protocol, route_name,
			provider_key, client_model, stream, duration_ms,
			prompt_tokens, completion_tokens, total_tokens, error_kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Endpoint, string(rec.Entry), string(rec.Target), rec.RouteName,
		rec.ProviderKey, rec.ClientModel, boolToInt(rec.Stream), rec.DurationMs,
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.ErrorKind, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Warn("interaction record failed",
			slog.String("request_id", rec.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns the most recent interactions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]pipeline.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, endpoint, entry_protocol, target_protocol, route_name,
			provider_key, client_model, stream, duration_ms,
			prompt_tokens, completion_tokens, total_tokens, error_kind, created_at
		FROM interactions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Interaction
	for rows.Next() {
		var (
			rec             pipeline.Interaction
			target, created string
			stream          int
		)
		if err := rows.Scan(&rec.RequestID, &rec.Endpoint, (*string)(&rec.Entry), &target,
			&rec.RouteName, &rec.ProviderKey, &rec.ClientModel, &stream, &rec.DurationMs,
			&rec.Usage.PromptTokens, &rec.Usage.CompletionTokens, &rec.Usage.TotalTokens,
			&rec.ErrorKind, &created,
		); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		rec.Target = domain.Protocol(target)
		rec.Stream = stream != 0
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
