// Package storage provides the PostgreSQL span archive and the SQLite
// resilience report store.
//
// Postgres holds captured spans for retention-bounded forensic queries;
// ingestion uses COPY for throughput. The report store is a small local
// SQLite file because resilience reports are produced by an offline CLI
// that must not depend on server infrastructure.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mamori-ai/mamori/internal/model"
)

// DB wraps a pgxpool.Pool for span archival and queries.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

const spanSchema = `
CREATE TABLE IF NOT EXISTS llm_spans (
	span_id         TEXT PRIMARY KEY,
	trace_id        TEXT NOT NULL,
	parent_id       TEXT,
	name            TEXT NOT NULL,
	start_time      TIMESTAMPTZ NOT NULL,
	end_time        TIMESTAMPTZ NOT NULL,
	provider        TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	environment     TEXT NOT NULL DEFAULT '',
	sampled         BOOLEAN NOT NULL,
	risk_score      DOUBLE PRECISION NOT NULL,
	vulnerabilities JSONB,
	latency_ms      DOUBLE PRECISION NOT NULL,
	tokens_in       INTEGER,
	tokens_out      INTEGER,
	cost_usd        DOUBLE PRECISION,
	budget_exceeded BOOLEAN NOT NULL DEFAULT FALSE,
	token_storm     BOOLEAN NOT NULL DEFAULT FALSE,
	analysis_errors TEXT[],
	degraded_mode   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_llm_spans_trace ON llm_spans (trace_id);
CREATE INDEX IF NOT EXISTS idx_llm_spans_created ON llm_spans (created_at);
CREATE INDEX IF NOT EXISTS idx_llm_spans_risk ON llm_spans (risk_score DESC, created_at DESC);
`

// EnsureSchema creates the span table and indexes if they do not exist.
// Idempotent; safe to run on every startup.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, spanSchema); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// InsertSpans inserts spans using the COPY protocol for high throughput.
func (db *DB) InsertSpans(ctx context.Context, spans []model.Span) (int64, error) {
	if len(spans) == 0 {
		return 0, nil
	}

	columns := []string{
		"span_id", "trace_id", "parent_id", "name", "start_time", "end_time",
		"provider", "model", "environment", "sampled", "risk_score",
		"vulnerabilities", "latency_ms", "tokens_in", "tokens_out", "cost_usd",
		"budget_exceeded", "token_storm", "analysis_errors", "degraded_mode",
		"created_at",
	}

	now := time.Now().UTC()
	rows := make([][]any, len(spans))
	for i, s := range spans {
		var vulns []byte
		if len(s.Vulnerabilities) > 0 {
			encoded, err := json.Marshal(s.Vulnerabilities)
			if err != nil {
				return 0, fmt.Errorf("storage: encode vulnerabilities for span %s: %w", s.SpanID, err)
			}
			vulns = encoded
		}
		rows[i] = []any{
			s.SpanID,
			s.TraceID,
			s.ParentID,
			s.Name,
			s.StartTime,
			s.EndTime,
			s.Provider,
			s.Model,
			s.Environment,
			s.Sampled,
			s.RiskScore,
			vulns,
			s.LatencyMS,
			s.TokensIn,
			s.TokensOut,
			s.CostUSD,
			s.BudgetExceeded,
			s.TokenStorm,
			s.AnalysisErrors,
			s.DegradedMode,
			now,
		}
	}

	copyCount, err := db.pool.CopyFrom(
		ctx,
		pgx.Identifier{"llm_spans"},
		columns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: copy spans: %w", err)
	}
	return copyCount, nil
}

// Export implements the span sink interface: it archives a flushed batch,
// retrying transient Postgres conflicts.
func (db *DB) Export(ctx context.Context, spans []model.Span) error {
	return archiveRetry.run(ctx, func() error {
		_, err := db.InsertSpans(ctx, spans)
		return err
	})
}

// SweepExpired deletes spans archived before the retention cutoff and
// returns the number of rows removed.
func (db *DB) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM llm_spans WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep expired spans: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		db.logger.Info("storage: retention sweep removed spans", "deleted", n, "cutoff", cutoff)
		return n, nil
	}
	return 0, nil
}

// RetentionLoop runs SweepExpired every interval until ctx is cancelled.
// Sweep failures are logged and the loop keeps going.
func (db *DB) RetentionLoop(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := db.SweepExpired(ctx, retention); err != nil {
				db.logger.Error("storage: retention sweep failed", "error", err)
			}
		}
	}
}

// HighRiskSpans returns the most recent spans at or above minRisk,
// newest first, carrying their vulnerability findings.
func (db *DB) HighRiskSpans(ctx context.Context, minRisk float64, limit int) ([]model.Span, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT span_id, trace_id, parent_id, name, start_time, end_time,
		       provider, model, environment, sampled, risk_score,
		       vulnerabilities, latency_ms, tokens_in, tokens_out, cost_usd,
		       budget_exceeded, token_storm, analysis_errors, degraded_mode
		FROM llm_spans
		WHERE risk_score >= $1
		ORDER BY created_at DESC
		LIMIT $2`, minRisk, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query high-risk spans: %w", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

// TraceSpans returns every archived span for a trace, oldest first.
func (db *DB) TraceSpans(ctx context.Context, traceID string) ([]model.Span, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT span_id, trace_id, parent_id, name, start_time, end_time,
		       provider, model, environment, sampled, risk_score,
		       vulnerabilities, latency_ms, tokens_in, tokens_out, cost_usd,
		       budget_exceeded, token_storm, analysis_errors, degraded_mode
		FROM llm_spans
		WHERE trace_id = $1
		ORDER BY start_time ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: query trace spans: %w", err)
	}
	defer rows.Close()

	spans, err := scanSpans(rows)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, ErrNotFound
	}
	return spans, nil
}

func scanSpans(rows pgx.Rows) ([]model.Span, error) {
	var spans []model.Span
	for rows.Next() {
		var s model.Span
		var vulns []byte
		err := rows.Scan(
			&s.SpanID, &s.TraceID, &s.ParentID, &s.Name, &s.StartTime, &s.EndTime,
			&s.Provider, &s.Model, &s.Environment, &s.Sampled, &s.RiskScore,
			&vulns, &s.LatencyMS, &s.TokensIn, &s.TokensOut, &s.CostUSD,
			&s.BudgetExceeded, &s.TokenStorm, &s.AnalysisErrors, &s.DegradedMode,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: scan span: %w", err)
		}
		if len(vulns) > 0 {
			if err := json.Unmarshal(vulns, &s.Vulnerabilities); err != nil {
				return nil, fmt.Errorf("storage: decode vulnerabilities for span %s: %w", s.SpanID, err)
			}
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}
