// internal/report/postgres.go
package report

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the sink uses, so tests can mock it.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
        CREATE TABLE IF NOT EXISTS screenshot_attachments (
            id UUID PRIMARY KEY,
            run_id TEXT NOT NULL,
            node TEXT NOT NULL,
            status TEXT NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            path TEXT NOT NULL,
            positioned BOOLEAN NOT NULL,
            position_error TEXT NOT NULL DEFAULT '',
            captured_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS screenshot_attachments_run_idx
            ON screenshot_attachments (run_id, captured_at);
    `

const insertSQL = `
        INSERT INTO screenshot_attachments
            (id, run_id, node, status, message, path, positioned, position_error, captured_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

const listSQL = `
        SELECT id, node, status, message, path, positioned, position_error, captured_at
        FROM screenshot_attachments
        WHERE run_id = $1
        ORDER BY captured_at ASC;
    `

// PostgresSink stores attachments in PostgreSQL.
type PostgresSink struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresSink creates a sink and verifies the connection.
func NewPostgresSink(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresSink{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the attachment table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create attachment schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Attach(ctx context.Context, a Attachment) error {
	tag, err := s.pool.Exec(ctx, insertSQL,
		a.ID, a.RunID, a.Node, string(a.Status), a.Message, a.Path,
		a.Positioned, a.PositionError, a.CapturedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("attachment %s: expected 1 row inserted, got %d", a.ID, tag.RowsAffected())
	}
	s.log.Debug("Attachment stored.", zap.Stringer("id", a.ID), zap.String("node", a.Node))
	return nil
}

// ListByRun returns the attachments of one run in capture order.
func (s *PostgresSink) ListByRun(ctx context.Context, runID string) ([]Attachment, error) {
	rows, err := s.pool.Query(ctx, listSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var status string
		if err := rows.Scan(
			&a.ID, &a.Node, &status, &a.Message, &a.Path,
			&a.Positioned, &a.PositionError, &a.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		a.Status = Status(status)
		a.RunID = runID
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
