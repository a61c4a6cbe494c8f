// Package store persists execution results.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ppiankov/wastespectre/internal/model"
)

// Sink receives finished execution results.
type Sink interface {
	Save(ctx context.Context, result *model.ExecutionResult) error
}

// Batcher is the subset of *pgx.Conn and *pgxpool.Pool the sink uses.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS wastespectre_executions (
	execution_id UUID PRIMARY KEY,
	account_id   TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	partial      BOOLEAN NOT NULL,
	progress     JSONB NOT NULL,
	errors       JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS wastespectre_findings (
	account_id          TEXT NOT NULL,
	resource_arn        TEXT NOT NULL,
	finding_id          TEXT NOT NULL,
	execution_id        UUID NOT NULL,
	resource_id         TEXT NOT NULL,
	resource_type       TEXT NOT NULL,
	region              TEXT NOT NULL,
	recommendation_type TEXT NOT NULL,
	monthly_savings     DOUBLE PRECISION NOT NULL,
	risk_level          TEXT NOT NULL,
	finding             JSONB NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, resource_arn)
)`

const insertExecutionSQL = `INSERT INTO wastespectre_executions
	(execution_id, account_id, started_at, finished_at, partial, progress, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (execution_id) DO NOTHING`

const upsertFindingSQL = `INSERT INTO wastespectre_findings
	(account_id, resource_arn, finding_id, execution_id, resource_id, resource_type, region,
	 recommendation_type, monthly_savings, risk_level, finding, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (account_id, resource_arn) DO UPDATE SET
	finding_id = EXCLUDED.finding_id,
	execution_id = EXCLUDED.execution_id,
	resource_id = EXCLUDED.resource_id,
	resource_type = EXCLUDED.resource_type,
	region = EXCLUDED.region,
	recommendation_type = EXCLUDED.recommendation_type,
	monthly_savings = EXCLUDED.monthly_savings,
	risk_level = EXCLUDED.risk_level,
	finding = EXCLUDED.finding,
	updated_at = EXCLUDED.updated_at`

// PostgresSink upserts findings keyed by (account_id, resource_arn) and
// records one row per execution.
type PostgresSink struct {
	db     Batcher
	logger zerolog.Logger
}

// NewPostgresSink wraps an existing connection or pool.
func NewPostgresSink(db Batcher, logger zerolog.Logger) *PostgresSink {
	return &PostgresSink{db: db, logger: logger.With().Str("component", "store").Logger()}
}

// Connect opens a single connection to dsn and creates the tables if missing.
// The caller closes the returned connection.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresSink, *pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		_ = conn.Close(ctx)
		return nil, nil, fmt.Errorf("create schema: %w", err)
	}
	return NewPostgresSink(conn, logger), conn, nil
}

// Save writes the execution row and all findings in one batch.
func (s *PostgresSink) Save(ctx context.Context, result *model.ExecutionResult) error {
	if result == nil {
		return errors.New("nil execution result")
	}
	batch, err := buildBatch(result)
	if err != nil {
		return err
	}

	br := s.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("persist execution %s: statement %d: %w", result.ExecutionID, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("persist execution %s: %w", result.ExecutionID, err)
	}

	s.logger.Info().
		Str("execution_id", result.ExecutionID).
		Int("findings", len(result.Findings)).
		Msg("Execution persisted")
	return nil
}

func buildBatch(result *model.ExecutionResult) (*pgx.Batch, error) {
	progress, err := json.Marshal(result.Progress)
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}
	taskErrors := result.Errors
	if taskErrors == nil {
		taskErrors = []model.TaskError{}
	}
	errs, err := json.Marshal(taskErrors)
	if err != nil {
		return nil, fmt.Errorf("encode task errors: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(insertExecutionSQL,
		result.ExecutionID, result.AccountID, result.StartedAt, result.FinishedAt,
		result.PartialResults, string(progress), string(errs))

	for _, f := range result.Findings {
		payload, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encode finding %s: %w", f.ID, err)
		}
		accountID := f.AccountID
		if accountID == "" {
			accountID = result.AccountID
		}
		arn := f.ResourceARN
		if arn == "" {
			arn = f.ResourceID
		}
		batch.Queue(upsertFindingSQL,
			accountID, arn, f.ID, result.ExecutionID, f.ResourceID, string(f.ResourceType), f.Region,
			string(f.RecommendationType), f.PotentialMonthlySavings, string(f.Risk.Level),
			string(payload), result.FinishedAt)
	}
	return batch, nil
}
