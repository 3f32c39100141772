package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobhunt-agent/internal/store"
)

// DefaultRunsTable is used when Config.RunsTable is empty.
const DefaultRunsTable = "agent_runs"

// RunRepository implements store.RunRepository on Postgres.
type RunRepository struct {
	pool  Pool
	table string
}

var _ store.RunRepository = (*RunRepository)(nil)

// NewRunRepository constructs a repository from an existing pool.
func NewRunRepository(pool Pool, table string) (*RunRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, DefaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunRepository{pool: pool, table: table}, nil
}

// UpsertRunStart implements store.RunRepository.
func (r *RunRepository) UpsertRunStart(ctx context.Context, runID uuid.UUID, target string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, target, started_at, status, records)
VALUES ($1, $2, $3, $4, 0)
ON CONFLICT (id) DO UPDATE SET started_at = LEAST(%s.started_at, EXCLUDED.started_at)`, r.table, r.table)
	if _, err := r.pool.Exec(ctx, query, runID, target, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// AddRecords implements store.RunRepository.
func (r *RunRepository) AddRecords(ctx context.Context, runID uuid.UUID, delta int64) error {
	query := fmt.Sprintf(`UPDATE %s SET records = records + $2 WHERE id = $1`, r.table)
	if _, err := r.pool.Exec(ctx, query, runID, delta); err != nil {
		return fmt.Errorf("add run records: %w", err)
	}
	return nil
}

// SetOutput implements store.RunRepository.
func (r *RunRepository) SetOutput(ctx context.Context, runID uuid.UUID, filename string) error {
	query := fmt.Sprintf(`UPDATE %s SET output = $2 WHERE id = $1`, r.table)
	if _, err := r.pool.Exec(ctx, query, runID, filename); err != nil {
		return fmt.Errorf("set run output: %w", err)
	}
	return nil
}

// CompleteRun implements store.RunRepository.
func (r *RunRepository) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	reason *string,
) error {
	query := fmt.Sprintf(`UPDATE %s SET finished_at = $2, status = $3, reason = $4 WHERE id = $1`, r.table)
	if _, err := r.pool.Exec(ctx, query, runID, finishedAt, string(status), reason); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

const runColumns = `id, target, started_at, finished_at, status, reason, records, output`

// GetRun implements store.RunRepository.
func (r *RunRepository) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, r.table)
	run, err := scanRun(r.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns implements store.RunRepository.
func (r *RunRepository) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	offset = max(offset, 0)
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
			runColumns, r.table)
		rows, err = r.pool.Query(ctx, query, string(*status), limit, offset)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1 OFFSET $2`, runColumns, r.table)
		rows, err = r.pool.Query(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.Target,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Reason,
		&run.Records,
		&run.Output,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
