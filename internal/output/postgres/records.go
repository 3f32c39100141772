package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// DefaultRecordsTable is used when Config.RecordsTable is empty.
const DefaultRecordsTable = "job_records"

// RecordStore writes accepted job records into Postgres.
type RecordStore struct {
	pool  Pool
	table string
}

// NewRecordStore constructs a store from an existing pool.
func NewRecordStore(pool Pool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, DefaultRecordsTable)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRecord inserts one record. A link already stored for the same run is
// ignored.
func (s *RecordStore) StoreRecord(ctx context.Context, runID string, record crawler.JobRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	source_url,
	title,
	apply_link,
	confidence,
	low_confidence,
	posted_at,
	dedup_status,
	strategy,
	found_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (run_id, source_url) DO NOTHING`, s.table)

	args := []any{
		runID,
		record.SourceURL,
		record.Title,
		record.ApplyLink,
		record.Confidence,
		record.LowConfidence,
		nullableTime(record.PostedAt),
		record.Dedup.String(),
		record.Strategy.String(),
		record.FoundAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
