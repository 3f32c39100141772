package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/progress"
	"github.com/JakeFAU/jobhunt-agent/internal/store"
)

// StoreSink persists run history via a store.RunRepository. It collapses
// record events per run to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses record deltas and forwards run lifecycle changes to the
// repository. It respects ctx deadlines and returns any repository errors.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	records := make(map[uuid.UUID]int64)
	var order []uuid.UUID

	flushRecords := func(runID uuid.UUID) error {
		delta := records[runID]
		if delta == 0 {
			return nil
		}
		delete(records, runID)
		if err := s.repo.AddRecords(ctx, runID, delta); err != nil {
			return fmt.Errorf("add records: %w", err)
		}
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Type {
		case progress.TypeRecord:
			if _, seen := records[runID]; !seen {
				order = append(order, runID)
			}
			records[runID]++
		case progress.TypeProgress:
			if evt.Seq == 1 {
				if err := s.repo.UpsertRunStart(ctx, runID, evt.Site, evt.TS); err != nil {
					return fmt.Errorf("upsert run start: %w", err)
				}
			}
		case progress.TypeDownload:
			if err := s.repo.SetOutput(ctx, runID, evt.Filename); err != nil {
				return fmt.Errorf("set output: %w", err)
			}
		case progress.TypeTerminal:
			if err := flushRecords(runID); err != nil {
				return err
			}
			var reason *string
			if evt.Reason != "" {
				reason = &evt.Reason
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunStatus(evt.Status), reason); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.TypeFailure:
		}
	}

	for _, runID := range order {
		if err := flushRecords(runID); err != nil {
			return err
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
