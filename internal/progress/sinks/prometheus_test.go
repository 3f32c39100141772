package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Type: progress.TypeProgress, Tag: progress.TagAgent, Site: "example.com"},
		{
			RunID:  runID,
			TS:     now.Add(time.Second),
			Type:   progress.TypeRecord,
			Tag:    progress.TagFound,
			Site:   "example.com",
			Record: &crawler.JobRecord{Dedup: crawler.DedupNew},
		},
		{
			RunID:  runID,
			TS:     now.Add(2 * time.Second),
			Type:   progress.TypeRecord,
			Tag:    progress.TagDuplicate,
			Site:   "example.com",
			Record: &crawler.JobRecord{Dedup: crawler.DedupShared},
		},
		{RunID: runID, TS: now.Add(3 * time.Second), Type: progress.TypeTerminal, Tag: progress.TagComplete, Status: "achieved"},
		{RunID: runID, TS: now.Add(4 * time.Second), Type: progress.TypeTerminal, Tag: progress.TagComplete, Status: "achieved"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("achieved")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues("example.com", "new")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues("example.com", "duplicate_shared")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("progress", "AGENT")), 1e-9)
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
