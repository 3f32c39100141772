// Package csvout renders a run's job records into a downloadable CSV file.
package csvout

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// Header is the column order of every file.
var Header = []string{
	"title",
	"apply_link",
	"source_url",
	"posted_at",
	"confidence",
	"low_confidence",
	"dedup_status",
	"strategy",
	"found_at",
}

// Writer implements crawler.OutputWriter on a storage.Store.
type Writer struct {
	store storage.Store
	clock crawler.Clock
}

// New creates a Writer that saves files into store.
func New(store storage.Store, clock crawler.Clock) *Writer {
	return &Writer{store: store, clock: clock}
}

// Filename returns jobs_<date>_<runid>.csv for a run.
func Filename(runID string, at time.Time) string {
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("jobs_%s_%s.csv", at.UTC().Format(crawler.DateLayout), id)
}

// WriteRecords renders records and stores them atomically. It returns the
// file name.
func (w *Writer) WriteRecords(ctx context.Context, runID string, records []crawler.JobRecord) (string, error) {
	data, err := Encode(records)
	if err != nil {
		return "", err
	}
	name := Filename(runID, w.clock.Now())
	if err := w.store.WriteAtomic(ctx, name, data); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return name, nil
}

// Encode renders records with a header row.
func Encode(records []crawler.JobRecord) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(Header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		posted := ""
		if !r.PostedAt.IsZero() {
			posted = r.PostedAt.Format(crawler.DateLayout)
		}
		row := []string{
			r.Title,
			r.ApplyLink,
			r.SourceURL,
			posted,
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			strconv.FormatBool(r.LowConfidence),
			r.Dedup.String(),
			r.Strategy.String(),
			r.FoundAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
