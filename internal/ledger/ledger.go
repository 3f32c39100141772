// Package ledger is the shared, append-only set of apply links already
// collected by any collaborator. Each process keeps an in-run set and
// periodically union-merges its new links into the shared file.
package ledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/clock/system"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// DefaultName is the shared ledger file name.
const DefaultName = "ledger.tsv"

// Entry is one ledger line.
type Entry struct {
	Link      string
	FirstSeen time.Time
	SeenBy    string
}

// Options configures a Ledger.
type Options struct {
	Name   string
	SeenBy string
	Clock  crawler.Clock
	Logger *zap.Logger
}

// Ledger deduplicates apply links within a run and across collaborators.
type Ledger struct {
	store  storage.Store
	name   string
	seenBy string
	clock  crawler.Clock
	logger *zap.Logger

	mu       sync.Mutex
	local    map[string]Entry
	pending  []Entry
	degraded bool
}

// New creates a ledger backed by store.
func New(store storage.Store, opts Options) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if strings.TrimSpace(opts.SeenBy) == "" {
		return nil, errors.New("ledger seen_by is required")
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		name:   opts.Name,
		seenBy: opts.SeenBy,
		clock:  opts.Clock,
		logger: opts.Logger.Named("ledger"),
		local:  make(map[string]Entry),
	}, nil
}

// Normalize returns the canonical form of an apply link.
func Normalize(link string) (string, error) {
	n, err := crawler.NormalizeURL(link)
	if err != nil {
		return "", fmt.Errorf("normalize link: %w", err)
	}
	return n, nil
}

// CheckAndReserve classifies link and, when it is new, reserves it in the
// in-run set and queues it for the next Flush. The shared copy is re-read on
// every call so concurrent appends by other collaborators are noticed.
func (l *Ledger) CheckAndReserve(ctx context.Context, link string) (crawler.DedupStatus, string, error) {
	normalized, err := Normalize(link)
	if err != nil {
		return crawler.DedupNew, "", err
	}
	shared := l.readShared(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if own, ok := l.local[normalized]; ok {
		if other, ok := shared[normalized]; ok && !sameEntry(own, other) {
			return crawler.DedupShared, normalized, nil
		}
		return crawler.DedupLocal, normalized, nil
	}
	if _, ok := shared[normalized]; ok {
		return crawler.DedupShared, normalized, nil
	}
	entry := Entry{Link: normalized, FirstSeen: l.clock.Now().UTC(), SeenBy: l.seenBy}
	l.local[normalized] = entry
	l.pending = append(l.pending, entry)
	return crawler.DedupNew, normalized, nil
}

// Flush re-reads the shared ledger, appends the pending links it does not
// already contain and atomically replaces it. A failure degrades the ledger
// to local-only dedup for the rest of the run; it is logged and the error is
// returned for reporting only.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.degraded || len(l.pending) == 0 {
		return nil
	}

	raw, err := l.store.Read(ctx, l.name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return l.degrade(fmt.Errorf("read shared ledger: %w", err))
	}
	existing := parse(raw)
	present := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		present[e.Link] = struct{}{}
	}
	merged := existing
	added := 0
	for _, e := range l.pending {
		if _, ok := present[e.Link]; ok {
			continue
		}
		present[e.Link] = struct{}{}
		merged = append(merged, e)
		added++
	}
	if added > 0 {
		if err := l.store.WriteAtomic(ctx, l.name, format(merged)); err != nil {
			return l.degrade(fmt.Errorf("write shared ledger: %w", err))
		}
	}
	l.logger.Debug("ledger flushed", zap.Int("appended", added), zap.Int("total", len(merged)))
	l.pending = nil
	return nil
}

func (l *Ledger) degrade(err error) error {
	if !l.degraded {
		metrics.ObserveLedgerDegraded()
	}
	l.degraded = true
	l.logger.Warn("shared ledger unavailable, continuing with local-only dedup", zap.Error(err))
	return err
}

// Degraded reports whether shared-ledger I/O failed during this run.
func (l *Ledger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// Pending returns the number of reserved links not yet flushed.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Entries returns the shared ledger content sorted by first-seen time.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	raw, err := l.store.Read(ctx, l.name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read shared ledger: %w", err)
	}
	entries := parse(raw)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].FirstSeen.Before(entries[j].FirstSeen) })
	return entries, nil
}

func (l *Ledger) readShared(ctx context.Context) map[string]Entry {
	l.mu.Lock()
	degraded := l.degraded
	l.mu.Unlock()
	if degraded {
		return nil
	}
	raw, err := l.store.Read(ctx, l.name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.mu.Lock()
			_ = l.degrade(fmt.Errorf("read shared ledger: %w", err))
			l.mu.Unlock()
		}
		return nil
	}
	entries := parse(raw)
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if _, dup := out[e.Link]; !dup {
			out[e.Link] = e
		}
	}
	return out
}

func sameEntry(a, b Entry) bool {
	return a.SeenBy == b.SeenBy && a.FirstSeen.Equal(b.FirstSeen)
}

// parse reads ledger lines. Lines holding only a link are accepted; blank
// lines and lines starting with '#' are ignored.
func parse(raw []byte) []Entry {
	var out []Entry
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		link, err := Normalize(fields[0])
		if err != nil {
			continue
		}
		e := Entry{Link: link}
		if len(fields) > 1 {
			if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(fields[1])); err == nil {
				e.FirstSeen = t
			}
		}
		if len(fields) > 2 {
			e.SeenBy = strings.TrimSpace(fields[2])
		}
		out = append(out, e)
	}
	return out
}

func format(entries []Entry) []byte {
	var b bytes.Buffer
	for _, e := range entries {
		b.WriteString(e.Link)
		b.WriteByte('\t')
		if !e.FirstSeen.IsZero() {
			b.WriteString(e.FirstSeen.UTC().Format(time.RFC3339Nano))
		}
		b.WriteByte('\t')
		b.WriteString(e.SeenBy)
		b.WriteByte('\n')
	}
	return b.Bytes()
}
