package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/memory"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type failingStore struct {
	readErr  error
	writeErr error
}

func (f failingStore) Read(context.Context, string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return nil, storage.ErrNotFound
}

func (f failingStore) WriteAtomic(context.Context, string, []byte) error {
	return f.writeErr
}

func newLedger(t *testing.T, store storage.Store, seenBy string) *Ledger {
	t.Helper()
	l, err := New(store, Options{SeenBy: seenBy, Clock: &fixedClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}})
	require.NoError(t, err)
	return l
}

func TestCheckAndReserveLocalThenShared(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	l := newLedger(t, store, "alice")

	status, normalized, err := l.CheckAndReserve(ctx, "https://forms.example.com/apply/1/?utm_source=tg")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupNew, status)
	assert.Equal(t, "https://forms.example.com/apply/1", normalized)

	status, _, err = l.CheckAndReserve(ctx, "https://forms.example.com/apply/1")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupLocal, status)

	// Another collaborator appended the link concurrently.
	require.NoError(t, store.WriteAtomic(ctx, DefaultName,
		[]byte("https://forms.example.com/apply/1\t2024-02-28T10:00:00Z\tbob\n")))

	status, _, err = l.CheckAndReserve(ctx, "https://forms.example.com/apply/1")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupShared, status)
}

func TestCheckAndReserveSharedOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.WriteAtomic(ctx, DefaultName, []byte("# legacy\nhttps://forms.example.com/apply/9\n\n")))

	l := newLedger(t, store, "alice")
	status, _, err := l.CheckAndReserve(ctx, "http://forms.example.com/apply/9/")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupShared, status)
	assert.Zero(t, l.Pending())
}

func TestFlushUnionMergesAndStaysLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	l := newLedger(t, store, "alice")

	_, _, err := l.CheckAndReserve(ctx, "https://forms.example.com/apply/1")
	require.NoError(t, err)
	_, _, err = l.CheckAndReserve(ctx, "https://forms.example.com/apply/2")
	require.NoError(t, err)

	// Someone else flushed in between.
	require.NoError(t, store.WriteAtomic(ctx, DefaultName,
		[]byte("https://forms.example.com/apply/2\t2024-02-28T10:00:00Z\tbob\n")))

	require.NoError(t, l.Flush(ctx))
	assert.Zero(t, l.Pending())

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://forms.example.com/apply/2", entries[0].Link)
	assert.Equal(t, "bob", entries[0].SeenBy)
	assert.Equal(t, "https://forms.example.com/apply/1", entries[1].Link)
	assert.Equal(t, "alice", entries[1].SeenBy)

	// Our own flushed entry is still a local duplicate.
	status, _, err := l.CheckAndReserve(ctx, "https://forms.example.com/apply/1")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupLocal, status)
	// The link bob got first is attributed to the shared ledger.
	status, _, err = l.CheckAndReserve(ctx, "https://forms.example.com/apply/2")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupShared, status)
}

func TestFlushFailureDegradesToLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t, failingStore{writeErr: errors.New("disk full")}, "alice")

	status, _, err := l.CheckAndReserve(ctx, "https://forms.example.com/apply/1")
	require.NoError(t, err)
	require.Equal(t, crawler.DedupNew, status)

	err = l.Flush(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk full"))
	assert.True(t, l.Degraded())

	status, _, err = l.CheckAndReserve(ctx, "https://forms.example.com/apply/1")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupLocal, status)
	require.NoError(t, l.Flush(ctx))
}

func TestReadFailureDegrades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t, failingStore{readErr: errors.New("permission denied")}, "alice")

	status, _, err := l.CheckAndReserve(ctx, "https://forms.example.com/apply/1")
	require.NoError(t, err)
	assert.Equal(t, crawler.DedupNew, status)
	assert.True(t, l.Degraded())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{SeenBy: "alice"})
	require.Error(t, err)
	_, err = New(memory.New(), Options{SeenBy: "  "})
	require.Error(t, err)
	_, _, err = newLedger(t, memory.New(), "alice").CheckAndReserve(context.Background(), "/relative")
	require.Error(t, err)
}
