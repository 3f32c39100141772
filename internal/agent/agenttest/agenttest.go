// Package agenttest builds agents over in-memory collaborators for tests of
// the packages that drive runs.
package agenttest

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/world"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	uuidgen "github.com/JakeFAU/jobhunt-agent/internal/id/uuid"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/memory"
)

// Clock is a fixed clock.
type Clock struct{ T time.Time }

// Now returns the fixed time.
func (c Clock) Now() time.Time { return c.T }

// NoSleep returns immediately.
type NoSleep struct{}

// Sleep implements crawler.Sleeper.
func (NoSleep) Sleep(context.Context, time.Duration) {}

// GatedFetcher answers 404 to every request, but only after Open is called.
// Blocked requests return early when their context ends.
type GatedFetcher struct {
	gate  chan struct{}
	once  sync.Once
	calls atomic.Int64
}

// NewGatedFetcher returns a closed gate.
func NewGatedFetcher() *GatedFetcher {
	return &GatedFetcher{gate: make(chan struct{})}
}

// Open releases every pending and future request.
func (f *GatedFetcher) Open() { f.once.Do(func() { close(f.gate) }) }

// Calls returns how many requests were started.
func (f *GatedFetcher) Calls() int64 { return f.calls.Load() }

// Fetch implements crawler.Fetcher.
func (f *GatedFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.calls.Add(1)
	select {
	case <-f.gate:
	case <-ctx.Done():
		return crawler.FetchResponse{URL: req.URL}, ctx.Err()
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
}

// Options customize New.
type Options struct {
	Config agent.Config
	Output crawler.OutputWriter
	Logger *zap.Logger
}

// New builds an agent around fetcher with memory storage, a fixed clock and
// real UUIDs.
func New(t testing.TB, fetcher crawler.Fetcher, opts Options) *agent.Agent {
	t.Helper()
	clock := Clock{T: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	shared := memory.New()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a, err := agent.New(opts.Config, agent.Deps{
		Fetcher: fetcher,
		World:   world.New(world.Config{}, shared, clock, logger),
		Shared:  shared,
		Clock:   clock,
		Sleeper: NoSleep{},
		IDs:     uuidgen.New(),
		Output:  opts.Output,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return a
}

// Recorder is an Emitter that keeps every event.
type Recorder struct {
	mu       sync.Mutex
	events   []progress.Event
	terminal chan struct{}
	once     sync.Once
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{terminal: make(chan struct{})}
}

// Emit implements progress.Emitter.
func (r *Recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	if evt.Type == progress.TypeTerminal {
		r.once.Do(func() { close(r.terminal) })
	}
}

// Terminal is closed after the first terminal event.
func (r *Recorder) Terminal() <-chan struct{} { return r.terminal }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event of type typ.
func (r *Recorder) Last(typ progress.Type) (progress.Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return events[i], true
		}
	}
	return progress.Event{}, false
}
