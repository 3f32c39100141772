package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
)

// Config tunes the Hub. Zero values pick the defaults noted per field.
type Config struct {
	// BufferSize is the number of events Emit can queue before dropping (4096).
	BufferSize int
	// MaxBatchEvents forces a flush once a batch reaches this size (1000).
	MaxBatchEvents int
	// MaxBatchWait bounds how long a partial batch waits for more events (500ms).
	MaxBatchWait time.Duration
	// SinkTimeout caps each Consume call (10s).
	SinkTimeout time.Duration
	// BaseContext is the parent of every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans events out to its sinks in batches. Emit never blocks; accepted
// events reach every sink in emission order.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropLog   rate.Sometimes
	pending   atomic.Int64 // drops since the last warning
	dropped   atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		sinks:   slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil }),
		queue:   make(chan Event, cfg.BufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events and events emitted after Close are
// discarded; when the buffer is full the event is dropped and counted.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
		return
	default:
	}
	h.dropped.Add(1)
	h.pending.Add(1)
	metrics.ObserveProgressDropped(1)
	h.dropLog.Do(func() {
		h.logger.Warn("progress events dropped due to backpressure",
			zap.Int64("dropped", h.pending.Swap(0)))
	})
}

// Dropped reports how many events were lost to backpressure.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, flushes what is queued and closes every sink. It waits
// for that to finish or for ctx to end, whichever comes first. Later calls
// only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batch accumulates events between flushes. The deadline timer only runs
// while the batch is non-empty.
type batch struct {
	h      *Hub
	events []Event
	timer  *time.Timer
}

func (b *batch) add(evt Event) {
	b.events = append(b.events, evt)
	if len(b.events) >= b.h.cfg.MaxBatchEvents {
		b.flush()
		return
	}
	if len(b.events) == 1 {
		b.timer.Reset(b.h.cfg.MaxBatchWait)
	}
}

func (b *batch) flush() {
	b.timer.Stop()
	if len(b.events) == 0 {
		return
	}
	b.h.deliver(slices.Clone(b.events))
	b.events = b.events[:0]
}

func (h *Hub) loop() {
	defer close(h.done)

	// Since Go 1.23 Stop and Reset discard a pending tick, so no drain is needed.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	b := &batch{h: h, events: make([]Event, 0, h.cfg.MaxBatchEvents), timer: timer}

	for {
		select {
		case evt := <-h.queue:
			b.add(evt)
		case <-timer.C:
			b.flush()
		case <-h.stop:
			h.drain(b)
			return
		}
	}
}

func (h *Hub) drain(b *batch) {
	for {
		select {
		case evt := <-h.queue:
			b.add(evt)
		default:
			b.flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(events []Event) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, events)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if err := sink.Close(h.closeCtx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
