package sinks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

const defaultStreamBuffer = 256

// Subscription receives the events of one run. C is closed after the run's
// terminal event or when the subscription is cancelled.
type Subscription struct {
	C <-chan progress.Event

	runID   [16]byte
	ch      chan progress.Event
	once    sync.Once
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because the subscriber fell
// behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// StreamSink fans events out to live per-run subscribers such as SSE
// clients. Delivery never blocks the hub: a full subscriber buffer drops the
// event and counts it.
type StreamSink struct {
	buffer int

	mu   sync.Mutex
	subs map[[16]byte][]*Subscription
}

// NewStreamSink creates a sink whose subscriptions buffer up to buffer events.
func NewStreamSink(buffer int) *StreamSink {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &StreamSink{buffer: buffer, subs: make(map[[16]byte][]*Subscription)}
}

// Subscribe registers interest in runID.
func (s *StreamSink) Subscribe(runID [16]byte) *Subscription {
	ch := make(chan progress.Event, s.buffer)
	sub := &Subscription{C: ch, runID: runID, ch: ch}
	s.mu.Lock()
	s.subs[runID] = append(s.subs[runID], sub)
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (s *StreamSink) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	s.remove(sub)
	s.mu.Unlock()
	sub.close()
}

func (s *StreamSink) remove(sub *Subscription) {
	list := s.subs[sub.runID]
	for i, candidate := range list {
		if candidate == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, sub.runID)
		return
	}
	s.subs[sub.runID] = list
}

// Consume delivers each event to the subscribers of its run.
func (s *StreamSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		subs := s.subs[evt.RunID]
		for _, sub := range subs {
			select {
			case sub.ch <- evt:
			default:
				sub.dropped.Add(1)
			}
		}
		if evt.Type == progress.TypeTerminal {
			for _, sub := range subs {
				sub.close()
			}
			delete(s.subs, evt.RunID)
		}
	}
	return nil
}

// Close ends every open subscription.
func (s *StreamSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID, subs := range s.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(s.subs, runID)
	}
	return nil
}
