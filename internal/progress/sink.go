package progress

import (
	"context"
	"iter"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// producers can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// Forward pulls every event from seq into emitter until the sequence ends or
// ctx is done, and returns the number of events forwarded. The emitter must
// not block; a Hub drops rather than stalls the producer.
func Forward(ctx context.Context, seq iter.Seq[Event], emitter Emitter) int {
	n := 0
	for evt := range seq {
		emitter.Emit(evt)
		n++
		if ctx.Err() != nil {
			break
		}
	}
	return n
}
