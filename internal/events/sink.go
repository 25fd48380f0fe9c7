package events

import "context"

// Sink consumes batches of operation events. Implementations must tolerate
// repeated calls, honor ctx deadlines, and may be invoked concurrently with
// their own Close.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies this so callers stay
// agnostic about buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}
