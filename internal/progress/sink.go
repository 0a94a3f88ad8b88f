package progress

import "context"

// Sink receives batches from the Hub's loop goroutine. Consume gets a slice
// it may keep, and ctx carries the hub's per-sink timeout. Close is called
// once, after the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what the engine and workers report through. *Hub implements
// it; Emit must not block.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}

var (
	_ Emitter = (*Hub)(nil)
	_ Emitter = Discard{}
)
