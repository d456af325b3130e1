package events

// Emitter receives account health events. Emit must not block: the
// engine calls it on the request path and will not wait on slow
// consumers.
type Emitter interface {
	Emit(ev Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}

// ChannelEmitter delivers events to a buffered channel, dropping events
// when the buffer is full rather than blocking the request path.
type ChannelEmitter struct {
	ch chan Event
}

// NewChannelEmitter creates an emitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

// Emit implements Emitter.
func (e *ChannelEmitter) Emit(ev Event) {
	select {
	case e.ch <- ev:
	default:
		// Full buffer: drop. Events are advisory.
	}
}

// Events returns the receive side of the event stream.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}
