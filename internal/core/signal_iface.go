package core

// Frame is a raw wire payload.
type Frame []byte

// SignalChannel abstracts the client's event channel to the signaling relay.
// Emit marshals v and publishes it under the given event name; delivery is
// asynchronous and may fail fast on backpressure.
// Owned by the adapter; the adapter must Close() it.
type SignalChannel interface {
	Emit(event string, v any) error
	Close()
}
