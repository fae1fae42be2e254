package core

// Frame is one encoded message for a subscriber (JSON text).
type Frame []byte

// SignalConnection abstracts an event-stream transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
