// Package transport provides the byte-stream transports the engine
// runs over. A transport delivers whole messages: framing guarantees
// that concatenation or fragmentation in the underlying stream never
// corrupts adjacent messages, and concurrent sends never interleave.
package transport

import "context"

// ReceiveHandler processes one complete received message.
type ReceiveHandler func(data []byte)

// ErrorHandler handles transport-level faults. End of stream is
// reported exactly once as a connection-closed error.
type ErrorHandler func(err error)

// Transport is a bidirectional message stream.
type Transport interface {
	// Start runs the receive loop, delivering each complete message to
	// the receive handler. It blocks until the stream ends, the context
	// is canceled, or Stop is called.
	Start(ctx context.Context) error

	// Send writes one complete message atomically with respect to other
	// concurrent senders. After the transport closes it fails
	// immediately with a connection-closed error.
	Send(data []byte) error

	// SetReceiveHandler installs the message handler. Must be called
	// before Start.
	SetReceiveHandler(handler ReceiveHandler)

	// SetErrorHandler installs the fault handler. Must be called before
	// Start.
	SetErrorHandler(handler ErrorHandler)

	// Stop halts the receive loop and releases the stream.
	Stop(ctx context.Context) error
}
