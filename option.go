package msgp

import (
	"time"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	logger Logger

	onMessage func(c *Conn, payload []byte) error
	// onError is called for recoverable read/write errors.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	bufferSize     int           // size of the outgoing frame channel
	maxFrameSize   int           // maximum bytes buffered for one incoming frame
	readBufferSize int           // size of each socket read
	idleTimeout    time.Duration // read/write deadline
}

// Option is a function that configures connection options.
type Option func(*options)

// BufferSizeOption returns an Option that sets the size of the send channel buffer.
// A larger buffer allows more frames to be queued before Write reports ErrBufferFull.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// IdleTimeoutOption returns an Option that sets the read/write deadline.
// A connection that receives nothing for this long is closed.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// MaxFrameSizeOption returns an Option that limits how many bytes of a single
// incoming frame may be buffered. Larger frames end the connection with
// ErrMessageTooLarge.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// ReadBufferSizeOption returns an Option that sets the size of each socket read.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked when a recoverable read/write error occurs.
// Return Disconnect to close the connection, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnMessageOption returns an Option that sets the frame handler callback.
// This callback is required and is invoked with each received payload.
// Returning an error closes the connection.
func OnMessageOption(cb func(c *Conn, payload []byte) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
