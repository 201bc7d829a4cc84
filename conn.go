package msgp

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("msgp: invalid on message callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("msgp: connection closed")
	// ErrBufferFull is returned when the send buffer is full and cannot accept more frames.
	// This indicates backpressure: the peer is not consuming frames fast enough.
	// Use WriteBlocking or WriteTimeout to wait for buffer space instead.
	ErrBufferFull = errors.New("msgp: send buffer full")
)

// Default configuration values.
const (
	// defaultBufferSize is the default size of the outgoing frame channel.
	defaultBufferSize = 1
	// defaultMaxFrameSize is the default limit for one incoming frame (1MB).
	defaultMaxFrameSize = 1024 * 1024
	// defaultIdleTimeout is the default read/write deadline.
	defaultIdleTimeout = 30 * time.Second
)

// Conn is a TCP connection exchanging size-prefixed frames.
// Incoming bytes are reassembled into payloads and handed to the
// OnMessageOption callback; outgoing payloads are framed and queued
// for a dedicated write loop.
type Conn struct {
	rawConn *net.TCPConn
	reader  *Reader
	logger  Logger

	opts options

	sendMsg chan []byte
	closed  atomic.Bool
	done    chan struct{} // closed by Close

	closing  atomic.Bool
	draining chan struct{} // closed by Shutdown
	drained  chan struct{} // closed by writeLoop once the queue is flushed
}

// NewConn wraps the given TCP connection.
// Returns ErrInvalidOnMessage if no OnMessageOption is given.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// Dial connects to addr over TCP and wraps the connection.
func Dial(ctx context.Context, addr string, opt ...Option) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WithMessagef(err, "dial %s", addr)
	}

	c, err := NewConn(nc.(*net.TCPConn), opt...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newConnWithOptions(c *net.TCPConn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		reader: NewReader(c,
			ReaderBufferSize(opts.readBufferSize),
			ReaderMaxFrameSize(opts.maxFrameSize),
		),
		logger:  opts.logger,
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
		done:    make(chan struct{}),

		draining: make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

// Run starts the connection's read and write loops and blocks until one of
// them fails or ctx is canceled. The connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_frame_size", c.opts.maxFrameSize,
		"idle_timeout", c.opts.idleTimeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// Unblock a read parked in the kernel once either loop stops.
	group.Go(func() error {
		select {
		case <-child.Done():
		case <-c.done:
			cancel()
		}
		_ = c.rawConn.SetReadDeadline(time.Now())
		return nil
	})

	err := group.Wait()
	c.closeConn()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		c.logger.Info("connection closed", "addr", c.Addr())
	default:
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	}

	return err
}

// Close cancels Run and closes the underlying TCP connection.
// Frames still queued by Write, WriteBlocking or WriteTimeout are discarded;
// use Shutdown to deliver them first. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	return c.rawConn.Close()
}

// Shutdown stops accepting new frames, waits for the write loop to send every
// frame already queued, half-closes the socket so the peer sees EOF after the
// last frame, and then closes the connection.
//
// Shutdown requires Run to be active. If ctx is done first, queued frames may
// be lost; the connection is closed either way and ctx.Err() is returned.
func (c *Conn) Shutdown(ctx context.Context) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	if !c.closing.Swap(true) {
		close(c.draining)
	}

	var err error
	select {
	case <-c.drained:
		_ = c.rawConn.CloseWrite()
	case <-c.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.Close()
	return err
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Write frames payload and queues it without blocking.
//
// Returns:
//   - nil: the frame was queued (not yet sent)
//   - ErrBufferFull: the send buffer is full, the frame was NOT queued
//   - ErrConnectionClosed: the connection is closed
//   - an error wrapping ErrTooLarge: the payload cannot be framed
func (c *Conn) Write(payload []byte) error {
	frame, err := c.frame(payload)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking frames payload and waits until it is queued or ctx is done.
func (c *Conn) WriteBlocking(ctx context.Context, payload []byte) error {
	frame, err := c.frame(payload)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout frames payload and waits up to timeout for buffer space.
// It returns ErrBufferFull if the timeout expires.
func (c *Conn) WriteTimeout(payload []byte, timeout time.Duration) error {
	frame, err := c.frame(payload)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendMsg <- frame:
		return nil
	case <-timer.C:
		return ErrBufferFull
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// Buffered returns the number of received bytes not yet forming a complete frame.
// Only meaningful from within the OnMessageOption callback.
func (c *Conn) Buffered() int {
	return c.reader.Buffered()
}

func (c *Conn) frame(payload []byte) ([]byte, error) {
	if c.closed.Load() || c.closing.Load() {
		return nil, ErrConnectionClosed
	}
	return AppendFrame(nil, payload)
}

// readLoop reads frames until the context is canceled or a fatal error occurs.
// A malformed prefix, an oversize frame or EOF always ends the loop since the
// stream cannot be resynchronised; other errors are passed to onError.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))

		payload, err := c.reader.Next()
		if err != nil {
			if ctx.Err() != nil || c.IsClosed() {
				return context.Canceled
			}

			c.logger.Debug("read error", "addr", c.Addr(), "error", err)
			if isFatalReadError(err) || c.opts.onError(err) == Disconnect {
				return err
			}
			continue
		}

		if err = c.opts.onMessage(c, payload); err != nil {
			return err
		}
	}
}

func isFatalReadError(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrMessageTooLarge) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

// writeLoop sends queued frames until the context is canceled or a write fails.
// Once Shutdown is called it flushes the queue and stops.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		case <-c.draining:
			return c.flush()
		}
	}
}

// flush writes every queued frame and signals Shutdown.
func (c *Conn) flush() error {
	for {
		select {
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		default:
			close(c.drained)
			return nil
		}
	}
}

// write sends data with a deadline. Errors the onError callback
// chooses to Continue past are dropped.
func (c *Conn) write(data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout))

	_, err := c.rawConn.Write(data)
	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
	}

	return nil
}

// closeConn marks the connection as closed and closes the underlying TCP connection.
func (c *Conn) closeConn() {
	if !c.closed.Swap(true) {
		close(c.done)
	}
	c.rawConn.Close()
}
