package msgp

import (
	"io"

	"github.com/pkg/errors"
)

// defaultReadBufferSize is the chunk size of each read from the underlying reader.
const defaultReadBufferSize = 4096

// ErrMessageTooLarge is returned when a frame exceeds the configured size limit.
var ErrMessageTooLarge = errors.New("msgp: message too large")

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// ReaderMaxFrameSize limits the payload size a Reader accepts. A frame is
// rejected as soon as its prefix declares more than n bytes, before its
// payload is read. Zero or negative means no limit other than MaxLength.
func ReaderMaxFrameSize(n int) ReaderOption {
	return func(r *Reader) {
		r.maxFrameSize = n
	}
}

// ReaderBufferSize sets the size of each read from the underlying reader.
func ReaderBufferSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.chunk = make([]byte, n)
		}
	}
}

// Reader reads framed payloads from an io.Reader.
type Reader struct {
	r            io.Reader
	ra           Reassembler
	chunk        []byte
	maxFrameSize int
	eof          bool
}

// NewReader returns a Reader pulling frames from r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	fr := &Reader{r: r}
	for _, o := range opts {
		o(fr)
	}
	if fr.chunk == nil {
		fr.chunk = make([]byte, defaultReadBufferSize)
	}
	return fr
}

// Next returns the next payload. It returns io.EOF when the stream ends on a
// frame boundary and io.ErrUnexpectedEOF when it ends inside a frame.
// Errors from the underlying reader other than EOF are returned as is and
// Next may be called again afterwards.
func (fr *Reader) Next() ([]byte, error) {
	for {
		if p, ok := fr.ra.Read(); ok {
			if fr.maxFrameSize > 0 && len(p) > fr.maxFrameSize {
				return nil, errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes, limit %d", len(p), fr.maxFrameSize)
			}
			return p, nil
		}
		if err := fr.ra.Err(); err != nil {
			return nil, err
		}
		if n, ok := fr.ra.PartialLen(); ok && fr.maxFrameSize > 0 && n > fr.maxFrameSize {
			return nil, errors.Wrapf(ErrMessageTooLarge, "frame declares %d bytes, limit %d", n, fr.maxFrameSize)
		}
		if fr.eof {
			if fr.ra.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		}

		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			if _, ferr := fr.ra.Feed(fr.chunk[:n]); ferr != nil && fr.ra.Pending() == 0 {
				return nil, ferr
			}
		}

		if err == io.EOF {
			fr.eof = true
		} else if err != nil {
			return nil, err
		}
	}
}

// Buffered returns the number of bytes held for incomplete frames.
func (fr *Reader) Buffered() int {
	return fr.ra.Buffered()
}

// Writer writes framed payloads to an io.Writer.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer framing payloads onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes p as one frame. If the underlying writer has a
// Flush() error method (e.g. *bufio.Writer) it is flushed afterwards.
func (fw *Writer) WriteFrame(p []byte) error {
	var err error
	fw.buf, err = AppendPrefix(fw.buf[:0], len(p))
	if err != nil {
		return err
	}

	if _, err = fw.w.Write(fw.buf); err != nil {
		return errors.WithMessage(err, "write prefix")
	}
	if _, err = fw.w.Write(p); err != nil {
		return errors.WithMessage(err, "write payload")
	}

	if f, ok := fw.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
