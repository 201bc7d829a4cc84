package msgp

import (
	"github.com/pkg/errors"
)

// maxRetainedBuffer is the largest buffer capacity kept across a full drain.
const maxRetainedBuffer = 64 * 1024

// Reassembler turns a fragmented frame stream back into complete payloads.
//
// Bytes are appended with Feed in whatever pieces the transport delivers
// them; completed payloads are pulled in arrival order with Read. Returned
// payloads are copies and stay valid after later calls.
//
// A Reassembler is not safe for concurrent use. The zero value is ready to use.
type Reassembler struct {
	buf    []byte // accumulated bytes, reset once fully consumed
	cursor int    // bytes of buf already turned into completed frames
	base   int    // stream offset of buf[0], for error messages

	// pending is the most recently located frame not yet drained.
	pending Boundary

	queue [][]byte
	head  int

	err error
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends chunk and drains every frame it completes into the read
// queue. It returns the number of frames completed by this call.
//
// If the stream holds a malformed prefix, Feed returns an error wrapping
// ErrMalformed, and keeps returning it until Reset is called. Frames
// completed before the malformed prefix are still readable.
func (r *Reassembler) Feed(chunk []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	r.compact()
	r.buf = append(r.buf, chunk...)

	completed := 0
	for {
		if r.pending.Status == Located {
			if r.pending.End > len(r.buf) {
				return completed, nil
			}

			r.push(clone(r.buf[r.pending.Start:r.pending.End]))
			r.cursor = r.pending.End
			r.pending = Boundary{}
			completed++
			continue
		}

		if r.cursor == len(r.buf) {
			r.base += len(r.buf)
			if cap(r.buf) > maxRetainedBuffer {
				r.buf = nil
			} else {
				r.buf = r.buf[:0]
			}
			r.cursor = 0
			return completed, nil
		}

		bound := Locate(r.buf, r.cursor)
		switch bound.Status {
		case Incomplete:
			return completed, nil
		case Malformed:
			r.err = errors.Wrapf(ErrMalformed, "at stream offset %d", r.base+r.cursor)
			return completed, r.err
		}
		r.pending = bound
	}
}

// Read removes and returns the oldest completed payload. It reports false if
// none is available.
func (r *Reassembler) Read() ([]byte, bool) {
	if r.head == len(r.queue) {
		return nil, false
	}

	p := r.queue[r.head]
	r.queue[r.head] = nil
	r.head++

	if r.head == len(r.queue) {
		r.queue = r.queue[:0]
		r.head = 0
	}
	return p, true
}

// Buffered returns the number of bytes held that have not yet produced a
// complete frame. A non-zero value means more input is needed.
func (r *Reassembler) Buffered() int {
	return len(r.buf) - r.cursor
}

// Pending returns the number of completed payloads waiting to be read.
func (r *Reassembler) Pending() int {
	return len(r.queue) - r.head
}

// PartialLen returns the declared payload length of the frame currently being
// assembled. It reports false if no prefix has been located past the last
// completed frame.
func (r *Reassembler) PartialLen() (int, bool) {
	if r.pending.Status != Located {
		return 0, false
	}
	return r.pending.Len(), true
}

// Err returns the sticky error set by a malformed prefix, if any.
func (r *Reassembler) Err() error {
	return r.err
}

// Reset discards all buffered bytes, queued payloads and any error.
func (r *Reassembler) Reset() {
	*r = Reassembler{buf: r.buf[:0]}
}

func (r *Reassembler) push(p []byte) {
	if r.head > 0 && len(r.queue) == cap(r.queue) {
		n := copy(r.queue, r.queue[r.head:])
		clear(r.queue[n:])
		r.queue = r.queue[:n]
		r.head = 0
	}
	r.queue = append(r.queue, p)
}

// compact moves the unconsumed tail to the front of buf once the consumed
// head is at least as large as the tail.
func (r *Reassembler) compact() {
	if r.cursor == 0 || r.cursor < len(r.buf)-r.cursor {
		return
	}

	n := copy(r.buf, r.buf[r.cursor:])
	r.buf = r.buf[:n]
	r.base += r.cursor

	if r.pending.Status == Located {
		r.pending.Start -= r.cursor
		r.pending.End -= r.cursor
	}
	r.cursor = 0
}
