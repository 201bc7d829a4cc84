// Package msgp frames opaque byte payloads with a variable-length size prefix
// so they can be concatenated into one byte stream and split apart again,
// even when the stream arrives in arbitrary fragments.
//
// Wire format:
//
//	frame   := prefix payload
//	prefix  := 1..4 bytes, big-endian base-128, bit 7 set on all but the last byte
//	payload := exactly L bytes, 0 <= L < MaxLength
//
// The package also provides a streaming Reassembler, io adapters and a small
// TCP connection/server layer speaking the format.
package msgp

import (
	"github.com/pkg/errors"
)

// MaxLength is the exclusive upper bound of a payload length (2^28).
// It is fixed by the four byte prefix and is not configurable.
const MaxLength = 1 << 28

// maxPrefixLen is the longest valid size prefix.
const maxPrefixLen = 4

var (
	// ErrTooLarge is returned (or panicked with, by Encode) when a payload
	// cannot be represented by a four byte prefix.
	ErrTooLarge = errors.New("msgp: payload length exceeds 268435455 bytes")
	// ErrMalformed is returned when a size prefix needs a fifth byte.
	ErrMalformed = errors.New("msgp: size prefix exceeds maximum representable length")
	// ErrIncomplete is returned by DecodeFrame when more bytes are needed.
	ErrIncomplete = errors.New("msgp: incomplete frame")
)

// Status tags the outcome of Locate.
type Status int

const (
	// Incomplete means the buffer ended before the prefix terminated.
	Incomplete Status = iota
	// Located means a complete prefix was found; see Boundary.Start/End.
	Located
	// Malformed means the prefix is longer than four bytes.
	Malformed
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Located:
		return "located"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Boundary is the result of a boundary lookup. Start and End delimit the
// payload within the searched buffer and are only meaningful when Status is
// Located. End may lie beyond the end of the buffer if the payload has not
// fully arrived yet.
type Boundary struct {
	Status Status
	Start  int
	End    int
}

// Len returns the declared payload length of a located boundary.
func (b Boundary) Len() int {
	return b.End - b.Start
}

// PrefixLen returns the number of prefix bytes used for a payload of n bytes,
// or 0 if n is out of range.
func PrefixLen(n int) int {
	switch {
	case n < 0 || n >= MaxLength:
		return 0
	case n < 1<<7:
		return 1
	case n < 1<<14:
		return 2
	case n < 1<<21:
		return 3
	default:
		return 4
	}
}

// AppendPrefix appends the minimal size prefix for a payload of n bytes to dst.
func AppendPrefix(dst []byte, n int) ([]byte, error) {
	size := PrefixLen(n)
	if size == 0 {
		return dst, errors.Wrapf(ErrTooLarge, "length %d", n)
	}

	for i := size - 1; i > 0; i-- {
		dst = append(dst, byte(n>>(7*i))&0x7F|0x80)
	}
	return append(dst, byte(n)&0x7F), nil
}

// AppendFrame appends the framed form of payload to dst and returns the
// extended slice. The payload is copied.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if PrefixLen(len(payload)) == 0 {
		return dst, errors.Wrapf(ErrTooLarge, "length %d", len(payload))
	}

	if need := len(dst) + maxPrefixLen + len(payload); cap(dst) < need {
		grown := make([]byte, len(dst), need)
		copy(grown, dst)
		dst = grown
	}

	dst, _ = AppendPrefix(dst, len(payload))
	return append(dst, payload...), nil
}

// Encode returns a new buffer holding the size prefix followed by payload.
//
// Encode panics with an error wrapping ErrTooLarge if len(payload) >= MaxLength;
// use AppendFrame to get an error instead.
func Encode(payload []byte) []byte {
	size := PrefixLen(len(payload))
	if size == 0 {
		panic(errors.Wrapf(ErrTooLarge, "length %d", len(payload)))
	}

	out, _ := AppendPrefix(make([]byte, 0, size+len(payload)), len(payload))
	return append(out, payload...)
}

// Locate looks for a complete size prefix in buf starting at off.
//
// It never reads past the terminating prefix byte, so it can be retried on a
// longer buffer from the same offset once more bytes arrive. A negative off
// is reported as Malformed; an off at or past the end of buf as Incomplete.
func Locate(buf []byte, off int) Boundary {
	if off < 0 {
		return Boundary{Status: Malformed}
	}

	continuations := 0
	accumulated := 0

	for off < len(buf) {
		b := buf[off]
		off++

		if b < 0x80 {
			return Boundary{Status: Located, Start: off, End: off + accumulated + int(b)}
		}

		continuations++
		if continuations >= maxPrefixLen {
			return Boundary{Status: Malformed}
		}
		accumulated = (accumulated + int(b&0x7F)) * 128
	}

	return Boundary{Status: Incomplete}
}

// DecodeFrame decodes the first frame of buf. It returns a copy of the payload
// and the number of bytes the frame occupies in buf. The error wraps
// ErrIncomplete if buf ends before the frame does, or ErrMalformed if the
// prefix is invalid.
func DecodeFrame(buf []byte) ([]byte, int, error) {
	bound := Locate(buf, 0)
	switch bound.Status {
	case Malformed:
		return nil, 0, ErrMalformed
	case Incomplete:
		return nil, 0, ErrIncomplete
	}

	if bound.End > len(buf) {
		return nil, 0, errors.WithMessagef(ErrIncomplete, "need %d bytes, have %d", bound.End, len(buf))
	}

	return clone(buf[bound.Start:bound.End]), bound.End, nil
}

// Decode decodes a single fully buffered frame. It reports false if buf is
// empty, the prefix is incomplete or malformed, or the payload is truncated.
// Bytes after the first frame are ignored.
func Decode(buf []byte) ([]byte, bool) {
	payload, _, err := DecodeFrame(buf)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// clone returns a non-nil copy of p.
func clone(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
