package msgp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestReader_Next(t *testing.T) {
	var stream bytes.Buffer
	w := NewWriter(&stream)
	for _, p := range []string{"one", "", "three"} {
		if err := w.WriteFrame([]byte(p)); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	r := NewReader(iotest.OneByteReader(&stream))
	for _, want := range []string{"one", "", "three"} {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if string(got) != want {
			t.Errorf("Next = %q, want %q", got, want)
		}
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_UnexpectedEOF(t *testing.T) {
	frame := Encode([]byte("truncated"))
	r := NewReader(bytes.NewReader(frame[:4]))

	if _, err := r.Next(); err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReader_DataErrReader(t *testing.T) {
	frame := Encode([]byte("last"))
	r := NewReader(iotest.DataErrReader(bytes.NewReader(frame)))

	got, err := r.Next()
	if err != nil || string(got) != "last" {
		t.Fatalf("Next = %q, %v", got, err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_Malformed(t *testing.T) {
	stream := append(Encode([]byte("ok")), 0xFF, 0xFF, 0xFF, 0xFF)
	r := NewReader(bytes.NewReader(stream))

	got, err := r.Next()
	if err != nil || string(got) != "ok" {
		t.Fatalf("Next = %q, %v", got, err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected sticky ErrMalformed, got %v", err)
	}
}

func TestReader_MaxFrameSize(t *testing.T) {
	tests := []struct {
		name  string
		chunk int
	}{
		{"partial frame", 64},
		{"whole frame in one read", 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := Encode(filled(1000, 7))
			r := NewReader(bytes.NewReader(frame), ReaderMaxFrameSize(100), ReaderBufferSize(tt.chunk))

			if _, err := r.Next(); !errors.Is(err, ErrMessageTooLarge) {
				t.Errorf("expected ErrMessageTooLarge, got %v", err)
			}
		})
	}
}

func TestReader_MaxFrameSize_RejectsOnPrefix(t *testing.T) {
	errPayloadRead := errors.New("payload bytes requested")

	// "ok" followed by a prefix declaring 1000 bytes, and no payload behind it.
	head := append(Encode([]byte("ok")), 0x87, 0x68)
	r := NewReader(io.MultiReader(bytes.NewReader(head), iotest.ErrReader(errPayloadRead)), ReaderMaxFrameSize(100))

	got, err := r.Next()
	if err != nil || string(got) != "ok" {
		t.Fatalf("Next = %q, %v", got, err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected repeated ErrMessageTooLarge, got %v", err)
	}
}

func TestReader_MaxFrameSize_AtLimit(t *testing.T) {
	frame := Encode(filled(100, 7))
	r := NewReader(iotest.OneByteReader(bytes.NewReader(frame)), ReaderMaxFrameSize(100))

	got, err := r.Next()
	if err != nil || len(got) != 100 {
		t.Errorf("Next = %d bytes, %v", len(got), err)
	}
}

func TestReader_TransientError(t *testing.T) {
	frame := Encode([]byte("after timeout"))
	r := NewReader(iotest.TimeoutReader(bytes.NewReader(frame)), ReaderBufferSize(4))

	// The first read succeeds, the second returns ErrTimeout.
	if _, err := r.Next(); err != iotest.ErrTimeout {
		t.Fatalf("expected iotest.ErrTimeout, got %v", err)
	}
	if r.Buffered() != 4 {
		t.Errorf("Buffered = %d, want 4", r.Buffered())
	}

	got, err := r.Next()
	if err != nil || string(got) != "after timeout" {
		t.Errorf("Next = %q, %v", got, err)
	}
}

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() error {
	f.flushes++
	return nil
}

func TestWriter_Flushes(t *testing.T) {
	var rec flushRecorder
	w := NewWriter(&rec)

	if err := w.WriteFrame([]byte{1, 2}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if rec.flushes != 1 {
		t.Errorf("flushes = %d, want 1", rec.flushes)
	}
	if want := []byte{0x02, 1, 2}; !bytes.Equal(rec.Bytes(), want) {
		t.Errorf("wrote % x, want % x", rec.Bytes(), want)
	}
}

func TestWriter_BufioRoundTrip(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(bufio.NewWriter(&out))

	payload := filled(20000, 0x5A)
	if err := w.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), Encode(payload)) {
		t.Error("Writer output differs from Encode")
	}
}

type failingWriter struct{ err error }

func (f failingWriter) Write(p []byte) (int, error) { return 0, f.err }

func TestWriter_Error(t *testing.T) {
	writeErr := errors.New("boom")
	w := NewWriter(failingWriter{err: writeErr})

	if err := w.WriteFrame([]byte("x")); !errors.Is(err, writeErr) {
		t.Errorf("expected write error, got %v", err)
	}
}
