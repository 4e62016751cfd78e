package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	id := uuid.New()
	payload := []byte("hello nexus")

	if err := w.WriteFrame(Kind(7), id, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := NewReader(&buf, nil)
	got, err := r.ReadFrame(0, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != Kind(7) {
		t.Errorf("kind = %d, want 7", got.Kind)
	}
	if got.MessageID != id {
		t.Errorf("message id = %v, want %v", got.MessageID, id)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("payload = %q, want %q", got.Payload, payload)
	}
}

func TestReadFrameInvalidMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX0000000000000000")
	r := NewReader(buf, nil)
	_, err := r.ReadFrame(0, 0)
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestReadFrameShort(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(Kind(1), uuid.New(), []byte("payload")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := buf.Bytes()[:HeaderLen-2]
	r := NewReader(bytes.NewReader(truncated), nil)
	_, err := r.ReadFrame(0, 0)
	if !errors.Is(err, ErrShort) {
		t.Fatalf("err = %v, want ErrShort", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(1)
	id := uuid.New()
	buf.Write(id[:])
	// Length field claims far more than MaxPayload.
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	r := NewReader(&buf, nil)
	_, err := r.ReadFrame(0, 0)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestMultipleFramesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	id1, id2 := uuid.New(), uuid.New()
	if err := w.WriteFrame(Kind(1), id1, []byte("first")); err != nil {
		t.Fatalf("WriteFrame 1: %v", err)
	}
	if err := w.WriteFrame(Kind(2), id2, []byte("second")); err != nil {
		t.Fatalf("WriteFrame 2: %v", err)
	}

	r := NewReader(&buf, nil)
	first, err := r.ReadFrame(0, 0)
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	second, err := r.ReadFrame(0, 0)
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	if string(first.Payload) != "first" || string(second.Payload) != "second" {
		t.Fatalf("frames interleaved: got %q then %q", first.Payload, second.Payload)
	}
}
