// Package frame implements the length-delimited, magic-prefixed binary
// frame used by the Nexus BBS, transfer, and WebSocket-carried protocols.
//
// Frame layout, all fields big-endian: magic (4 bytes) | kind (1 byte) |
// message id (16 bytes) | length (4 bytes) | payload (length bytes).
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Magic is the fixed 4-byte prefix every frame begins with.
var Magic = [4]byte{'N', 'X', 'U', 'S'}

// Kind tags the payload variant carried by a frame.
type Kind uint8

// Header sizes.
const (
	magicLen  = 4
	kindLen   = 1
	idLen     = 16
	lengthLen = 4
	HeaderLen = magicLen + kindLen + idLen + lengthLen
)

// MaxPayload bounds a single frame's payload to guard against a hostile
// length field forcing an unbounded allocation.
const MaxPayload = 64 * 1024 * 1024

// Well-known failure modes. Callers inspect these with errors.Is.
var (
	ErrInvalidMagic = errors.New("frame: invalid magic")
	ErrIdleTimeout  = errors.New("frame: idle timeout")
	ErrFrameTimeout = errors.New("frame: frame timeout")
	ErrShort        = errors.New("frame: short frame")
	ErrTooLarge     = errors.New("frame: payload exceeds maximum size")
)

// Frame is one decoded wire unit.
type Frame struct {
	Kind      Kind
	MessageID uuid.UUID
	Payload   []byte
}

// deadlineConn is the minimal subset of net.Conn a Reader/Writer needs to
// enforce per-frame and idle deadlines.
type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

// Reader decodes frames from a byte stream, applying the dual idle/frame
// timeout discipline from the protocol's read contract.
type Reader struct {
	br     *bufio.Reader
	conn   deadlineConn // nil when the underlying stream has no deadlines (e.g. in tests)
	authed bool         // once true, only the frame timeout applies
}

// NewReader wraps r. conn may be nil if the caller does not need deadline
// enforcement (e.g. an in-memory test harness).
func NewReader(r io.Reader, conn deadlineConn) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 32*1024), conn: conn}
}

// MarkAuthenticated disables the idle timeout for subsequent reads; only
// the frame timeout remains in effect, per §4.1's read contract.
func (fr *Reader) MarkAuthenticated() {
	fr.authed = true
}

// ReadFrame reads exactly one frame, enforcing idle/frame deadlines.
// idleTimeout is ignored once MarkAuthenticated has been called.
func (fr *Reader) ReadFrame(idleTimeout, frameTimeout time.Duration) (Frame, error) {
	if fr.conn != nil && !fr.authed && idleTimeout > 0 {
		if err := fr.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return Frame{}, fmt.Errorf("frame: set idle deadline: %w", err)
		}
	}

	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(fr.br, hdr[:magicLen]); err != nil {
		return Frame{}, classifyReadErr(err, fr.authed)
	}

	// First byte of the frame has arrived: switch to the frame deadline.
	if fr.conn != nil && frameTimeout > 0 {
		if err := fr.conn.SetReadDeadline(time.Now().Add(frameTimeout)); err != nil {
			return Frame{}, fmt.Errorf("frame: set frame deadline: %w", err)
		}
	}

	if hdr[0] != Magic[0] || hdr[1] != Magic[1] || hdr[2] != Magic[2] || hdr[3] != Magic[3] {
		return Frame{}, ErrInvalidMagic
	}

	if _, err := io.ReadFull(fr.br, hdr[magicLen:]); err != nil {
		return Frame{}, classifyReadErr(err, true)
	}

	kind := Kind(hdr[magicLen])
	var id uuid.UUID
	copy(id[:], hdr[magicLen+kindLen:magicLen+kindLen+idLen])
	length := binary.BigEndian.Uint32(hdr[magicLen+kindLen+idLen:])

	if length > MaxPayload {
		return Frame{}, ErrTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.br, payload); err != nil {
			return Frame{}, classifyReadErr(err, true)
		}
	}

	return Frame{Kind: kind, MessageID: id, Payload: payload}, nil
}

func classifyReadErr(err error, pastFirstByte bool) error {
	if errors.Is(err, io.EOF) && !pastFirstByte {
		return io.EOF
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		if pastFirstByte {
			return ErrFrameTimeout
		}
		return ErrIdleTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShort
	}
	return err
}

// Writer encodes frames atomically: a single Write call's worth of bytes
// is handed to the underlying writer so two concurrent frame writes can
// never interleave at the byte level. Callers serialize WriteFrame calls
// (typically via a single per-session mailbox-draining goroutine).
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame serializes and writes one frame in a single underlying Write.
func (fw *Writer) WriteFrame(kind Kind, id uuid.UUID, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	copy(buf[0:magicLen], Magic[:])
	buf[magicLen] = byte(kind)
	copy(buf[magicLen+kindLen:magicLen+kindLen+idLen], id[:])
	binary.BigEndian.PutUint32(buf[magicLen+kindLen+idLen:HeaderLen], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)

	_, err := fw.w.Write(buf)
	return err
}
