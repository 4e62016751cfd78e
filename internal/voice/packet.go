// Package voice implements the UDP/DTLS voice relay: the wire packet
// format, the token-keyed session registry joined via the TCP
// VoiceJoin request, and the packet relay that forwards audio to a
// voice session's other participants.
package voice

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies a voice packet's purpose.
type MessageType uint8

const (
	VoiceData       MessageType = 0x01
	Keepalive       MessageType = 0x02
	SpeakingStarted MessageType = 0x03
	SpeakingStopped MessageType = 0x04
)

// IsValid reports whether t is one of the four recognized types.
func (t MessageType) IsValid() bool {
	switch t {
	case VoiceData, Keepalive, SpeakingStarted, SpeakingStopped:
		return true
	default:
		return false
	}
}

const (
	// HeaderSize is type(1) + token(16) + sequence(4) + timestamp(4).
	HeaderSize = 1 + 16 + 4 + 4
	// MaxPayload bounds the Opus-encoded audio payload.
	MaxPayload = 1000
	// MaxPacketSize is the largest client->server packet accepted.
	MaxPacketSize = HeaderSize + MaxPayload

	// MaxSenderLen bounds the nickname length carried in a relayed packet.
	MaxSenderLen = 64

	// KeepaliveInterval is how often a client is expected to send a
	// Keepalive packet to hold its session open.
	KeepaliveInterval = 15 * time.Second
	// SessionTimeout is how long a voice session may go without any
	// packet before it is dropped.
	SessionTimeout = 60 * time.Second
)

// Packet is one client -> server voice packet.
type Packet struct {
	Type      MessageType
	Token     uuid.UUID
	Sequence  uint32
	Timestamp uint32
	Payload   []byte
}

// Bytes serializes the packet to its wire form.
func (p Packet) Bytes() []byte {
	out := make([]byte, HeaderSize+len(p.Payload))
	out[0] = byte(p.Type)
	copy(out[1:17], p.Token[:])
	binary.BigEndian.PutUint32(out[17:21], p.Sequence)
	binary.BigEndian.PutUint32(out[21:25], p.Timestamp)
	copy(out[HeaderSize:], p.Payload)
	return out
}

// ParsePacket decodes a client packet, returning false if it is
// malformed, undersized, oversized, or carries an unrecognized type.
func ParsePacket(data []byte) (Packet, bool) {
	if len(data) < HeaderSize || len(data) > MaxPacketSize {
		return Packet{}, false
	}
	msgType := MessageType(data[0])
	if !msgType.IsValid() {
		return Packet{}, false
	}
	var token uuid.UUID
	copy(token[:], data[1:17])

	return Packet{
		Type:      msgType,
		Token:     token,
		Sequence:  binary.BigEndian.Uint32(data[17:21]),
		Timestamp: binary.BigEndian.Uint32(data[21:25]),
		Payload:   append([]byte(nil), data[HeaderSize:]...),
	}, true
}

// RelayedPacket is the server -> client form: the token is stripped
// and the sender's nickname is attached so recipients know who is
// speaking.
type RelayedPacket struct {
	Type      MessageType
	Sender    string
	Sequence  uint32
	Timestamp uint32
	Payload   []byte
}

// FromPacket builds the relayed form of p, attributed to sender.
func FromPacket(p Packet, sender string) RelayedPacket {
	return RelayedPacket{
		Type:      p.Type,
		Sender:    sender,
		Sequence:  p.Sequence,
		Timestamp: p.Timestamp,
		Payload:   p.Payload,
	}
}

// Bytes serializes the relayed packet to its wire form: type(1) |
// sender_len(1) | sender(var, <=MaxSenderLen bytes) | sequence(4) |
// timestamp(4) | payload(var).
func (r RelayedPacket) Bytes() []byte {
	senderBytes := []byte(r.Sender)
	if len(senderBytes) > MaxSenderLen {
		senderBytes = senderBytes[:MaxSenderLen]
	}

	out := make([]byte, 2+len(senderBytes)+8+len(r.Payload))
	out[0] = byte(r.Type)
	out[1] = byte(len(senderBytes))
	offset := 2
	offset += copy(out[offset:], senderBytes)
	binary.BigEndian.PutUint32(out[offset:offset+4], r.Sequence)
	binary.BigEndian.PutUint32(out[offset+4:offset+8], r.Timestamp)
	copy(out[offset+8:], r.Payload)
	return out
}

// ParseRelayedPacket decodes a server->client relayed packet.
func ParseRelayedPacket(data []byte) (RelayedPacket, bool) {
	if len(data) < 2 {
		return RelayedPacket{}, false
	}
	msgType := MessageType(data[0])
	if !msgType.IsValid() {
		return RelayedPacket{}, false
	}
	senderLen := int(data[1])
	minLen := 2 + senderLen + 8
	if len(data) < minLen {
		return RelayedPacket{}, false
	}
	sender := string(data[2 : 2+senderLen])
	offset := 2 + senderLen

	return RelayedPacket{
		Type:      msgType,
		Sender:    sender,
		Sequence:  binary.BigEndian.Uint32(data[offset : offset+4]),
		Timestamp: binary.BigEndian.Uint32(data[offset+4 : offset+8]),
		Payload:   append([]byte(nil), data[offset+8:]...),
	}, true
}
