package voice

import (
	"testing"

	"github.com/google/uuid"
)

func TestPacketRoundTrip(t *testing.T) {
	token := uuid.New()
	p := Packet{Type: VoiceData, Token: token, Sequence: 42, Timestamp: 12345, Payload: []byte{1, 2, 3, 4, 5}}

	decoded, ok := ParsePacket(p.Bytes())
	if !ok {
		t.Fatal("ParsePacket failed")
	}
	if decoded.Type != VoiceData || decoded.Token != token || decoded.Sequence != 42 || decoded.Timestamp != 12345 {
		t.Errorf("decoded = %+v", decoded)
	}
	if string(decoded.Payload) != string(p.Payload) {
		t.Errorf("payload = %v, want %v", decoded.Payload, p.Payload)
	}
}

func TestPacketKeepaliveHasNoPayload(t *testing.T) {
	p := Packet{Type: Keepalive, Token: uuid.New(), Sequence: 1}
	decoded, ok := ParsePacket(p.Bytes())
	if !ok || decoded.Type != Keepalive || len(decoded.Payload) != 0 {
		t.Errorf("decoded = %+v, ok=%v", decoded, ok)
	}
}

func TestPacketTooShort(t *testing.T) {
	if _, ok := ParsePacket(make([]byte, HeaderSize-1)); ok {
		t.Error("expected failure for undersized packet")
	}
}

func TestPacketTooLong(t *testing.T) {
	if _, ok := ParsePacket(make([]byte, MaxPacketSize+1)); ok {
		t.Error("expected failure for oversized packet")
	}
}

func TestPacketInvalidType(t *testing.T) {
	data := make([]byte, HeaderSize)
	data[0] = 0xFF
	if _, ok := ParsePacket(data); ok {
		t.Error("expected failure for invalid type byte")
	}
}

func TestMessageTypeValidity(t *testing.T) {
	for b := 0x01; b <= 0x04; b++ {
		if !MessageType(b).IsValid() {
			t.Errorf("%#x should be valid", b)
		}
	}
	if MessageType(0x00).IsValid() || MessageType(0x05).IsValid() {
		t.Error("0x00 and 0x05 should be invalid")
	}
}

func TestRelayedPacketRoundTrip(t *testing.T) {
	r := RelayedPacket{Type: VoiceData, Sender: "alice", Sequence: 123, Timestamp: 48000, Payload: []byte{10, 20, 30}}
	decoded, ok := ParseRelayedPacket(r.Bytes())
	if !ok {
		t.Fatal("ParseRelayedPacket failed")
	}
	if decoded.Sender != "alice" || decoded.Sequence != 123 || decoded.Timestamp != 48000 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestRelayedPacketUnicodeSender(t *testing.T) {
	r := RelayedPacket{Type: VoiceData, Sender: "用户名", Sequence: 1}
	decoded, ok := ParseRelayedPacket(r.Bytes())
	if !ok || decoded.Sender != "用户名" {
		t.Errorf("decoded sender = %q, ok=%v", decoded.Sender, ok)
	}
}

func TestRelayedPacketTruncatesLongSender(t *testing.T) {
	long := make([]byte, MaxSenderLen+20)
	for i := range long {
		long[i] = 'a'
	}
	r := RelayedPacket{Type: VoiceData, Sender: string(long)}
	decoded, ok := ParseRelayedPacket(r.Bytes())
	if !ok || len(decoded.Sender) != MaxSenderLen {
		t.Errorf("sender length = %d, want %d", len(decoded.Sender), MaxSenderLen)
	}
}

func TestRelayedPacketEmptyTooShort(t *testing.T) {
	if _, ok := ParseRelayedPacket(nil); ok {
		t.Error("expected failure for empty input")
	}
	if _, ok := ParseRelayedPacket([]byte{0x01}); ok {
		t.Error("expected failure for type-only input")
	}
}

func TestFromPacketCopiesFields(t *testing.T) {
	token := uuid.New()
	p := Packet{Type: SpeakingStarted, Token: token, Sequence: 10, Timestamp: 20, Payload: []byte{1, 2, 3}}
	r := FromPacket(p, "sender")
	if r.Sender != "sender" || r.Sequence != 10 || r.Timestamp != 20 || string(r.Payload) != "\x01\x02\x03" {
		t.Errorf("relayed = %+v", r)
	}
}

func TestHeaderSizeConstant(t *testing.T) {
	if HeaderSize != 25 {
		t.Errorf("HeaderSize = %d, want 25", HeaderSize)
	}
}
