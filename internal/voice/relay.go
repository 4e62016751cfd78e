package voice

import (
	"net/netip"

	"github.com/google/uuid"
)

// Sender is the minimal contract the relay needs over a live
// DTLS connection: write one datagram.
type Sender interface {
	Send(data []byte) error
}

// PermissionChecker reports whether sessionID currently holds the
// voice_talk permission, and whether the session is still live at
// all (ok=false means the session disconnected and the packet should
// be dropped).
type PermissionChecker func(sessionID uint32) (allowed, ok bool)

// Relay authenticates and forwards voice packets between the
// participants of a voice session, looking up live DTLS senders by
// UDP address.
type Relay struct {
	registry *Registry
	senders  map[netip.AddrPort]Sender
}

// NewRelay creates a relay bound to registry. Senders are registered
// and removed by the DTLS accept loop as connections come and go.
func NewRelay(registry *Registry) *Relay {
	return &Relay{
		registry: registry,
		senders:  make(map[netip.AddrPort]Sender),
	}
}

// RegisterSender associates addr with the live DTLS connection used
// to write to it.
func (r *Relay) RegisterSender(addr netip.AddrPort, sender Sender) {
	r.senders[addr] = sender
}

// RemoveSender forgets addr's connection (called when it disconnects
// or times out).
func (r *Relay) RemoveSender(addr netip.AddrPort) {
	delete(r.senders, addr)
}

// ClientState is the per-DTLS-connection bookkeeping the accept loop
// hands back into HandlePacket on each datagram: the token and
// nickname discovered on the connection's first valid packet.
type ClientState struct {
	Token    uuid.UUID
	HasToken bool
	Nickname string
}

// HandleResult tells the caller what, if anything, changed about the
// connection's authenticated state after processing one packet.
type HandleResult struct {
	Accepted     bool
	NewlyBoundTo *Session // non-nil the first time a connection's token is validated
}

// HandlePacket parses data as a voice packet, validates/binds its
// token against state on first use, enforces per-packet voice_talk
// permission for audio/speaking-indicator packets, and relays the
// packet to every other participant of the same voice session.
// Keepalive packets are accepted but never relayed. Malformed
// packets, unknown tokens, and token-switch attempts are dropped
// silently, matching the original's ban-on-suspicion-free design
// (an invalid voice packet is not itself evidence of abuse).
func (r *Relay) HandlePacket(state *ClientState, fromAddr netip.AddrPort, data []byte, checkPermission PermissionChecker) HandleResult {
	packet, ok := ParsePacket(data)
	if !ok {
		return HandleResult{}
	}

	var sess *Session
	var result HandleResult

	if state.HasToken {
		// Already bound: look up by the token recorded on the first
		// packet, not the one just received, so a later packet
		// claiming a different token fails the match below instead
		// of silently rebinding the connection.
		sess, ok = r.registry.GetByToken(state.Token)
		if !ok {
			return HandleResult{}
		}
	} else {
		sess, ok = r.registry.GetByToken(packet.Token)
		if !ok {
			return HandleResult{}
		}
		state.Token = packet.Token
		state.HasToken = true
		state.Nickname = sess.Nickname
		r.registry.SetUDPAddr(packet.Token, fromAddr)
		result.NewlyBoundTo = sess
	}

	if packet.Token != state.Token {
		return HandleResult{}
	}

	result.Accepted = true

	if packet.Type == Keepalive {
		return result
	}

	allowed, live := checkPermission(sess.SessionID)
	if !live || !allowed {
		return result
	}

	r.relay(packet, sess)
	return result
}

func (r *Relay) relay(packet Packet, sess *Session) {
	relayed := FromPacket(packet, sess.Nickname)
	wire := relayed.Bytes()

	for _, peer := range r.registry.GetSessionsForTarget(sess.TargetKey) {
		if peer.Nickname == sess.Nickname {
			continue
		}
		if !peer.hasAddr {
			continue
		}
		sender, ok := r.senders[peer.UDPAddr]
		if !ok {
			continue
		}
		_ = sender.Send(wire)
	}
}
