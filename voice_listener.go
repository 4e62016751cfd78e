package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/pion/dtls/v2"

	"nexus/server/internal/permission"
	"nexus/server/internal/session"
	"nexus/server/internal/voice"
)

// voicePacketTimeout bounds how long a DTLS association may sit idle
// before its read blocks are abandoned; the real keepalive/timeout
// contract is voice.KeepaliveInterval/voice.SessionTimeout, this is
// just generous enough headroom that Read doesn't block forever on an
// association nobody is using anymore.
const voicePacketTimeout = voice.SessionTimeout + 5*time.Second

// dtlsSender adapts a *dtls.Conn to voice.Sender.
type dtlsSender struct {
	conn net.Conn
}

func (s dtlsSender) Send(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

// VoiceListener is the DTLS-terminated UDP accept loop for the voice
// relay: one association per client, multiplexed by pion/dtls/v2 over
// a single UDP socket the same way server.go's tls.Listen multiplexes
// TCP connections over one listening socket.
type VoiceListener struct {
	addr      string
	tlsConfig *tls.Config
	relay     *voice.Relay
	registry  *voice.Registry
	sessions  *session.Registry
}

// NewVoiceListener builds a VoiceListener sharing the BBS TLS
// certificate (DTLS reuses the same certificate/key material as the
// TCP control connection) and the relay/registry built alongside the
// rest of the server's shared state.
func NewVoiceListener(addr string, tlsConfig *tls.Config, relay *voice.Relay, registry *voice.Registry, sessions *session.Registry) *VoiceListener {
	return &VoiceListener{addr: addr, tlsConfig: tlsConfig, relay: relay, registry: registry, sessions: sessions}
}

// Serve listens for DTLS associations on v.addr until ctx is
// cancelled, spawning one goroutine per association exactly as
// server.go's Serve spawns one goroutine per TCP connection.
func (v *VoiceListener) Serve(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", v.addr)
	if err != nil {
		return err
	}

	dtlsConfig := &dtls.Config{
		Certificates:         v.tlsConfig.Certificates,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}

	ln, err := dtls.Listen("udp", udpAddr, dtlsConfig)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("voice: accept failed", "error", err)
			continue
		}
		go v.handleConn(conn)
	}
}

func (v *VoiceListener) handleConn(conn net.Conn) {
	defer conn.Close()

	remoteAddrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return
	}
	remoteAddrPort = netip.AddrPortFrom(remoteAddrPort.Addr().Unmap(), remoteAddrPort.Port())

	// A DTLS association from an address with no pending VoiceJoin
	// (registered over the TCP control connection) is not a voice
	// client at all; drop it without reading a single packet.
	if !v.registry.HasSessionForIP(remoteAddrPort.Addr()) {
		return
	}

	sender := dtlsSender{conn: conn}
	state := &voice.ClientState{}
	buf := make([]byte, voice.MaxPacketSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(voicePacketTimeout)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			if state.HasToken {
				v.relay.RemoveSender(remoteAddrPort)
			}
			return
		}

		result := v.relay.HandlePacket(state, remoteAddrPort, buf[:n], v.checkPermission)
		if result.NewlyBoundTo != nil {
			v.relay.RegisterSender(remoteAddrPort, sender)
		}
	}
}

// checkPermission reports whether the BBS session backing a voice
// packet may still speak: the live session must exist and hold
// voice_talk, mirroring session.Session.HasPermission's
// admin-implies-all rule.
func (v *VoiceListener) checkPermission(sessionID uint32) (allowed, ok bool) {
	sess, found := v.sessions.GetBySessionID(sessionID)
	if !found {
		return false, false
	}
	return sess.HasPermission(permission.VoiceTalk), true
}
