package main

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nexus/server/internal/contracker"
	"nexus/server/internal/dispatch"
	"nexus/server/internal/frame"
	"nexus/server/internal/handlers"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/transfer"
)

// preAuthIdleTimeout bounds how long a connection may sit without
// completing handshake+login before it is dropped.
const preAuthIdleTimeout = 30 * time.Second

// frameTimeout bounds how long a single in-flight frame's bytes may
// take to arrive once its first byte is seen, authenticated or not.
const frameTimeout = 60 * time.Second

// wsMaxMessageBytes caps a single WebSocket-carried frame message,
// matching the raw-TCP carrier's documented ceiling for that path.
const wsMaxMessageBytes = 1 << 20

// frameConn is what handleConn needs from a transport: the raw TCP
// listener's *net.TCPConn (wrapped in TLS) satisfies it directly; the
// optional WebSocket carrier satisfies it via wsStream below.
type frameConn interface {
	io.Reader
	io.Writer
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	Close() error
}

// Server is the main BBS listener: one TLS-terminated connection per
// client, running the length-delimited frame protocol from
// internal/frame. It generalizes the teacher's single plain-HTTP
// signaling server into a raw frame listener (TCP, and optionally
// WebSocket) carrying the custom binary BBS protocol rather than an
// HTTP upgrade's application payload.
type Server struct {
	addr      string
	tlsConfig *tls.Config
	ctx       *handlers.Context
	dispatch  *dispatch.Table
	fileops   *transfer.Table
	tracker   *contracker.Tracker
}

// NewServer builds a Server ready to Serve/ServeWS. ctx is shared with
// the transfer listener started alongside it.
func NewServer(addr string, tlsConfig *tls.Config, ctx *handlers.Context, dispatchTable *dispatch.Table, fileopsTable *transfer.Table, tracker *contracker.Tracker) *Server {
	return &Server{
		addr:      addr,
		tlsConfig: tlsConfig,
		ctx:       ctx,
		dispatch:  dispatchTable,
		fileops:   fileopsTable,
		tracker:   tracker,
	}
}

// Serve listens on s.addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.addr, s.tlsConfig)
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
			slog.Warn("bbs: accept failed", "error", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// wsStream adapts a *websocket.Conn to frameConn: the frame codec
// wants a byte stream, while gorilla/websocket is message-oriented, so
// reads drain one binary message at a time and writes send one
// message per frame.
type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func newWSStream(conn *websocket.Conn) *wsStream {
	conn.SetReadLimit(wsMaxMessageBytes)
	return &wsStream{conn: conn}
}

func (w *wsStream) Read(p []byte) (int, error) {
	for {
		if w.r == nil {
			mt, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			w.r = r
		}
		n, err := w.r.Read(p)
		if errors.Is(err, io.EOF) {
			w.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) RemoteAddr() net.Addr         { return w.conn.RemoteAddr() }
func (w *wsStream) Close() error                 { return w.conn.Close() }
func (w *wsStream) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

// ServeWS runs the optional WebSocket-carried BBS protocol on addr
// until ctx is cancelled, upgrading every request to /bbs and running
// the identical frame protocol handleConn runs for raw TCP.
func (s *Server) ServeWS(ctx context.Context, addr string) error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bbs", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("bbs-ws: upgrade failed", "error", err)
			return
		}
		go s.handleConn(newWSStream(conn))
	})

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	err := httpSrv.ListenAndServeTLS("", "")
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func addrFromConn(conn frameConn) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func (s *Server) handleConn(conn frameConn) {
	defer conn.Close()

	addr, ok := addrFromConn(conn)
	if !ok {
		return
	}
	if !s.ctx.Bans.Allow(addr) {
		return
	}
	guard := s.tracker.TryAcquire(addr)
	if guard == nil {
		return
	}
	defer guard.Release()

	fr := frame.NewReader(conn, conn)
	fw := frame.NewWriter(conn)

	hsFrame, err := fr.ReadFrame(preAuthIdleTimeout, frameTimeout)
	if err != nil || hsFrame.Kind != frame.Kind(protocol.KindHandshake) {
		return
	}
	hsPayload, err := protocol.DecodeKind(protocol.KindHandshake, hsFrame.Payload)
	if err != nil {
		return
	}
	hsResp := handlers.HandleHandshake(hsPayload.(*protocol.Handshake))
	if !writeReply(fw, protocol.KindHandshakeReply, hsFrame.MessageID, hsResp) || !hsResp.Compatible {
		return
	}

	loginFrame, err := fr.ReadFrame(preAuthIdleTimeout, frameTimeout)
	if err != nil || loginFrame.Kind != frame.Kind(protocol.KindLogin) {
		return
	}
	loginPayload, err := protocol.DecodeKind(protocol.KindLogin, loginFrame.Payload)
	if err != nil {
		return
	}
	sess, loginResp := handlers.HandleLogin(s.ctx, addr, loginPayload.(*protocol.Login))
	if !writeReply(fw, protocol.KindLoginResponse, loginFrame.MessageID, loginResp) || sess == nil {
		return
	}
	defer handlers.Disconnect(s.ctx, sess)

	fr.MarkAuthenticated()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for env := range sess.Outbox() {
			payload, err := protocol.Encode(env.Payload)
			if err != nil {
				slog.Error("bbs: encode outbound payload", "kind", env.Kind, "error", err)
				continue
			}
			if err := fw.WriteFrame(frame.Kind(env.Kind), env.MessageID, payload); err != nil {
				return
			}
		}
	}()
	defer func() { <-writerDone }()

	for {
		f, err := fr.ReadFrame(0, frameTimeout)
		if err != nil {
			return
		}
		kind := protocol.Kind(f.Kind)

		if kind == protocol.KindPing {
			sess.Send(session.Envelope{Kind: protocol.KindPong, MessageID: f.MessageID, Payload: &protocol.Pong{}})
			continue
		}

		payload, err := protocol.DecodeKind(kind, f.Payload)
		if err != nil {
			sess.Send(session.Envelope{Kind: protocol.KindError, MessageID: f.MessageID, Payload: &protocol.Error{Code: "decode_error", Message: "malformed request"}})
			continue
		}

		if s.dispatch.Dispatch(s.ctx, sess, f.MessageID, kind, payload) {
			continue
		}
		if s.fileops.Dispatch(s.ctx, sess, f.MessageID, kind, payload) {
			continue
		}
		sess.Send(session.Envelope{Kind: protocol.KindError, MessageID: f.MessageID, Payload: &protocol.Error{Code: "unknown_request", Message: "unsupported request kind"}})
	}
}

// writeReply encodes and writes a single pre-auth reply (handshake or
// login), reporting whether the write succeeded.
func writeReply(fw *frame.Writer, kind protocol.Kind, msgID uuid.UUID, payload any) bool {
	buf, err := protocol.Encode(payload)
	if err != nil {
		return false
	}
	return fw.WriteFrame(frame.Kind(kind), msgID, buf) == nil
}
