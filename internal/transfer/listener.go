package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"nexus/server/internal/contracker"
	"nexus/server/internal/frame"
	"nexus/server/internal/handlers"
	"nexus/server/internal/pathresolve"
	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/validate"
)

// preAuthIdleTimeout and frameTimeout mirror the main BBS listener's
// read discipline; the transfer connection gets its own identification
// exchange but the same idle/frame timeout budget.
const (
	preAuthIdleTimeout = 30 * time.Second
	frameTimeout       = 60 * time.Second
	fileChunkSize      = 256 * 1024
)

// clientIdentity is what the transfer connection needs about the
// authenticated account: just enough to run the permission and area-
// root checks, with none of the presence/mailbox machinery a BBS
// session carries.
type clientIdentity struct {
	Username    string
	IsAdmin     bool
	Permissions permission.Set
}

// Listener runs the bulk transfer-connection protocol: its own TLS-
// terminated TCP listener, separate from the BBS connection, carrying
// the Download/Upload byte stream rather than the request/response
// protocol internal/dispatch answers.
//
// A transfer connection has no prior session to attach to (the BBS
// and transfer ports are dialed independently), and spec.md's transfer
// section describes the connection beginning directly with a single
// FileDownload/FileUpload frame without saying how the server learns
// whose account is asking. Rather than invent a new, ungrounded wire
// message, this reuses the existing Login request/response purely for
// credential verification (Store.Authenticate) - it does not touch
// the session registry, since a transfer connection has no presence,
// nickname, or mailbox of its own.
type Listener struct {
	addr      string
	tlsConfig *tls.Config
	ctx       *handlers.Context
	tracker   *contracker.Tracker
}

// NewListener builds a transfer Listener sharing ctx and tracker with
// the main BBS server.
func NewListener(addr string, tlsConfig *tls.Config, ctx *handlers.Context, tracker *contracker.Tracker) *Listener {
	return &Listener{addr: addr, tlsConfig: tlsConfig, ctx: ctx, tracker: tracker}
}

// Serve listens on l.addr until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := tls.Listen("tcp", l.addr, l.tlsConfig)
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
			slog.Warn("transfer: accept failed", "error", err)
			continue
		}
		go l.handleConn(conn)
	}
}

func transferAddr(conn net.Conn) (netip.Addr, bool) {
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

func authenticate(ctx *handlers.Context, req *protocol.Login) (clientIdentity, string) {
	if err := validate.Username(req.Username); err != nil {
		return clientIdentity{}, "invalid_credentials"
	}
	if err := validate.Password(req.Password); err != nil {
		return clientIdentity{}, "invalid_credentials"
	}
	rec, ok, err := ctx.Store.Authenticate(req.Username, req.Password)
	if err != nil {
		return clientIdentity{}, "storage_error"
	}
	if !ok {
		return clientIdentity{}, "invalid_credentials"
	}
	perms := permission.NewSet(rec.Permissions)
	if rec.IsShared {
		perms = perms.RestrictToShared()
	}
	return clientIdentity{Username: rec.Username, IsAdmin: rec.IsAdmin, Permissions: perms}, ""
}

func writeReply(fw *frame.Writer, kind protocol.Kind, msgID uuid.UUID, payload any) bool {
	buf, err := protocol.Encode(payload)
	if err != nil {
		return false
	}
	return fw.WriteFrame(frame.Kind(kind), msgID, buf) == nil
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	addr, ok := transferAddr(conn)
	if !ok {
		return
	}
	if !l.ctx.Bans.Allow(addr) {
		return
	}
	guard := l.tracker.TryAcquireTransfer(addr)
	if guard == nil {
		return
	}
	defer guard.Release()

	fr := frame.NewReader(conn, conn)
	fw := frame.NewWriter(conn)

	loginFrame, err := fr.ReadFrame(preAuthIdleTimeout, frameTimeout)
	if err != nil || loginFrame.Kind != frame.Kind(protocol.KindLogin) {
		return
	}
	loginPayload, err := protocol.DecodeKind(protocol.KindLogin, loginFrame.Payload)
	if err != nil {
		return
	}
	ident, errCode := authenticate(l.ctx, loginPayload.(*protocol.Login))
	resp := &protocol.LoginResponse{Success: errCode == "", Error: errCode, Permissions: ident.Permissions.Strings(), IsAdmin: ident.IsAdmin}
	if !writeReply(fw, protocol.KindLoginResponse, loginFrame.MessageID, resp) || errCode != "" {
		return
	}
	fr.MarkAuthenticated()

	var reqFrame frame.Frame
	for {
		f, err := fr.ReadFrame(0, frameTimeout)
		if err != nil {
			return
		}
		if protocol.Kind(f.Kind) == protocol.KindFileHashingClient {
			continue // client is hashing a pending upload locally; keepalive only
		}
		reqFrame = f
		break
	}

	kind := protocol.Kind(reqFrame.Kind)
	payload, err := protocol.DecodeKind(kind, reqFrame.Payload)
	if err != nil {
		return
	}

	switch kind {
	case protocol.KindFileDownload:
		l.serveDownload(fr, fw, addr, ident, reqFrame.MessageID, payload.(*protocol.FileDownload))
	case protocol.KindFileUpload:
		l.serveUpload(fr, fw, ident, reqFrame.MessageID, payload.(*protocol.FileUpload))
	}
}

// resolveAreaBase is the transfer-connection analogue of fileops.go's
// areaBase, operating on an authenticated identity rather than a live
// session.
func resolveAreaBase(fileAreaRoot string, ident clientIdentity, root bool) (string, error) {
	if root {
		if !ident.Permissions.Has(permission.FileRoot) {
			return "", errPermissionDenied
		}
		return fileAreaRoot, nil
	}
	base := filepath.Join(fileAreaRoot, "users", ident.Username)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return base, nil
}

func (l *Listener) serveDownload(fr *frame.Reader, fw *frame.Writer, addr netip.Addr, ident clientIdentity, msgID uuid.UUID, req *protocol.FileDownload) {
	if !ident.Permissions.Has(permission.FileDownload) {
		writeReply(fw, protocol.KindFileDownloadResponse, msgID, &protocol.FileDownloadResponse{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	base, err := resolveAreaBase(l.ctx.FileAreaRoot, ident, req.Root)
	if err != nil {
		writeReply(fw, protocol.KindFileDownloadResponse, msgID, &protocol.FileDownloadResponse{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	resolved, err := pathresolve.ResolvePath(base, req.Path)
	if err != nil {
		writeReply(fw, protocol.KindFileDownloadResponse, msgID, &protocol.FileDownloadResponse{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	if !pathresolve.CanAccessForDownload(base, resolved, ident.Username, ident.IsAdmin) {
		writeReply(fw, protocol.KindFileDownloadResponse, msgID, &protocol.FileDownloadResponse{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	plan, err := PlanDownload(base, resolved, ident.Username, ident.IsAdmin)
	if err != nil {
		writeReply(fw, protocol.KindFileDownloadResponse, msgID, &protocol.FileDownloadResponse{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	if !writeReply(fw, protocol.KindFileDownloadResponse, msgID, &protocol.FileDownloadResponse{
		Success:    true,
		Size:       plan.TotalSize,
		FileCount:  uint64(len(plan.Files)),
		TransferID: plan.TransferID,
	}) {
		return
	}

	for _, file := range plan.Files {
		if !l.ctx.Bans.Allow(addr) {
			return // banned mid-transfer: close without ceremony
		}
		if err := l.streamFile(fr, fw, file); err != nil {
			writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: "io_error", ErrorKind: "storage_error"})
			return
		}
	}
	writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Success: true})
}

// streamFile runs the hash-then-resume-then-stream sequence for one
// file of a download: hash it (emitting FileHashingServer keepalives
// on a slow hash), announce it via FileStart, let the client report
// what it already has, re-announce the negotiated offset, then stream
// FileData frames from that offset to EOF.
func (l *Listener) streamFile(fr *frame.Reader, fw *frame.Writer, file FileInfo) error {
	sha, err := Hash(file.AbsolutePath, 0, func() {
		writeReply(fw, protocol.KindFileHashingServer, uuid.Nil, &protocol.FileHashingServer{Name: file.RelativePath})
	}, nil)
	if err != nil {
		return err
	}

	if !writeReply(fw, protocol.KindFileStart, uuid.Nil, &protocol.FileStart{Path: file.RelativePath, Size: file.Size, Sha256: sha}) {
		return io.ErrClosedPipe
	}

	startRespFrame, err := fr.ReadFrame(0, frameTimeout)
	if err != nil || protocol.Kind(startRespFrame.Kind) != protocol.KindFileStartResponse {
		return errors.New("transfer: expected FileStartResponse")
	}
	startRespPayload, err := protocol.DecodeKind(protocol.KindFileStartResponse, startRespFrame.Payload)
	if err != nil {
		return err
	}
	startResp := startRespPayload.(*protocol.FileStartResponse)

	offset, err := ResumeOffset(startResp.SizeLocal, startResp.Sha256Local, file.Size, sha, func(n uint64) (string, error) {
		return Hash(file.AbsolutePath, n, nil, nil)
	})
	if err != nil {
		return err
	}

	if !writeReply(fw, protocol.KindFileStart, uuid.Nil, &protocol.FileStart{Path: file.RelativePath, Size: file.Size, Sha256: sha, Offset: offset}) {
		return io.ErrClosedPipe
	}
	if offset >= file.Size {
		return nil // client's copy is already complete
	}

	f, err := os.Open(file.AbsolutePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if offset > 0 {
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
			return err
		}
	}

	buf := make([]byte, fileChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if !writeReply(fw, protocol.KindFileData, uuid.Nil, &protocol.FileData{Data: chunk}) {
				return io.ErrClosedPipe
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// serveUpload receives a file onto a temporary .part path, verifying
// its SHA-256 against the client's claim before the atomic rename into
// place. Uploads always start from offset zero: unlike a download,
// where the server can hash its own authoritative copy to validate a
// resume, a partial upload's only available checksum is the target
// file's *final* hash, which cannot validate a prefix, so a safe
// resume can't be offered here.
func (l *Listener) serveUpload(fr *frame.Reader, fw *frame.Writer, ident clientIdentity, msgID uuid.UUID, req *protocol.FileUpload) {
	base, err := resolveAreaBase(l.ctx.FileAreaRoot, ident, req.Root)
	if err != nil {
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	target, err := pathresolve.ResolveNewPath(base, req.Path)
	if err != nil {
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	if !pathresolve.AllowsUpload(base, target) {
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}

	partPath := target + ".part"
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: "storage_error", ErrorKind: "storage_error"})
		return
	}
	cleanFail := func(code string) {
		out.Close()
		os.Remove(partPath)
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: code, ErrorKind: code})
	}

	if !writeReply(fw, protocol.KindFileStart, uuid.Nil, &protocol.FileStart{Path: req.Path, Size: req.Size, Sha256: req.Sha256}) {
		out.Close()
		os.Remove(partPath)
		return
	}

	var received uint64
	for received < req.Size {
		f, err := fr.ReadFrame(0, frameTimeout)
		if err != nil {
			cleanFail("io_error")
			return
		}
		if protocol.Kind(f.Kind) != protocol.KindFileData {
			cleanFail("decode_error")
			return
		}
		payload, err := protocol.DecodeKind(protocol.KindFileData, f.Payload)
		if err != nil {
			cleanFail("decode_error")
			return
		}
		data := payload.(*protocol.FileData).Data
		if _, err := out.Write(data); err != nil {
			cleanFail("storage_error")
			return
		}
		received += uint64(len(data))
	}
	if err := out.Close(); err != nil {
		os.Remove(partPath)
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: "storage_error", ErrorKind: "storage_error"})
		return
	}

	sum, err := Hash(partPath, 0, nil, nil)
	if err != nil || sum != req.Sha256 {
		os.Remove(partPath)
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: "hash_mismatch", ErrorKind: "hash_mismatch"})
		return
	}
	if err := os.Rename(partPath, target); err != nil {
		os.Remove(partPath)
		writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Error: "storage_error", ErrorKind: "storage_error"})
		return
	}
	writeReply(fw, protocol.KindTransferComplete, msgID, &protocol.TransferComplete{Success: true})
}
