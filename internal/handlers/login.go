package handlers

import (
	"net/netip"

	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/validate"
)

// HandleHandshake answers the very first frame on a new connection,
// before any session exists. It has no mailbox to reply through (the
// connection's own frame.Writer is still the caller's responsibility),
// so it just computes the reply value.
func HandleHandshake(req *protocol.Handshake) *protocol.HandshakeReply {
	return &protocol.HandshakeReply{
		ProtocolVersion: protocol.CurrentProtocolVersion,
		Compatible:      req.ProtocolVersion == protocol.CurrentProtocolVersion,
	}
}

// HandleLogin authenticates a Login request and, on success, registers
// a new session. Like HandleHandshake it runs before a session (and
// its mailbox) exists, so it returns the response value for the caller
// to write directly to the connection rather than enqueuing it.
//
// A username or password validation failure, an unknown username, a
// wrong password, and a disabled account are all indistinguishable to the client (a generic
// "invalid credentials" error), so a credential-stuffing attempt can't
// learn which part of the guess was wrong.
func HandleLogin(ctx *Context, addr netip.Addr, req *protocol.Login) (*session.Session, *protocol.LoginResponse) {
	if err := validate.Username(req.Username); err != nil {
		return nil, &protocol.LoginResponse{Error: "invalid_credentials"}
	}
	if err := validate.Password(req.Password); err != nil {
		return nil, &protocol.LoginResponse{Error: "invalid_credentials"}
	}
	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}
	if err := validate.Nickname(nickname); err != nil {
		return nil, &protocol.LoginResponse{Error: "invalid_nickname"}
	}

	rec, ok, err := ctx.Store.Authenticate(req.Username, req.Password)
	if err != nil {
		return nil, &protocol.LoginResponse{Error: "storage_error"}
	}
	if !ok {
		return nil, &protocol.LoginResponse{Error: "invalid_credentials"}
	}

	perms := permission.NewSet(rec.Permissions)
	if rec.IsShared {
		perms = perms.RestrictToShared()
	}
	account := session.Account{
		Username:    rec.Username,
		IsAdmin:     rec.IsAdmin,
		IsShared:    rec.IsShared,
		Enabled:     rec.Enabled,
		Permissions: perms,
	}

	features := make(map[string]bool, len(req.Features))
	for _, f := range req.Features {
		features[f] = true
	}

	sess, err := ctx.Sessions.Register(account, features, req.Locale, req.Avatar, nickname, addr, ctx.now())
	if err != nil {
		switch err {
		case session.ErrNicknameInUse:
			return nil, &protocol.LoginResponse{Error: "nickname_in_use"}
		case session.ErrAccountDisabled:
			return nil, &protocol.LoginResponse{Error: "account_disabled"}
		default:
			return nil, &protocol.LoginResponse{Error: "login_failed"}
		}
	}

	return sess, &protocol.LoginResponse{
		Success:     true,
		SessionID:   sess.ID,
		Nickname:    sess.Nickname,
		Permissions: perms.Strings(),
		IsAdmin:     rec.IsAdmin,
	}
}
