package handlers

import (
	"github.com/google/uuid"

	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/validate"
)

// HandleUserList answers UserList(all) with every online session. Each
// entry has the same UserSummary shape whether or not all is requested
// and whether or not the caller is an admin; summarize does not use the
// detailed flag, and a non-admin asking for all gets no error.
func HandleUserList(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.UserList) {
	if !sess.HasPermission(permission.UserList) {
		reply(ctx, sess, protocol.KindUserListResponse, msgID, &protocol.UserListResponse{})
		return
	}

	detailed := req.All && sess.Account.IsAdmin
	var out []protocol.UserSummary
	ctx.forEachSession(func(peer *session.Session) {
		out = append(out, summarize(ctx, peer, detailed))
	})
	reply(ctx, sess, protocol.KindUserListResponse, msgID, &protocol.UserListResponse{Users: out})
}

func summarize(ctx *Context, peer *session.Session, _ bool) protocol.UserSummary {
	status := peer.Status.Load()
	idle := status != nil && *status != ""
	return protocol.UserSummary{
		Nickname: peer.Nickname,
		Username: peer.Account.Username,
		Channels: ctx.Channels.ChannelsForSession(peer.ID),
		IsAdmin:  peer.Account.IsAdmin,
		Idle:     idle,
	}
}

// HandleUserInfo answers UserInfo(nickname). Address is only populated
// when the requester holds user_info and is an admin, matching the
// spec's "permission flags the requester is authorized to see".
func HandleUserInfo(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.UserInfo) {
	peer, ok := ctx.Sessions.GetByNickname(req.Nickname)
	if !ok {
		reply(ctx, sess, protocol.KindUserInfoResponse, msgID, &protocol.UserInfoResponse{Error: "not_found"})
		return
	}
	if !sess.HasPermission(permission.UserInfo) {
		reply(ctx, sess, protocol.KindUserInfoResponse, msgID, &protocol.UserInfoResponse{Error: "permission_denied"})
		return
	}

	resp := &protocol.UserInfoResponse{
		Success: true,
		Summary: summarize(ctx, peer, false),
		LoginAt: peer.LoginAt,
	}
	if sess.Account.IsAdmin {
		resp.Address = peer.Addr.String()
	}
	reply(ctx, sess, protocol.KindUserInfoResponse, msgID, resp)
}

// HandleUserKick processes UserKick: never permitted against self or
// any admin; a nickname target hits only that session, a username
// target hits every live session of that account.
func HandleUserKick(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.UserKick) {
	if !sess.HasPermission(permission.UserKick) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}

	targets := resolveTargets(ctx, req.Target, req.TargetKind)
	if len(targets) == 0 {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}
	for _, peer := range targets {
		if peer.ID == sess.ID || peer.Account.IsAdmin {
			reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "cannot_kick"})
			return
		}
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})

	for _, peer := range targets {
		event(ctx, peer, protocol.KindError, &protocol.Error{Code: "kicked", Message: "kicked by " + sess.Nickname})
		ctx.Sessions.RemoveAndBroadcast(peer.ID, func(removed *session.Session) {
			LeaveAllChannels(ctx, removed)
			broadcastUserDisconnected(ctx, removed, "kicked")
		})
	}
}

func broadcastUserDisconnected(ctx *Context, removed *session.Session, reason string) {
	ctx.forEachSession(func(peer *session.Session) {
		if !peer.HasPermission(permission.UserList) {
			return
		}
		event(ctx, peer, protocol.KindUserDisconnected, &protocol.UserDisconnected{Nickname: removed.Nickname, Reason: reason})
	})
}

// resolveTargets maps a UserKick/BanAdd/TrustAdd target + kind to the
// live sessions it names: a nickname names one shared-account session,
// a username names every live session of that account.
func resolveTargets(ctx *Context, target string, kind protocol.TargetKind) []*session.Session {
	switch kind {
	case protocol.TargetNickname:
		if peer, ok := ctx.Sessions.GetByNickname(target); ok {
			return []*session.Session{peer}
		}
		return nil
	case protocol.TargetUsername:
		return ctx.Sessions.SessionsByUsername(target)
	default:
		return nil
	}
}

// HandleUserBroadcast fans a ServerBroadcast out to every online
// session, regardless of feature opt-in.
func HandleUserBroadcast(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.UserBroadcast) {
	if !sess.HasPermission(permission.UserBroadcast) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if err := validate.Message(req.Message); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_message"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})

	ctx.forEachSession(func(peer *session.Session) {
		event(ctx, peer, protocol.KindServerBroadcast, &protocol.ServerBroadcast{Message: req.Message, From: sess.Nickname})
	})
}

// HandleUserMessage delivers a private message to a single nickname.
func HandleUserMessage(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.UserMessage) {
	if !sess.HasPermission(permission.UserMessage) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if err := validate.Message(req.Message); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_message"})
		return
	}
	peer, ok := ctx.Sessions.GetByNickname(req.Target)
	if !ok {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
	event(ctx, peer, protocol.KindChatMessage, &protocol.ChatMessage{Nickname: sess.Nickname, Message: req.Message})
}
