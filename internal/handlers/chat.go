package handlers

import (
	"github.com/google/uuid"

	"nexus/server/internal/channel"
	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/validate"
)

const featureChat = "chat"

// HandleChatJoin processes a ChatJoin request: validates the channel
// name, joins via the channel manager (creating it ephemerally if it
// did not exist), and broadcasts ChatUserJoined to the members already
// present.
func HandleChatJoin(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.ChatJoin) {
	if err := validate.ChannelName(req.Channel); err != nil {
		reply(ctx, sess, protocol.KindChatJoinResponse, msgID, &protocol.ChatJoinResponse{Error: "invalid_channel"})
		return
	}
	if !sess.HasFeature(featureChat) {
		reply(ctx, sess, protocol.KindChatJoinResponse, msgID, &protocol.ChatJoinResponse{Error: "feature_disabled"})
		return
	}

	info, err := ctx.Channels.Join(req.Channel, sess.ID)
	if err == channel.ErrAlreadyMember {
		reply(ctx, sess, protocol.KindChatJoinResponse, msgID, &protocol.ChatJoinResponse{Error: "already_member"})
		return
	}

	members := make([]protocol.ChannelMember, 0, len(info.Members))
	for _, id := range info.Members {
		if peer, ok := ctx.Sessions.GetBySessionID(id); ok {
			members = append(members, protocol.ChannelMember{Nickname: peer.Nickname, IsAdmin: peer.Account.IsAdmin})
		}
	}

	reply(ctx, sess, protocol.KindChatJoinResponse, msgID, &protocol.ChatJoinResponse{
		Success:    true,
		Channel:    req.Channel,
		Members:    members,
		Topic:      info.Topic,
		TopicSetBy: info.TopicSetBy,
		Secret:     info.Secret,
	})

	broadcastJoinLeave(ctx, req.Channel, sess, info.Members, true)
}

// HandleChatLeave processes a ChatLeave request: leaves the named
// channel and broadcasts ChatUserLeft to the remaining members.
func HandleChatLeave(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.ChatLeave) {
	members, _ := ctx.Channels.GetMembers(req.Channel)
	if !ctx.Channels.Leave(req.Channel, sess.ID) {
		reply(ctx, sess, protocol.KindChatLeaveResponse, msgID, &protocol.ChatLeaveResponse{Error: "channel_not_found"})
		return
	}
	reply(ctx, sess, protocol.KindChatLeaveResponse, msgID, &protocol.ChatLeaveResponse{Success: true, Channel: req.Channel})
	broadcastJoinLeave(ctx, req.Channel, sess, members, false)
}

// broadcastJoinLeave fans a ChatUserJoined/ChatUserLeft event out to
// every other live member of the channel (members is the membership
// snapshot from after a join and from before a leave, so it includes
// the acting session in both cases; that session is skipped).
func broadcastJoinLeave(ctx *Context, channelName string, sess *session.Session, members []uint32, joined bool) {
	for _, id := range members {
		if id == sess.ID {
			continue
		}
		peer, ok := ctx.Sessions.GetBySessionID(id)
		if !ok {
			continue
		}
		if joined {
			event(ctx, peer, protocol.KindChatUserJoined, &protocol.ChatUserJoined{Channel: channelName, Nickname: sess.Nickname})
		} else {
			event(ctx, peer, protocol.KindChatUserLeft, &protocol.ChatUserLeft{Channel: channelName, Nickname: sess.Nickname})
		}
	}
}

// LeaveAllChannels is called when a session disconnects: it removes
// the session from every channel it belongs to and emits ChatUserLeft
// per channel, skipping a channel where another live session still
// carries the same nickname (a shared account's second connection),
// per the spec's no-spurious-leave rule.
func LeaveAllChannels(ctx *Context, sess *session.Session) {
	for _, name := range ctx.Channels.RemoveFromAll(sess.ID) {
		if nicknameStillPresent(ctx, name, sess.Nickname) {
			continue
		}
		members, _ := ctx.Channels.GetMembers(name)
		for _, id := range members {
			if peer, ok := ctx.Sessions.GetBySessionID(id); ok {
				event(ctx, peer, protocol.KindChatUserLeft, &protocol.ChatUserLeft{Channel: name, Nickname: sess.Nickname})
			}
		}
	}
}

func nicknameStillPresent(ctx *Context, channelName, nickname string) bool {
	members, ok := ctx.Channels.GetMembers(channelName)
	if !ok {
		return false
	}
	for _, id := range members {
		if peer, ok := ctx.Sessions.GetBySessionID(id); ok && peer.Nickname == nickname {
			return true
		}
	}
	return false
}

// HandleChatTopicUpdate processes a ChatTopicUpdate request. An empty
// topic clears it. Persisted automatically by the channel manager when
// the channel is persistent.
func HandleChatTopicUpdate(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.ChatTopicUpdate) {
	if !sess.HasPermission(permission.ChatTopicEdit) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if err := validate.Topic(req.Topic); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_topic"})
		return
	}

	existed, err := ctx.Channels.SetTopic(req.Channel, req.Topic, sess.Nickname)
	if !existed {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "channel_not_found"})
		return
	}
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})

	topic := req.Topic
	broadcastUpdate(ctx, req.Channel, &protocol.ChatUpdated{Channel: req.Channel, Topic: &topic, TopicSetBy: sess.Nickname})
}

// HandleChatSecretToggle processes a ChatSecretToggle request. Non-
// members are told "channel not found" rather than "permission
// denied" or "not a member", so a secret channel's existence is never
// leaked to an outsider.
func HandleChatSecretToggle(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.ChatSecretToggle) {
	if !ctx.Channels.IsMember(req.Channel, sess.ID) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "channel_not_found"})
		return
	}
	if !sess.HasPermission(permission.ChatTopicEdit) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}

	existed, err := ctx.Channels.SetSecret(req.Channel, req.Secret, sess.Nickname)
	if !existed {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "channel_not_found"})
		return
	}
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})

	secret := req.Secret
	broadcastUpdate(ctx, req.Channel, &protocol.ChatUpdated{Channel: req.Channel, Secret: &secret, SecretSetBy: sess.Nickname})
}

func broadcastUpdate(ctx *Context, channelName string, update *protocol.ChatUpdated) {
	members, ok := ctx.Channels.GetMembers(channelName)
	if !ok {
		return
	}
	for _, id := range members {
		if peer, ok := ctx.Sessions.GetBySessionID(id); ok {
			event(ctx, peer, protocol.KindChatUpdated, update)
		}
	}
}

// HandleChatSend processes a ChatSend request: validates the message,
// checks chat_send, and fans a ChatMessage out to every member that
// has the chat feature enabled and holds chat_receive.
func HandleChatSend(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.ChatSend) {
	if err := validate.Message(req.Message); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_message"})
		return
	}
	if !sess.HasPermission(permission.ChatSend) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	members, ok := ctx.Channels.GetMembers(req.Channel)
	if !ok || !ctx.Channels.IsMember(req.Channel, sess.ID) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "channel_not_found"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})

	chatMsg := &protocol.ChatMessage{Channel: req.Channel, Nickname: sess.Nickname, Message: req.Message, Action: req.Action}
	for _, id := range members {
		peer, ok := ctx.Sessions.GetBySessionID(id)
		if !ok || !peer.HasFeature(featureChat) || !peer.HasPermission(permission.ChatReceive) {
			continue
		}
		event(ctx, peer, protocol.KindChatMessage, chatMsg)
	}
}

// HandleChatList returns every channel the requester may see: public
// channels, plus secret channels the requester is a member of.
func HandleChatList(ctx *Context, sess *session.Session, msgID uuid.UUID) {
	var out []protocol.ChannelSummary
	for _, s := range ctx.Channels.List() {
		if s.Secret && !ctx.Channels.IsMember(s.Name, sess.ID) {
			continue
		}
		out = append(out, protocol.ChannelSummary{
			Name:        s.Name,
			MemberCount: s.MemberCount,
			Topic:       s.Topic,
			Secret:      s.Secret,
			Persistent:  s.Persistent,
		})
	}
	reply(ctx, sess, protocol.KindChatListResponse, msgID, &protocol.ChatListResponse{Channels: out})
}
