package handlers

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/voice"
)

// HandleVoiceJoin processes VoiceJoin. A "#channel" target requires
// channel membership; any other target is a nickname and must be
// online. Participants already in the same voice target only get a
// VoiceUserJoined notification the first time one of their sessions
// sees this nickname arrive, so a multi-session user doesn't announce
// itself twice.
func HandleVoiceJoin(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.VoiceJoin) {
	if !sess.HasPermission(permission.VoiceListen) {
		reply(ctx, sess, protocol.KindVoiceJoinResponse, msgID, &protocol.VoiceJoinResponse{Error: "permission_denied"})
		return
	}
	target := req.Target
	if target == "" {
		reply(ctx, sess, protocol.KindVoiceJoinResponse, msgID, &protocol.VoiceJoinResponse{Error: "invalid_target"})
		return
	}
	if ctx.Voice.HasSession(sess.ID) {
		reply(ctx, sess, protocol.KindVoiceJoinResponse, msgID, &protocol.VoiceJoinResponse{Error: "already_joined"})
		return
	}

	isChannel := strings.HasPrefix(target, "#")
	var targetKey string
	if isChannel {
		if !ctx.Channels.IsMember(target, sess.ID) {
			reply(ctx, sess, protocol.KindVoiceJoinResponse, msgID, &protocol.VoiceJoinResponse{Error: "not_channel_member"})
			return
		}
		targetKey = target
	} else {
		if _, online := ctx.Sessions.GetByNickname(target); !online {
			reply(ctx, sess, protocol.KindVoiceJoinResponse, msgID, &protocol.VoiceJoinResponse{Error: "target_not_online"})
			return
		}
		targetKey = voice.PairTargetKey(sess.Nickname, target)
	}

	existing := ctx.Voice.GetSessionsForTarget(targetKey)
	nicknameAlreadyPresent := false
	for _, p := range existing {
		if strings.EqualFold(p.Nickname, sess.Nickname) {
			nicknameAlreadyPresent = true
			break
		}
	}

	voiceSess := ctx.Voice.Join(sess.ID, sess.Nickname, target, targetKey, sess.Addr)

	seen := make(map[string]bool)
	participants := make([]string, 0, len(existing)+1)
	addParticipant := func(nickname string) {
		key := strings.ToLower(nickname)
		if !seen[key] {
			seen[key] = true
			participants = append(participants, nickname)
		}
	}
	for _, p := range existing {
		addParticipant(p.Nickname)
	}
	addParticipant(sess.Nickname)
	sort.Slice(participants, func(i, j int) bool {
		return strings.ToLower(participants[i]) < strings.ToLower(participants[j])
	})

	if !nicknameAlreadyPresent {
		for _, p := range existing {
			if strings.EqualFold(p.Nickname, sess.Nickname) {
				continue
			}
			peer, ok := ctx.Sessions.GetBySessionID(p.SessionID)
			if !ok {
				continue
			}
			broadcastTarget := target
			if !isChannel {
				broadcastTarget = sess.Nickname
			}
			event(ctx, peer, protocol.KindVoiceUserJoined, &protocol.VoiceUserJoined{Nickname: sess.Nickname, Target: broadcastTarget})
		}
	}

	reply(ctx, sess, protocol.KindVoiceJoinResponse, msgID, &protocol.VoiceJoinResponse{
		Success:      true,
		Token:        voiceSess.Token.String(),
		Target:       target,
		RelayAddress: ctx.VoiceRelayAddress,
		Participants: participants,
	})
}

// HandleVoiceLeave processes VoiceLeave, announcing VoiceUserLeft to
// any remaining participant only once this was the nickname's last
// live session in that target.
func HandleVoiceLeave(ctx *Context, sess *session.Session) {
	voiceSess, ok := ctx.Voice.Leave(sess.ID, sess.Addr)
	if !ok {
		return
	}

	remaining := ctx.Voice.GetSessionsForTarget(voiceSess.TargetKey)
	for _, p := range remaining {
		if strings.EqualFold(p.Nickname, sess.Nickname) {
			return // another session of this nickname is still present
		}
	}

	isChannel := strings.HasPrefix(voiceSess.Target, "#")
	for _, p := range remaining {
		peer, ok := ctx.Sessions.GetBySessionID(p.SessionID)
		if !ok {
			continue
		}
		broadcastTarget := voiceSess.Target
		if !isChannel {
			broadcastTarget = sess.Nickname
		}
		event(ctx, peer, protocol.KindVoiceUserLeft, &protocol.VoiceUserLeft{Nickname: sess.Nickname, Target: broadcastTarget})
	}
}
