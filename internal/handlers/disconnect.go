package handlers

import "nexus/server/internal/session"

// Disconnect tears down a session when its connection closes normally
// (as opposed to UserKick/BanAdd, which drive the same cleanup
// themselves against a target other than the caller): it leaves any
// voice target, every chat channel, and removes the session from the
// registry, broadcasting UserDisconnected to everyone still permitted
// to see presence.
func Disconnect(ctx *Context, sess *session.Session) {
	HandleVoiceLeave(ctx, sess)
	ctx.Sessions.RemoveAndBroadcast(sess.ID, func(removed *session.Session) {
		LeaveAllChannels(ctx, removed)
		broadcastUserDisconnected(ctx, removed, "disconnected")
	})
}
