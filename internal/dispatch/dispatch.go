// Package dispatch routes an authenticated request's Kind to the
// internal/handlers function that answers it. It generalizes the
// teacher's per-feature callback registration (Room.SetOnRename,
// SetOnCreateChannel, ...) into a single Kind-keyed table, since here
// the full set of operations is fixed by the protocol rather than
// assembled piecemeal by the caller.
package dispatch

import (
	"github.com/google/uuid"

	"nexus/server/internal/handlers"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
)

// Func handles one decoded request. payload is the concrete pointer
// type protocol.NewPayload(kind) produced for this Kind; a handler
// that takes no fields (e.g. ChatList) ignores it.
type Func func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any)

// Table maps a request Kind to the Func that answers it.
type Table struct {
	routes map[protocol.Kind]Func
}

// New returns an empty table.
func New() *Table {
	return &Table{routes: make(map[protocol.Kind]Func)}
}

// Register binds kind to fn, overwriting any previous registration.
func (t *Table) Register(kind protocol.Kind, fn Func) {
	t.routes[kind] = fn
}

// Dispatch invokes the Func registered for kind, if any, and reports
// whether one was found. The caller is responsible for having
// decoded payload via protocol.NewPayload/Decode first.
func (t *Table) Dispatch(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, kind protocol.Kind, payload any) bool {
	fn, ok := t.routes[kind]
	if !ok {
		return false
	}
	fn(ctx, sess, msgID, payload)
	return true
}

// Default builds the table for every request kind internal/handlers
// answers. Handshake, Login, and Ping are handled during connection
// setup rather than post-login dispatch; the File* kinds route
// through the transfer engine's own control-plane table instead of
// this one, since they need the transfer connection's writer rather
// than a session mailbox.
func Default() *Table {
	t := New()

	t.Register(protocol.KindChatJoin, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleChatJoin(ctx, sess, msgID, payload.(*protocol.ChatJoin))
	})
	t.Register(protocol.KindChatLeave, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleChatLeave(ctx, sess, msgID, payload.(*protocol.ChatLeave))
	})
	t.Register(protocol.KindChatSend, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleChatSend(ctx, sess, msgID, payload.(*protocol.ChatSend))
	})
	t.Register(protocol.KindChatTopicUpdate, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleChatTopicUpdate(ctx, sess, msgID, payload.(*protocol.ChatTopicUpdate))
	})
	t.Register(protocol.KindChatSecretToggle, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleChatSecretToggle(ctx, sess, msgID, payload.(*protocol.ChatSecretToggle))
	})
	t.Register(protocol.KindChatList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleChatList(ctx, sess, msgID)
	})

	t.Register(protocol.KindUserList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleUserList(ctx, sess, msgID, payload.(*protocol.UserList))
	})
	t.Register(protocol.KindUserInfo, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleUserInfo(ctx, sess, msgID, payload.(*protocol.UserInfo))
	})
	t.Register(protocol.KindUserKick, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleUserKick(ctx, sess, msgID, payload.(*protocol.UserKick))
	})
	t.Register(protocol.KindUserBroadcast, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleUserBroadcast(ctx, sess, msgID, payload.(*protocol.UserBroadcast))
	})
	t.Register(protocol.KindUserMessage, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleUserMessage(ctx, sess, msgID, payload.(*protocol.UserMessage))
	})

	t.Register(protocol.KindNewsCreate, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleNewsCreate(ctx, sess, msgID, payload.(*protocol.NewsCreate))
	})
	t.Register(protocol.KindNewsEdit, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleNewsEdit(ctx, sess, msgID, payload.(*protocol.NewsEdit))
	})
	t.Register(protocol.KindNewsDelete, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleNewsDelete(ctx, sess, msgID, payload.(*protocol.NewsDelete))
	})
	t.Register(protocol.KindNewsList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleNewsList(ctx, sess, msgID)
	})

	t.Register(protocol.KindBanAdd, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleBanAdd(ctx, sess, msgID, payload.(*protocol.BanAdd))
	})
	t.Register(protocol.KindBanDelete, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleBanDelete(ctx, sess, msgID, payload.(*protocol.BanDelete))
	})
	t.Register(protocol.KindBanList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleBanList(ctx, sess, msgID)
	})
	t.Register(protocol.KindTrustAdd, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleTrustAdd(ctx, sess, msgID, payload.(*protocol.TrustAdd))
	})
	t.Register(protocol.KindTrustDelete, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleTrustDelete(ctx, sess, msgID, payload.(*protocol.TrustDelete))
	})
	t.Register(protocol.KindTrustList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleTrustList(ctx, sess, msgID)
	})

	t.Register(protocol.KindVoiceJoin, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleVoiceJoin(ctx, sess, msgID, payload.(*protocol.VoiceJoin))
	})
	t.Register(protocol.KindVoiceLeave, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		handlers.HandleVoiceLeave(ctx, sess)
	})

	return t
}
