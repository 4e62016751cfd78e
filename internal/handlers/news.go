package handlers

import (
	"github.com/google/uuid"

	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/validate"
)

const featureNews = "news"

// HandleNewsCreate creates a news item and broadcasts NewsUpdated to
// every session with the news feature and news_list permission.
func HandleNewsCreate(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.NewsCreate) {
	if !sess.HasPermission(permission.NewsCreate) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if err := validate.NewsTitle(req.Title); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_title"})
		return
	}
	if err := validate.NewsBody(req.Body); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_body"})
		return
	}

	item, err := ctx.Store.CreateNews(req.Title, req.Body, sess.Account.Username, ctx.now())
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
	broadcastNewsUpdated(ctx, "created", item.ID)
}

// HandleNewsEdit edits an existing item. A non-admin may never edit an
// admin-authored post regardless of permission, and may only edit
// their own post unless they hold news_edit.
func HandleNewsEdit(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.NewsEdit) {
	author, authorIsAdmin, ok, err := ctx.Store.NewsAuthor(req.ID)
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}
	if !ok {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}
	if authorIsAdmin && !sess.Account.IsAdmin {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if author != sess.Account.Username && !sess.HasPermission(permission.NewsEdit) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if err := validate.NewsTitle(req.Title); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_title"})
		return
	}
	if err := validate.NewsBody(req.Body); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_body"})
		return
	}

	_, existed, err := ctx.Store.UpdateNews(req.ID, req.Title, req.Body, ctx.now())
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}
	if !existed {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
	broadcastNewsUpdated(ctx, "edited", req.ID)
}

// HandleNewsDelete deletes an item under the same own-post-vs-admin-
// post rule as edit.
func HandleNewsDelete(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.NewsDelete) {
	author, authorIsAdmin, ok, err := ctx.Store.NewsAuthor(req.ID)
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}
	if !ok {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}
	if authorIsAdmin && !sess.Account.IsAdmin {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if author != sess.Account.Username && !sess.HasPermission(permission.NewsDelete) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}

	deleted, err := ctx.Store.DeleteNews(req.ID)
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}
	if !deleted {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
	broadcastNewsUpdated(ctx, "deleted", req.ID)
}

// HandleNewsList answers NewsList, gated on news_list.
func HandleNewsList(ctx *Context, sess *session.Session, msgID uuid.UUID) {
	if !sess.HasPermission(permission.NewsList) {
		reply(ctx, sess, protocol.KindNewsListResponse, msgID, &protocol.NewsListResponse{})
		return
	}
	items, err := ctx.Store.ListNews()
	if err != nil {
		reply(ctx, sess, protocol.KindNewsListResponse, msgID, &protocol.NewsListResponse{})
		return
	}
	reply(ctx, sess, protocol.KindNewsListResponse, msgID, &protocol.NewsListResponse{Items: items})
}

func broadcastNewsUpdated(ctx *Context, action string, id int64) {
	ctx.forEachSession(func(peer *session.Session) {
		if !peer.HasFeature(featureNews) || !peer.HasPermission(permission.NewsList) {
			return
		}
		event(ctx, peer, protocol.KindNewsUpdated, &protocol.NewsUpdated{Action: action, ID: id})
	})
}
