package handlers

import (
	"github.com/google/uuid"

	"nexus/server/internal/iprule"
	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/validate"
)

func validateTarget(target string, kind protocol.TargetKind) error {
	switch kind {
	case protocol.TargetAddress:
		return validate.TargetAddress(target)
	case protocol.TargetNickname:
		return validate.Nickname(target)
	case protocol.TargetUsername:
		return validate.Username(target)
	default:
		return validate.TargetAddress(target) // unknown kind: reject via the strictest validator
	}
}

// HandleBanAdd processes BanAdd. Address-kind bans are mirrored into
// the IP-rule cache so the pre-TLS admission check picks them up
// immediately; nickname/username-kind bans instead kick every matching
// live session right away (enforcing the ban against a future login
// attempt is the account store's job at authentication time). Banning
// self or any admin is rejected, mirroring UserKick's protection.
func HandleBanAdd(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.BanAdd) {
	if !sess.HasPermission(permission.BanCreate) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if err := validateTarget(req.Target, req.TargetKind); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_target"})
		return
	}

	if req.TargetKind == protocol.TargetAddress {
		if !ctx.Bans.AddBan(req.Target, req.ExpiresAt) {
			reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_target"})
			return
		}
	} else {
		targets := resolveTargets(ctx, req.Target, req.TargetKind)
		for _, peer := range targets {
			if peer.ID == sess.ID || peer.Account.IsAdmin {
				reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "cannot_ban"})
				return
			}
		}
		for _, peer := range targets {
			event(ctx, peer, protocol.KindError, &protocol.Error{Code: "banned", Message: "banned by " + sess.Nickname})
			ctx.Sessions.RemoveAndBroadcast(peer.ID, func(removed *session.Session) {
				LeaveAllChannels(ctx, removed)
				broadcastUserDisconnected(ctx, removed, "banned")
			})
		}
	}

	if err := ctx.Store.AddBan(BanRecord{
		Target: req.Target, TargetKind: req.TargetKind, Reason: req.Reason,
		ExpiresAt: req.ExpiresAt, CreatedBy: sess.Account.Username,
	}); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}

	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
}

// HandleBanDelete processes BanDelete. A CIDR target also sweeps any
// ban entries nested inside it, both in the IP-rule cache and the
// durable store.
func HandleBanDelete(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.BanDelete) {
	if !sess.HasPermission(permission.BanDelete) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}

	var removed []string
	var err error
	if req.TargetKind == protocol.TargetAddress {
		ctx.Bans.RemoveBan(req.Target)
		ctx.Bans.RemoveBansContainedBy(req.Target)
		removed, err = sweepContainedBans(ctx, req.Target)
	} else {
		removed, err = ctx.Store.DeleteBan(req.Target, req.TargetKind)
	}
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}
	if len(removed) == 0 {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}
	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
}

// sweepContainedBans deletes every durable address-kind ban equal to
// or nested inside target (a bare IP or CIDR), returning the removed
// targets. The in-memory cache and the store keep each ban under its
// own exact raw string, so a CIDR delete needs this sweep instead of
// a single exact-match store delete.
func sweepContainedBans(ctx *Context, target string) ([]string, error) {
	outer, outerOK := iprule.ParseIPOrCIDR(target)
	records, err := ctx.Store.ListBans()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, rec := range records {
		if rec.TargetKind != protocol.TargetAddress {
			continue
		}
		contained := rec.Target == target
		if !contained && outerOK {
			if inner, innerOK := iprule.ParseIPOrCIDR(rec.Target); innerOK {
				contained = outer.Bits() <= inner.Bits() && outer.Contains(inner.Addr())
			}
		}
		if !contained {
			continue
		}
		got, err := ctx.Store.DeleteBan(rec.Target, protocol.TargetAddress)
		if err != nil {
			return removed, err
		}
		removed = append(removed, got...)
	}
	return removed, nil
}

// HandleBanList answers BanList, gated on ban_list.
func HandleBanList(ctx *Context, sess *session.Session, msgID uuid.UUID) {
	if !sess.HasPermission(permission.BanList) {
		reply(ctx, sess, protocol.KindBanListResponse, msgID, &protocol.BanListResponse{})
		return
	}
	records, err := ctx.Store.ListBans()
	if err != nil {
		reply(ctx, sess, protocol.KindBanListResponse, msgID, &protocol.BanListResponse{})
		return
	}
	out := make([]protocol.BanEntry, 0, len(records))
	for _, r := range records {
		out = append(out, protocol.BanEntry{
			Target: r.Target, TargetKind: r.TargetKind, Reason: r.Reason,
			ExpiresAt: r.ExpiresAt, CreatedBy: r.CreatedBy,
		})
	}
	reply(ctx, sess, protocol.KindBanListResponse, msgID, &protocol.BanListResponse{Bans: out})
}

// HandleTrustAdd processes TrustAdd. Only address-kind trusts affect
// the IP-rule cache; a nickname/username trust is a bookkeeping
// annotation recorded only in the store.
func HandleTrustAdd(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.TrustAdd) {
	if !sess.HasPermission(permission.TrustCreate) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	if err := validateTarget(req.Target, req.TargetKind); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_target"})
		return
	}
	if req.TargetKind == protocol.TargetAddress && !ctx.Bans.AddTrust(req.Target, nil) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "invalid_target"})
		return
	}

	if err := ctx.Store.AddTrust(TrustRecord{
		Target: req.Target, TargetKind: req.TargetKind, Reason: req.Reason, CreatedBy: sess.Account.Username,
	}); err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}
	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
}

// HandleTrustDelete processes TrustDelete, sweeping contained entries
// for a CIDR target the same way BanDelete does.
func HandleTrustDelete(ctx *Context, sess *session.Session, msgID uuid.UUID, req *protocol.TrustDelete) {
	if !sess.HasPermission(permission.TrustDelete) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}

	var removed []string
	var err error
	if req.TargetKind == protocol.TargetAddress {
		ctx.Bans.RemoveTrust(req.Target)
		removed, err = sweepContainedTrusts(ctx, req.Target)
		for _, raw := range removed {
			ctx.Bans.RemoveTrust(raw)
		}
	} else {
		removed, err = ctx.Store.DeleteTrust(req.Target, req.TargetKind)
	}
	if err != nil {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "storage_error"})
		return
	}
	if len(removed) == 0 {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "not_found"})
		return
	}
	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
}

// HandleTrustList answers TrustList, gated on trust_list.
func HandleTrustList(ctx *Context, sess *session.Session, msgID uuid.UUID) {
	if !sess.HasPermission(permission.TrustList) {
		reply(ctx, sess, protocol.KindTrustListResponse, msgID, &protocol.TrustListResponse{})
		return
	}
	records, err := ctx.Store.ListTrusts()
	if err != nil {
		reply(ctx, sess, protocol.KindTrustListResponse, msgID, &protocol.TrustListResponse{})
		return
	}
	out := make([]protocol.TrustEntry, 0, len(records))
	for _, r := range records {
		out = append(out, protocol.TrustEntry{
			Target: r.Target, TargetKind: r.TargetKind, Reason: r.Reason, CreatedBy: r.CreatedBy,
		})
	}
	reply(ctx, sess, protocol.KindTrustListResponse, msgID, &protocol.TrustListResponse{Trusts: out})
}

// sweepContainedTrusts mirrors sweepContainedBans for trust records.
func sweepContainedTrusts(ctx *Context, target string) ([]string, error) {
	outer, outerOK := iprule.ParseIPOrCIDR(target)
	records, err := ctx.Store.ListTrusts()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, rec := range records {
		if rec.TargetKind != protocol.TargetAddress {
			continue
		}
		contained := rec.Target == target
		if !contained && outerOK {
			if inner, innerOK := iprule.ParseIPOrCIDR(rec.Target); innerOK {
				contained = outer.Bits() <= inner.Bits() && outer.Contains(inner.Addr())
			}
		}
		if !contained {
			continue
		}
		got, err := ctx.Store.DeleteTrust(rec.Target, protocol.TargetAddress)
		if err != nil {
			return removed, err
		}
		removed = append(removed, got...)
	}
	return removed, nil
}
