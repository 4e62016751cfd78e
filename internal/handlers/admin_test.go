package handlers

import (
	"testing"

	"github.com/google/uuid"

	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
)

func TestHandleBanAddAddressMirrorsIntoCache(t *testing.T) {
	ctx, store := testContext()
	admin := addSession(ctx, "admin", permission.BanCreate)

	HandleBanAdd(ctx, admin, uuid.New(), &protocol.BanAdd{Target: "203.0.113.5", TargetKind: protocol.TargetAddress})
	resp := drain(admin).Payload.(*protocol.GenericOK)
	if !resp.Success {
		t.Fatalf("ban add failed: %+v", resp)
	}
	if ctx.Bans.BanCount() != 1 {
		t.Errorf("BanCount = %d, want 1", ctx.Bans.BanCount())
	}
	if len(store.bans) != 1 {
		t.Errorf("store has %d bans, want 1", len(store.bans))
	}
}

func TestHandleBanAddNicknameKicksLiveSession(t *testing.T) {
	ctx, _ := testContext()
	admin := addSession(ctx, "admin", permission.BanCreate)
	bob := addSession(ctx, "bob")

	HandleBanAdd(ctx, admin, uuid.New(), &protocol.BanAdd{Target: "bob", TargetKind: protocol.TargetNickname})
	resp := drain(admin).Payload.(*protocol.GenericOK)
	if !resp.Success {
		t.Fatalf("ban add failed: %+v", resp)
	}
	if _, ok := ctx.Sessions.GetBySessionID(bob.ID); ok {
		t.Error("bob's session should have been removed when banned")
	}
}

func TestHandleBanAddRejectsTargetingAdmin(t *testing.T) {
	ctx, _ := testContext()
	admin := addSession(ctx, "admin", permission.BanCreate)
	victim := addSession(ctx, "root")
	victim.Account.IsAdmin = true

	HandleBanAdd(ctx, admin, uuid.New(), &protocol.BanAdd{Target: "root", TargetKind: protocol.TargetNickname})
	resp := drain(admin).Payload.(*protocol.GenericOK)
	if resp.Success || resp.Error != "cannot_ban" {
		t.Errorf("resp = %+v, want cannot_ban", resp)
	}
}

func TestHandleBanDeleteSweepsContainedAddresses(t *testing.T) {
	ctx, store := testContext()
	admin := addSession(ctx, "admin", permission.BanCreate, permission.BanDelete)

	HandleBanAdd(ctx, admin, uuid.New(), &protocol.BanAdd{Target: "203.0.113.5", TargetKind: protocol.TargetAddress})
	drain(admin)

	HandleBanDelete(ctx, admin, uuid.New(), &protocol.BanDelete{Target: "203.0.113.0/24", TargetKind: protocol.TargetAddress})
	resp := drain(admin).Payload.(*protocol.GenericOK)
	if !resp.Success {
		t.Fatalf("delete failed: %+v", resp)
	}
	if ctx.Bans.BanCount() != 0 {
		t.Errorf("BanCount = %d, want 0 after CIDR sweep", ctx.Bans.BanCount())
	}
	if len(store.bans) != 0 {
		t.Errorf("store bans = %v, want empty", store.bans)
	}
}

func TestHandleBanListRequiresPermission(t *testing.T) {
	ctx, _ := testContext()
	alice := addSession(ctx, "alice")

	HandleBanList(ctx, alice, uuid.New())
	resp := drain(alice).Payload.(*protocol.BanListResponse)
	if len(resp.Bans) != 0 {
		t.Errorf("Bans = %v, want empty without ban_list permission", resp.Bans)
	}
}

func TestHandleTrustAddAndList(t *testing.T) {
	ctx, _ := testContext()
	admin := addSession(ctx, "admin", permission.TrustCreate, permission.TrustList)

	HandleTrustAdd(ctx, admin, uuid.New(), &protocol.TrustAdd{Target: "203.0.113.5", TargetKind: protocol.TargetAddress})
	resp := drain(admin).Payload.(*protocol.GenericOK)
	if !resp.Success {
		t.Fatalf("trust add failed: %+v", resp)
	}

	HandleTrustList(ctx, admin, uuid.New())
	listResp := drain(admin).Payload.(*protocol.TrustListResponse)
	if len(listResp.Trusts) != 1 || listResp.Trusts[0].Target != "203.0.113.5" {
		t.Errorf("Trusts = %v, want one entry for 203.0.113.5", listResp.Trusts)
	}
}

func TestHandleTrustDeleteNotFound(t *testing.T) {
	ctx, _ := testContext()
	admin := addSession(ctx, "admin", permission.TrustDelete)

	HandleTrustDelete(ctx, admin, uuid.New(), &protocol.TrustDelete{Target: "nobody", TargetKind: protocol.TargetUsername})
	resp := drain(admin).Payload.(*protocol.GenericOK)
	if resp.Success || resp.Error != "not_found" {
		t.Errorf("resp = %+v, want not_found", resp)
	}
}
