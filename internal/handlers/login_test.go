package handlers

import (
	"net/netip"
	"testing"

	"nexus/server/internal/protocol"
)

func TestHandleHandshakeCompatible(t *testing.T) {
	reply := HandleHandshake(&protocol.Handshake{ProtocolVersion: protocol.CurrentProtocolVersion})
	if !reply.Compatible {
		t.Error("expected matching protocol version to be compatible")
	}
}

func TestHandleHandshakeIncompatible(t *testing.T) {
	reply := HandleHandshake(&protocol.Handshake{ProtocolVersion: "999"})
	if reply.Compatible {
		t.Error("expected mismatched protocol version to be incompatible")
	}
}

func TestHandleLoginSuccess(t *testing.T) {
	ctx, store := testContext()
	store.addAccount(AccountRecord{Username: "alice", Enabled: true, Permissions: []string{"chat_send"}}, "hunter2")

	sess, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "alice", Password: "hunter2"})
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if sess == nil {
		t.Fatal("expected a session to be returned")
	}
	if sess.Nickname != "alice" {
		t.Errorf("expected nickname to default to username, got %q", sess.Nickname)
	}
}

func TestHandleLoginWrongPassword(t *testing.T) {
	ctx, store := testContext()
	store.addAccount(AccountRecord{Username: "alice", Enabled: true}, "hunter2")

	sess, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "alice", Password: "wrong"})
	if resp.Success || sess != nil {
		t.Fatal("expected login to fail")
	}
	if resp.Error != "invalid_credentials" {
		t.Errorf("expected invalid_credentials, got %q", resp.Error)
	}
}

func TestHandleLoginUnknownUser(t *testing.T) {
	ctx, _ := testContext()

	sess, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "nobody", Password: "x"})
	if resp.Success || sess != nil {
		t.Fatal("expected login to fail")
	}
	if resp.Error != "invalid_credentials" {
		t.Errorf("expected invalid_credentials (indistinguishable from wrong password), got %q", resp.Error)
	}
}

func TestHandleLoginDisabledAccount(t *testing.T) {
	ctx, store := testContext()
	store.addAccount(AccountRecord{Username: "alice", Enabled: false}, "hunter2")

	sess, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "alice", Password: "hunter2"})
	if resp.Success || sess != nil {
		t.Fatal("expected login to fail for disabled account")
	}
}

func TestHandleLoginNicknameOverride(t *testing.T) {
	ctx, store := testContext()
	store.addAccount(AccountRecord{Username: "alice", Enabled: true}, "hunter2")

	sess, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "alice", Password: "hunter2", Nickname: "al"})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	if sess.Nickname != "al" {
		t.Errorf("expected nickname %q, got %q", "al", sess.Nickname)
	}
}

func TestHandleLoginNicknameInUse(t *testing.T) {
	ctx, store := testContext()
	store.addAccount(AccountRecord{Username: "alice", Enabled: true}, "hunter2")
	store.addAccount(AccountRecord{Username: "bob", Enabled: true}, "hunter3")

	if _, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "alice", Password: "hunter2", Nickname: "dup"}); !resp.Success {
		t.Fatalf("setup login failed: %q", resp.Error)
	}

	sess, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "bob", Password: "hunter3", Nickname: "dup"})
	if resp.Success || sess != nil {
		t.Fatal("expected nickname collision to fail login")
	}
	if resp.Error != "nickname_in_use" {
		t.Errorf("expected nickname_in_use, got %q", resp.Error)
	}
}

func TestHandleLoginEmptyPassword(t *testing.T) {
	ctx, _ := testContext()

	sess, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "alice", Password: ""})
	if resp.Success || sess != nil {
		t.Fatal("expected empty password to fail validation")
	}
}

func TestHandleLoginSharedAccountRestrictsPermissions(t *testing.T) {
	ctx, store := testContext()
	store.addAccount(AccountRecord{
		Username: "guest", Enabled: true, IsShared: true,
		Permissions: []string{"chat_send", "user_kick"}, // user_kick is not a shared-eligible permission
	}, "pw")

	_, resp := HandleLogin(ctx, netip.Addr{}, &protocol.Login{Username: "guest", Password: "pw"})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	for _, p := range resp.Permissions {
		if p == "user_kick" {
			t.Error("shared account should not retain a non-shared permission")
		}
	}
}
