package dispatch

import (
	"net/netip"
	"testing"

	"github.com/google/uuid"

	"nexus/server/internal/channel"
	"nexus/server/internal/config"
	"nexus/server/internal/handlers"
	"nexus/server/internal/iprule"
	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/voice"
)

func testContext() *handlers.Context {
	return &handlers.Context{
		Sessions: session.NewRegistry(),
		Channels: channel.NewManager(nil),
		Bans:     iprule.New(),
		Settings: config.New(nil),
		Voice:    voice.NewRegistry(),
		Store:    nil,
		Now:      func() int64 { return 1000 },
	}
}

func TestDispatchRoutesRegisteredKind(t *testing.T) {
	table := New()
	called := false
	table.Register(protocol.KindChatList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		called = true
	})

	ok := table.Dispatch(nil, nil, uuid.New(), protocol.KindChatList, nil)
	if !ok || !called {
		t.Fatalf("Dispatch returned %v, called %v, want true/true", ok, called)
	}
}

func TestDispatchUnregisteredKindReportsFalse(t *testing.T) {
	table := New()
	if table.Dispatch(nil, nil, uuid.New(), protocol.KindPing, nil) {
		t.Error("Dispatch of an unregistered kind should return false")
	}
}

func TestRegisterOverwritesPreviousHandler(t *testing.T) {
	table := New()
	var got int
	table.Register(protocol.KindChatList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		got = 1
	})
	table.Register(protocol.KindChatList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		got = 2
	})

	table.Dispatch(nil, nil, uuid.New(), protocol.KindChatList, nil)
	if got != 2 {
		t.Errorf("got = %d, want 2 (second registration should win)", got)
	}
}

func TestDefaultTableDispatchesChatJoin(t *testing.T) {
	ctx := testContext()
	table := Default()
	alice, err := ctx.Sessions.Register(session.Account{Username: "alice", Enabled: true, Permissions: permission.Set{
		permission.ChatSend:    true,
		permission.ChatReceive: true,
	}}, map[string]bool{"chat": true}, "en", nil, "", netip.Addr{}, 1000)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ok := table.Dispatch(ctx, alice, uuid.New(), protocol.KindChatJoin, &protocol.ChatJoin{Channel: "#general"})
	if !ok {
		t.Fatal("expected KindChatJoin to be registered in the default table")
	}

	select {
	case env := <-alice.Outbox():
		if env.Kind != protocol.KindChatJoinResponse {
			t.Errorf("Kind = %d, want KindChatJoinResponse", env.Kind)
		}
	default:
		t.Fatal("expected a reply after dispatching ChatJoin")
	}
}

func TestDefaultTableDispatchesVoiceLeaveWithNoPayload(t *testing.T) {
	ctx := testContext()
	table := Default()
	alice, err := ctx.Sessions.Register(session.Account{Username: "alice", Enabled: true, Permissions: permission.Set{
		permission.VoiceListen: true,
	}}, nil, "en", nil, "", netip.Addr{}, 1000)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ok := table.Dispatch(ctx, alice, uuid.New(), protocol.KindVoiceLeave, nil)
	if !ok {
		t.Fatal("expected KindVoiceLeave to be registered in the default table")
	}
}

func TestDefaultTableOmitsFileKinds(t *testing.T) {
	table := Default()
	if table.Dispatch(nil, nil, uuid.New(), protocol.KindFileList, nil) {
		t.Error("file operations should not be routed through this table")
	}
}
