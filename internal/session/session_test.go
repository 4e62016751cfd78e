package session

import (
	"net/netip"
	"testing"

	"nexus/server/internal/permission"
)

func testAccount(username string, shared bool) Account {
	return Account{
		Username: username,
		Enabled:  true,
		IsShared: shared,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	sess, err := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.MustParseAddr("127.0.0.1"), 1000)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.Nickname != "alice" {
		t.Errorf("Nickname = %q, want alice", sess.Nickname)
	}

	got, ok := r.GetBySessionID(sess.ID)
	if !ok || got != sess {
		t.Errorf("GetBySessionID did not return the registered session")
	}

	got, ok = r.GetByNickname("ALICE")
	if !ok || got != sess {
		t.Errorf("GetByNickname should be case-insensitive")
	}
}

func TestRegisterDisabledAccount(t *testing.T) {
	r := NewRegistry()
	acc := testAccount("bob", false)
	acc.Enabled = false
	if _, err := r.Register(acc, nil, "en", nil, "", netip.Addr{}, 1000); err != ErrAccountDisabled {
		t.Errorf("err = %v, want ErrAccountDisabled", err)
	}
}

func TestSharedAccountNicknameCollision(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(testAccount("guest", true), nil, "en", nil, "alice", netip.Addr{}, 1000); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(testAccount("guest", true), nil, "en", nil, "alice", netip.Addr{}, 1000); err != ErrNicknameInUse {
		t.Errorf("err = %v, want ErrNicknameInUse", err)
	}
}

func TestSharedAccountDistinctNicknamesOK(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(testAccount("guest", true), nil, "en", nil, "alice", netip.Addr{}, 1000); err != nil {
		t.Fatalf("Register alice: %v", err)
	}
	if _, err := r.Register(testAccount("guest", true), nil, "en", nil, "bob", netip.Addr{}, 1000); err != nil {
		t.Fatalf("Register bob: %v", err)
	}
	if r.Count() != 2 {
		t.Errorf("Count = %d, want 2", r.Count())
	}
}

func TestRemoveClearsIndexes(t *testing.T) {
	r := NewRegistry()
	sess, _ := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)

	removed, ok := r.Remove(sess.ID)
	if !ok || removed != sess {
		t.Fatalf("Remove failed")
	}
	if _, ok := r.GetBySessionID(sess.ID); ok {
		t.Error("session still indexed by id after Remove")
	}
	if _, ok := r.GetByNickname("alice"); ok {
		t.Error("session still indexed by nickname after Remove")
	}
	if _, open := <-sess.Outbox(); open {
		t.Error("mailbox should be closed after Remove")
	}
}

func TestRemoveAndBroadcastInvokesCallback(t *testing.T) {
	r := NewRegistry()
	sess, _ := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)

	var notified *Session
	r.RemoveAndBroadcast(sess.ID, func(s *Session) { notified = s })
	if notified != sess {
		t.Error("onRemoved callback was not invoked with the removed session")
	}
}

func TestRemoveAndBroadcastUnknownIDSkipsCallback(t *testing.T) {
	r := NewRegistry()
	called := false
	r.RemoveAndBroadcast(999, func(s *Session) { called = true })
	if called {
		t.Error("onRemoved should not fire for an unknown session id")
	}
}

func TestSessionsByUsername(t *testing.T) {
	r := NewRegistry()
	s1, _ := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)
	_ = s1

	sessions := r.SessionsByUsername("ALICE")
	if len(sessions) != 1 || sessions[0] != s1 {
		t.Errorf("SessionsByUsername = %v, want [%v]", sessions, s1)
	}
}

func TestSendToSessionDeliversEnvelope(t *testing.T) {
	r := NewRegistry()
	sess, _ := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)

	if !r.SendToSession(sess.ID, Envelope{Kind: 1, Payload: "hi"}) {
		t.Fatal("SendToSession returned false")
	}
	env := <-sess.Outbox()
	if env.Payload != "hi" {
		t.Errorf("Payload = %v, want hi", env.Payload)
	}
}

func TestBroadcastToNickname(t *testing.T) {
	r := NewRegistry()
	sess, _ := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)

	r.BroadcastToNickname("alice", Envelope{Kind: 2})
	select {
	case <-sess.Outbox():
	default:
		t.Error("expected envelope in mailbox")
	}
}

func TestBroadcastToFeatureFiltersByFeatureAndPermission(t *testing.T) {
	r := NewRegistry()
	withFeature := map[string]bool{"chat": true}
	sess1, _ := r.Register(testAccount("alice", false), withFeature, "en", nil, "", netip.Addr{}, 1000)
	sess2, _ := r.Register(testAccount("bob", false), nil, "en", nil, "", netip.Addr{}, 1000)

	r.BroadcastToFeature("chat", Envelope{Kind: 3}, nil)

	select {
	case <-sess1.Outbox():
	default:
		t.Error("session with feature should receive broadcast")
	}
	select {
	case <-sess2.Outbox():
		t.Error("session without feature should not receive broadcast")
	default:
	}
}

func TestBroadcastToFeatureRespectsAllowPredicate(t *testing.T) {
	r := NewRegistry()
	adminAccount := testAccount("admin", false)
	adminAccount.IsAdmin = true
	withFeature := map[string]bool{"admin-log": true}
	admin, _ := r.Register(adminAccount, withFeature, "en", nil, "", netip.Addr{}, 1000)
	user, _ := r.Register(testAccount("alice", false), withFeature, "en", nil, "", netip.Addr{}, 1000)

	r.BroadcastToFeature("admin-log", Envelope{Kind: 4}, func(s *Session) bool {
		return s.HasPermission(permission.Permission("does-not-exist")) || s.Account.IsAdmin
	})

	select {
	case <-admin.Outbox():
	default:
		t.Error("admin should receive the restricted broadcast")
	}
	select {
	case <-user.Outbox():
		t.Error("non-admin should not receive the restricted broadcast")
	default:
	}
}

func TestCircuitBreakerRemovesDeadSession(t *testing.T) {
	r := NewRegistry()
	sess, _ := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)

	for i := 0; i < mailboxCapacity; i++ {
		r.SendToSession(sess.ID, Envelope{Kind: 1})
	}

	for i := 0; i < circuitBreakerThreshold; i++ {
		r.SendToSession(sess.ID, Envelope{Kind: 1})
	}

	if _, ok := r.GetBySessionID(sess.ID); ok {
		t.Error("session should have been removed once its circuit breaker tripped")
	}
}

func TestHasPermissionAdminImplicit(t *testing.T) {
	acc := testAccount("admin", false)
	acc.IsAdmin = true
	sess := &Session{Account: acc}
	if !sess.HasPermission(permission.Permission("anything")) {
		t.Error("admin session should hold every permission implicitly")
	}
}

func TestForEachVisitsEverySession(t *testing.T) {
	r := NewRegistry()
	r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)
	r.Register(testAccount("bob", false), nil, "en", nil, "", netip.Addr{}, 1000)

	seen := make(map[string]bool)
	r.ForEach(func(s *Session) { seen[s.Nickname] = true })

	if !seen["alice"] || !seen["bob"] {
		t.Errorf("ForEach visited %v, want both alice and bob", seen)
	}
}

func TestForEachCanCallBackIntoRegistry(t *testing.T) {
	r := NewRegistry()
	sess, _ := r.Register(testAccount("alice", false), nil, "en", nil, "", netip.Addr{}, 1000)

	r.ForEach(func(s *Session) {
		r.SendToSession(s.ID, Envelope{Kind: 1})
	})

	select {
	case env := <-sess.Outbox():
		if env.Kind != 1 {
			t.Errorf("Kind = %d, want 1", env.Kind)
		}
	default:
		t.Error("expected an envelope delivered from within ForEach's callback")
	}
}
