package store

import (
	"database/sql"
	"testing"

	"nexus/server/internal/handlers"
	"nexus/server/internal/protocol"
)

// newMemStore opens an in-memory SQLite database, runs migrations, and returns
// the store. The database is discarded when the test process exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsApplied verifies that after opening a fresh database every
// migration has been recorded in schema_migrations.
func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

// TestMigrationsIdempotent verifies that re-running migrate() on an
// already-migrated database does not re-apply any migration.
func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)

	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d rows after second migrate, got %d", len(migrations), count)
	}
}

func TestGetSetSetting(t *testing.T) {
	s := newMemStore(t)

	val, ok, err := s.GetSetting("server_name")
	if err != nil {
		t.Fatalf("GetSetting missing key: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for missing key, got %q", val)
	}

	if err := s.SetSetting("server_name", "My Server"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	val, ok, err = s.GetSetting("server_name")
	if err != nil {
		t.Fatalf("GetSetting after set: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true after set")
	}
	if val != "My Server" {
		t.Errorf("expected %q, got %q", "My Server", val)
	}
}

func TestSetSettingUpsert(t *testing.T) {
	s := newMemStore(t)

	if err := s.SetSetting("x", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("x", "second"); err != nil {
		t.Fatal(err)
	}

	val, ok, err := s.GetSetting("x")
	if err != nil || !ok {
		t.Fatalf("GetSetting: val=%q ok=%v err=%v", val, ok, err)
	}
	if val != "second" {
		t.Errorf("expected %q after upsert, got %q", "second", val)
	}
}

func TestGetAllSettings(t *testing.T) {
	s := newMemStore(t)

	s.SetSetting("key1", "val1")
	s.SetSetting("key2", "val2")

	settings, err := s.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings: %v", err)
	}
	if len(settings) != 2 || settings["key1"] != "val1" || settings["key2"] != "val2" {
		t.Errorf("unexpected settings: %v", settings)
	}
}

// --- accounts ---

func TestCreateAndGetAccount(t *testing.T) {
	s := newMemStore(t)

	if err := s.CreateAccount("alice", "hunter2", true, false, []string{"chat_send", "chat_receive"}, 1000); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	rec, ok, err := s.GetAccount("alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !ok {
		t.Fatal("expected account to exist")
	}
	if !rec.IsAdmin || rec.IsShared {
		t.Errorf("unexpected flags: %+v", rec)
	}
	if len(rec.Permissions) != 2 {
		t.Errorf("expected 2 permissions, got %v", rec.Permissions)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	s := newMemStore(t)

	_, ok, err := s.GetAccount("nobody")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown account")
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	s := newMemStore(t)
	s.CreateAccount("alice", "hunter2", false, false, nil, 1000)

	rec, ok, err := s.Authenticate("alice", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !ok {
		t.Fatal("expected authentication to succeed")
	}
	if rec.Username != "alice" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := newMemStore(t)
	s.CreateAccount("alice", "hunter2", false, false, nil, 1000)

	_, ok, err := s.Authenticate("alice", "wrong")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ok {
		t.Error("expected authentication to fail with wrong password")
	}
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	s := newMemStore(t)
	s.CreateAccount("alice", "hunter2", false, false, nil, 1000)
	s.SetAccountEnabled("alice", false)

	_, ok, err := s.Authenticate("alice", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ok {
		t.Error("expected authentication to fail for a disabled account")
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	s := newMemStore(t)

	_, ok, err := s.Authenticate("nobody", "x")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ok {
		t.Error("expected authentication to fail for unknown user")
	}
}

func TestSetPassword(t *testing.T) {
	s := newMemStore(t)
	s.CreateAccount("alice", "old", false, false, nil, 1000)

	if err := s.SetPassword("alice", "new"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	if _, ok, _ := s.Authenticate("alice", "old"); ok {
		t.Error("old password should no longer authenticate")
	}
	if _, ok, _ := s.Authenticate("alice", "new"); !ok {
		t.Error("new password should authenticate")
	}
}

func TestDeleteAccount(t *testing.T) {
	s := newMemStore(t)
	s.CreateAccount("alice", "pw", false, false, nil, 1000)

	if err := s.DeleteAccount("alice"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := s.DeleteAccount("alice"); err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows for second delete, got %v", err)
	}
}

func TestListAccountsOrdered(t *testing.T) {
	s := newMemStore(t)
	s.CreateAccount("charlie", "pw", false, false, nil, 1000)
	s.CreateAccount("alice", "pw", false, false, nil, 1000)
	s.CreateAccount("bob", "pw", false, false, nil, 1000)

	accounts, err := s.ListAccounts()
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	if accounts[0].Username != "alice" || accounts[1].Username != "bob" || accounts[2].Username != "charlie" {
		t.Errorf("unexpected order: %v", accounts)
	}
}

// --- persistent channel state ---

func TestSaveAndLoadChannelState(t *testing.T) {
	s := newMemStore(t)

	if err := s.SaveChannelState("#general", "welcome", "alice", false, ""); err != nil {
		t.Fatalf("SaveChannelState: %v", err)
	}

	states, err := s.LoadChannelStates()
	if err != nil {
		t.Fatalf("LoadChannelStates: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	if states[0].Topic != "welcome" || states[0].TopicSetBy != "alice" || states[0].Secret {
		t.Errorf("unexpected state: %+v", states[0])
	}
}

func TestSaveChannelStateUpsert(t *testing.T) {
	s := newMemStore(t)

	s.SaveChannelState("#general", "first", "alice", false, "")
	s.SaveChannelState("#general", "second", "bob", true, "bob")

	states, _ := s.LoadChannelStates()
	if len(states) != 1 {
		t.Fatalf("expected 1 state after upsert, got %d", len(states))
	}
	if states[0].Topic != "second" || !states[0].Secret {
		t.Errorf("unexpected state after upsert: %+v", states[0])
	}
}

// --- news ---

func TestCreateUpdateDeleteNews(t *testing.T) {
	s := newMemStore(t)

	item, err := s.CreateNews("Hello", "World", "alice", 1000)
	if err != nil {
		t.Fatalf("CreateNews: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected non-zero news id")
	}

	updated, ok, err := s.UpdateNews(item.ID, "Hello2", "World2", 2000)
	if err != nil {
		t.Fatalf("UpdateNews: %v", err)
	}
	if !ok {
		t.Fatal("expected update to find the row")
	}
	if updated.Title != "Hello2" || updated.UpdatedAt != 2000 {
		t.Errorf("unexpected updated item: %+v", updated)
	}

	deleted, err := s.DeleteNews(item.ID)
	if err != nil {
		t.Fatalf("DeleteNews: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report true")
	}
}

func TestUpdateNewsNotFound(t *testing.T) {
	s := newMemStore(t)

	_, ok, err := s.UpdateNews(9999, "x", "y", 1000)
	if err != nil {
		t.Fatalf("UpdateNews: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing news item")
	}
}

func TestListNewsNewestFirst(t *testing.T) {
	s := newMemStore(t)

	s.CreateNews("first", "", "alice", 1000)
	s.CreateNews("second", "", "alice", 2000)

	items, err := s.ListNews()
	if err != nil {
		t.Fatalf("ListNews: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "second" {
		t.Errorf("expected newest first, got %q", items[0].Title)
	}
}

func TestNewsAuthor(t *testing.T) {
	s := newMemStore(t)
	s.CreateAccount("alice", "pw", true, false, nil, 1000)
	item, _ := s.CreateNews("Hello", "World", "alice", 1000)

	author, isAdmin, ok, err := s.NewsAuthor(item.ID)
	if err != nil {
		t.Fatalf("NewsAuthor: %v", err)
	}
	if !ok || author != "alice" || !isAdmin {
		t.Errorf("unexpected result: author=%q isAdmin=%v ok=%v", author, isAdmin, ok)
	}
}

// --- bans and trusts ---

func TestAddListDeleteBan(t *testing.T) {
	s := newMemStore(t)

	expires := int64(5000)
	if err := s.AddBan(handlers.BanRecord{Target: "mallory", TargetKind: protocol.TargetUsername, Reason: "spam", ExpiresAt: &expires, CreatedBy: "admin"}); err != nil {
		t.Fatalf("AddBan: %v", err)
	}

	bans, err := s.ListBans()
	if err != nil {
		t.Fatalf("ListBans: %v", err)
	}
	if len(bans) != 1 || bans[0].Target != "mallory" || *bans[0].ExpiresAt != expires {
		t.Errorf("unexpected bans: %+v", bans)
	}

	removed, err := s.DeleteBan("mallory", protocol.TargetUsername)
	if err != nil {
		t.Fatalf("DeleteBan: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("expected 1 removed, got %v", removed)
	}
}

func TestDeleteBanNotFound(t *testing.T) {
	s := newMemStore(t)

	removed, err := s.DeleteBan("nobody", protocol.TargetUsername)
	if err != nil {
		t.Fatalf("DeleteBan: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("expected no removals, got %v", removed)
	}
}

func TestAddListDeleteTrust(t *testing.T) {
	s := newMemStore(t)

	if err := s.AddTrust(handlers.TrustRecord{Target: "alice", TargetKind: protocol.TargetUsername, Reason: "staff", CreatedBy: "admin"}); err != nil {
		t.Fatalf("AddTrust: %v", err)
	}

	trusts, err := s.ListTrusts()
	if err != nil {
		t.Fatalf("ListTrusts: %v", err)
	}
	if len(trusts) != 1 || trusts[0].Target != "alice" {
		t.Errorf("unexpected trusts: %+v", trusts)
	}

	removed, err := s.DeleteTrust("alice", protocol.TargetUsername)
	if err != nil {
		t.Fatalf("DeleteTrust: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("expected 1 removed, got %v", removed)
	}
}

// --- audit log ---

func TestAuditLogInsertAndList(t *testing.T) {
	s := newMemStore(t)

	for i := 0; i < 3; i++ {
		if err := s.InsertAuditLog(1, "alice", "ban_add", "mallory", ""); err != nil {
			t.Fatalf("InsertAuditLog: %v", err)
		}
	}

	count, err := s.AuditLogCount()
	if err != nil {
		t.Fatalf("AuditLogCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3, got %d", count)
	}

	entries, err := s.GetAuditLog("", 10)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].DetailsJSON != "{}" {
		t.Errorf("expected empty details to default to {}, got %q", entries[0].DetailsJSON)
	}
}

func TestAuditLogFilterByActor(t *testing.T) {
	s := newMemStore(t)

	s.InsertAuditLog(1, "alice", "a1", "", "")
	s.InsertAuditLog(1, "bob", "a2", "", "")

	entries, err := s.GetAuditLog("alice", 10)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "alice" {
		t.Errorf("unexpected entries: %v", entries)
	}
}

// --- backup ---

func TestBackupCreatesValidDB(t *testing.T) {
	s := newMemStore(t)

	s.SetSetting("backup_test", "value123")
	s.CreateAccount("alice", "pw", false, false, nil, 1000)

	backupPath := t.TempDir() + "/backup.db"
	if err := s.Backup(backupPath); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	backup, err := New(backupPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	val, ok, err := backup.GetSetting("backup_test")
	if err != nil || !ok || val != "value123" {
		t.Errorf("backup setting: val=%q ok=%v err=%v", val, ok, err)
	}

	_, ok, err = backup.GetAccount("alice")
	if err != nil || !ok {
		t.Errorf("backup account: ok=%v err=%v", ok, err)
	}
}
