// Package store is the SQLite-backed persistence facade for every
// durable Nexus record: accounts, persistent channel state, news,
// bans, trusts, settings, and the admin audit log. It follows the
// teacher's migrations-slice pattern (an ordered list of forward-only
// DDL statements tracked in a schema_migrations table) adapted to the
// BBS data model in place of the teacher's voice-room schema.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"nexus/server/internal/handlers"
	"nexus/server/internal/protocol"
)

// migrations is applied in order; each entry's index+1 is its version.
// Append, never edit, a past entry once released.
var migrations = []string{
	// v1: settings
	`CREATE TABLE settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2: accounts
	`CREATE TABLE accounts (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		is_admin      INTEGER NOT NULL DEFAULT 0,
		is_shared     INTEGER NOT NULL DEFAULT 0,
		enabled       INTEGER NOT NULL DEFAULT 1,
		permissions   TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL
	)`,
	// v3: persistent channel state
	`CREATE TABLE channels (
		name          TEXT PRIMARY KEY,
		topic         TEXT NOT NULL DEFAULT '',
		topic_set_by  TEXT NOT NULL DEFAULT '',
		secret        INTEGER NOT NULL DEFAULT 0,
		secret_set_by TEXT NOT NULL DEFAULT ''
	)`,
	// v4: news
	`CREATE TABLE news (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		title      TEXT NOT NULL,
		body       TEXT NOT NULL,
		author     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	// v5, v6: bans and trusts, keyed by (target, target_kind)
	`CREATE TABLE bans (
		target      TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		expires_at  INTEGER,
		created_by  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (target, target_kind)
	)`,
	`CREATE TABLE trusts (
		target      TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		created_by  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (target, target_kind)
	)`,
	// v7: audit log
	`CREATE TABLE audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		actor      TEXT NOT NULL,
		action     TEXT NOT NULL,
		target     TEXT NOT NULL DEFAULT '',
		details    TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	// v8: index for audit log range queries
	`CREATE INDEX idx_audit_log_created ON audit_log(created_at)`,
	// v9: index for news listing order
	`CREATE INDEX idx_news_created ON news(created_at)`,
	// v10: switch to WAL so readers don't block behind a writer
	`PRAGMA journal_mode=WAL`,
}

// Store is a single SQLite-backed database handle. All methods are
// safe for concurrent use; modernc.org/sqlite serializes writers and
// WAL mode lets readers proceed concurrently.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the database at path and applies
// any pending migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("[store] open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] set busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("[store] create schema_migrations: %w", err)
	}

	var applied int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("[store] read schema version: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		version := i + 1
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("[store] apply migration v%d: %w", version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, version); err != nil {
			return fmt.Errorf("[store] record migration v%d: %w", version, err)
		}
		log.Printf("[store] applied migration v%d", version)
	}
	return nil
}

// Optimize runs SQLite's query-planner maintenance pass. Intended to
// be called periodically (main.go's hourly ticker).
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup writes a consistent snapshot of the database to destPath.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}

// ---------------------------------------------------------------------------
// Settings (internal/config.Store)
// ---------------------------------------------------------------------------

func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// GetAllSettings returns every persisted key/value pair.
func (s *Store) GetAllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Accounts (internal/handlers.Store, plus CLI-facing account management)
// ---------------------------------------------------------------------------

func permissionsToString(perms []string) string {
	return strings.Join(perms, " ")
}

func permissionsFromString(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// CreateAccount inserts a new account with a bcrypt-hashed password.
func (s *Store) CreateAccount(username, password string, isAdmin, isShared bool, permissions []string, now int64) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("[store] hash password: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO accounts(username, password_hash, is_admin, is_shared, enabled, permissions, created_at)
		VALUES(?, ?, ?, ?, 1, ?, ?)`,
		username, string(hash), boolToInt(isAdmin), boolToInt(isShared), permissionsToString(permissions), now)
	return err
}

// SetPassword rehashes and persists a new password for an existing account.
func (s *Store) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("[store] hash password: %w", err)
	}
	res, err := s.db.Exec(`UPDATE accounts SET password_hash = ? WHERE username = ?`, string(hash), username)
	if err != nil {
		return err
	}
	return noRowsToErrNoRows(res)
}

// SetAccountEnabled toggles whether an account may log in.
func (s *Store) SetAccountEnabled(username string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE accounts SET enabled = ? WHERE username = ?`, boolToInt(enabled), username)
	if err != nil {
		return err
	}
	return noRowsToErrNoRows(res)
}

// DeleteAccount removes an account outright.
func (s *Store) DeleteAccount(username string) error {
	res, err := s.db.Exec(`DELETE FROM accounts WHERE username = ?`, username)
	if err != nil {
		return err
	}
	return noRowsToErrNoRows(res)
}

func scanAccount(scan func(dest ...any) error) (handlers.AccountRecord, error) {
	var rec handlers.AccountRecord
	var isAdmin, isShared, enabled int
	var perms string
	if err := scan(&rec.Username, &isAdmin, &isShared, &enabled, &perms); err != nil {
		return handlers.AccountRecord{}, err
	}
	rec.IsAdmin = isAdmin != 0
	rec.IsShared = isShared != 0
	rec.Enabled = enabled != 0
	rec.Permissions = permissionsFromString(perms)
	return rec, nil
}

// GetAccount looks up an account's durable record by username.
func (s *Store) GetAccount(username string) (handlers.AccountRecord, bool, error) {
	row := s.db.QueryRow(`SELECT username, is_admin, is_shared, enabled, permissions FROM accounts WHERE username = ?`, username)
	rec, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return handlers.AccountRecord{}, false, nil
	}
	if err != nil {
		return handlers.AccountRecord{}, false, err
	}
	return rec, true, nil
}

// ListAccounts returns every account, ordered by username.
func (s *Store) ListAccounts() ([]handlers.AccountRecord, error) {
	rows, err := s.db.Query(`SELECT username, is_admin, is_shared, enabled, permissions FROM accounts ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []handlers.AccountRecord
	for rows.Next() {
		rec, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Authenticate verifies a plaintext password against the stored bcrypt
// hash, keeping the hash encapsulated in this package rather than
// exposing it through handlers.Store. A disabled account, an unknown
// username, or a password mismatch all report (_, false, nil); only a
// genuine storage failure returns a non-nil error.
func (s *Store) Authenticate(username, password string) (handlers.AccountRecord, bool, error) {
	var hash string
	var isAdmin, isShared, enabled int
	var perms string
	err := s.db.QueryRow(`SELECT password_hash, is_admin, is_shared, enabled, permissions FROM accounts WHERE username = ?`, username).
		Scan(&hash, &isAdmin, &isShared, &enabled, &perms)
	if err == sql.ErrNoRows {
		return handlers.AccountRecord{}, false, nil
	}
	if err != nil {
		return handlers.AccountRecord{}, false, err
	}
	if enabled == 0 {
		return handlers.AccountRecord{}, false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return handlers.AccountRecord{}, false, nil
	}
	return handlers.AccountRecord{
		Username:    username,
		IsAdmin:     isAdmin != 0,
		IsShared:    isShared != 0,
		Enabled:     true,
		Permissions: permissionsFromString(perms),
	}, true, nil
}

// ---------------------------------------------------------------------------
// Persistent channel state (internal/channel.Store)
// ---------------------------------------------------------------------------

// SaveChannelState upserts a persistent channel's topic and secrecy.
func (s *Store) SaveChannelState(name, topic, topicSetBy string, secret bool, secretSetBy string) error {
	_, err := s.db.Exec(`
		INSERT INTO channels(name, topic, topic_set_by, secret, secret_set_by) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			topic = excluded.topic, topic_set_by = excluded.topic_set_by,
			secret = excluded.secret, secret_set_by = excluded.secret_set_by`,
		name, topic, topicSetBy, boolToInt(secret), secretSetBy)
	return err
}

// ChannelState is the durable topic/secrecy snapshot for one persistent
// channel, reloaded at startup so a restart does not lose either.
type ChannelState struct {
	Name        string
	Topic       string
	TopicSetBy  string
	Secret      bool
	SecretSetBy string
}

// LoadChannelStates returns every persisted channel's saved state, for
// main.go to replay onto the in-memory channel.Manager after
// InitializePersistent seeds the empty channels.
func (s *Store) LoadChannelStates() ([]ChannelState, error) {
	rows, err := s.db.Query(`SELECT name, topic, topic_set_by, secret, secret_set_by FROM channels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelState
	for rows.Next() {
		var cs ChannelState
		var secret int
		if err := rows.Scan(&cs.Name, &cs.Topic, &cs.TopicSetBy, &secret, &cs.SecretSetBy); err != nil {
			return nil, err
		}
		cs.Secret = secret != 0
		out = append(out, cs)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// News (internal/handlers.Store)
// ---------------------------------------------------------------------------

func (s *Store) CreateNews(title, body, author string, createdAt int64) (protocol.NewsItem, error) {
	res, err := s.db.Exec(`INSERT INTO news(title, body, author, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
		title, body, author, createdAt, createdAt)
	if err != nil {
		return protocol.NewsItem{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return protocol.NewsItem{}, err
	}
	return protocol.NewsItem{ID: id, Title: title, Body: body, Author: author, CreatedAt: createdAt, UpdatedAt: createdAt}, nil
}

func (s *Store) UpdateNews(id int64, title, body string, updatedAt int64) (protocol.NewsItem, bool, error) {
	res, err := s.db.Exec(`UPDATE news SET title = ?, body = ?, updated_at = ? WHERE id = ?`, title, body, updatedAt, id)
	if err != nil {
		return protocol.NewsItem{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return protocol.NewsItem{}, false, err
	}
	if n == 0 {
		return protocol.NewsItem{}, false, nil
	}

	var item protocol.NewsItem
	err = s.db.QueryRow(`SELECT id, title, body, author, created_at, updated_at FROM news WHERE id = ?`, id).
		Scan(&item.ID, &item.Title, &item.Body, &item.Author, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return protocol.NewsItem{}, false, err
	}
	return item, true, nil
}

func (s *Store) DeleteNews(id int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM news WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListNews() ([]protocol.NewsItem, error) {
	rows, err := s.db.Query(`SELECT id, title, body, author, created_at, updated_at FROM news ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.NewsItem
	for rows.Next() {
		var item protocol.NewsItem
		if err := rows.Scan(&item.ID, &item.Title, &item.Body, &item.Author, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) NewsAuthor(id int64) (string, bool, bool, error) {
	var author string
	err := s.db.QueryRow(`SELECT author FROM news WHERE id = ?`, id).Scan(&author)
	if err == sql.ErrNoRows {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, err
	}
	var isAdmin int
	err = s.db.QueryRow(`SELECT is_admin FROM accounts WHERE username = ?`, author).Scan(&isAdmin)
	if err == sql.ErrNoRows {
		return author, false, true, nil
	}
	if err != nil {
		return "", false, false, err
	}
	return author, isAdmin != 0, true, nil
}

// ---------------------------------------------------------------------------
// Bans and trusts (internal/handlers.Store)
// ---------------------------------------------------------------------------

func (s *Store) AddBan(rec handlers.BanRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO bans(target, target_kind, reason, expires_at, created_by) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(target, target_kind) DO UPDATE SET
			reason = excluded.reason, expires_at = excluded.expires_at, created_by = excluded.created_by`,
		rec.Target, string(rec.TargetKind), rec.Reason, rec.ExpiresAt, rec.CreatedBy)
	return err
}

func (s *Store) DeleteBan(target string, kind protocol.TargetKind) ([]string, error) {
	res, err := s.db.Exec(`DELETE FROM bans WHERE target = ? AND target_kind = ?`, target, string(kind))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return nil, err
	}
	return []string{target}, nil
}

func (s *Store) ListBans() ([]handlers.BanRecord, error) {
	rows, err := s.db.Query(`SELECT target, target_kind, reason, expires_at, created_by FROM bans ORDER BY target`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []handlers.BanRecord
	for rows.Next() {
		var rec handlers.BanRecord
		var kind string
		var expiresAt sql.NullInt64
		if err := rows.Scan(&rec.Target, &kind, &rec.Reason, &expiresAt, &rec.CreatedBy); err != nil {
			return nil, err
		}
		rec.TargetKind = protocol.TargetKind(kind)
		if expiresAt.Valid {
			v := expiresAt.Int64
			rec.ExpiresAt = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AddTrust(rec handlers.TrustRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trusts(target, target_kind, reason, created_by) VALUES(?, ?, ?, ?)
		ON CONFLICT(target, target_kind) DO UPDATE SET
			reason = excluded.reason, created_by = excluded.created_by`,
		rec.Target, string(rec.TargetKind), rec.Reason, rec.CreatedBy)
	return err
}

func (s *Store) DeleteTrust(target string, kind protocol.TargetKind) ([]string, error) {
	res, err := s.db.Exec(`DELETE FROM trusts WHERE target = ? AND target_kind = ?`, target, string(kind))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return nil, err
	}
	return []string{target}, nil
}

func (s *Store) ListTrusts() ([]handlers.TrustRecord, error) {
	rows, err := s.db.Query(`SELECT target, target_kind, reason, created_by FROM trusts ORDER BY target`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []handlers.TrustRecord
	for rows.Next() {
		var rec handlers.TrustRecord
		var kind string
		if err := rows.Scan(&rec.Target, &kind, &rec.Reason, &rec.CreatedBy); err != nil {
			return nil, err
		}
		rec.TargetKind = protocol.TargetKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

// auditLogPurgeThreshold bounds the audit log's retained size; once it
// is exceeded InsertAuditLog prunes the oldest rows back down to it.
const auditLogPurgeThreshold = 10000

type AuditEntry struct {
	ID          int64
	Actor       string
	Action      string
	Target      string
	DetailsJSON string
	CreatedAt   int64
}

// InsertAuditLog records one administrative action, purging the oldest
// entries if the log has grown past auditLogPurgeThreshold.
func (s *Store) InsertAuditLog(actorSessionID int, actor, action, target, detailsJSON string) error {
	if detailsJSON == "" {
		detailsJSON = "{}"
	}
	now := time.Now().Unix()
	if _, err := s.db.Exec(`INSERT INTO audit_log(actor, action, target, details, created_at) VALUES(?, ?, ?, ?, ?)`,
		actor, action, target, detailsJSON, now); err != nil {
		return err
	}

	count, err := s.AuditLogCount()
	if err != nil {
		return err
	}
	if count <= auditLogPurgeThreshold {
		return nil
	}
	_, err = s.db.Exec(`
		DELETE FROM audit_log WHERE id IN (
			SELECT id FROM audit_log ORDER BY id ASC LIMIT ?
		)`, count-auditLogPurgeThreshold)
	return err
}

func (s *Store) AuditLogCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

// GetAuditLog returns the most recent entries, optionally filtered to
// one actor, newest first, capped at limit.
func (s *Store) GetAuditLog(actor string, limit int) ([]AuditEntry, error) {
	var rows *sql.Rows
	var err error
	if actor == "" {
		rows, err = s.db.Query(`SELECT id, actor, action, target, details, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT id, actor, action, target, details, created_at FROM audit_log WHERE actor = ? ORDER BY id DESC LIMIT ?`, actor, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func noRowsToErrNoRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
