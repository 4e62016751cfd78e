// Package handlers implements the command handlers the dispatcher
// routes authenticated requests to: chat, user presence, news, ban/
// trust administration, and voice session setup. File operations and
// the transfer-plane handlers live alongside the transfer engine
// itself (internal/transfer) rather than here, since they need the
// separate transfer-connection writer, not a session mailbox.
package handlers

import (
	"github.com/google/uuid"

	"nexus/server/internal/channel"
	"nexus/server/internal/config"
	"nexus/server/internal/iprule"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/voice"
)

// AccountRecord mirrors the durable identity fields handlers need that
// outlive a single session: resolving a ban/kick target, and answering
// UserInfo for an offline account.
type AccountRecord struct {
	Username    string
	IsAdmin     bool
	IsShared    bool
	Enabled     bool
	Permissions []string
}

// BanRecord is one durable ban entry. Address-kind entries are mirrored
// into the in-memory IP-rule cache for the pre-TLS admission check;
// nickname/username-kind entries exist for the admin-facing listing
// and to kick the matching live sessions at creation time (enforcing a
// nickname/username ban against a *future* login is the store's job,
// at account-lookup time, not this package's).
type BanRecord struct {
	Target     string
	TargetKind protocol.TargetKind
	Reason     string
	ExpiresAt  *int64
	CreatedBy  string
}

// TrustRecord is one durable trust entry. Only address-kind entries
// affect the IP-rule cache; a nickname/username trust is a bookkeeping
// annotation with no bearing on pre-TLS admission.
type TrustRecord struct {
	Target     string
	TargetKind protocol.TargetKind
	Reason     string
	CreatedBy  string
}

// Store is the persistence surface handlers need beyond the in-memory
// session, channel, and IP-rule caches: durable news items and ban/
// trust records, and account lookup for targets that may be offline.
type Store interface {
	GetAccount(username string) (AccountRecord, bool, error)
	// Authenticate verifies a plaintext password against the account's
	// stored credential, keeping the hash itself encapsulated in the
	// store so no handler ever sees it.
	Authenticate(username, password string) (AccountRecord, bool, error)

	CreateNews(title, body, author string, createdAt int64) (protocol.NewsItem, error)
	UpdateNews(id int64, title, body string, updatedAt int64) (protocol.NewsItem, bool, error)
	DeleteNews(id int64) (bool, error)
	ListNews() ([]protocol.NewsItem, error)
	NewsAuthor(id int64) (author string, isAdmin bool, ok bool, err error)

	AddBan(rec BanRecord) error
	DeleteBan(target string, kind protocol.TargetKind) ([]string, error)
	ListBans() ([]BanRecord, error)

	AddTrust(rec TrustRecord) error
	DeleteTrust(target string, kind protocol.TargetKind) ([]string, error)
	ListTrusts() ([]TrustRecord, error)
}

// Context bundles everything a command handler needs. It generalizes
// the teacher's per-feature callback registrations (SetOnRename,
// SetOnCreateChannel, ...) into one struct threaded through every
// handler, since here the set of operations is fixed by the protocol
// rather than assembled piecemeal by the caller.
type Context struct {
	Sessions *session.Registry
	Channels *channel.Manager
	Bans     *iprule.Cache
	Settings *config.Settings
	Voice    *voice.Registry
	Store    Store

	// VoiceRelayAddress is the UDP/DTLS relay's advertised address,
	// handed back to a client on VoiceJoin so it knows where to send
	// media packets.
	VoiceRelayAddress string

	// FileAreaRoot is the absolute, canonical directory backing every
	// file operation: per-user areas live under <FileAreaRoot>/users/
	// <username>, and the global root (file_root permission required)
	// is FileAreaRoot itself. Unused by this package directly; threaded
	// through to the file operations control plane (internal/transfer)
	// and the transfer engine, which share this Context.
	FileAreaRoot string

	// Now is the clock handlers use for timestamps, overridable in
	// tests. Defaults to session.Now's wall-clock source.
	Now func() int64
}

func (c *Context) now() int64 {
	if c.Now != nil {
		return c.Now()
	}
	return session.Now()
}

// reply enqueues a correlated response to the requesting session.
func reply(ctx *Context, sess *session.Session, kind protocol.Kind, msgID uuid.UUID, payload any) {
	ctx.Sessions.SendToSession(sess.ID, session.Envelope{Kind: kind, MessageID: msgID, Payload: payload})
}

// event enqueues an uncorrelated (zero message id) envelope, for
// broadcasts the recipient did not request.
func event(ctx *Context, target *session.Session, kind protocol.Kind, payload any) {
	ctx.Sessions.SendToSession(target.ID, session.Envelope{Kind: kind, Payload: payload})
}

// forEachSession visits every live session, for handlers that fan out
// by permission rather than by feature opt-in.
func (c *Context) forEachSession(fn func(*session.Session)) {
	c.Sessions.ForEach(fn)
}
