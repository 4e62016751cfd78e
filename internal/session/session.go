// Package session implements the authenticated-session registry: the
// nickname index, per-session outbound mailbox, and the broadcast fan
// out used by every command handler.
package session

import (
	"errors"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nexus/server/internal/permission"
)

// Errors returned by Register.
var (
	ErrNicknameInUse   = errors.New("session: nickname in use")
	ErrAccountDisabled = errors.New("session: account disabled")
)

// mailboxCapacity bounds each session's outbound queue. A session that
// cannot keep up has its mailbox closed and is torn down rather than
// let the queue grow without bound.
const mailboxCapacity = 256

// circuitBreakerThreshold is the number of consecutive send failures
// after which a session's health is considered broken and the session
// is torn down instead of continuing to be offered new sends.
const circuitBreakerThreshold = 50

// Envelope is one outbound item: a ServerMessage payload (from
// internal/protocol) optionally correlated to the request's message id
// (for request/response pairs; events pass a zero uuid).
type Envelope struct {
	Kind      uint8
	MessageID uuid.UUID
	Payload   any
}

// Account is the subset of IdentityAccount a session needs once
// logged in; the full record lives in the store.
type Account struct {
	Username    string
	IsAdmin     bool
	IsShared    bool
	Enabled     bool
	Permissions permission.Set
}

// Session is one authenticated, live connection.
type Session struct {
	ID       uint32
	Account  Account
	Nickname string
	Features map[string]bool
	Locale   string
	Avatar   []byte
	Status   atomic.Pointer[string]
	Addr     netip.Addr
	LoginAt  int64

	mailbox chan Envelope
	closed  atomic.Bool

	health health
}

// HasFeature reports whether the session opted into feature.
func (s *Session) HasFeature(feature string) bool {
	return s.Features[feature]
}

// HasPermission reports whether the session may exercise p. Admins
// implicitly hold every permission.
func (s *Session) HasPermission(p permission.Permission) bool {
	return s.Account.IsAdmin || s.Account.Permissions.Has(p)
}

// Send enqueues an envelope onto the session's mailbox without
// blocking. Returns false if the mailbox is full or closed, in which
// case the caller should record a health failure via the registry.
func (s *Session) Send(env Envelope) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.mailbox <- env:
		return true
	default:
		return false
	}
}

// Outbox returns the channel handlers drain to write frames to the
// wire. Closed once the session is removed from the registry.
func (s *Session) Outbox() <-chan Envelope {
	return s.mailbox
}

type health struct {
	failures atomic.Uint32
}

func (h *health) recordFailure() uint32 {
	return h.failures.Add(1)
}

func (h *health) recordSuccess() {
	h.failures.Store(0)
}

func (h *health) broken() bool {
	return h.failures.Load() >= circuitBreakerThreshold
}

// RecordSendFailure tracks one failed write attempt against the
// session's circuit breaker, returning true once the breaker trips and
// the session should be forcibly removed.
func (s *Session) RecordSendFailure() bool {
	return s.health.recordFailure() >= circuitBreakerThreshold
}

// RecordSendSuccess resets the circuit breaker after a successful write.
func (s *Session) RecordSendSuccess() {
	s.health.recordSuccess()
}

// Registry tracks every live session, indexed by id and by nickname,
// plus a secondary index from username to every live session of that
// username (a regular account may have more than one concurrent
// session; a shared account may not share a nickname across sessions).
type Registry struct {
	mu         sync.RWMutex
	byID       map[uint32]*Session
	byNickname map[string]*Session // key: lowercased nickname
	byUsername map[string]map[uint32]*Session // key: lowercased username

	nextID atomic.Uint32
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[uint32]*Session),
		byNickname: make(map[string]*Session),
		byUsername: make(map[string]map[uint32]*Session),
	}
}

// Register creates and indexes a new session. nickname is required
// for shared accounts (and must be unique among live sessions); for
// regular accounts the account's username is used verbatim regardless
// of what nickname is supplied.
func (r *Registry) Register(account Account, features map[string]bool, locale string, avatar []byte, nickname string, addr netip.Addr, now int64) (*Session, error) {
	if !account.Enabled {
		return nil, ErrAccountDisabled
	}

	resolved := account.Username
	if account.IsShared {
		if nickname == "" {
			nickname = account.Username
		}
		resolved = nickname
	}
	key := strings.ToLower(resolved)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byNickname[key]; taken {
		return nil, ErrNicknameInUse
	}

	status := ""
	sess := &Session{
		ID:       r.nextID.Add(1),
		Account:  account,
		Nickname: resolved,
		Features: features,
		Locale:   locale,
		Avatar:   avatar,
		Addr:     addr,
		LoginAt:  now,
		mailbox:  make(chan Envelope, mailboxCapacity),
	}
	sess.Status.Store(&status)

	r.byID[sess.ID] = sess
	r.byNickname[key] = sess
	if r.byUsername[strings.ToLower(account.Username)] == nil {
		r.byUsername[strings.ToLower(account.Username)] = make(map[uint32]*Session)
	}
	r.byUsername[strings.ToLower(account.Username)][sess.ID] = sess

	return sess, nil
}

// Remove unregisters id, closing its mailbox, and returns the removed
// session (nil, false if it was not present).
func (r *Registry) Remove(id uint32) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id uint32) (*Session, bool) {
	sess, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.byNickname, strings.ToLower(sess.Nickname))
	if byUser := r.byUsername[strings.ToLower(sess.Account.Username)]; byUser != nil {
		delete(byUser, id)
		if len(byUser) == 0 {
			delete(r.byUsername, strings.ToLower(sess.Account.Username))
		}
	}
	if sess.closed.CompareAndSwap(false, true) {
		close(sess.mailbox)
	}
	return sess, true
}

// RemoveAndBroadcast removes id and, if removed, invokes onRemoved
// with the removed session so the caller can fan out a disconnect
// event (e.g. UserDisconnected) without the registry itself needing to
// know about specific message types.
func (r *Registry) RemoveAndBroadcast(id uint32, onRemoved func(*Session)) {
	sess, ok := r.Remove(id)
	if ok && onRemoved != nil {
		onRemoved(sess)
	}
}

// GetBySessionID looks up a session by id.
func (r *Registry) GetBySessionID(id uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// GetByNickname looks up a session by nickname, case-insensitively.
func (r *Registry) GetByNickname(nickname string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byNickname[strings.ToLower(nickname)]
	return sess, ok
}

// SessionsByUsername returns every live session of username,
// case-insensitively. The slice is a snapshot; it is safe to range
// over after the lock is released.
func (r *Registry) SessionsByUsername(username string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byUser := r.byUsername[strings.ToLower(username)]
	out := make([]*Session, 0, len(byUser))
	for _, s := range byUser {
		out = append(out, s)
	}
	return out
}

// BroadcastToNickname enqueues env on the single live session with
// the given nickname, if any.
func (r *Registry) BroadcastToNickname(nickname string, env Envelope) {
	if sess, ok := r.GetByNickname(nickname); ok {
		r.deliver(sess, env)
	}
}

// BroadcastToFeature enqueues env on every live session that has
// feature enabled and for which allow returns true (typically a
// required-permission check). Sessions whose mailbox is full or whose
// circuit breaker has tripped are removed from the registry rather
// than retried.
func (r *Registry) BroadcastToFeature(feature string, env Envelope, allow func(*Session) bool) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.byID))
	for _, sess := range r.byID {
		if sess.HasFeature(feature) && (allow == nil || allow(sess)) {
			targets = append(targets, sess)
		}
	}
	r.mu.RUnlock()

	for _, sess := range targets {
		r.deliver(sess, env)
	}
}

// SendToSession enqueues env on exactly one session by id.
func (r *Registry) SendToSession(id uint32, env Envelope) bool {
	sess, ok := r.GetBySessionID(id)
	if !ok {
		return false
	}
	return r.deliver(sess, env)
}

func (r *Registry) deliver(sess *Session, env Envelope) bool {
	if sess.Send(env) {
		sess.RecordSendSuccess()
		return true
	}
	if sess.RecordSendFailure() {
		r.Remove(sess.ID)
	}
	return false
}

// ForEach calls fn for every live session. fn runs against a snapshot
// taken under the registry lock, so it may safely call back into the
// registry (e.g. to deliver an envelope) without deadlocking.
func (r *Registry) ForEach(fn func(*Session)) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.byID))
	for _, sess := range r.byID {
		targets = append(targets, sess)
	}
	r.mu.RUnlock()

	for _, sess := range targets {
		fn(sess)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Now is the clock Register callers should use; kept as a variable so
// tests can substitute a fixed value.
var Now = func() int64 { return time.Now().Unix() }
