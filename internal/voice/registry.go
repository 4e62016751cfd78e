package voice

import (
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PairTargetKey builds the canonical target key for a user-message
// voice call between two nicknames. A channel target's key is the
// channel name itself, verbatim (it already starts with '#' and needs
// no canonicalization).
func PairTargetKey(a, b string) string {
	pair := []string{a, b}
	sort.Slice(pair, func(i, j int) bool { return strings.ToLower(pair[i]) < strings.ToLower(pair[j]) })
	return strings.Join(pair, ":")
}

// Session is one participant's place in a voice call.
type Session struct {
	SessionID uint32
	Nickname  string
	Token     uuid.UUID
	Target    string // client-facing target: "#channel" or a nickname
	TargetKey string // registry grouping key

	UDPAddr netip.AddrPort
	hasAddr bool
}

// Registry tracks every live voice session, joined over TCP and then
// authenticated over UDP/DTLS by token on first packet.
type Registry struct {
	mu         sync.RWMutex
	byToken    map[uuid.UUID]*Session
	bySession  map[uint32]*Session
	byTarget   map[string]map[uuid.UUID]bool
	ipSessions map[netip.Addr]int // refcount of voice sessions whose client may originate from this IP
}

// NewRegistry creates an empty voice registry.
func NewRegistry() *Registry {
	return &Registry{
		byToken:    make(map[uuid.UUID]*Session),
		bySession:  make(map[uint32]*Session),
		byTarget:   make(map[string]map[uuid.UUID]bool),
		ipSessions: make(map[netip.Addr]int),
	}
}

// HasSession reports whether sessionID already has a live voice session.
func (r *Registry) HasSession(sessionID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySession[sessionID]
	return ok
}

// Join registers a new voice session for sessionID against targetKey,
// returning a fresh authentication token. expectedIP is the TCP
// connection's address, pre-registered so the UDP/DTLS accept loop
// can reject packets from IPs with no pending voice session.
func (r *Registry) Join(sessionID uint32, nickname, target, targetKey string, expectedIP netip.Addr) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := &Session{
		SessionID: sessionID,
		Nickname:  nickname,
		Token:     uuid.New(),
		Target:    target,
		TargetKey: targetKey,
	}

	r.byToken[sess.Token] = sess
	r.bySession[sessionID] = sess
	if r.byTarget[targetKey] == nil {
		r.byTarget[targetKey] = make(map[uuid.UUID]bool)
	}
	r.byTarget[targetKey][sess.Token] = true
	r.ipSessions[expectedIP]++

	return sess
}

// Leave removes the voice session belonging to sessionID, if any, and
// returns it so the caller can emit VoiceUserLeft.
func (r *Registry) Leave(sessionID uint32, originIP netip.Addr) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.bySession[sessionID]
	if !ok {
		return nil, false
	}
	delete(r.bySession, sessionID)
	delete(r.byToken, sess.Token)
	if targets := r.byTarget[sess.TargetKey]; targets != nil {
		delete(targets, sess.Token)
		if len(targets) == 0 {
			delete(r.byTarget, sess.TargetKey)
		}
	}
	if n := r.ipSessions[originIP]; n <= 1 {
		delete(r.ipSessions, originIP)
	} else {
		r.ipSessions[originIP] = n - 1
	}
	return sess, true
}

// GetByToken looks up a session by its voice auth token.
func (r *Registry) GetByToken(token uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byToken[token]
	return sess, ok
}

// SetUDPAddr records the UDP/DTLS source address a token's first
// valid packet arrived from, so later relays know where to send.
func (r *Registry) SetUDPAddr(token uuid.UUID, addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.byToken[token]; ok && !sess.hasAddr {
		sess.UDPAddr = addr
		sess.hasAddr = true
	}
}

// HasSessionForIP reports whether any live voice session was joined
// from ip, used to gate the DTLS accept loop before a token exists.
func (r *Registry) HasSessionForIP(ip netip.Addr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ipSessions[ip] > 0
}

// Count returns the number of live voice sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// GetSessionsForTarget returns every session sharing targetKey, i.e.
// the participants to relay one sender's packet to.
func (r *Registry) GetSessionsForTarget(targetKey string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := r.byTarget[targetKey]
	out := make([]*Session, 0, len(tokens))
	for token := range tokens {
		out = append(out, r.byToken[token])
	}
	return out
}
