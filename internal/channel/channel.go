// Package channel implements the chat channel/PM routing fabric:
// membership, topic, and secret-flag state, with ephemeral channels
// that disappear once empty and persistent channels whose topic and
// secret flag survive a restart.
package channel

import (
	"errors"
	"strings"
	"sync"
)

// ErrChannelNotFound is returned for operations against a channel that
// does not exist and is not being implicitly created by Join.
var ErrChannelNotFound = errors.New("channel: not found")

// ErrAlreadyMember is returned by Join when the session is already a
// member of the channel.
var ErrAlreadyMember = errors.New("channel: already a member")

// Store persists the durable (topic, secret) record of a persistent
// channel. A channel that is not persistent never calls through to it.
type Store interface {
	SaveChannelState(name, topic, topicSetBy string, secret bool, secretSetBy string) error
}

// Channel is one named chat room.
type Channel struct {
	Name        string
	Members     map[uint32]bool
	Topic       string
	TopicSetBy  string
	Secret      bool
	SecretSetBy string
	Persistent  bool
}

func newChannel(name string, persistent bool) *Channel {
	return &Channel{
		Name:       name,
		Members:    make(map[uint32]bool),
		Persistent: persistent,
	}
}

// JoinInfo is returned by Join on success: the channel's current
// state as the joining session should see it.
type JoinInfo struct {
	Members    []uint32
	Topic      string
	TopicSetBy string
	Secret     bool
}

// Summary is one entry of List's output.
type Summary struct {
	Name        string
	MemberCount int
	Topic       string
	Secret      bool
	Persistent  bool
}

// Manager owns every live channel, ephemeral and persistent.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel // key: lowercased name
	store    Store
}

// NewManager creates an empty channel manager. store may be nil if
// the server carries no persistent channels (every join then creates
// an ephemeral channel).
func NewManager(store Store) *Manager {
	return &Manager{
		channels: make(map[string]*Channel),
		store:    store,
	}
}

// InitializePersistent seeds the manager with the server's configured
// persistent channels (normally spec's `persistent_channels` setting),
// each starting empty with no topic and not secret. Called once at
// startup before any client joins.
func (m *Manager) InitializePersistent(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		key := strings.ToLower(name)
		if _, ok := m.channels[key]; ok {
			continue
		}
		m.channels[key] = newChannel(name, true)
	}
}

// Join adds session to the channel, creating it as ephemeral if it
// does not already exist.
func (m *Manager) Join(name string, session uint32) (JoinInfo, error) {
	key := strings.ToLower(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[key]
	if !ok {
		ch = newChannel(name, false)
		m.channels[key] = ch
	}
	if ch.Members[session] {
		return JoinInfo{}, ErrAlreadyMember
	}
	ch.Members[session] = true

	return JoinInfo{
		Members:    memberList(ch),
		Topic:      ch.Topic,
		TopicSetBy: ch.TopicSetBy,
		Secret:     ch.Secret,
	}, nil
}

// Leave removes session from the channel. Returns false if the
// channel or membership did not exist. Leaving the last member of an
// ephemeral channel deletes it; a persistent channel always survives
// empty.
func (m *Manager) Leave(name string, session uint32) bool {
	key := strings.ToLower(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[key]
	if !ok || !ch.Members[session] {
		return false
	}
	delete(ch.Members, session)
	if len(ch.Members) == 0 && !ch.Persistent {
		delete(m.channels, key)
	}
	return true
}

// IsMember reports whether session belongs to the named channel.
func (m *Manager) IsMember(name string, session uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[strings.ToLower(name)]
	return ok && ch.Members[session]
}

// GetMembers returns the current member session ids of the named
// channel (false if it does not exist).
func (m *Manager) GetMembers(name string) ([]uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return memberList(ch), true
}

// SetTopic updates the channel's topic, clearing it when topic is
// empty. existed reports whether the channel was found; the topic is
// persisted when the channel is a persistent one.
func (m *Manager) SetTopic(name, topic, setter string) (existed bool, err error) {
	key := strings.ToLower(name)

	m.mu.Lock()
	ch, ok := m.channels[key]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	ch.Topic = topic
	ch.TopicSetBy = setter
	persistent := ch.Persistent
	secret, secretSetBy := ch.Secret, ch.SecretSetBy
	canonicalName := ch.Name
	m.mu.Unlock()

	if persistent && m.store != nil {
		if err := m.store.SaveChannelState(canonicalName, topic, setter, secret, secretSetBy); err != nil {
			return true, err
		}
	}
	return true, nil
}

// SetSecret updates the channel's secret flag. existed reports
// whether the channel was found; the flag is persisted when the
// channel is a persistent one.
func (m *Manager) SetSecret(name string, secret bool, setter string) (existed bool, err error) {
	key := strings.ToLower(name)

	m.mu.Lock()
	ch, ok := m.channels[key]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	ch.Secret = secret
	ch.SecretSetBy = setter
	persistent := ch.Persistent
	topic, topicSetBy := ch.Topic, ch.TopicSetBy
	canonicalName := ch.Name
	m.mu.Unlock()

	if persistent && m.store != nil {
		if err := m.store.SaveChannelState(canonicalName, topic, topicSetBy, secret, setter); err != nil {
			return true, err
		}
	}
	return true, nil
}

// List returns a summary of every channel. Secret-channel filtering
// for non-members is the caller's responsibility (via IsMember),
// since the manager itself has no notion of "the requester".
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, Summary{
			Name:        ch.Name,
			MemberCount: len(ch.Members),
			Topic:       ch.Topic,
			Secret:      ch.Secret,
			Persistent:  ch.Persistent,
		})
	}
	return out
}

// RemoveFromAll removes session from every channel it belongs to,
// deleting any ephemeral channel this leaves empty, and returns the
// names of the channels it was removed from.
func (m *Manager) RemoveFromAll(session uint32) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var left []string
	for key, ch := range m.channels {
		if !ch.Members[session] {
			continue
		}
		delete(ch.Members, session)
		left = append(left, ch.Name)
		if len(ch.Members) == 0 && !ch.Persistent {
			delete(m.channels, key)
		}
	}
	return left
}

// ChannelsForSession returns the names of every channel session
// currently belongs to, in no particular order. Used to answer
// UserList/UserInfo's "channels" field without the caller needing to
// probe every channel individually.
func (m *Manager) ChannelsForSession(session uint32) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, ch := range m.channels {
		if ch.Members[session] {
			out = append(out, ch.Name)
		}
	}
	return out
}

// Exists reports whether the named channel currently exists.
func (m *Manager) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.channels[strings.ToLower(name)]
	return ok
}

func memberList(ch *Channel) []uint32 {
	out := make([]uint32, 0, len(ch.Members))
	for id := range ch.Members {
		out = append(out, id)
	}
	return out
}
