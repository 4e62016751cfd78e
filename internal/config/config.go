// Package config exposes the persisted, runtime-editable server
// settings as typed accessors over a generic string key/value store,
// with the documented defaults applied when a key is unset.
package config

import (
	"strconv"
	"strings"
)

// Store is the minimal persistence contract config needs; store.Store
// satisfies it directly.
type Store interface {
	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
}

// Keys for every persisted setting this server understands.
const (
	KeyMaxConnectionsPerIP       = "max_connections_per_ip"
	KeyMaxTransfersPerIP         = "max_transfers_per_ip"
	KeyServerName                = "server_name"
	KeyServerDescription         = "server_description"
	KeyServerImage               = "server_image"
	KeyFileReindexIntervalMins   = "file_reindex_interval_minutes"
	KeyPersistentChannels        = "persistent_channels"
	KeyAutoJoinChannels          = "auto_join_channels"
)

// Defaults matching the spec's documented persisted-key defaults.
const (
	DefaultMaxConnectionsPerIP     = 5
	DefaultMaxTransfersPerIP       = 3
	DefaultServerName              = "Nexus BBS"
	DefaultServerDescription       = ""
	DefaultServerImage             = ""
	DefaultFileReindexIntervalMins = 5
	DefaultPersistentChannels      = "#general"
)

// Settings reads and writes the persisted configuration, falling back
// to documented defaults for any key the store has never had set.
type Settings struct {
	store Store
}

// New wraps store as a typed settings facade.
func New(store Store) *Settings {
	return &Settings{store: store}
}

func (s *Settings) getString(key, def string) (string, error) {
	v, ok, err := s.store.GetSetting(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

func (s *Settings) getUint(key string, def uint64) (uint64, error) {
	v, ok, err := s.store.GetSetting(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// MaxConnectionsPerIP returns the current per-IP main connection
// limit (0 = unlimited).
func (s *Settings) MaxConnectionsPerIP() (uint64, error) {
	return s.getUint(KeyMaxConnectionsPerIP, DefaultMaxConnectionsPerIP)
}

// SetMaxConnectionsPerIP persists a new per-IP main connection limit.
func (s *Settings) SetMaxConnectionsPerIP(limit uint64) error {
	return s.store.SetSetting(KeyMaxConnectionsPerIP, strconv.FormatUint(limit, 10))
}

// MaxTransfersPerIP returns the current per-IP transfer connection
// limit (0 = unlimited).
func (s *Settings) MaxTransfersPerIP() (uint64, error) {
	return s.getUint(KeyMaxTransfersPerIP, DefaultMaxTransfersPerIP)
}

// SetMaxTransfersPerIP persists a new per-IP transfer connection limit.
func (s *Settings) SetMaxTransfersPerIP(limit uint64) error {
	return s.store.SetSetting(KeyMaxTransfersPerIP, strconv.FormatUint(limit, 10))
}

// ServerName returns the display name advertised in handshake/info replies.
func (s *Settings) ServerName() (string, error) {
	return s.getString(KeyServerName, DefaultServerName)
}

// SetServerName persists a new display name.
func (s *Settings) SetServerName(name string) error {
	return s.store.SetSetting(KeyServerName, name)
}

// ServerDescription returns the server's descriptive blurb.
func (s *Settings) ServerDescription() (string, error) {
	return s.getString(KeyServerDescription, DefaultServerDescription)
}

// SetServerDescription persists a new descriptive blurb.
func (s *Settings) SetServerDescription(desc string) error {
	return s.store.SetSetting(KeyServerDescription, desc)
}

// ServerImage returns the server's base64 data-URI logo, if any.
func (s *Settings) ServerImage() (string, error) {
	return s.getString(KeyServerImage, DefaultServerImage)
}

// SetServerImage persists a new data-URI logo.
func (s *Settings) SetServerImage(dataURI string) error {
	return s.store.SetSetting(KeyServerImage, dataURI)
}

// FileReindexIntervalMinutes returns how often the file area index is
// rebuilt in the background (0 disables the periodic reindex).
func (s *Settings) FileReindexIntervalMinutes() (uint64, error) {
	return s.getUint(KeyFileReindexIntervalMins, DefaultFileReindexIntervalMins)
}

// SetFileReindexIntervalMinutes persists a new reindex interval.
func (s *Settings) SetFileReindexIntervalMinutes(minutes uint64) error {
	return s.store.SetSetting(KeyFileReindexIntervalMins, strconv.FormatUint(minutes, 10))
}

// PersistentChannels returns the whitespace-separated list of channels
// that survive server restarts with no members.
func (s *Settings) PersistentChannels() ([]string, error) {
	v, err := s.getString(KeyPersistentChannels, DefaultPersistentChannels)
	if err != nil {
		return nil, err
	}
	return strings.Fields(v), nil
}

// SetPersistentChannels persists the list of persistent channel names.
func (s *Settings) SetPersistentChannels(channels []string) error {
	return s.store.SetSetting(KeyPersistentChannels, strings.Join(channels, " "))
}

// AutoJoinChannels returns the whitespace-separated list of channels a
// client should join automatically after login.
func (s *Settings) AutoJoinChannels() ([]string, error) {
	v, err := s.getString(KeyAutoJoinChannels, "")
	if err != nil {
		return nil, err
	}
	return strings.Fields(v), nil
}

// SetAutoJoinChannels persists the auto-join channel list.
func (s *Settings) SetAutoJoinChannels(channels []string) error {
	return s.store.SetSetting(KeyAutoJoinChannels, strings.Join(channels, " "))
}
