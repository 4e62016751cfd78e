// Package validate holds the field-typed validators the request
// handlers run over inbound request fields before acting on them, each
// returning one of the input-validation error kinds from the error
// taxonomy (Empty, TooLong, InvalidCharacters, ContainsNewlines,
// InvalidFormat).
package validate

import (
	"errors"
	"net/netip"
	"strings"
	"unicode"
)

// Kind classifies a validation failure, matching the spec's input-
// validation error taxonomy so dispatch code can map it to a localized
// client-facing message without string matching.
type Kind string

const (
	KindEmpty             Kind = "empty"
	KindTooLong           Kind = "too_long"
	KindInvalidCharacters Kind = "invalid_characters"
	KindContainsNewlines  Kind = "contains_newlines"
	KindInvalidFormat     Kind = "invalid_format"
)

// Error reports a validation failure for a named field.
type Error struct {
	Field string
	Kind  Kind
}

func (e *Error) Error() string {
	return "validate: " + e.Field + ": " + string(e.Kind)
}

func fail(field string, kind Kind) error {
	return &Error{Field: field, Kind: kind}
}

// As reports whether err is a *Error, for dispatch-layer mapping.
func As(err error) (*Error, bool) {
	var v *Error
	ok := errors.As(err, &v)
	return v, ok
}

// Length bounds. These are this server's own chosen limits; the spec
// requires bounded length but does not fix the exact numbers.
const (
	MaxNicknameLen    = 32
	MaxUsernameLen    = 32
	MaxChannelNameLen = 64
	MaxMessageLen     = 4096
	MaxTopicLen       = 256
	MaxServerNameLen  = 128
	MaxServerDescLen  = 1024
	MaxServerImageLen = 256 * 1024 // base64 data URI
	MaxNewsTitleLen   = 200
	MaxNewsBodyLen    = 64 * 1024
)

func containsNewline(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

func containsControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' {
			return true
		}
	}
	return false
}

// Nickname validates a login/display nickname: non-empty, bounded,
// no whitespace, no control characters.
func Nickname(s string) error {
	if s == "" {
		return fail("nickname", KindEmpty)
	}
	if len(s) > MaxNicknameLen {
		return fail("nickname", KindTooLong)
	}
	if containsNewline(s) {
		return fail("nickname", KindContainsNewlines)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fail("nickname", KindInvalidCharacters)
		}
	}
	return nil
}

// Username validates an account username: same shape as Nickname.
func Username(s string) error {
	if s == "" {
		return fail("username", KindEmpty)
	}
	if len(s) > MaxUsernameLen {
		return fail("username", KindTooLong)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fail("username", KindInvalidCharacters)
		}
	}
	return nil
}

// MaxPasswordLen bounds the credential bcrypt will actually hash;
// bcrypt itself silently truncates at 72 bytes, so anything longer is
// rejected up front instead of accepted and quietly weakened.
const MaxPasswordLen = 72

// Password validates a login/account password: non-empty, bounded to
// what bcrypt can use.
func Password(s string) error {
	if s == "" {
		return fail("password", KindEmpty)
	}
	if len(s) > MaxPasswordLen {
		return fail("password", KindTooLong)
	}
	return nil
}

// ChannelName validates a channel name: must start with '#', bounded
// length, restricted character set (letters, digits, '-', '_').
// Callers lower-case the result themselves for indexing.
func ChannelName(s string) error {
	if s == "" {
		return fail("channel", KindEmpty)
	}
	if !strings.HasPrefix(s, "#") {
		return fail("channel", KindInvalidFormat)
	}
	if len(s) > MaxChannelNameLen {
		return fail("channel", KindTooLong)
	}
	body := s[1:]
	if body == "" {
		return fail("channel", KindInvalidFormat)
	}
	for _, r := range body {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return fail("channel", KindInvalidCharacters)
		}
	}
	return nil
}

// Message validates chat message/PM content: non-empty, bounded, no
// newlines, no control characters.
func Message(s string) error {
	if s == "" {
		return fail("message", KindEmpty)
	}
	if len(s) > MaxMessageLen {
		return fail("message", KindTooLong)
	}
	if containsNewline(s) {
		return fail("message", KindContainsNewlines)
	}
	if containsControl(s) {
		return fail("message", KindInvalidCharacters)
	}
	return nil
}

// Topic validates a channel topic. An empty topic is allowed (it
// clears the topic) so callers should not call Topic for the clearing
// case; this only bounds non-empty topics.
func Topic(s string) error {
	if s == "" {
		return nil
	}
	if len(s) > MaxTopicLen {
		return fail("topic", KindTooLong)
	}
	if containsNewline(s) {
		return fail("topic", KindContainsNewlines)
	}
	return nil
}

// TargetAddress validates a ban/trust target that names a single IP
// or a CIDR range.
func TargetAddress(s string) error {
	if s == "" {
		return fail("target", KindEmpty)
	}
	if _, err := netip.ParsePrefix(s); err == nil {
		return nil
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return nil
	}
	return fail("target", KindInvalidFormat)
}

// ServerName validates the persisted server_name setting.
func ServerName(s string) error {
	if s == "" {
		return fail("server_name", KindEmpty)
	}
	if len(s) > MaxServerNameLen {
		return fail("server_name", KindTooLong)
	}
	if containsNewline(s) {
		return fail("server_name", KindContainsNewlines)
	}
	return nil
}

// ServerDescription validates the persisted server_description
// setting. Empty is allowed (it is the documented default).
func ServerDescription(s string) error {
	if len(s) > MaxServerDescLen {
		return fail("server_description", KindTooLong)
	}
	return nil
}

// ServerImage validates the persisted server_image data URI.
func ServerImage(s string) error {
	if len(s) > MaxServerImageLen {
		return fail("server_image", KindTooLong)
	}
	if s != "" && !strings.HasPrefix(s, "data:") {
		return fail("server_image", KindInvalidFormat)
	}
	return nil
}

// NewsTitle validates a news post title.
func NewsTitle(s string) error {
	if s == "" {
		return fail("news_title", KindEmpty)
	}
	if len(s) > MaxNewsTitleLen {
		return fail("news_title", KindTooLong)
	}
	if containsNewline(s) {
		return fail("news_title", KindContainsNewlines)
	}
	return nil
}

// NewsBody validates a news post body. Newlines are permitted.
func NewsBody(s string) error {
	if s == "" {
		return fail("news_body", KindEmpty)
	}
	if len(s) > MaxNewsBodyLen {
		return fail("news_body", KindTooLong)
	}
	return nil
}

// ChannelList validates a whitespace-separated list of channel names
// (persistent_channels / auto_join_channels settings), returning the
// parsed, validated names.
func ChannelList(s string) ([]string, error) {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if err := ChannelName(f); err != nil {
			return nil, err
		}
		out = append(out, strings.ToLower(f))
	}
	return out, nil
}
