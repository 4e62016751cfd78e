// Package uri parses and renders the nexus:// deep-link scheme used
// for bookmarks and client-side navigation.
//
// Form: nexus://[user[:password]@]host[:port][/path]
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is used when no port is present in the authority.
const DefaultPort = 7500

// PathKind identifies the navigation intent encoded in the path.
type PathKind int

const (
	PathNone PathKind = iota
	PathChat
	PathFiles
	PathNews
	PathInfo
)

// Path is the parsed form of the URI's path component.
type Path struct {
	Kind PathKind
	// Channel is set for /chat/#channel (without the '#').
	Channel string
	// User is set for /chat/user (a direct-message intent).
	User string
	// FilePath is set for /files/[path].
	FilePath string
}

// URI is a parsed nexus:// reference.
type URI struct {
	User     string // empty if absent
	Password string // empty if absent or no password given
	HasAuth  bool   // true if userinfo was present at all
	Host     string
	Port     int
	Path     Path
}

var (
	ErrInvalidScheme = errors.New("uri: scheme must be nexus")
	ErrMissingHost   = errors.New("uri: missing host")
	ErrInvalidPort   = errors.New("uri: invalid port")
	ErrInvalidPath   = errors.New("uri: unrecognized path intent")
)

// Parse decodes s into a URI, percent-decoding userinfo as UTF-8.
func Parse(s string) (URI, error) {
	const scheme = "nexus://"
	if !strings.HasPrefix(s, scheme) {
		return URI{}, ErrInvalidScheme
	}
	rest := s[len(scheme):]

	var authority, pathPart string
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		authority, pathPart = rest[:idx], rest[idx:]
	} else {
		authority = rest
	}
	if authority == "" {
		return URI{}, ErrMissingHost
	}

	var u URI
	userinfo := ""
	hostport := authority
	if idx := strings.LastIndexByte(authority, '@'); idx >= 0 {
		userinfo = authority[:idx]
		hostport = authority[idx+1:]
		u.HasAuth = true
	}
	if u.HasAuth {
		user, pass, hasPass := strings.Cut(userinfo, ":")
		decUser, err := url.PathUnescape(user)
		if err != nil {
			return URI{}, fmt.Errorf("uri: decode userinfo: %w", err)
		}
		u.User = decUser
		if hasPass {
			decPass, err := url.PathUnescape(pass)
			if err != nil {
				return URI{}, fmt.Errorf("uri: decode userinfo: %w", err)
			}
			u.Password = decPass
		}
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return URI{}, err
	}
	if host == "" {
		return URI{}, ErrMissingHost
	}
	u.Host = host
	u.Port = port

	p, err := parsePath(pathPart)
	if err != nil {
		return URI{}, err
	}
	u.Path = p

	return u, nil
}

// splitHostPort separates a bracketed-or-bare IPv6 host, a bracketed
// IPv4/hostname with port, or a bare hostname with an optional port.
// Unbracketed IPv6 (two or more colons, no brackets) is accepted only
// without a port, since the colons would otherwise be ambiguous.
func splitHostPort(hostport string) (string, int, error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, ErrMissingHost
		}
		host := hostport[1:end]
		remainder := hostport[end+1:]
		if remainder == "" {
			return host, DefaultPort, nil
		}
		if !strings.HasPrefix(remainder, ":") {
			return "", 0, ErrInvalidPort
		}
		port, err := strconv.Atoi(remainder[1:])
		if err != nil || port < 1 || port > 65535 {
			return "", 0, ErrInvalidPort
		}
		return host, port, nil
	}

	if strings.Count(hostport, ":") >= 2 {
		// Unbracketed IPv6, no port permitted.
		return hostport, DefaultPort, nil
	}

	if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 {
		host := hostport[:idx]
		port, err := strconv.Atoi(hostport[idx+1:])
		if err != nil || port < 1 || port > 65535 {
			return "", 0, ErrInvalidPort
		}
		return host, port, nil
	}

	return hostport, DefaultPort, nil
}

func parsePath(p string) (Path, error) {
	if p == "" || p == "/" {
		return Path{Kind: PathNone}, nil
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	intent := strings.ToLower(segments[0])

	switch intent {
	case "chat":
		if len(segments) < 2 || segments[1] == "" {
			return Path{Kind: PathChat}, nil
		}
		target := segments[1]
		if strings.HasPrefix(target, "#") {
			return Path{Kind: PathChat, Channel: strings.TrimPrefix(target, "#")}, nil
		}
		return Path{Kind: PathChat, User: target}, nil
	case "files":
		return Path{Kind: PathFiles, FilePath: strings.Join(segments[1:], "/")}, nil
	case "news":
		return Path{Kind: PathNews}, nil
	case "info":
		return Path{Kind: PathInfo}, nil
	default:
		return Path{}, ErrInvalidPath
	}
}

// unreserved characters left unescaped by percent-encoding, per RFC 3986.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// String renders u back into nexus:// form, with userinfo
// percent-encoded over its unreserved-character whitelist. Parsing
// the result reproduces u exactly.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString("nexus://")
	if u.HasAuth {
		b.WriteString(percentEncode(u.User))
		if u.Password != "" {
			b.WriteByte(':')
			b.WriteString(percentEncode(u.Password))
		}
		b.WriteByte('@')
	}

	host := u.Host
	if strings.Contains(host, ":") {
		b.WriteByte('[')
		b.WriteString(host)
		b.WriteByte(']')
	} else {
		b.WriteString(host)
	}
	if u.Port != DefaultPort {
		fmt.Fprintf(&b, ":%d", u.Port)
	}

	switch u.Path.Kind {
	case PathChat:
		b.WriteString("/chat")
		if u.Path.Channel != "" {
			b.WriteString("/#")
			b.WriteString(u.Path.Channel)
		} else if u.Path.User != "" {
			b.WriteByte('/')
			b.WriteString(u.Path.User)
		}
	case PathFiles:
		b.WriteString("/files")
		if u.Path.FilePath != "" {
			b.WriteByte('/')
			b.WriteString(u.Path.FilePath)
		}
	case PathNews:
		b.WriteString("/news")
	case PathInfo:
		b.WriteString("/info")
	}

	return b.String()
}
