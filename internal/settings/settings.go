// Package settings describes how a destination is reached: directly, through
// a SOCKS proxy, or through an HTTP proxy tunnel (CONNECT).
//
// A Settings value is immutable once constructed. The With* methods return
// modified copies, so a value handed to a dialer or stored in a cache can be
// shared freely.
package settings

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfiguration is returned when proxy settings are malformed.
var ErrInvalidConfiguration = errors.New("invalid connectivity settings")

// DefaultKeepAlive is the keep-alive interval advertised to callers when none
// is configured.
const DefaultKeepAlive = 60 * time.Second

// Mode selects how a connection is established.
type Mode int

const (
	Direct Mode = iota
	SOCKS
	HTTPSTunnel
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case SOCKS:
		return "socks"
	case HTTPSTunnel:
		return "https-tunnel"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode parses a mode name. Proxy URL schemes are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "none":
		return Direct, nil
	case "socks", "socks4", "socks5":
		return SOCKS, nil
	case "https-tunnel", "http", "https":
		return HTTPSTunnel, nil
	default:
		return Direct, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, s)
	}
}

// Settings holds everything needed to reach one destination.
type Settings struct {
	mode      Mode
	host      string
	port      int
	username  string
	password  string
	keepAlive time.Duration
}

// New returns validated settings for mode. For Direct, host and port are
// ignored.
func New(mode Mode, host string, port int) (Settings, error) {
	return Settings{keepAlive: DefaultKeepAlive}.WithProxy(mode, host, port)
}

// NewDirect returns settings for a direct connection.
func NewDirect() Settings {
	return Settings{mode: Direct, keepAlive: DefaultKeepAlive}
}

// WithProxy returns a copy of s using the given proxy configuration.
func (s Settings) WithProxy(mode Mode, host string, port int) (Settings, error) {
	switch mode {
	case Direct:
		s.mode, s.host, s.port = Direct, "", 0
		return s, nil
	case SOCKS, HTTPSTunnel:
	default:
		return Settings{}, fmt.Errorf("%w: unknown mode %d", ErrInvalidConfiguration, int(mode))
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return Settings{}, fmt.Errorf("%w: %s proxy host is blank", ErrInvalidConfiguration, mode)
	}
	if port < 1 || port > 65535 {
		return Settings{}, fmt.Errorf("%w: %s proxy port %d out of range", ErrInvalidConfiguration, mode, port)
	}

	s.mode, s.host, s.port = mode, host, port
	return s, nil
}

// FromAddr is like New but takes the proxy as a "host:port" string.
func FromAddr(mode Mode, addr string) (Settings, error) {
	if mode == Direct {
		return NewDirect(), nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %s proxy address %q: %v", ErrInvalidConfiguration, mode, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %s proxy port %q", ErrInvalidConfiguration, mode, portStr)
	}
	return New(mode, host, port)
}

// WithCredentials returns a copy of s carrying a proxy username and password.
func (s Settings) WithCredentials(username, password string) Settings {
	s.username, s.password = username, password
	return s
}

// WithKeepAlive returns a copy of s with the given keep-alive interval.
// Non-positive values restore DefaultKeepAlive.
func (s Settings) WithKeepAlive(d time.Duration) Settings {
	if d <= 0 {
		d = DefaultKeepAlive
	}
	s.keepAlive = d
	return s
}

// Validate re-checks the invariants enforced by New. The zero Settings value
// is a valid Direct configuration.
func (s Settings) Validate() error {
	_, err := New(s.mode, s.host, s.port)
	return err
}

func (s Settings) Mode() Mode            { return s.mode }
func (s Settings) ProxyHost() string     { return s.host }
func (s Settings) ProxyPort() int        { return s.port }
func (s Settings) ProxyUsername() string { return s.username }
func (s Settings) ProxyPassword() string { return s.password }

// KeepAlive is advisory; dialers do not apply it.
func (s Settings) KeepAlive() time.Duration {
	if s.keepAlive <= 0 {
		return DefaultKeepAlive
	}
	return s.keepAlive
}

// HasCredentials reports whether a proxy username is set.
func (s Settings) HasCredentials() bool {
	return s.username != ""
}

// ProxyAddr returns the proxy "host:port", or "" for Direct.
func (s Settings) ProxyAddr() string {
	if s.mode == Direct {
		return ""
	}
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Equal reports whether s and o describe the same configuration.
func (s Settings) Equal(o Settings) bool {
	return s.mode == o.mode && s.host == o.host && s.port == o.port &&
		s.username == o.username && s.password == o.password &&
		s.KeepAlive() == o.KeepAlive()
}

// String formats s for logs. The password is never included.
func (s Settings) String() string {
	if s.mode == Direct {
		return "direct"
	}
	if s.username != "" {
		return s.mode.String() + "://" + s.username + "@" + s.ProxyAddr()
	}
	return s.mode.String() + "://" + s.ProxyAddr()
}
