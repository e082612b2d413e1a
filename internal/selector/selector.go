// Package selector provides proxy selection: given a target URL, an ordered
// list of proxies to try.
//
// The order returned by a Selector is a priority order; callers must not
// re-sort it.
package selector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Type is the kind of a proxy candidate.
type Type int

const (
	TypeDirect Type = iota
	TypeHTTP
	TypeSOCKS
)

func (t Type) String() string {
	switch t {
	case TypeDirect:
		return "DIRECT"
	case TypeHTTP:
		return "HTTP"
	case TypeSOCKS:
		return "SOCKS"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Proxy is one candidate. Addr is "host:port" and empty for TypeDirect.
type Proxy struct {
	Type Type
	Addr string
}

// Direct is the candidate for connecting without a proxy.
var Direct = Proxy{Type: TypeDirect}

func (p Proxy) String() string {
	if p.Type == TypeDirect {
		return "DIRECT"
	}
	return p.Type.String() + " " + p.Addr
}

// Selector returns candidate proxies for target.
type Selector interface {
	Select(ctx context.Context, target *url.URL) ([]Proxy, error)
}

// Func adapts a function to the Selector interface.
type Func func(ctx context.Context, target *url.URL) ([]Proxy, error)

func (f Func) Select(ctx context.Context, target *url.URL) ([]Proxy, error) {
	return f(ctx, target)
}

// ParseProxyURL parses a proxy given as a URL:
//   - direct://
//   - http://host[:port] (default port 80)
//   - https://host[:port] (default port 443)
//   - socks://host[:port], socks5://host[:port] (default port 1080)
//
// User info in the URL is ignored; credentials come from a credentials.Store.
func ParseProxyURL(raw string) (Proxy, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return Proxy{}, errors.New("invalid proxy url: path should be empty")
	}

	var typ Type
	switch u.Scheme {
	case "":
		return Proxy{}, errors.New("invalid proxy url: missing scheme")
	case "direct":
		return Direct, nil
	case "http", "https":
		typ = TypeHTTP
	case "socks", "socks4", "socks5", "socks5h":
		typ = TypeSOCKS
	default:
		return Proxy{}, fmt.Errorf("invalid proxy url scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Proxy{}, errors.New("invalid proxy url: missing host")
	}
	port := u.Port()
	if port == "" {
		port = defaultPortForScheme(u.Scheme)
	}
	return Proxy{Type: typ, Addr: net.JoinHostPort(host, port)}, nil
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return "1080"
	}
}
