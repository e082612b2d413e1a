// Package resolver turns a destination address into the ordered connectivity
// settings to try, using a proxy selector and a credential store.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"github.com/die-net/proxysock/internal/credentials"
	"github.com/die-net/proxysock/internal/selector"
	"github.com/die-net/proxysock/internal/settings"
)

// Resolver maps destinations to candidate settings.
type Resolver struct {
	sel    selector.Selector
	creds  credentials.Store
	logger *slog.Logger
}

// New returns a Resolver. A nil creds means no proxy credentials.
func New(sel selector.Selector, creds credentials.Store) *Resolver {
	if creds == nil {
		creds = credentials.None{}
	}
	return &Resolver{sel: sel, creds: creds, logger: slog.Default()}
}

// WithLogger returns a copy of r logging to l.
func (r *Resolver) WithLogger(l *slog.Logger) *Resolver {
	c := *r
	c.logger = l
	return &c
}

// Resolve returns candidate settings for address ("host:port") in selector
// priority order.
//
// The selector is first asked about socket://host:port. If that fails or
// yields no usable proxy, it is asked again about https://host:port and that
// answer, error included, is final.
func (r *Resolver) Resolve(ctx context.Context, address string) ([]settings.Settings, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("%w: destination %q: %v", settings.ErrInvalidConfiguration, address, err)
	}
	hostport := net.JoinHostPort(host, port)

	uri := &url.URL{Scheme: "socket", Host: hostport}
	proxies, err := r.sel.Select(ctx, uri)
	candidates := r.toSettings(proxies)
	if err != nil || !usable(candidates) {
		r.logger.Debug("no proxy for socket uri, retrying as https", "address", address, "error", err)

		uri = &url.URL{Scheme: "https", Host: hostport}
		proxies, err = r.sel.Select(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("select proxy for %s: %w", uri, err)
		}
		candidates = r.toSettings(proxies)
	}

	for i, s := range candidates {
		candidates[i] = r.withCredentials(ctx, uri, s)
	}
	return candidates, nil
}

// usable reports whether any candidate goes through a proxy.
func usable(candidates []settings.Settings) bool {
	for _, s := range candidates {
		if s.Mode() != settings.Direct {
			return true
		}
	}
	return false
}

func (r *Resolver) toSettings(proxies []selector.Proxy) []settings.Settings {
	out := make([]settings.Settings, 0, len(proxies))
	for _, p := range proxies {
		s, err := fromProxy(p)
		if err != nil {
			r.logger.Debug("skipping proxy candidate", "proxy", p, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out
}

func fromProxy(p selector.Proxy) (settings.Settings, error) {
	switch p.Type {
	case selector.TypeDirect:
		return settings.NewDirect(), nil
	case selector.TypeHTTP:
		return settings.FromAddr(settings.HTTPSTunnel, p.Addr)
	case selector.TypeSOCKS:
		return settings.FromAddr(settings.SOCKS, p.Addr)
	default:
		return settings.Settings{}, fmt.Errorf("%w: unknown proxy type %v", settings.ErrInvalidConfiguration, p.Type)
	}
}

// withCredentials attaches stored credentials for uri to a proxy candidate.
// Lookup errors leave the candidate without credentials.
func (r *Resolver) withCredentials(ctx context.Context, uri *url.URL, s settings.Settings) settings.Settings {
	if s.Mode() == settings.Direct {
		return s
	}

	user, ok, err := r.creds.Username(ctx, uri)
	if err != nil {
		r.logger.Debug("credential lookup failed", "uri", uri.String(), "error", err)
		return s
	}
	if !ok {
		return s
	}

	secret, err := r.creds.Secret(ctx, credentials.SecretKey(user, uri.Hostname()))
	if err != nil {
		r.logger.Debug("credential secret lookup failed", "uri", uri.String(), "user", user, "error", err)
		return s
	}
	return s.WithCredentials(user, string(secret))
}
