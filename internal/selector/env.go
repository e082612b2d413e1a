package selector

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"golang.org/x/net/http/httpproxy"
)

// Env selects proxies from the conventional environment variables:
// HTTP_PROXY and HTTPS_PROXY for http and https targets, ALL_PROXY for
// everything else and as a fallback, and NO_PROXY for exclusions.
//
// The environment is read once, when the selector is created.
type Env struct {
	schemeProxy func(*url.URL) (*url.URL, error)
	allProxy    func(*url.URL) (*url.URL, error)
}

// NewEnv returns an Env reading the current process environment.
func NewEnv() *Env {
	allProxy := os.Getenv("ALL_PROXY")
	if allProxy == "" {
		allProxy = os.Getenv("all_proxy")
	}
	return NewEnvFromConfig(httpproxy.FromEnvironment(), allProxy)
}

// NewEnvFromConfig returns an Env for an explicit configuration.
func NewEnvFromConfig(cfg *httpproxy.Config, allProxy string) *Env {
	e := &Env{schemeProxy: cfg.ProxyFunc()}
	if allProxy != "" {
		all := &httpproxy.Config{HTTPProxy: allProxy, HTTPSProxy: allProxy, NoProxy: cfg.NoProxy}
		e.allProxy = all.ProxyFunc()
	}
	return e
}

func (e *Env) Select(_ context.Context, target *url.URL) ([]Proxy, error) {
	if target.Scheme == "http" || target.Scheme == "https" {
		p, ok, err := e.lookup(e.schemeProxy, target)
		if err != nil {
			return nil, err
		}
		if ok {
			return []Proxy{p}, nil
		}
	}

	if e.allProxy != nil {
		// ALL_PROXY applies to every scheme; evaluate it as https so the
		// NO_PROXY rules are applied.
		u := *target
		u.Scheme = "https"
		p, ok, err := e.lookup(e.allProxy, &u)
		if err != nil {
			return nil, err
		}
		if ok {
			return []Proxy{p}, nil
		}
	}

	return []Proxy{Direct}, nil
}

func (e *Env) lookup(fn func(*url.URL) (*url.URL, error), target *url.URL) (Proxy, bool, error) {
	u, err := fn(target)
	if err != nil {
		return Proxy{}, false, fmt.Errorf("environment proxy for %s: %w", target.Host, err)
	}
	if u == nil {
		return Proxy{}, false, nil
	}
	p, err := ParseProxyURL(u.Scheme + "://" + u.Host)
	if err != nil {
		return Proxy{}, false, fmt.Errorf("environment proxy for %s: %w", target.Host, err)
	}
	return p, true, nil
}
