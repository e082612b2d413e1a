package config

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/die-net/proxysock/internal/credentials"
	"github.com/die-net/proxysock/internal/selector"
)

// NewSelector builds the selector named by c.Selector.
func (c *Config) NewSelector(ctx context.Context) (selector.Selector, error) {
	switch strings.ToLower(c.Selector) {
	case "static":
		return selector.NewStaticFromURLs(c.Proxies)
	case "env":
		return selector.NewEnv(), nil
	case "pac":
		pac, err := selector.NewPAC(ctx, selector.PACConfig{
			Location:    c.PAC.URL,
			Charset:     c.PAC.Charset,
			TTL:         c.PAC.TTL,
			ExecTimeout: c.PAC.ExecTimeout,
		})
		if err != nil {
			return nil, err
		}
		return pac, nil
	default:
		return nil, fmt.Errorf("invalid selector %q", c.Selector)
	}
}

// NewCredentials returns a store for configured credentials, or one reading
// PROXYSOCK_PROXY_USER and PROXYSOCK_PROXY_PASSWORD when none are configured.
func (c *Config) NewCredentials() credentials.Store {
	cc := c.Credentials
	if cc.Username == "" && len(cc.Hosts) == 0 {
		return credentials.NewEnv()
	}

	entries := make(map[string]credentials.Entry, len(cc.Hosts)+1)
	if cc.Username != "" {
		entries[""] = credentials.Entry{Username: cc.Username, Password: cc.Password}
	}
	for _, hc := range cc.Hosts {
		entries[hc.Host] = credentials.Entry{Username: hc.Username, Password: hc.Password}
	}
	return credentials.NewStatic(entries)
}

// KeepAlive returns the parsed tcp_keepalive setting.
func (c *Config) KeepAlive() net.KeepAliveConfig {
	ka, _ := ParseTCPKeepAlive(c.TCPKeepAlive)
	return ka
}
