package proxy

import (
	"log/slog"
	"net"
	"time"

	"github.com/die-net/proxysock/internal/dialer"
	"github.com/die-net/proxysock/internal/socks5"
)

type Config struct {
	// NegotiationTimeout bounds reading a client's request headers or SOCKS5
	// handshake.
	NegotiationTimeout time.Duration
	HTTPIdleTimeout    time.Duration

	KeepAlive net.KeepAliveConfig

	// Dialer opens outbound connections, normally a *factory.Factory.
	Dialer dialer.Dialer

	// SOCKS5Auth, when it has a username, is required from SOCKS5 clients.
	SOCKS5Auth socks5.Auth

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
