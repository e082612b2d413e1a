package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds each TCP connect, to the destination or to a proxy.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the CONNECT exchange after the proxy socket
	// is open. Zero means the exchange is bounded only by the context.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
}
