package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/proxysock/internal/settings"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New returns the Dialer for s.
//
// Direct and SOCKS settings both dial the destination directly; no SOCKS
// handshake is performed at this layer. HTTPS tunnel settings dial through the
// proxy with CONNECT. Invalid settings are rejected before any socket is
// opened.
func New(cfg Config, s settings.Settings) (Dialer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	switch s.Mode() {
	case settings.Direct, settings.SOCKS:
		return NewDirectDialer(cfg), nil
	case settings.HTTPSTunnel:
		return NewHTTPProxyDialer(cfg, s)
	default:
		return nil, fmt.Errorf("%w: unhandled mode %v", settings.ErrInvalidConfiguration, s.Mode())
	}
}
