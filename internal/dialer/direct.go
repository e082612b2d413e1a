package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/proxysock/internal/conn"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects to the destination itself.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{Timeout: f.cfg.DialTimeout}

	c, err := dd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s %s: %w", ErrConnectFailed, network, address, err)
	}

	conn.ApplyKeepAlive(c, f.cfg.KeepAlive)
	return c, nil
}
