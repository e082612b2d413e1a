package factory

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrProberClosed is returned by a Prober after Close.
var ErrProberClosed = errors.New("prober closed")

// Prober checks reachability without handing out a connection.
type Prober interface {
	// ConnectWithTimeout opens a connection to address and closes it again.
	ConnectWithTimeout(ctx context.Context, address string, timeout time.Duration) error
	Close() error
}

type prober struct {
	f      *Factory
	closed atomic.Bool
}

// NewProber returns a Prober backed by f, sharing its cache.
func NewProber(f *Factory) Prober {
	return &prober{f: f}
}

func (p *prober) ConnectWithTimeout(ctx context.Context, address string, timeout time.Duration) error {
	if p.closed.Load() {
		return ErrProberClosed
	}
	c, err := p.f.CreateSocket(ctx, address, timeout)
	if err != nil {
		return err
	}
	return c.Close()
}

func (p *prober) Close() error {
	p.closed.Store(true)
	return nil
}
