package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/die-net/proxysock/internal/dialer"
	"github.com/die-net/proxysock/internal/settings"
)

var (
	// ErrNoCandidates is returned when the resolver offers nothing to try.
	ErrNoCandidates = errors.New("no proxy candidates")

	// ErrAllCandidatesFailed wraps the error of the last candidate tried.
	ErrAllCandidatesFailed = errors.New("all proxy candidates failed")
)

// Resolver returns the settings to try for a destination, in order.
type Resolver interface {
	Resolve(ctx context.Context, address string) ([]settings.Settings, error)
}

// Stats are cumulative counters for a Factory.
type Stats struct {
	// Queries counts discovery passes, each of which consults the resolver.
	Queries int64
	// Hits counts connections opened with cached settings.
	Hits int64
	// Evictions counts cached settings dropped after failing.
	Evictions int64
}

type Option func(*Factory)

// WithAmbient sets the process-wide proxy settings cleared during each call.
func WithAmbient(as ...Ambient) Option {
	return func(f *Factory) { f.ambient = as }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// Factory opens connections. It is safe for concurrent use.
type Factory struct {
	cfg     dialer.Config
	res     Resolver
	cache   *Cache
	ambient []Ambient
	logger  *slog.Logger

	queries   atomic.Int64
	hits      atomic.Int64
	evictions atomic.Int64
}

// New returns a Factory. cfg.DialTimeout is the default connect timeout.
func New(cfg dialer.Config, res Resolver, opts ...Option) *Factory {
	f := &Factory{
		cfg:     cfg,
		res:     res,
		cache:   NewCache(),
		ambient: DefaultAmbient,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Cache returns the destination cache.
func (f *Factory) Cache() *Cache {
	return f.cache
}

func (f *Factory) Stats() Stats {
	return Stats{
		Queries:   f.queries.Load(),
		Hits:      f.hits.Load(),
		Evictions: f.evictions.Load(),
	}
}

// DialContext implements dialer.Dialer using the configured DialTimeout.
func (f *Factory) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("dial %s %s: unsupported network", network, address)
	}
	return f.CreateSocket(ctx, address, f.cfg.DialTimeout)
}

// CreateSocket returns a connection to address ("host:port"). timeout bounds
// each TCP connect; zero uses the configured DialTimeout.
//
// Cached settings for address are tried first. Otherwise, or if they fail,
// the resolver's candidates are tried in order and the first that connects
// is cached. When every candidate fails the error wraps
// ErrAllCandidatesFailed and the last candidate's error.
func (f *Factory) CreateSocket(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	key, err := destinationKey(address)
	if err != nil {
		return nil, err
	}

	restore := suspendAmbient(f.ambient)
	defer restore()

	cfg := f.cfg
	if timeout > 0 {
		cfg.DialTimeout = timeout
	}

	if s, ok := f.cache.Get(key); ok {
		c, err := f.open(ctx, cfg, s, key)
		if err == nil {
			f.hits.Add(1)
			return c, nil
		}
		if f.cache.Evict(key) {
			f.evictions.Add(1)
		}
		f.logger.Debug("cached settings failed, rediscovering", "address", key, "settings", s, "error", err)
		if ctx.Err() != nil {
			return nil, err
		}
	}

	f.queries.Add(1)
	candidates, err := f.res.Resolve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", key, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoCandidates, key)
	}

	var lastErr error
	for _, s := range candidates {
		c, err := f.open(ctx, cfg, s, key)
		if err != nil {
			f.logger.Debug("candidate failed", "address", key, "settings", s, "error", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		f.cache.Put(key, s)
		f.logger.Debug("connected", "address", key, "settings", s)
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrAllCandidatesFailed, key, lastErr)
}

func (f *Factory) open(ctx context.Context, cfg dialer.Config, s settings.Settings, address string) (net.Conn, error) {
	d, err := dialer.New(cfg, s)
	if err != nil {
		return nil, err
	}
	return d.DialContext(ctx, "tcp", address)
}

// destinationKey validates address and returns its canonical cache key.
func destinationKey(address string) (string, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("%w: destination %q: %v", settings.ErrInvalidConfiguration, address, err)
	}
	if strings.TrimSpace(host) == "" {
		return "", fmt.Errorf("%w: destination %q has no host", settings.ErrInvalidConfiguration, address)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: destination %q port out of range", settings.ErrInvalidConfiguration, address)
	}
	return net.JoinHostPort(strings.ToLower(host), strconv.Itoa(port)), nil
}
