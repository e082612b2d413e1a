package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/die-net/proxysock/internal/dialer"
	"github.com/die-net/proxysock/internal/settings"
)

// HTTPProxyServer serves an HTTP forward proxy.
//
// It supports:
// - HTTP CONNECT tunneling (via connection hijacking + bidirectional copy)
// - non-CONNECT proxying (via httputil.ReverseProxy)
//
// Every outbound connection is opened with Config.Dialer.
type HTTPProxyServer struct {
	ctx    context.Context
	dialer dialer.Dialer
	logger *slog.Logger
	srv    *http.Server
	rp     *httputil.ReverseProxy
}

// NewHTTPProxyServer constructs an HTTP proxy server. Connections are torn
// down when ctx is canceled.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	h := &HTTPProxyServer{
		ctx:    ctx,
		dialer: cfg.Dialer,
		logger: cfg.logger(),
		rp:     newReverseProxy(cfg),
	}
	h.srv = &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
		ErrorLog: slog.NewLogLogger(h.logger.Handler(), slog.LevelDebug),
	}
	return h
}

// Serve serves HTTP proxy requests on ln.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Close stops the HTTP server.
func (s *HTTPProxyServer) Close() error {
	return s.srv.Close()
}

func (s *HTTPProxyServer) handle(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Method, http.MethodConnect) {
		s.handleConnect(w, r)
		return
	}
	s.rp.ServeHTTP(w, r)
}

func (s *HTTPProxyServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	target := r.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}

	ctx := r.Context()

	// Dial before hijacking so failures can use the normal response path.
	serverConn, err := s.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		s.logger.Debug("http proxy connect failed", "client", r.RemoteAddr, "target", target, "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		_ = serverConn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		_ = serverConn.Close()
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	if err := brw.Flush(); err != nil {
		_ = clientConn.Close()
		_ = serverConn.Close()
		return
	}

	// The client may have pipelined bytes after its request headers.
	if n := brw.Reader.Buffered(); n > 0 {
		clientConn = &prefixConn{Conn: clientConn, r: brw.Reader}
	}

	s.logger.Debug("http proxy tunnel established", "client", r.RemoteAddr, "target", target)
	if err := CopyBidirectional(ctx, clientConn, serverConn); err != nil {
		s.logger.Debug("http proxy tunnel ended", "client", r.RemoteAddr, "target", target, "error", err)
	}
}

// statusForError maps an outbound dial error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, settings.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// prefixConn reads buffered bytes before reading from the connection.
type prefixConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *prefixConn) Read(b []byte) (int, error) {
	if c.r.Buffered() > 0 {
		return c.r.Read(b)
	}
	return c.Conn.Read(b)
}

func (c *prefixConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}

func newReverseProxy(cfg Config) *httputil.ReverseProxy {
	rewrite := func(pr *httputil.ProxyRequest) {
		r := pr.Out
		// Forward-proxy handling: ensure URL is absolute and points at the origin server.
		if r.URL.Scheme == "" {
			r.URL.Scheme = "http"
		}
		if r.URL.Host == "" {
			r.URL.Host = pr.In.Host
		}
		r.Host = r.URL.Host
		r.Header.Del("Proxy-Connection")
		r.Header.Del("Proxy-Authorization")
	}

	errHandler := func(w http.ResponseWriter, r *http.Request, err error) {
		cfg.logger().Debug("http proxy request failed", "url", r.URL.String(), "error", err)
		http.Error(w, err.Error(), statusForError(err))
	}

	return &httputil.ReverseProxy{
		Rewrite:       rewrite,
		Transport:     newTransport(cfg),
		FlushInterval: 10 * time.Millisecond, // Only buffer incomplete responses briefly
		ErrorHandler:  errHandler,
		BufferPool:    newBufferPool(32 * 1024),
	}
}

// newTransport returns a transport whose connections come from cfg.Dialer.
// Proxy selection happens in the dialer, so the transport itself never uses
// an HTTP proxy.
func newTransport(cfg Config) http.RoundTripper {
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			c, err := cfg.Dialer.DialContext(ctx, network, address)
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", address, err)
			}
			return c, nil
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        2048,
		MaxIdleConnsPerHost: 1024,
		IdleConnTimeout:     cfg.HTTPIdleTimeout,
		TLSHandshakeTimeout: cfg.NegotiationTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
		},
	}
}
