package dialer

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"

	"github.com/die-net/proxysock/internal/conn"
	"github.com/die-net/proxysock/internal/settings"
)

var (
	statusEstablished  = regexp.MustCompile(`^HTTP/\d\.\d 200( |$)`)
	statusAuthRequired = regexp.MustCompile(`^HTTP/\d\.\d 407( |$)`)
)

const proxyAuthenticateHeader = "proxy-authenticate:"

// HTTPProxyDialer dials outbound TCP connections through an HTTP proxy using
// the CONNECT method.
//
// The first CONNECT is always sent without credentials. If the proxy answers
// 407 with a Basic challenge, one more CONNECT is sent on a fresh socket with
// a Proxy-Authorization header; a second 407 is a hard failure.
type HTTPProxyDialer struct {
	cfg      Config
	settings settings.Settings
	direct   Dialer
}

// NewHTTPProxyDialer constructs a CONNECT dialer for HTTPS tunnel settings.
func NewHTTPProxyDialer(cfg Config, s settings.Settings) (*HTTPProxyDialer, error) {
	if s.Mode() != settings.HTTPSTunnel {
		return nil, fmt.Errorf("%w: http proxy dialer needs %v settings, got %v", settings.ErrInvalidConfiguration, settings.HTTPSTunnel, s.Mode())
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &HTTPProxyDialer{
		cfg:      cfg,
		settings: s,
		direct:   NewDirectDialer(cfg),
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (f *HTTPProxyDialer) ProxyAddr() string {
	return f.settings.ProxyAddr()
}

// DialContext returns a connection to address tunneled through the proxy.
//
// The returned connection is the proxy socket itself once the proxy has
// answered 200; everything written to it afterwards belongs to the caller.
func (f *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("http proxy dial %s: %w", address, err)
	}

	hctx, cancel := f.negotiationContext(ctx)
	defer cancel()

	c, br, line, err := f.roundTrip(ctx, hctx, network, address, "")
	if err != nil {
		return nil, err
	}

	switch {
	case statusEstablished.MatchString(line):
		return established(c, br)

	case statusAuthRequired.MatchString(line):
		scheme, err := readChallenge(br)
		_ = c.Close()
		if err != nil {
			return nil, err
		}
		if scheme != "Basic" {
			return nil, &UnsupportedAuthMethodError{Scheme: scheme}
		}

		slog.Debug("http proxy requested basic auth, retrying", "proxy", f.ProxyAddr(), "target", address)

		c, br, line, err = f.roundTrip(ctx, hctx, network, address, basicAuth(f.settings.ProxyUsername(), f.settings.ProxyPassword()))
		if err != nil {
			return nil, err
		}
		if !statusEstablished.MatchString(line) {
			_ = c.Close()
			return nil, &AuthenticationFailedError{Line: line}
		}
		return established(c, br)

	default:
		_ = c.Close()
		return nil, &ProtocolError{Line: line}
	}
}

// roundTrip opens a socket to the proxy, sends one CONNECT request and reads
// the status line. Reads through the returned reader observe hctx. On error
// the socket is closed.
func (f *HTTPProxyDialer) roundTrip(ctx, hctx context.Context, network, address, auth string) (net.Conn, *bufio.Reader, string, error) {
	c, err := f.direct.DialContext(ctx, network, f.ProxyAddr())
	if err != nil {
		return nil, nil, "", fmt.Errorf("http proxy: %w", err)
	}

	if _, err := c.Write(connectRequest(address, auth)); err != nil {
		_ = c.Close()
		return nil, nil, "", fmt.Errorf("%w: http proxy connect write: %w", ErrConnectFailed, err)
	}

	br := bufio.NewReader(conn.NewInterruptibleReader(hctx, c))
	line, err := readLine(br)
	if err != nil {
		_ = c.Close()
		return nil, nil, "", readError("status", err)
	}
	return c, br, line, nil
}

// established drains the remaining response headers and hands back the
// tunnel.
func established(c net.Conn, br *bufio.Reader) (net.Conn, error) {
	for {
		line, err := readLine(br)
		if err != nil {
			_ = c.Close()
			return nil, readError("headers", err)
		}
		if line == "" {
			break
		}
	}

	if n := br.Buffered(); n > 0 {
		pending, _ := br.Peek(n)
		return &bufferedConn{Conn: c, pending: append([]byte(nil), pending...)}, nil
	}
	return c, nil
}

// readChallenge scans a 407 response for the first Proxy-Authenticate header
// and returns its scheme token.
func readChallenge(br *bufio.Reader) (string, error) {
	var scheme string
	found := false
	for {
		line, err := readLine(br)
		if err != nil {
			return "", readError("challenge", err)
		}
		if line == "" {
			return scheme, nil
		}
		if found || len(line) < len(proxyAuthenticateHeader) {
			continue
		}
		if strings.EqualFold(line[:len(proxyAuthenticateHeader)], proxyAuthenticateHeader) {
			found = true
			if fields := strings.Fields(line[len(proxyAuthenticateHeader):]); len(fields) > 0 {
				scheme = fields[0]
			}
		}
	}
}

func (f *HTTPProxyDialer) negotiationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.NegotiationTimeout > 0 {
		return context.WithTimeout(ctx, f.cfg.NegotiationTimeout)
	}
	return context.WithCancel(ctx)
}

func connectRequest(address, auth string) []byte {
	var b strings.Builder
	b.WriteString("CONNECT ")
	b.WriteString(address)
	b.WriteString(" HTTP/1.0\r\nConnection: Keep-Alive\r\n")
	if auth != "" {
		b.WriteString("Proxy-Authorization: ")
		b.WriteString(auth)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// readLine reads one CRLF or LF terminated line without its terminator. Lines
// longer than the reader's buffer are a protocol error.
func readLine(br *bufio.Reader) (string, error) {
	b, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", fmt.Errorf("%w: response line too long", ErrProtocol)
		}
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// readError wraps a failed response read. Transport failures, including the
// proxy hanging up mid-response, are ErrConnectFailed.
func readError(what string, err error) error {
	if errors.Is(err, ErrProtocol) || errors.Is(err, conn.ErrInterrupted) {
		return fmt.Errorf("http proxy connect read %s: %w", what, err)
	}
	return fmt.Errorf("%w: http proxy connect read %s: %w", ErrConnectFailed, what, err)
}

// bufferedConn returns bytes the proxy sent after its response headers before
// reading from the socket again.
type bufferedConn struct {
	net.Conn
	pending []byte
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

// CloseWrite half-closes the underlying connection when it supports it.
func (c *bufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
