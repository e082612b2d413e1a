package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/die-net/proxysock/internal/conn"
	"github.com/die-net/proxysock/internal/dialer"
	"github.com/die-net/proxysock/internal/socks5"
)

// SOCKS5Server accepts SOCKS5 CONNECT requests and opens the requested
// connection with Config.Dialer.
type SOCKS5Server struct {
	ctx    context.Context
	cfg    Config
	logger *slog.Logger
}

func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SOCKS5Server{ctx: ctx, cfg: cfg, logger: cfg.logger()}
}

// Serve accepts connections on ln until it is closed.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) && s.ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(c)
	}
}

func (s *SOCKS5Server) handleConn(c net.Conn) {
	conn.ApplyKeepAlive(c, s.cfg.KeepAlive)

	if s.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	if err := socks5.ServerNegotiate(c, s.cfg.SOCKS5Auth); err != nil {
		s.logger.Debug("socks5 negotiation failed", "client", c.RemoteAddr(), "error", err)
		_ = c.Close()
		return
	}

	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		s.logger.Debug("socks5 request failed", "client", c.RemoteAddr(), "error", err)
		_ = c.Close()
		return
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupportedReply(c, req.Atyp)
		_ = c.Close()
		return
	}

	target := req.Address()
	up, err := s.cfg.Dialer.DialContext(s.ctx, "tcp", target)
	if err != nil {
		s.logger.Debug("socks5 connect failed", "client", c.RemoteAddr(), "target", target, "error", err)
		writeDialErrorReply(c, req.Atyp, err)
		_ = c.Close()
		return
	}

	if err := socks5.WriteSuccessReply(c, up.LocalAddr()); err != nil {
		_ = c.Close()
		_ = up.Close()
		return
	}
	_ = c.SetDeadline(time.Time{})

	if err := CopyBidirectional(s.ctx, c, up); err != nil {
		s.logger.Debug("socks5 tunnel ended", "client", c.RemoteAddr(), "target", target, "error", err)
	}
}

func writeDialErrorReply(c net.Conn, atyp byte, err error) {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		socks5.WriteHostUnreachableReply(c, atyp)
	case errors.Is(err, dialer.ErrConnectFailed):
		socks5.WriteConnectionRefusedReply(c, atyp)
	default:
		socks5.WriteGeneralFailureReply(c, atyp)
	}
}
