package proxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/proxysock/internal/conn"
	"github.com/die-net/proxysock/internal/dialer"
	"github.com/die-net/proxysock/internal/socks5"
	"github.com/die-net/proxysock/internal/testutil"
)

func startSOCKS5(t *testing.T, ctx context.Context, d dialer.Dialer, auth socks5.Auth) string {
	t.Helper()

	ln, err := conn.ListenTCP(ctx, "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	srv := NewSOCKS5Server(ctx, Config{
		NegotiationTimeout: 2 * time.Second,
		Dialer:             d,
		SOCKS5Auth:         auth,
	})
	go func() { _ = srv.Serve(ln) }()

	return ln.Addr().String()
}

func TestSOCKS5ConnectDirect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	addr := startSOCKS5(t, ctx, newTestFactory(), socks5.Auth{})

	client, err := txsocks5.NewClient(addr, "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestSOCKS5ConnectWithAuth(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	auth := socks5.Auth{Username: "user", Password: "pass"}
	addr := startSOCKS5(t, ctx, newTestFactory(), auth)

	client, err := txsocks5.NewClient(addr, auth.Username, auth.Password, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	testutil.AssertEcho(t, c, c, []byte("authed"))

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	if err := socks5.ClientDial(raw, socks5.Auth{Username: "user", Password: "nope"}, echoLn.Addr().String()); !errors.Is(err, socks5.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestSOCKS5ConnectRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := startSOCKS5(t, ctx, newTestFactory(), socks5.Auth{})

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	err = socks5.ClientDial(c, socks5.Auth{}, testutil.ClosedAddr(t))
	var rej *socks5.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectedError, got %v", err)
	}
	if rej.Rep != txsocks5.RepConnectionRefused {
		t.Fatalf("expected connection refused reply, got %d", rej.Rep)
	}
}
