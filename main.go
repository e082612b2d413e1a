package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/proxysock/internal/config"
	"github.com/die-net/proxysock/internal/conn"
	"github.com/die-net/proxysock/internal/dialer"
	"github.com/die-net/proxysock/internal/factory"
	"github.com/die-net/proxysock/internal/logging"
	"github.com/die-net/proxysock/internal/proxy"
	"github.com/die-net/proxysock/internal/resolver"
	"github.com/die-net/proxysock/internal/socks5"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "YAML configuration file. Flags override file and PROXYSOCK_* environment values.")

		_ = pflag.String("selector", config.DefaultSelector, "Proxy selector: static | env | pac")
		_ = pflag.StringSlice("proxy", nil, "Static proxy candidate, in order (repeatable): http://host:port | socks5://host:port | direct://")
		_ = pflag.String("pac", "", "PAC script location for --selector=pac: http(s) URL, file:// URL or path")
		_ = pflag.String("pac-charset", "", "PAC script charset, overriding the server's Content-Type")
		_ = pflag.String("proxy-user", "", "Username offered to proxies that require Basic authentication")
		_ = pflag.String("proxy-password", "", "Password offered to proxies that require Basic authentication")

		_ = pflag.Duration("dial-timeout", config.DefaultDialTimeout, "Timeout for outbound DNS lookup and TCP connect")
		_ = pflag.Duration("negotiation-timeout", config.DefaultNegotiationTimeout, "Timeout for proxy CONNECT and client protocol negotiation")
		_ = pflag.Duration("http-idle-timeout", config.DefaultHTTPIdleTimeout, "Timeout for idle HTTP proxy connections")
		_ = pflag.String("tcp-keepalive", config.DefaultTCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

		_ = pflag.String("http-listen", "", "Local HTTP proxy listen address (e.g. 127.0.0.1:8080). Empty disables.")
		_ = pflag.String("socks5-listen", "", "Local SOCKS5 proxy listen address (e.g. 127.0.0.1:1080). Empty disables.")

		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")

		_ = pflag.String("log-level", config.DefaultLogLevel, "Log level: debug | info | warn | error")
		_ = pflag.String("log-path", "", "Append logs to this file instead of stderr")

		probe = pflag.Bool("probe", false, "Only check that host:port is reachable; the exit status reports the result")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [host:port]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	cfg, err := config.Load(*configPath, pflag.CommandLine)
	if err != nil {
		return err
	}

	logger, closeLog := logging.Setup(cfg.LogLevel, cfg.LogPath, os.Stderr)
	defer closeLog()

	destination := pflag.Arg(0)
	if pflag.NArg() > 1 {
		return errors.New("at most one destination host:port may be given")
	}
	listening := cfg.HTTPListen != "" || cfg.SOCKS5Listen != ""
	if destination == "" && !listening {
		return errors.New("nothing to do (give a destination host:port, or set --http-listen or --socks5-listen)")
	}
	if *probe && destination == "" {
		return errors.New("--probe requires a destination host:port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sel, err := cfg.NewSelector(ctx)
	if err != nil {
		return fmt.Errorf("selector: %w", err)
	}
	res := resolver.New(sel, cfg.NewCredentials()).WithLogger(logger)

	ka := cfg.KeepAlive()
	f := factory.New(dialer.Config{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          ka,
	}, res, factory.WithLogger(logger))

	switch {
	case *probe:
		return runProbe(ctx, f, destination, cfg.DialTimeout)
	case !listening:
		c, err := f.CreateSocket(ctx, destination, 0)
		if err != nil {
			return err
		}
		return pipe(ctx, c, os.Stdin, os.Stdout)
	}

	pcfg := proxy.Config{
		NegotiationTimeout: cfg.NegotiationTimeout,
		HTTPIdleTimeout:    cfg.HTTPIdleTimeout,
		KeepAlive:          ka,
		Dialer:             f,
		SOCKS5Auth:         socks5.Auth{Username: cfg.SOCKS5Auth.Username, Password: cfg.SOCKS5Auth.Password},
		Logger:             logger,
	}
	return serve(ctx, pcfg, cfg, *debugListen)
}

func runProbe(ctx context.Context, f *factory.Factory, destination string, timeout time.Duration) error {
	p := factory.NewProber(f)
	defer p.Close()

	start := time.Now()
	if err := p.ConnectWithTimeout(ctx, destination, timeout); err != nil {
		return fmt.Errorf("probe %s: %w", destination, err)
	}
	slog.Info("reachable", "destination", destination, "elapsed", time.Since(start))
	return nil
}

// pipe copies between c and the given reader and writer until the remote
// side closes or ctx is canceled. Local EOF half-closes c. It closes c.
func pipe(ctx context.Context, c net.Conn, in io.Reader, out io.Writer) error {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	sendErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(c, conn.NewInterruptibleReader(ctx, in))
		if err == nil {
			if cw, ok := c.(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			}
		}
		sendErr <- err
	}()

	_, err := io.Copy(out, c)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	// A reader blocked on a terminal is abandoned; the process is exiting.
	select {
	case err := <-sendErr:
		if err != nil && !errors.Is(err, conn.ErrInterrupted) && !errors.Is(err, net.ErrClosed) {
			return err
		}
	default:
	}
	return nil
}

func serve(ctx context.Context, pcfg proxy.Config, cfg *config.Config, debugListen string) error {
	g, ctx := errgroup.WithContext(ctx)

	if debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := conn.ListenTCP(ctx, debugListen, pcfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		slog.Info("debug listening", "addr", debugListen)
	}

	if cfg.HTTPListen != "" {
		ln, err := conn.ListenTCP(ctx, cfg.HTTPListen, pcfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		srv := proxy.NewHTTPProxyServer(ctx, pcfg)
		context.AfterFunc(ctx, func() {
			_ = srv.Close()
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http proxy serve: %w", err)
			}
			return nil
		})
		slog.Info("http proxy listening", "addr", cfg.HTTPListen)
	}

	if cfg.SOCKS5Listen != "" {
		ln, err := conn.ListenTCP(ctx, cfg.SOCKS5Listen, pcfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		s5 := proxy.NewSOCKS5Server(ctx, pcfg)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := s5.Serve(ln); err != nil {
				return fmt.Errorf("socks5 serve: %w", err)
			}
			return nil
		})
		slog.Info("socks5 proxy listening", "addr", cfg.SOCKS5Listen)
	}

	err := g.Wait()
	slog.Info("shutting down")
	return err
}
