package testutil

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeProxy is a scripted HTTP CONNECT proxy. The n-th accepted connection
// gets the n-th response (the last one repeats). After a 200 response the
// proxy echoes everything the client sends.
type FakeProxy struct {
	ln        net.Listener
	responses []string

	mu       sync.Mutex
	requests []string
	conns    []net.Conn
	wg       sync.WaitGroup
}

func StartFakeProxy(t *testing.T, responses ...string) *FakeProxy {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p := &FakeProxy{ln: ln, responses: responses}
	p.wg.Add(1)
	go p.serve()
	t.Cleanup(p.Close)
	return p
}

func (p *FakeProxy) serve() {
	defer p.wg.Done()
	for i := 0; ; i++ {
		c, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, c)
		p.mu.Unlock()

		resp := p.responses[min(i, len(p.responses)-1)]
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer c.Close()
			p.handle(c, resp)
		}()
	}
}

func (p *FakeProxy) handle(c net.Conn, resp string) {
	br := bufio.NewReader(c)
	var req strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		req.WriteString(line)
		if line == "\r\n" {
			break
		}
	}
	p.mu.Lock()
	p.requests = append(p.requests, req.String())
	p.mu.Unlock()

	if _, err := io.WriteString(c, resp); err != nil {
		return
	}
	status, _, _ := strings.Cut(resp, "\r\n")
	if strings.Contains(status, " 200") {
		_, _ = io.Copy(c, br)
	}
}

// Addr returns the proxy's host:port.
func (p *FakeProxy) Addr() string { return p.ln.Addr().String() }

func (p *FakeProxy) Host() string {
	host, _, _ := net.SplitHostPort(p.Addr())
	return host
}

func (p *FakeProxy) Port() int {
	_, port, _ := net.SplitHostPort(p.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Requests returns the raw request headers received so far.
func (p *FakeProxy) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

// Close stops accepting, closes open connections and waits for handlers.
func (p *FakeProxy) Close() {
	_ = p.ln.Close()
	p.mu.Lock()
	for _, c := range p.conns {
		_ = c.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}
