package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/robertkrimen/otto"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

const (
	pacMaxSizeBytes       = 1 << 20
	defaultPACExecTimeout = 5 * time.Second
	defaultPACFetchTime   = 10 * time.Second
)

var errPACTimeout = errors.New("pac script execution timed out")

// PACConfig configures a PAC selector.
type PACConfig struct {
	// Location is an http(s) URL, a file:// URL or a local path.
	Location string
	// Charset overrides the script encoding. Empty means the Content-Type
	// charset, or UTF-8.
	Charset string
	// TTL controls how long a fetched script is reused. Zero never refetches.
	TTL time.Duration
	// ExecTimeout bounds one FindProxyForURL call.
	ExecTimeout time.Duration
	// FetchTimeout bounds fetching the script over HTTP.
	FetchTimeout time.Duration
	// Client fetches http(s) locations. It must not itself use a proxy that
	// depends on this selector.
	Client *http.Client
}

// PAC selects proxies by running a proxy auto-config script.
type PAC struct {
	cfg PACConfig

	mu      sync.Mutex // guards vm, script, loaded; otto is not goroutine safe
	vm      *otto.Otto
	script  string
	loaded  time.Time
	helpers *pacHelpers
}

// NewPAC loads the script at cfg.Location.
func NewPAC(ctx context.Context, cfg PACConfig) (*PAC, error) {
	if cfg.Location == "" {
		return nil, errors.New("pac: missing location")
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultPACExecTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultPACFetchTime
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Transport: &http.Transport{Proxy: nil},
			Timeout:   cfg.FetchTimeout,
		}
	}

	p := &PAC{cfg: cfg, helpers: newPACHelpers()}
	if err := p.load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPACFromScript returns a PAC selector for an in-memory script.
func NewPACFromScript(script string) (*PAC, error) {
	p := &PAC{cfg: PACConfig{ExecTimeout: defaultPACExecTimeout}, helpers: newPACHelpers()}
	if err := p.compile(script); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PAC) Select(ctx context.Context, target *url.URL) ([]Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.TTL > 0 && time.Since(p.loaded) > p.cfg.TTL {
		if err := p.loadLocked(ctx); err != nil {
			slog.Warn("pac: refresh failed, keeping previous script", "location", p.cfg.Location, "error", err)
		}
	}

	result, err := p.findProxy(ctx, target.String(), target.Hostname())
	if err != nil {
		if errors.Is(err, errPACTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// An interrupted VM may be left mid-statement; start from a clean one.
			if cerr := p.compile(p.script); cerr != nil {
				slog.Error("pac: reloading script after interrupt", "error", cerr)
			}
		}
		return nil, err
	}
	proxies := ParsePACResult(result)
	slog.Debug("pac: selected proxies", "target", target.String(), "result", result, "proxies", proxies)
	return proxies, nil
}

func (p *PAC) load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(ctx)
}

func (p *PAC) loadLocked(ctx context.Context) error {
	script, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	return p.compile(script)
}

// compile runs script in a fresh VM with the PAC helpers installed.
func (p *PAC) compile(script string) error {
	vm := otto.New()
	if err := p.helpers.register(vm); err != nil {
		return err
	}
	if _, err := vm.Run(script); err != nil {
		return fmt.Errorf("pac: load script: %w", err)
	}
	fn, err := vm.Get("FindProxyForURL")
	if err != nil || !fn.IsFunction() {
		return errors.New("pac: script does not define FindProxyForURL")
	}
	p.vm = vm
	p.script = script
	p.loaded = time.Now()
	return nil
}

func (p *PAC) fetch(ctx context.Context) (string, error) {
	loc := p.cfg.Location

	var (
		body        io.ReadCloser
		contentType string
	)
	switch {
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
		if err != nil {
			return "", fmt.Errorf("pac: request %s: %w", loc, err)
		}
		resp, err := p.cfg.Client.Do(req)
		if err != nil {
			return "", fmt.Errorf("pac: fetch %s: %w", loc, err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return "", fmt.Errorf("pac: fetch %s: status %s", loc, resp.Status)
		}
		body, contentType = resp.Body, resp.Header.Get("Content-Type")
	default:
		path := strings.TrimPrefix(loc, "file://")
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("pac: %w", err)
		}
		body = f
	}
	defer body.Close()

	r := io.LimitReader(body, pacMaxSizeBytes)

	charset := p.cfg.Charset
	if charset == "" {
		if _, cs, ok := strings.Cut(contentType, "charset="); ok {
			charset = strings.Trim(strings.TrimSpace(cs), `"`)
		}
	}
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "utf8" {
		enc, err := ianaindex.IANA.Encoding(charset)
		if err != nil || enc == nil {
			slog.Warn("pac: unsupported charset, assuming utf-8", "charset", charset, "error", err)
		} else {
			r = transform.NewReader(r, enc.NewDecoder())
		}
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("pac: read %s: %w", loc, err)
	}
	if !utf8.Valid(b) {
		b = []byte(strings.ToValidUTF8(string(b), ""))
	}
	return string(b), nil
}

// findProxy calls FindProxyForURL, interrupting the VM when ExecTimeout
// elapses or ctx is done. p.mu must be held.
func (p *PAC) findProxy(ctx context.Context, target, host string) (result string, err error) {
	vm := p.vm
	interrupt := make(chan func(), 1)
	vm.Interrupt = interrupt
	defer func() { vm.Interrupt = nil }()

	done := make(chan struct{})
	defer close(done)

	timer := time.NewTimer(p.cfg.ExecTimeout)
	defer timer.Stop()

	go func() {
		select {
		case <-timer.C:
		case <-ctx.Done():
		case <-done:
			return
		}
		interrupt <- func() { panic(errPACTimeout) }
	}()

	defer func() {
		if r := recover(); r != nil {
			if r == errPACTimeout {
				err = fmt.Errorf("pac: %w after %s", errPACTimeout, p.cfg.ExecTimeout)
				if ctx.Err() != nil {
					err = fmt.Errorf("pac: %w", ctx.Err())
				}
				return
			}
			err = fmt.Errorf("pac: FindProxyForURL panicked: %v", r)
		}
	}()

	v, err := vm.Call("FindProxyForURL", nil, target, host)
	if err != nil {
		return "", fmt.Errorf("pac: FindProxyForURL(%q): %w", target, err)
	}
	if v.IsNull() || v.IsUndefined() {
		return "", nil
	}
	return v.ToString()
}

// ParsePACResult parses a FindProxyForURL result such as
// "PROXY a:3128; SOCKS b:1080; DIRECT" into candidates, keeping their order.
// Unknown or malformed directives are skipped. An empty result means DIRECT.
func ParsePACResult(result string) []Proxy {
	result = strings.TrimSpace(result)
	if result == "" {
		return []Proxy{Direct}
	}

	var proxies []Proxy
	for _, part := range strings.Split(result, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}

		var typ Type
		switch strings.ToUpper(fields[0]) {
		case "DIRECT":
			proxies = append(proxies, Direct)
			continue
		case "PROXY", "HTTP", "HTTPS":
			typ = TypeHTTP
		case "SOCKS", "SOCKS4", "SOCKS5":
			typ = TypeSOCKS
		default:
			slog.Warn("pac: unknown directive", "directive", part)
			continue
		}

		if len(fields) < 2 {
			slog.Warn("pac: directive missing host:port", "directive", part)
			continue
		}
		if _, _, err := net.SplitHostPort(fields[1]); err != nil {
			slog.Warn("pac: invalid proxy address", "directive", part, "error", err)
			continue
		}
		proxies = append(proxies, Proxy{Type: typ, Addr: fields[1]})
	}
	return proxies
}
