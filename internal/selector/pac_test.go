package selector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

const testPACScript = `
function FindProxyForURL(url, host) {
	if (isPlainHostName(host) || dnsDomainIs(host, ".corp.example")) {
		return "DIRECT";
	}
	if (shExpMatch(url, "socket://*:22")) {
		return "SOCKS socks.example:1080";
	}
	if (isInNet(host, "10.0.0.0", "255.0.0.0")) {
		return "PROXY inner.example:3128; DIRECT";
	}
	return "PROXY outer.example:8080; PROXY backup.example:8080";
}
`

func TestPACSelect(t *testing.T) {
	t.Parallel()

	p, err := NewPACFromScript(testPACScript)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		target string
		want   []Proxy
	}{
		{target: "https://intranet", want: []Proxy{Direct}},
		{target: "https://wiki.corp.example", want: []Proxy{Direct}},
		{target: "socket://example.com:22", want: []Proxy{{Type: TypeSOCKS, Addr: "socks.example:1080"}}},
		{target: "https://10.1.2.3:443", want: []Proxy{{Type: TypeHTTP, Addr: "inner.example:3128"}, Direct}},
		{target: "https://192.0.2.1", want: []Proxy{{Type: TypeHTTP, Addr: "outer.example:8080"}, {Type: TypeHTTP, Addr: "backup.example:8080"}}},
	}

	for _, tt := range tests {
		got, err := p.Select(context.Background(), mustURL(t, tt.target))
		if err != nil {
			t.Fatalf("%s: %v", tt.target, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%s: expected %v got %v", tt.target, tt.want, got)
		}
	}
}

func TestParsePACResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []Proxy
	}{
		{in: "", want: []Proxy{Direct}},
		{in: "  ", want: []Proxy{Direct}},
		{in: "DIRECT", want: []Proxy{Direct}},
		{in: "PROXY a:1;DIRECT; SOCKS5 b:2", want: []Proxy{{Type: TypeHTTP, Addr: "a:1"}, Direct, {Type: TypeSOCKS, Addr: "b:2"}}},
		{in: "HTTPS a:443; socks4 b:1080;", want: []Proxy{{Type: TypeHTTP, Addr: "a:443"}, {Type: TypeSOCKS, Addr: "b:1080"}}},
		{in: "QUIC a:1; PROXY; PROXY noport; PROXY ok:3", want: []Proxy{{Type: TypeHTTP, Addr: "ok:3"}}},
	}

	for _, tt := range tests {
		if got := ParsePACResult(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%q: expected %v got %v", tt.in, tt.want, got)
		}
	}
}

func TestPACHelpers(t *testing.T) {
	t.Parallel()

	if !shExpMatch("http://www.example.com/a/b", "http://*.example.com/*") {
		t.Fatal("expected * to match across '/'")
	}
	if shExpMatch("example.com", "*.example.com") {
		t.Fatal("unexpected match")
	}
	if !shExpMatch("a.b", "a?b") {
		t.Fatal("expected ? to match one character")
	}
	if !dnsDomainIs("www.example.com", ".example.com") || dnsDomainIs("www.example.org", ".example.com") {
		t.Fatal("dnsDomainIs mismatch")
	}
	if !ipIsInNet("10.1.2.3", "10.0.0.0", "255.0.0.0") || ipIsInNet("11.1.2.3", "10.0.0.0", "255.0.0.0") {
		t.Fatal("ipIsInNet v4 mismatch")
	}
	if !ipIsInNet("2001:db8::1", "2001:db8::", "ffff:ffff::") || ipIsInNet("10.1.2.3", "2001:db8::", "ffff:ffff::") {
		t.Fatal("ipIsInNet v6 mismatch")
	}
}

func TestPACScriptRuntime(t *testing.T) {
	t.Parallel()

	p, err := NewPACFromScript(`
function FindProxyForURL(url, host) {
	var r = "";
	r += dnsDomainLevels("a.b.c") + ",";
	r += localHostOrDomainIs("www", "www.example.com") + ",";
	r += isResolvable("127.0.0.1") + ",";
	r += dnsResolve("192.0.2.7");
	alert(r);
	if (r == "2,true,true,192.0.2.7") {
		return "PROXY ok.example:1";
	}
	return "PROXY bad.example:1";
}`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Select(context.Background(), mustURL(t, "https://example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if want := []Proxy{{Type: TypeHTTP, Addr: "ok.example:1"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestPACInvalidScripts(t *testing.T) {
	t.Parallel()

	for _, script := range []string{
		"function FindProxyForURL(url, host) {",
		"function somethingElse() { return 'DIRECT'; }",
		"var FindProxyForURL = 1;",
	} {
		if _, err := NewPACFromScript(script); err == nil {
			t.Fatalf("expected error for %q", script)
		}
	}

	p, err := NewPACFromScript(`function FindProxyForURL(url, host) { throw "boom"; }`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Select(context.Background(), mustURL(t, "https://example.com")); err == nil {
		t.Fatal("expected error from throwing script")
	}
}

func TestPACExecTimeout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "loop.pac")
	if err := os.WriteFile(path, []byte(`function FindProxyForURL(url, host) { while (true) {} }`), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := NewPAC(context.Background(), PACConfig{Location: path, ExecTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = p.Select(context.Background(), mustURL(t, "https://example.com"))
	if !errors.Is(err, errPACTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("script not interrupted promptly: %v", elapsed)
	}

	// The VM stays usable after an interrupted call.
	if _, err := p.Select(context.Background(), mustURL(t, "https://example.com")); !errors.Is(err, errPACTimeout) {
		t.Fatalf("expected timeout again, got %v", err)
	}
}

func TestPACFetchHTTP(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	// "\xe9" is e-acute in ISO-8859-1 and invalid as UTF-8.
	script := "function FindProxyForURL(url, host) {\n" +
		"\tvar s = \"\xe9\";\n" +
		"\tif (s.charCodeAt(0) == 233) { return \"PROXY latin1.example:3128\"; }\n" +
		"\treturn \"DIRECT\";\n" +
		"}\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/proxy.pac" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/x-ns-proxy-autoconfig; charset=ISO-8859-1")
		_, _ = w.Write([]byte(script))
	}))
	t.Cleanup(srv.Close)

	p, err := NewPAC(context.Background(), PACConfig{Location: srv.URL + "/proxy.pac", TTL: time.Nanosecond})
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Select(context.Background(), mustURL(t, "https://example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if want := []Proxy{{Type: TypeHTTP, Addr: "latin1.example:3128"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	if n := fetches.Load(); n < 2 {
		t.Fatalf("expected a refetch after the ttl, got %d fetches", n)
	}

	if _, err := NewPAC(context.Background(), PACConfig{Location: srv.URL + "/missing.pac"}); err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestPACMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewPAC(context.Background(), PACConfig{Location: "file://" + filepath.Join(t.TempDir(), "none.pac")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if _, err := NewPAC(context.Background(), PACConfig{}); err == nil {
		t.Fatal("expected error for empty location")
	}
}
