package selector

import (
	"context"
	"net/url"
	"reflect"
	"testing"

	"golang.org/x/net/http/httpproxy"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestParseProxyURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    Proxy
		wantErr bool
	}{
		{raw: "direct://", want: Direct},
		{raw: "http://proxy.example:3128", want: Proxy{Type: TypeHTTP, Addr: "proxy.example:3128"}},
		{raw: "http://proxy.example", want: Proxy{Type: TypeHTTP, Addr: "proxy.example:80"}},
		{raw: "HTTPS://proxy.example", want: Proxy{Type: TypeHTTP, Addr: "proxy.example:443"}},
		{raw: "socks5://user:pw@10.0.0.1", want: Proxy{Type: TypeSOCKS, Addr: "10.0.0.1:1080"}},
		{raw: "socks://[::1]:9050", want: Proxy{Type: TypeSOCKS, Addr: "[::1]:9050"}},
		{raw: "proxy.example:3128", wantErr: true},
		{raw: "ftp://proxy.example", wantErr: true},
		{raw: "http://", wantErr: true},
		{raw: "http://proxy.example/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseProxyURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("expected %v got %v", tt.want, got)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	target := mustURL(t, "socket://example.com:22")

	got, err := NewStatic().Select(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []Proxy{Direct}) {
		t.Fatalf("expected DIRECT, got %v", got)
	}

	s, err := NewStaticFromURLs([]string{"http://a.example:3128", "direct://", "socks5://b.example:1080"})
	if err != nil {
		t.Fatal(err)
	}
	want := []Proxy{{Type: TypeHTTP, Addr: "a.example:3128"}, Direct, {Type: TypeSOCKS, Addr: "b.example:1080"}}
	got, err = s.Select(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}

	// Callers may modify the result without affecting later selections.
	got[0] = Direct
	again, _ := s.Select(context.Background(), target)
	if !reflect.DeepEqual(again, want) {
		t.Fatalf("selection was modified: %v", again)
	}

	if _, err := NewStaticFromURLs([]string{"bogus"}); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestEnv(t *testing.T) {
	t.Parallel()

	cfg := &httpproxy.Config{
		HTTPProxy:  "http://hp.example:3128",
		HTTPSProxy: "https://sp.example:8443",
		NoProxy:    "internal.example",
	}
	withAll := NewEnvFromConfig(cfg, "socks5://all.example:1080")
	withoutAll := NewEnvFromConfig(cfg, "")

	tests := []struct {
		name   string
		env    *Env
		target string
		want   Proxy
	}{
		{name: "http", env: withAll, target: "http://example.com/", want: Proxy{Type: TypeHTTP, Addr: "hp.example:3128"}},
		{name: "https", env: withAll, target: "https://example.com/", want: Proxy{Type: TypeHTTP, Addr: "sp.example:8443"}},
		{name: "socket uses all_proxy", env: withAll, target: "socket://example.com:22", want: Proxy{Type: TypeSOCKS, Addr: "all.example:1080"}},
		{name: "no_proxy applies to all_proxy", env: withAll, target: "socket://db.internal.example:5432", want: Direct},
		{name: "no_proxy applies to https", env: withAll, target: "https://www.internal.example/", want: Direct},
		{name: "socket without all_proxy", env: withoutAll, target: "socket://example.com:22", want: Direct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.env.Select(context.Background(), mustURL(t, tt.target))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, []Proxy{tt.want}) {
				t.Fatalf("expected [%v] got %v", tt.want, got)
			}
		})
	}
}

func TestCounting(t *testing.T) {
	t.Parallel()

	c := NewCounting(NewStatic())
	for range 3 {
		if _, err := c.Select(context.Background(), mustURL(t, "https://example.com")); err != nil {
			t.Fatal(err)
		}
	}
	if n := c.Queries(); n != 3 {
		t.Fatalf("expected 3 queries, got %d", n)
	}
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var s Selector = Func(func(_ context.Context, target *url.URL) ([]Proxy, error) {
		return []Proxy{{Type: TypeHTTP, Addr: target.Host}}, nil
	})
	got, err := s.Select(context.Background(), mustURL(t, "https://p.example:1"))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Addr != "p.example:1" {
		t.Fatalf("unexpected selection %v", got)
	}
}
