package resolver

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/die-net/proxysock/internal/credentials"
	"github.com/die-net/proxysock/internal/selector"
	"github.com/die-net/proxysock/internal/settings"
)

// scriptedSelector answers by URI scheme and records every query.
type scriptedSelector struct {
	mu      sync.Mutex
	answers map[string][]selector.Proxy
	errs    map[string]error
	queries []string
}

func (s *scriptedSelector) Select(_ context.Context, target *url.URL) ([]selector.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, target.String())
	return s.answers[target.Scheme], s.errs[target.Scheme]
}

func mustSettings(t *testing.T, mode settings.Mode, addr string) settings.Settings {
	t.Helper()
	s, err := settings.FromAddr(mode, addr)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func assertSettings(t *testing.T, got, want []settings.Settings) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("candidate %d: expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestResolveSocketURI(t *testing.T) {
	t.Parallel()

	sel := &scriptedSelector{answers: map[string][]selector.Proxy{
		"socket": {
			{Type: selector.TypeSOCKS, Addr: "socks.example:1080"},
			{Type: selector.TypeHTTP, Addr: "http.example:3128"},
			selector.Direct,
		},
	}}

	got, err := New(sel, nil).Resolve(context.Background(), "db.example:5432")
	if err != nil {
		t.Fatal(err)
	}
	assertSettings(t, got, []settings.Settings{
		mustSettings(t, settings.SOCKS, "socks.example:1080"),
		mustSettings(t, settings.HTTPSTunnel, "http.example:3128"),
		settings.NewDirect(),
	})
	if len(sel.queries) != 1 || sel.queries[0] != "socket://db.example:5432" {
		t.Fatalf("unexpected queries %v", sel.queries)
	}
}

func TestResolveFallsBackToHTTPS(t *testing.T) {
	t.Parallel()

	httpsAnswer := []selector.Proxy{{Type: selector.TypeHTTP, Addr: "http.example:3128"}}

	tests := []struct {
		name   string
		socket []selector.Proxy
		err    error
	}{
		{name: "selector error", err: errors.New("boom")},
		{name: "empty answer"},
		{name: "direct only", socket: []selector.Proxy{selector.Direct}},
		{name: "invalid only", socket: []selector.Proxy{{Type: selector.TypeHTTP, Addr: "bad.example:0"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sel := &scriptedSelector{
				answers: map[string][]selector.Proxy{"socket": tt.socket, "https": httpsAnswer},
				errs:    map[string]error{"socket": tt.err},
			}
			got, err := New(sel, nil).Resolve(context.Background(), "[2001:db8::1]:22")
			if err != nil {
				t.Fatal(err)
			}
			assertSettings(t, got, []settings.Settings{mustSettings(t, settings.HTTPSTunnel, "http.example:3128")})

			want := []string{"socket://[2001:db8::1]:22", "https://[2001:db8::1]:22"}
			if len(sel.queries) != 2 || sel.queries[0] != want[0] || sel.queries[1] != want[1] {
				t.Fatalf("expected queries %v got %v", want, sel.queries)
			}
		})
	}
}

func TestResolveHTTPSErrorIsFinal(t *testing.T) {
	t.Parallel()

	boom := errors.New("https lookup failed")
	sel := &scriptedSelector{errs: map[string]error{"socket": errors.New("probe"), "https": boom}}

	if _, err := New(sel, nil).Resolve(context.Background(), "example.com:443"); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestResolveEmpty(t *testing.T) {
	t.Parallel()

	got, err := New(&scriptedSelector{}, nil).Resolve(context.Background(), "example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestResolveSkipsInvalid(t *testing.T) {
	t.Parallel()

	sel := &scriptedSelector{answers: map[string][]selector.Proxy{
		"socket": {
			{Type: selector.TypeHTTP, Addr: "bad.example:0"},
			{Type: selector.TypeHTTP, Addr: "noport.example"},
			{Type: selector.Type(42), Addr: "odd.example:1"},
			{Type: selector.TypeHTTP, Addr: "good.example:8080"},
		},
	}}
	got, err := New(sel, nil).Resolve(context.Background(), "example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	assertSettings(t, got, []settings.Settings{mustSettings(t, settings.HTTPSTunnel, "good.example:8080")})
}

func TestResolveCredentials(t *testing.T) {
	t.Parallel()

	sel := &scriptedSelector{answers: map[string][]selector.Proxy{
		"socket": {{Type: selector.TypeHTTP, Addr: "http.example:3128"}, selector.Direct},
	}}
	creds := credentials.NewStatic(map[string]credentials.Entry{
		"db.example": {Username: "alice", Password: "s3cret"},
	})

	got, err := New(sel, creds).Resolve(context.Background(), "db.example:5432")
	if err != nil {
		t.Fatal(err)
	}
	assertSettings(t, got, []settings.Settings{
		mustSettings(t, settings.HTTPSTunnel, "http.example:3128").WithCredentials("alice", "s3cret"),
		settings.NewDirect(),
	})

	got, err = New(sel, creds).Resolve(context.Background(), "web.example:443")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].HasCredentials() {
		t.Fatalf("unexpected credentials on %v", got[0])
	}
}

type failingStore struct {
	userErr   error
	secretErr error
}

func (f failingStore) Username(context.Context, *url.URL) (string, bool, error) {
	return "alice", f.userErr == nil, f.userErr
}

func (f failingStore) Secret(context.Context, string) ([]byte, error) {
	return nil, f.secretErr
}

func TestResolveCredentialErrors(t *testing.T) {
	t.Parallel()

	sel := &scriptedSelector{answers: map[string][]selector.Proxy{
		"socket": {{Type: selector.TypeHTTP, Addr: "http.example:3128"}},
	}}

	for _, store := range []credentials.Store{
		failingStore{userErr: errors.New("keyring locked")},
		failingStore{secretErr: errors.New("keyring locked")},
	} {
		got, err := New(sel, store).Resolve(context.Background(), "db.example:5432")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].HasCredentials() {
			t.Fatalf("expected one candidate without credentials, got %v", got)
		}
	}
}

func TestResolveInvalidAddress(t *testing.T) {
	t.Parallel()

	if _, err := New(&scriptedSelector{}, nil).Resolve(context.Background(), "no-port"); !errors.Is(err, settings.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}
