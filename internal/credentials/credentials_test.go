package credentials

import (
	"context"
	"errors"
	"net/url"
	"testing"
)

func TestSecretKey(t *testing.T) {
	t.Parallel()

	key := SecretKey("alice@corp", "db.example")
	if key != "proxy.password.alice@corp@db.example" {
		t.Fatalf("unexpected key %q", key)
	}
	user, host, ok := ParseSecretKey(key)
	if !ok || user != "alice@corp" || host != "db.example" {
		t.Fatalf("ParseSecretKey(%q) = %q, %q, %v", key, user, host, ok)
	}
	if _, _, ok := ParseSecretKey("other.alice@db"); ok {
		t.Fatal("expected foreign key to be rejected")
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStatic(map[string]Entry{
		"DB.example.": {Username: "alice", Password: "s3cret"},
		"":            {Username: "bob", Password: "hunter2"},
	})

	tests := []struct {
		target   string
		wantUser string
		wantPass string
	}{
		{target: "socket://db.example:5432", wantUser: "alice", wantPass: "s3cret"},
		{target: "https://other.example:443", wantUser: "bob", wantPass: "hunter2"},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.target)
		if err != nil {
			t.Fatal(err)
		}
		user, ok, err := s.Username(ctx, u)
		if err != nil || !ok || user != tt.wantUser {
			t.Fatalf("%s: Username = %q, %v, %v", tt.target, user, ok, err)
		}
		pass, err := s.Secret(ctx, SecretKey(user, u.Hostname()))
		if err != nil {
			t.Fatal(err)
		}
		if string(pass) != tt.wantPass {
			t.Fatalf("%s: expected password %q got %q", tt.target, tt.wantPass, pass)
		}
	}

	if _, err := s.Secret(ctx, SecretKey("mallory", "db.example")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Returned secrets are copies.
	pass, _ := s.Secret(ctx, SecretKey("alice", "db.example"))
	pass[0] = 'X'
	again, _ := s.Secret(ctx, SecretKey("alice", "db.example"))
	if string(again) != "s3cret" {
		t.Fatalf("stored secret was modified: %q", again)
	}
}

func TestStaticWithoutWildcard(t *testing.T) {
	t.Parallel()

	s := NewStatic(map[string]Entry{"db.example": {Username: "alice", Password: "pw"}})
	u, _ := url.Parse("socket://web.example:22")
	if _, ok, err := s.Username(context.Background(), u); ok || err != nil {
		t.Fatalf("expected no username, got %v, %v", ok, err)
	}
}

func TestEnv(t *testing.T) {
	t.Parallel()

	vars := map[string]string{EnvUser: "carol", EnvPassword: "pw"}
	e := &Env{getenv: func(k string) string { return vars[k] }}
	u, _ := url.Parse("socket://any.example:22")

	user, ok, err := e.Username(context.Background(), u)
	if err != nil || !ok || user != "carol" {
		t.Fatalf("Username = %q, %v, %v", user, ok, err)
	}
	pass, err := e.Secret(context.Background(), SecretKey("carol", "any.example"))
	if err != nil || string(pass) != "pw" {
		t.Fatalf("Secret = %q, %v", pass, err)
	}
	if _, err := e.Secret(context.Background(), SecretKey("dave", "any.example")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	empty := &Env{getenv: func(string) string { return "" }}
	if _, ok, _ := empty.Username(context.Background(), u); ok {
		t.Fatal("expected no username")
	}
}

func TestNone(t *testing.T) {
	t.Parallel()

	var s Store = None{}
	u, _ := url.Parse("socket://any.example:22")
	if _, ok, _ := s.Username(context.Background(), u); ok {
		t.Fatal("expected no username")
	}
	if _, err := s.Secret(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
