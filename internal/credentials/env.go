package credentials

import (
	"context"
	"net/url"
	"os"
)

const (
	EnvUser     = "PROXYSOCK_PROXY_USER"
	EnvPassword = "PROXYSOCK_PROXY_PASSWORD"
)

// Env serves one username and password, read from the environment for every
// destination.
type Env struct {
	getenv func(string) string
}

func NewEnv() *Env {
	return &Env{getenv: os.Getenv}
}

func (e *Env) Username(context.Context, *url.URL) (string, bool, error) {
	u := e.getenv(EnvUser)
	return u, u != "", nil
}

func (e *Env) Secret(_ context.Context, key string) ([]byte, error) {
	u := e.getenv(EnvUser)
	if u == "" {
		return nil, notFound(key)
	}
	user, _, ok := ParseSecretKey(key)
	if !ok || user != u {
		return nil, notFound(key)
	}
	return []byte(e.getenv(EnvPassword)), nil
}
