// Package credentials supplies proxy usernames and their secrets.
//
// A username is looked up for a destination URI; the matching password is a
// separate secret keyed by SecretKey so stores can keep secrets elsewhere.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned by Secret when no secret is stored under a key.
var ErrNotFound = errors.New("credential not found")

const secretKeyPrefix = "proxy.password."

// Store looks up proxy credentials.
type Store interface {
	// Username returns the stored username for uri, if any.
	Username(ctx context.Context, uri *url.URL) (string, bool, error)
	// Secret returns the secret stored under key.
	Secret(ctx context.Context, key string) ([]byte, error)
}

// SecretKey returns the key under which the password for username at host is
// stored.
func SecretKey(username, host string) string {
	return secretKeyPrefix + username + "@" + host
}

// ParseSecretKey splits a key built by SecretKey.
func ParseSecretKey(key string) (username, host string, ok bool) {
	rest, ok := strings.CutPrefix(key, secretKeyPrefix)
	if !ok {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '@')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// None is a Store with no credentials.
type None struct{}

func (None) Username(context.Context, *url.URL) (string, bool, error) { return "", false, nil }

func (None) Secret(_ context.Context, key string) ([]byte, error) {
	return nil, notFound(key)
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

func hostKey(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
