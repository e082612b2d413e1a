package credentials

import (
	"context"
	"net/url"
	"sync"
)

// Entry is one username/password pair.
type Entry struct {
	Username string
	Password string
}

// Static holds credentials keyed by destination host. The empty host ""
// matches any destination without a more specific entry.
type Static struct {
	mu      sync.RWMutex
	users   map[string]string
	secrets map[string][]byte
}

// NewStatic returns a Static store from a host-keyed map.
func NewStatic(entries map[string]Entry) *Static {
	s := &Static{
		users:   make(map[string]string, len(entries)),
		secrets: make(map[string][]byte, len(entries)),
	}
	for host, e := range entries {
		s.Add(host, e.Username, e.Password)
	}
	return s
}

// Add stores credentials for host, replacing any previous entry.
func (s *Static) Add(host, username, password string) {
	host = hostKey(host)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[host] = username
	s.secrets[SecretKey(username, host)] = []byte(password)
}

func (s *Static) Username(_ context.Context, uri *url.URL) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[hostKey(uri.Hostname())]; ok {
		return u, true, nil
	}
	u, ok := s.users[""]
	return u, ok, nil
}

func (s *Static) Secret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.secrets[key]; ok {
		return append([]byte(nil), b...), nil
	}
	// A wildcard entry was stored under the empty host.
	if user, _, ok := ParseSecretKey(key); ok {
		if b, ok := s.secrets[SecretKey(user, "")]; ok && s.users[""] == user {
			return append([]byte(nil), b...), nil
		}
	}
	return nil, notFound(key)
}
