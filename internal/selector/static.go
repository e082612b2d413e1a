package selector

import (
	"context"
	"net/url"
	"slices"
)

// Static returns the same candidates for every target.
type Static struct {
	proxies []Proxy
}

// NewStatic returns a Static selector. With no proxies it selects Direct.
func NewStatic(proxies ...Proxy) *Static {
	if len(proxies) == 0 {
		proxies = []Proxy{Direct}
	}
	return &Static{proxies: slices.Clone(proxies)}
}

// NewStaticFromURLs parses each URL with ParseProxyURL.
func NewStaticFromURLs(urls []string) (*Static, error) {
	proxies := make([]Proxy, 0, len(urls))
	for _, raw := range urls {
		p, err := ParseProxyURL(raw)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return NewStatic(proxies...), nil
}

func (s *Static) Select(_ context.Context, _ *url.URL) ([]Proxy, error) {
	return slices.Clone(s.proxies), nil
}
