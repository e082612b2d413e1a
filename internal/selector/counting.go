package selector

import (
	"context"
	"net/url"
	"sync/atomic"
)

// Counting wraps a Selector and counts queries.
type Counting struct {
	Selector
	queries atomic.Int64
}

func NewCounting(s Selector) *Counting {
	return &Counting{Selector: s}
}

func (c *Counting) Select(ctx context.Context, target *url.URL) ([]Proxy, error) {
	c.queries.Add(1)
	return c.Selector.Select(ctx, target)
}

// Queries returns how many times Select has been called.
func (c *Counting) Queries() int64 {
	return c.queries.Load()
}
