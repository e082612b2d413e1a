package factory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/die-net/proxysock/internal/settings"
)

func TestCache(t *testing.T) {
	t.Parallel()

	c := NewCache()
	if _, ok := c.Get("a:1"); ok {
		t.Fatal("unexpected entry")
	}

	s, err := settings.New(settings.HTTPSTunnel, "proxy.example", 3128)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("a:1", s)
	c.Put("a:1", settings.NewDirect())
	if got, _ := c.Get("a:1"); got.Mode() != settings.Direct {
		t.Fatalf("expected last write to win, got %v", got)
	}

	if !c.Evict("a:1") || c.Evict("a:1") {
		t.Fatal("unexpected Evict result")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestCacheConcurrent(t *testing.T) {
	t.Parallel()

	c := NewCache()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("h%d:1", i%4)
			for range 100 {
				c.Put(key, settings.NewDirect())
				c.Get(key)
				c.Evict(key)
			}
		}()
	}
	wg.Wait()
}
