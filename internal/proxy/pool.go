package proxy

import (
	"net/http/httputil"
	"sync"
)

// bufferPool recycles fixed-size copy buffers for httputil.ReverseProxy.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) httputil.BufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *bufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
