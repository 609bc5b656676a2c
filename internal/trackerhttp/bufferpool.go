package trackerhttp

import (
	"bytes"
	"sync"
)

// Bucket sizes and pool caps are taken directly from the size classes the
// manager this module was distilled from uses for tracker response
// buffers: 2KiB covers the common case, 8KiB and 64KiB absorb the rest
// without every response needing a fresh large allocation.
const (
	smallBufferSize  = 2 * 1024
	mediumBufferSize = 8 * 1024
	largeBufferSize  = 64 * 1024

	maxSmallPool  = 900
	maxMediumPool = 80
	maxLargePool  = 20
)

// PooledBuffer wraps a reusable response buffer together with the size
// limit the caller asked for — the limit travels with the buffer, not the
// handle, so enforcement doesn't depend on which handle happened to serve
// the request.
type PooledBuffer struct {
	buf   *bytes.Buffer
	limit int
}

// Bytes returns the buffer's current contents.
func (p *PooledBuffer) Bytes() []byte { return p.buf.Bytes() }

// Limit returns the maximum number of bytes this buffer may accumulate.
func (p *PooledBuffer) Limit() int { return p.limit }

// Write appends p, rejecting writes once limit is reached so a
// misbehaving tracker can't force unbounded growth.
func (p *PooledBuffer) Write(b []byte) (int, error) {
	if p.buf.Len()+len(b) > p.limit {
		room := p.limit - p.buf.Len()
		if room > 0 {
			p.buf.Write(b[:room])
		}
		return len(b), errResponseTooLarge
	}
	return p.buf.Write(b)
}

// BufferPool is a three-bucket free list of response buffers, each bucket
// behind its own mutex so small, medium and large acquire/release calls
// never contend with each other.
type BufferPool struct {
	smallMu sync.Mutex
	small   []*bytes.Buffer

	mediumMu sync.Mutex
	medium   []*bytes.Buffer

	largeMu sync.Mutex
	large   []*bytes.Buffer
}

// NewBufferPool returns an empty pool; buffers are allocated lazily on
// first Acquire per bucket.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// Acquire returns a buffer sized for expectedSize (picking the smallest
// bucket that fits, falling through to the large bucket for anything
// bigger) with a write limit of limit bytes.
func (p *BufferPool) Acquire(expectedSize int, limit int) *PooledBuffer {
	var buf *bytes.Buffer
	switch {
	case expectedSize <= smallBufferSize:
		buf = acquireFrom(&p.smallMu, &p.small, smallBufferSize)
	case expectedSize <= mediumBufferSize:
		buf = acquireFrom(&p.mediumMu, &p.medium, mediumBufferSize)
	default:
		buf = acquireFrom(&p.largeMu, &p.large, largeBufferSize)
	}
	return &PooledBuffer{buf: buf, limit: limit}
}

// Release returns pb's underlying buffer to the bucket matching its
// capacity. Buffers whose capacity exceeds the large bucket's size, or
// whose bucket is already at its cap, are simply dropped for the GC.
func (p *BufferPool) Release(pb *PooledBuffer) {
	if pb == nil || pb.buf == nil {
		return
	}
	buf := pb.buf
	cap := buf.Cap()
	switch {
	case cap <= smallBufferSize:
		releaseTo(&p.smallMu, &p.small, buf, maxSmallPool)
	case cap <= mediumBufferSize:
		releaseTo(&p.mediumMu, &p.medium, buf, maxMediumPool)
	case cap <= largeBufferSize:
		releaseTo(&p.largeMu, &p.large, buf, maxLargePool)
	}
}

func acquireFrom(mu *sync.Mutex, pool *[]*bytes.Buffer, reserve int) *bytes.Buffer {
	mu.Lock()
	defer mu.Unlock()
	n := len(*pool)
	if n > 0 {
		buf := (*pool)[n-1]
		(*pool)[n-1] = nil
		*pool = (*pool)[:n-1]
		buf.Reset()
		return buf
	}
	buf := &bytes.Buffer{}
	buf.Grow(reserve)
	return buf
}

func releaseTo(mu *sync.Mutex, pool *[]*bytes.Buffer, buf *bytes.Buffer, max int) {
	mu.Lock()
	defer mu.Unlock()
	if len(*pool) >= max {
		return
	}
	buf.Reset()
	*pool = append(*pool, buf)
}
