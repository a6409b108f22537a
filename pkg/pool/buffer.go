// Package pool provides reusable byte buffers for the stream copies of the
// export and restore pipelines.
package pool

import (
	"io"
	"sync"
)

// DefaultCopySize is the buffer size used for chunk files.
const DefaultCopySize = 1 << 20

// FixedBufferPool hands out byte slices of a single size.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBuffer returns a pool of size byte buffers.
func NewFixedBuffer(size int64) *FixedBufferPool {
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

func (fp *FixedBufferPool) Put(b *[]byte) {
	// Only put it back if it's the right size.
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}

// Copy copies src to dst through a pooled buffer.
func (fp *FixedBufferPool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := fp.Get()
	defer fp.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}
