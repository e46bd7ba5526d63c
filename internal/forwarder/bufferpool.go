package forwarder

import "sync"

// BufferPool is a pool of fixed-size byte slices used for the handshake and
// byte-shuttle read/write cycles, avoiding an allocation per connection per
// read.
//
// Adapted from the teacher's buffer pool
// (proxies/postgresql/pkg/proxy/buffer_pool.go); same shape, generalized to
// take net_buffer_length from configuration instead of a hardcoded size.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a pool of buffers of the given size.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf *[]byte) {
	p.pool.Put(buf)
}
