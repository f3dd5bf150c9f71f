// Package bufpool hands out the fixed-size receive buffers the dispatcher reads
// whole messages into. A buffer is borrowed for the lifetime of a connection and
// returned when the connection ends, so large buffers are reused instead of
// reallocated per connection.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool provides receive buffers of exactly one size.
type Pool struct {
	pool    sync.Pool
	bufSize int
	inUse   atomic.Int64
}

// New creates a pool of bufSize-byte buffers. Nothing is allocated until Get.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		b := make([]byte, bufSize)
		return &b
	}
	return p
}

// Get borrows a buffer. Its length is always BufSize.
func (p *Pool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	p.inUse.Add(1)
	buf := *bp
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer obtained from Get. Buffers of the wrong size are dropped.
func (p *Pool) Put(buf []byte) {
	p.inUse.Add(-1)
	if cap(buf) != p.bufSize {
		return
	}
	buf = buf[:p.bufSize]
	p.pool.Put(&buf)
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

// InUse returns the number of buffers currently borrowed.
func (p *Pool) InUse() int64 {
	return p.inUse.Load()
}
