package pools

import "sync"

// BytePool recycles fixed-size byte slices, one per in-flight connection read
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a pool handing out buffers of exactly size bytes
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return bp
}

// Get returns a buffer of Size() bytes. Its contents are unspecified.
func (bp *BytePool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of a different capacity are
// dropped.
func (bp *BytePool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) != bp.size {
		return
	}
	*buf = (*buf)[:bp.size]
	bp.pool.Put(buf)
}

// Size returns the buffer size
func (bp *BytePool) Size() int {
	return bp.size
}
