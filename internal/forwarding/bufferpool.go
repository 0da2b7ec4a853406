package forwarding

import "sync"

// BufferPool hands out reusable byte slices for the per-slot read loops in
// SlotForwarder.
type BufferPool interface {
	Get() []byte
	Put([]byte)
}

// SyncPoolBufferPool is a BufferPool backed by sync.Pool, all buffers of a
// single fixed size.
type SyncPoolBufferPool struct {
	size int
	p    sync.Pool
}

func NewSyncPoolBufferPool(size int) *SyncPoolBufferPool {
	bp := &SyncPoolBufferPool{size: size}
	bp.p.New = func() any { return make([]byte, bp.size) }
	return bp
}

func (p *SyncPoolBufferPool) Get() []byte {
	return p.p.Get().([]byte)
}

func (p *SyncPoolBufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.p.Put(b)
}
