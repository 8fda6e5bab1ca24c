package memory

import (
	"sync"
	"sync/atomic"
)

// Pool size classes. Allocations at or below the largest class are served
// from a fixed-size pool; anything bigger falls back to the general
// allocator and is tracked but not pooled.
var poolClasses = []int{32, 64, 128, 256, 512, 1024, 2048, 4096}

// MaxPooledSize is the largest allocation served from a size-class pool.
const MaxPooledSize = 4096

// pool is a single size-class allocator backed by sync.Pool.
type pool struct {
	blockSize int
	backing   sync.Pool

	// Per-pool statistics
	allocated atomic.Int64 // blocks currently handed out
	total     atomic.Int64 // total Get calls
	recycled  atomic.Int64 // Gets served by a recycled block
}

func newPool(blockSize int) *pool {
	p := &pool{blockSize: blockSize}
	p.backing.New = func() any {
		buf := make([]byte, blockSize)
		return &buf
	}
	return p
}

// get returns a buffer of exactly the pool's block size.
func (p *pool) get() []byte {
	p.total.Add(1)
	p.allocated.Add(1)
	bp := p.backing.Get().(*[]byte)
	buf := *bp
	if cap(buf) == p.blockSize {
		p.recycled.Add(1)
	}
	return buf[:p.blockSize]
}

// put returns a buffer to the pool. Buffers of the wrong capacity are
// dropped for the GC to collect.
func (p *pool) put(buf []byte) {
	p.allocated.Add(-1)
	if cap(buf) != p.blockSize {
		return
	}
	buf = buf[:p.blockSize]
	p.backing.Put(&buf)
}

// PoolStats describes one size-class pool.
type PoolStats struct {
	BlockSize int
	Allocated int64
	Total     int64
	Recycled  int64
}

func (p *pool) stats() PoolStats {
	return PoolStats{
		BlockSize: p.blockSize,
		Allocated: p.allocated.Load(),
		Total:     p.total.Load(),
		Recycled:  p.recycled.Load(),
	}
}

// classFor returns the index of the smallest pool whose block size is at
// least size, or -1 when the request is larger than every class.
func classFor(size int) int {
	for i, bs := range poolClasses {
		if size <= bs {
			return i
		}
	}
	return -1
}
