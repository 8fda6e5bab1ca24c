// Package memory implements the pooled allocator that backs packet and
// storage buffers.
//
// Allocations at or below 4KiB are served from size-class pools; larger
// requests fall back to the general allocator. Every allocation is tracked
// in a handle-indexed table so usage limits can be enforced, idle temporary
// buffers reclaimed, and leaks reported at shutdown.
package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
)

// Flags describe properties of a tracked allocation.
type Flags uint32

const (
	FlagTracked Flags = 1 << iota
	FlagPooled
	FlagTemporary
	FlagCritical
	FlagZero
	FlagDMA
	FlagAtomic
	FlagPinned
)

// Handle identifies a tracked allocation. The zero handle is never issued.
type Handle uint64

// Default limits, matching the reference deployment profile.
const (
	DefaultMaxSingle = 16 << 20 // 16MiB per allocation
	DefaultMaxTotal  = 1 << 30  // 1GiB total

	DefaultGCInterval = 60 * time.Second
	DefaultIdleAge    = 5 * time.Minute

	// Threshold percentages of MaxTotal at which usage warnings are logged.
	warningPercent  = 50
	criticalPercent = 75
)

// Config controls manager limits and garbage collection.
type Config struct {
	// MaxSingle is the largest single allocation allowed, in bytes.
	MaxSingle uint64

	// MaxTotal is the total usage cap, in bytes.
	MaxTotal uint64

	// Tracking enables leak detection and the idle sweep. Allocations are
	// always recorded and counted against the usage caps; with Tracking
	// off they are simply never reported as leaks or reclaimed by GC.
	Tracking bool

	// GCInterval is how often the background sweep runs. Zero disables it.
	GCInterval time.Duration

	// IdleAge is how long a temporary allocation may sit untouched before
	// the sweep reclaims it.
	IdleAge time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxSingle:  DefaultMaxSingle,
		MaxTotal:   DefaultMaxTotal,
		Tracking:   true,
		GCInterval: DefaultGCInterval,
		IdleAge:    DefaultIdleAge,
	}
}

// Metrics receives allocator observations. Implementations must be safe for
// concurrent use; a nil Metrics disables reporting.
type Metrics interface {
	ObserveAlloc(size int, pooled bool)
	ObserveFree(size int)
	RecordUsage(bytes uint64)
	RecordOOM()
	RecordLeaks(n int)
}

// Block is the tracking record for one allocation.
type Block struct {
	handle      Handle
	buf         []byte
	size        int
	class       int // pool class index, -1 for general allocations
	flags       Flags
	allocatedAt time.Time
	lastAccess  atomic.Int64 // unix nanos
	accessCount atomic.Uint64
}

// Size returns the requested allocation size.
func (b *Block) Size() int { return b.size }

// Flags returns the allocation flags.
func (b *Block) Flags() Flags { return b.flags }

// Buffer is an allocation handed out by the manager. The byte slice must not
// be retained after Free.
type Buffer struct {
	handle Handle
	data   []byte
}

// Handle returns the tracking handle for this buffer.
func (b *Buffer) Handle() Handle { return b.handle }

// Bytes returns the underlying byte slice.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the usable length of the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Manager is the pooled, tracked allocator. All fields are protected either
// by atomics (counters) or by mu (the tracking table).
type Manager struct {
	cfg   Config
	pools []*pool

	mu         sync.Mutex
	blocks     map[Handle]*Block
	closed     bool
	nextHandle atomic.Uint64

	// Counters are lock-free; the tracking table needs mu because it does
	// map lookups.
	currentUsage   atomic.Uint64
	totalAllocated atomic.Uint64 // cumulative bytes
	totalFreed     atomic.Uint64 // cumulative bytes
	allocCount     atomic.Uint64
	freeCount      atomic.Uint64
	oomCount       atomic.Uint64
	leakCount      atomic.Uint64
	gcRuns         atomic.Uint64
	gcReclaimed    atomic.Uint64

	warnedWarning  atomic.Bool
	warnedCritical atomic.Bool

	stopCh  chan struct{}
	stopped chan struct{}
	started bool

	metrics Metrics
}

// NewManager creates a memory manager. Call Start to run the background
// sweep and Close to tear it down.
func NewManager(cfg Config, metrics Metrics) *Manager {
	if cfg.MaxSingle == 0 {
		cfg.MaxSingle = DefaultMaxSingle
	}
	if cfg.MaxTotal == 0 {
		cfg.MaxTotal = DefaultMaxTotal
	}
	if cfg.IdleAge == 0 {
		cfg.IdleAge = DefaultIdleAge
	}

	m := &Manager{
		cfg:     cfg,
		pools:   make([]*pool, len(poolClasses)),
		blocks:  make(map[Handle]*Block),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
		metrics: metrics,
	}
	for i, bs := range poolClasses {
		m.pools[i] = newPool(bs)
	}
	return m
}

// Start launches the periodic GC sweep. It is a no-op when GCInterval is
// zero or tracking is disabled.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	if m.cfg.GCInterval <= 0 || !m.cfg.Tracking {
		close(m.stopped)
		return
	}

	go func() {
		defer close(m.stopped)
		ticker := time.NewTicker(m.cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.gcSweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Alloc allocates size bytes. The returned buffer is zeroed only when
// FlagZero is set; use Calloc for always-zeroed memory.
func (m *Manager) Alloc(size int, flags Flags) (*Buffer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if uint64(size) > m.cfg.MaxSingle {
		m.oomCount.Add(1)
		if m.metrics != nil {
			m.metrics.RecordOOM()
		}
		return nil, ErrAllocTooLarge
	}
	if !m.reserve(uint64(size)) {
		m.oomCount.Add(1)
		if m.metrics != nil {
			m.metrics.RecordOOM()
		}
		return nil, ErrMemoryLimit
	}

	class := classFor(size)
	var buf []byte
	if class >= 0 {
		buf = m.pools[class].get()[:size]
		flags |= FlagPooled
	} else {
		buf = make([]byte, size)
	}
	if flags&FlagZero != 0 {
		clear(buf)
	}

	handle := Handle(m.nextHandle.Add(1))
	b := &Block{
		handle:      handle,
		buf:         buf,
		size:        size,
		class:       class,
		flags:       flags | FlagTracked,
		allocatedAt: time.Now(),
	}
	b.lastAccess.Store(time.Now().UnixNano())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.release(uint64(size))
		if class >= 0 {
			m.pools[class].put(buf)
		}
		return nil, ErrManagerClosed
	}
	m.blocks[handle] = b
	m.mu.Unlock()

	m.allocCount.Add(1)
	m.totalAllocated.Add(uint64(size))
	if m.metrics != nil {
		m.metrics.ObserveAlloc(size, class >= 0)
		m.metrics.RecordUsage(m.currentUsage.Load())
	}
	m.checkThresholds()

	return &Buffer{handle: handle, data: buf}, nil
}

// Calloc allocates size bytes of zeroed memory.
func (m *Manager) Calloc(size int, flags Flags) (*Buffer, error) {
	return m.Alloc(size, flags|FlagZero)
}

// Realloc resizes an allocation, preserving its prefix. The old buffer is
// freed; the returned buffer carries a new handle.
func (m *Manager) Realloc(buf *Buffer, newSize int, flags Flags) (*Buffer, error) {
	if buf == nil {
		return m.Alloc(newSize, flags)
	}
	next, err := m.Alloc(newSize, flags)
	if err != nil {
		return nil, err
	}
	copy(next.data, buf.data)
	if err := m.Free(buf); err != nil {
		// The new allocation stands; the old handle was already gone.
		logger.Warn("realloc free of stale handle",
			logger.KeyHandle, uint64(buf.handle), logger.KeyError, err.Error())
	}
	return next, nil
}

// Free returns a buffer to its pool and removes its tracking entry.
func (m *Manager) Free(buf *Buffer) error {
	if buf == nil {
		return ErrInvalidHandle
	}
	return m.FreeHandle(buf.handle)
}

// FreeHandle frees by handle. Unknown handles return ErrInvalidHandle.
func (m *Manager) FreeHandle(h Handle) error {
	m.mu.Lock()
	b, ok := m.blocks[h]
	if ok {
		delete(m.blocks, h)
	}
	m.mu.Unlock()

	if !ok {
		return ErrInvalidHandle
	}
	m.releaseBlock(b)
	return nil
}

// releaseBlock returns a block's buffer to its pool and updates counters.
func (m *Manager) releaseBlock(b *Block) {
	if b.class >= 0 {
		m.pools[b.class].put(b.buf)
	}
	m.release(uint64(b.size))
	m.freeCount.Add(1)
	m.totalFreed.Add(uint64(b.size))
	if m.metrics != nil {
		m.metrics.ObserveFree(b.size)
		m.metrics.RecordUsage(m.currentUsage.Load())
	}
}

// Touch records an access on a tracked allocation, refreshing its idle age.
func (m *Manager) Touch(h Handle) {
	m.mu.Lock()
	b, ok := m.blocks[h]
	m.mu.Unlock()
	if !ok {
		return
	}
	b.lastAccess.Store(time.Now().UnixNano())
	b.accessCount.Add(1)
}

// CurrentUsage returns the bytes currently allocated.
func (m *Manager) CurrentUsage() uint64 {
	return m.currentUsage.Load()
}

// CheckLimit reports whether an additional allocation of extra bytes would
// stay within the configured limits.
func (m *Manager) CheckLimit(extra uint64) bool {
	if extra > m.cfg.MaxSingle {
		return false
	}
	return m.currentUsage.Load()+extra <= m.cfg.MaxTotal
}

// reserve claims usage atomically, failing if the cap would be exceeded.
func (m *Manager) reserve(size uint64) bool {
	for {
		cur := m.currentUsage.Load()
		next := cur + size
		if next > m.cfg.MaxTotal {
			return false
		}
		if m.currentUsage.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (m *Manager) release(size uint64) {
	m.currentUsage.Add(^(size - 1))
}

// checkThresholds logs once per crossing of the warning/critical usage
// thresholds. Crossing a threshold never fails the allocation.
func (m *Manager) checkThresholds() {
	usage := m.currentUsage.Load()
	warnAt := m.cfg.MaxTotal * warningPercent / 100
	critAt := m.cfg.MaxTotal * criticalPercent / 100

	switch {
	case usage >= critAt:
		if m.warnedCritical.CompareAndSwap(false, true) {
			logger.Warn("memory usage critical",
				logger.KeyUsage, usage, logger.KeyLimit, m.cfg.MaxTotal)
		}
	case usage >= warnAt:
		if m.warnedWarning.CompareAndSwap(false, true) {
			logger.Warn("memory usage high",
				logger.KeyUsage, usage, logger.KeyLimit, m.cfg.MaxTotal)
		}
	default:
		m.warnedWarning.Store(false)
		m.warnedCritical.Store(false)
	}
}

// gcSweep frees temporary allocations that have been idle longer than
// IdleAge.
func (m *Manager) gcSweep() {
	if !m.cfg.Tracking {
		return
	}
	cutoff := time.Now().Add(-m.cfg.IdleAge).UnixNano()

	m.mu.Lock()
	var victims []*Block
	for h, b := range m.blocks {
		if b.flags&FlagTemporary == 0 || b.flags&FlagPinned != 0 {
			continue
		}
		if b.lastAccess.Load() < cutoff {
			victims = append(victims, b)
			delete(m.blocks, h)
		}
	}
	m.mu.Unlock()

	for _, b := range victims {
		m.releaseBlock(b)
		m.gcReclaimed.Add(uint64(b.size))
	}
	m.gcRuns.Add(1)

	if len(victims) > 0 {
		logger.Debug("memory gc sweep reclaimed idle buffers",
			logger.KeyFreed, len(victims))
	}
}

// Close stops the sweep and force-frees everything still held. With
// tracking on, each remaining block is reported as a leak exactly once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.closed = true
	started := m.started
	leaked := make([]*Block, 0, len(m.blocks))
	for _, b := range m.blocks {
		leaked = append(leaked, b)
	}
	m.blocks = make(map[Handle]*Block)
	m.mu.Unlock()

	if started {
		close(m.stopCh)
		<-m.stopped
	}

	for _, b := range leaked {
		if m.cfg.Tracking {
			logger.Warn("leaked allocation freed at shutdown",
				logger.KeyHandle, uint64(b.handle),
				logger.KeySize, b.size)
			m.leakCount.Add(1)
		}
		m.releaseBlock(b)
	}
	if m.cfg.Tracking && len(leaked) > 0 {
		logger.Warn("memory manager closed with leaks", logger.KeyLeaks, len(leaked))
		if m.metrics != nil {
			m.metrics.RecordLeaks(len(leaked))
		}
	}
	return nil
}

// Stats is a point-in-time snapshot of allocator counters.
type Stats struct {
	CurrentUsage   uint64
	TotalAllocated uint64
	TotalFreed     uint64
	AllocCount     uint64
	FreeCount      uint64
	OOMCount       uint64
	LeakCount      uint64
	GCRuns         uint64
	GCReclaimed    uint64
	TrackedBlocks  int
	Pools          []PoolStats
}

// Stats returns a snapshot of allocator statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	tracked := len(m.blocks)
	m.mu.Unlock()

	s := Stats{
		CurrentUsage:   m.currentUsage.Load(),
		TotalAllocated: m.totalAllocated.Load(),
		TotalFreed:     m.totalFreed.Load(),
		AllocCount:     m.allocCount.Load(),
		FreeCount:      m.freeCount.Load(),
		OOMCount:       m.oomCount.Load(),
		LeakCount:      m.leakCount.Load(),
		GCRuns:         m.gcRuns.Load(),
		GCReclaimed:    m.gcReclaimed.Load(),
		TrackedBlocks:  tracked,
	}
	for _, p := range m.pools {
		s.Pools = append(s.Pools, p.stats())
	}
	return s
}

// GC runs one sweep synchronously. Exposed for the maintenance task and
// for tests.
func (m *Manager) GC() {
	m.gcSweep()
}
