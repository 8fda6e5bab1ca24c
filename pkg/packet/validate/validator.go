package validate

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/pkg/packet"
)

const (
	// cacheSlots is the fixed verdict cache size. Collisions overwrite.
	cacheSlots = 256
	// DefaultCacheTTL bounds how long a verdict is trusted.
	DefaultCacheTTL = 5 * time.Minute
)

// cacheEntry is a cached verdict for one (uuid, hash, stages) triple.
type cacheEntry struct {
	id       string
	hash     uint32
	stages   Stage
	valid    bool
	failed   Stage
	reason   string
	storedAt time.Time
}

// Validator runs staged checks with a direct-mapped verdict cache. Both
// passing and failing verdicts are cached; a changed content hash misses
// naturally because the hash is part of the key.
type Validator struct {
	mu    sync.Mutex
	slots [cacheSlots]cacheEntry
	ttl   time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	passes    atomic.Uint64
	failures  atomic.Uint64
	evictions atomic.Uint64
}

// NewValidator creates a validator with the given cache TTL. A zero ttl
// uses DefaultCacheTTL.
func NewValidator(ttl time.Duration) *Validator {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Validator{ttl: ttl}
}

// Stats is a snapshot of validator counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Passes    uint64
	Failures  uint64
	Evictions uint64
}

// Stats returns a snapshot of validator counters.
func (v *Validator) Stats() Stats {
	return Stats{
		Hits:      v.hits.Load(),
		Misses:    v.misses.Load(),
		Passes:    v.passes.Load(),
		Failures:  v.failures.Load(),
		Evictions: v.evictions.Load(),
	}
}

// Check validates p at the given level. LevelParanoid always runs every
// stage fresh; other levels may return a cached verdict.
func (v *Validator) Check(p *packet.Packet, level Level) Result {
	if p == nil {
		return Result{Failed: StageBasic, Reason: errNilPacket.Error()}
	}
	stages := level.Stages()

	if level != LevelParanoid {
		if res, ok := v.lookup(p, stages); ok {
			v.hits.Add(1)
			return res
		}
		v.misses.Add(1)
	}

	res := runStages(p, stages)
	if res.Valid {
		v.passes.Add(1)
	} else {
		v.failures.Add(1)
		logger.Debug("packet validation failed",
			logger.KeyPacketID, p.ID(),
			"stage", uint32(res.Failed),
			"reason", res.Reason)
	}

	if level != LevelParanoid {
		v.store(p, res)
	}
	return res
}

// CheckStages validates p with an explicit stage set, bypassing the cache.
func (v *Validator) CheckStages(p *packet.Packet, stages Stage) Result {
	if p == nil {
		return Result{Failed: StageBasic, Reason: errNilPacket.Error()}
	}
	res := runStages(p, stages)
	if res.Valid {
		v.passes.Add(1)
	} else {
		v.failures.Add(1)
	}
	return res
}

// Invalidate drops any cached verdicts for the given packet UUID.
func (v *Validator) Invalidate(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.slots {
		if v.slots[i].id == id {
			v.slots[i] = cacheEntry{}
			v.evictions.Add(1)
		}
	}
}

// Flush empties the verdict cache.
func (v *Validator) Flush() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.slots {
		if v.slots[i].id != "" {
			v.evictions.Add(1)
		}
		v.slots[i] = cacheEntry{}
	}
}

func slotFor(id string, hash uint32, stages Stage) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	var b [8]byte
	b[0] = byte(hash)
	b[1] = byte(hash >> 8)
	b[2] = byte(hash >> 16)
	b[3] = byte(hash >> 24)
	b[4] = byte(stages)
	b[5] = byte(stages >> 8)
	b[6] = byte(stages >> 16)
	b[7] = byte(stages >> 24)
	h.Write(b[:])
	return int(h.Sum32() % cacheSlots)
}

func (v *Validator) lookup(p *packet.Packet, stages Stage) (Result, bool) {
	id, hash := p.ID(), p.ContentHash()
	idx := slotFor(id, hash, stages)

	v.mu.Lock()
	defer v.mu.Unlock()
	e := v.slots[idx]
	if e.id != id || e.hash != hash || e.stages != stages {
		return Result{}, false
	}
	if time.Since(e.storedAt) > v.ttl {
		v.slots[idx] = cacheEntry{}
		v.evictions.Add(1)
		return Result{}, false
	}
	return Result{
		Valid:  e.valid,
		Stages: e.stages,
		Failed: e.failed,
		Reason: e.reason,
		Cached: true,
	}, true
}

func (v *Validator) store(p *packet.Packet, res Result) {
	id, hash := p.ID(), p.ContentHash()
	idx := slotFor(id, hash, res.Stages)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.slots[idx].id != "" && v.slots[idx].id != id {
		v.evictions.Add(1)
	}
	v.slots[idx] = cacheEntry{
		id:       id,
		hash:     hash,
		stages:   res.Stages,
		valid:    res.Valid,
		failed:   res.Failed,
		reason:   res.Reason,
		storedAt: time.Now(),
	}
}
