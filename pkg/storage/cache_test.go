package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/packet"
)

func newCacheTestManager(t *testing.T) *memory.Manager {
	t.Helper()
	mgr := memory.NewManager(memory.Config{
		MaxSingle: memory.DefaultMaxSingle,
		MaxTotal:  memory.DefaultMaxTotal,
	}, nil)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func newCachePacket(t *testing.T, mgr *memory.Manager, size int) *packet.Packet {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i)
	}
	p, err := packet.New(mgr, packet.CreateParams{
		Type:     packet.TypeData,
		Priority: packet.PriorityNormal,
		Content:  content,
		Source:   "cache-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if !p.Released() {
			p.Put()
		}
	})
	return p
}

func TestCacheBasics(t *testing.T) {
	mgr := newCacheTestManager(t)

	t.Run("put get remove", func(t *testing.T) {
		c := NewCache(CacheConfig{})
		p := newCachePacket(t, mgr, 64)

		require.True(t, c.Put(p.ID(), p, false))
		assert.Equal(t, 1, c.Len())

		got := c.Get(p.ID())
		require.NotNil(t, got)
		assert.Equal(t, p.ID(), got.ID())
		require.NoError(t, got.Put())

		assert.True(t, c.Remove(p.ID()))
		assert.Nil(t, c.Get(p.ID()))

		stats := c.Stats()
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
	})

	t.Run("cache holds its own reference", func(t *testing.T) {
		c := NewCache(CacheConfig{})
		p := newCachePacket(t, mgr, 64)
		require.True(t, c.Put(p.ID(), p, false))
		assert.Equal(t, 2, p.RefCount())

		c.Flush()
		assert.Equal(t, 1, p.RefCount())
	})

	t.Run("oversized packet refused", func(t *testing.T) {
		c := NewCache(CacheConfig{MaxBytes: 32})
		p := newCachePacket(t, mgr, 64)
		assert.False(t, c.Put(p.ID(), p, false))
		assert.Zero(t, c.Len())
	})
}

func TestCacheEviction(t *testing.T) {
	mgr := newCacheTestManager(t)

	t.Run("entry budget evicts lru", func(t *testing.T) {
		c := NewCache(CacheConfig{MaxEntries: 3})
		packets := make([]*packet.Packet, 4)
		for i := range packets {
			packets[i] = newCachePacket(t, mgr, 32)
			require.True(t, c.Put(packets[i].ID(), packets[i], false))
		}

		assert.Equal(t, 3, c.Len())
		assert.Nil(t, c.Get(packets[0].ID()), "oldest entry should be evicted")
		assert.NotZero(t, c.Stats().Evictions)
	})

	t.Run("access refreshes recency", func(t *testing.T) {
		c := NewCache(CacheConfig{MaxEntries: 2})
		a := newCachePacket(t, mgr, 32)
		b := newCachePacket(t, mgr, 32)
		require.True(t, c.Put(a.ID(), a, false))
		require.True(t, c.Put(b.ID(), b, false))

		got := c.Get(a.ID())
		require.NotNil(t, got)
		got.Put()

		third := newCachePacket(t, mgr, 32)
		require.True(t, c.Put(third.ID(), third, false))

		refreshed := c.Get(a.ID())
		require.NotNil(t, refreshed)
		refreshed.Put()
		assert.Nil(t, c.Get(b.ID()), "least recently used entry should be evicted")
	})

	t.Run("byte budget evicts", func(t *testing.T) {
		c := NewCache(CacheConfig{MaxBytes: 200})
		a := newCachePacket(t, mgr, 120)
		b := newCachePacket(t, mgr, 120)
		require.True(t, c.Put(a.ID(), a, false))
		require.True(t, c.Put(b.ID(), b, false))

		assert.Equal(t, 1, c.Len())
		assert.Nil(t, c.Get(a.ID()))
	})

	t.Run("pinned entries survive pressure", func(t *testing.T) {
		c := NewCache(CacheConfig{MaxEntries: 2})
		pinned := newCachePacket(t, mgr, 32)
		require.True(t, c.Put(pinned.ID(), pinned, true))

		for i := 0; i < 5; i++ {
			p := newCachePacket(t, mgr, 32)
			require.True(t, c.Put(p.ID(), p, false))
		}

		got := c.Get(pinned.ID())
		require.NotNil(t, got, "pinned entry must never be evicted")
		got.Put()
	})
}

func TestCacheTTL(t *testing.T) {
	mgr := newCacheTestManager(t)

	t.Run("expired entry is a miss", func(t *testing.T) {
		c := NewCache(CacheConfig{TTL: time.Millisecond})
		p := newCachePacket(t, mgr, 32)
		require.True(t, c.Put(p.ID(), p, false))

		time.Sleep(5 * time.Millisecond)
		assert.Nil(t, c.Get(p.ID()))
		stats := c.Stats()
		assert.Equal(t, uint64(1), stats.Expirations)
		assert.Equal(t, uint64(1), stats.Misses)
		assert.Zero(t, stats.Entries)
	})

	t.Run("sweep removes expired entries", func(t *testing.T) {
		c := NewCache(CacheConfig{TTL: time.Millisecond})
		for i := 0; i < 3; i++ {
			p := newCachePacket(t, mgr, 32)
			require.True(t, c.Put(p.ID(), p, false))
		}
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, 3, c.Sweep())
		assert.Zero(t, c.Len())
	})
}

func TestCacheConcurrency(t *testing.T) {
	mgr := newCacheTestManager(t)
	c := NewCache(CacheConfig{MaxEntries: 64})

	packets := make([]*packet.Packet, 16)
	for i := range packets {
		packets[i] = newCachePacket(t, mgr, 32)
		require.True(t, c.Put(packets[i].ID(), packets[i], false))
	}

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				p := packets[(g+i)%len(packets)]
				if got := c.Get(p.ID()); got != nil {
					got.Put()
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	assert.Equal(t, 16, c.Stats().Entries)
}
