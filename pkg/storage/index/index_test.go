package index

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func testRef(region uint32, offset uint64) BlockRef {
	return BlockRef{
		RegionID: region,
		Offset:   offset,
		Length:   512,
		CRC:      0xdeadbeef,
		StoredAt: time.Now().UnixNano(),
	}
}

func TestBlockEntries(t *testing.T) {
	ix := openTestIndex(t)
	const id = "11111111-2222-3333-4444-555555555555"

	t.Run("put and get", func(t *testing.T) {
		ref := testRef(1, 4096)
		require.NoError(t, ix.Put(id, ref))

		got, err := ix.Get(id)
		require.NoError(t, err)
		assert.Equal(t, ref, got)
	})

	t.Run("missing entry", func(t *testing.T) {
		_, err := ix.Get("99999999-9999-9999-9999-999999999999")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("overwrite moves regions", func(t *testing.T) {
		moved := testRef(2, 8192)
		require.NoError(t, ix.Put(id, moved))

		got, err := ix.Get(id)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), got.RegionID)

		// The stale region-scoped key must be gone.
		var inOld int
		require.NoError(t, ix.ForEachInRegion(1, func(string, BlockRef) error {
			inOld++
			return nil
		}))
		assert.Zero(t, inOld)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, ix.Delete(id))
		_, err := ix.Get(id)
		assert.ErrorIs(t, err, ErrNotFound)

		// Idempotent.
		require.NoError(t, ix.Delete(id))
	})
}

func TestRegionScans(t *testing.T) {
	ix := openTestIndex(t)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
		region := uint32(1)
		if i >= 3 {
			region = 2
		}
		require.NoError(t, ix.Put(ids[i], testRef(region, uint64(i)*4096)))
	}

	t.Run("for each in region", func(t *testing.T) {
		var seen []string
		require.NoError(t, ix.ForEachInRegion(1, func(id string, ref BlockRef) error {
			assert.Equal(t, uint32(1), ref.RegionID)
			seen = append(seen, id)
			return nil
		}))
		assert.ElementsMatch(t, ids[:3], seen)
	})

	t.Run("count", func(t *testing.T) {
		n, err := ix.Count()
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("drop region", func(t *testing.T) {
		dropped, err := ix.DropRegion(1)
		require.NoError(t, err)
		assert.Equal(t, 3, dropped)

		for _, id := range ids[:3] {
			_, err := ix.Get(id)
			assert.ErrorIs(t, err, ErrNotFound)
		}
		got, err := ix.Get(ids[3])
		require.NoError(t, err)
		assert.Equal(t, uint32(2), got.RegionID)
	})
}

func TestRegionMeta(t *testing.T) {
	ix := openTestIndex(t)

	meta := RegionMeta{
		ID:        7,
		Name:      "primary",
		Path:      "/var/lib/hinata/region-7.dat",
		Capacity:  64 << 20,
		CreatedAt: time.Now().UnixNano(),
	}

	t.Run("roundtrip", func(t *testing.T) {
		require.NoError(t, ix.PutRegion(meta))
		got, err := ix.GetRegion(7)
		require.NoError(t, err)
		assert.Equal(t, meta, got)
	})

	t.Run("list", func(t *testing.T) {
		other := meta
		other.ID = 8
		other.Name = "secondary"
		require.NoError(t, ix.PutRegion(other))

		regions, err := ix.Regions()
		require.NoError(t, err)
		assert.Len(t, regions, 2)
	})

	t.Run("delete removes blocks too", func(t *testing.T) {
		require.NoError(t, ix.Put("00000000-0000-0000-0000-000000000042", testRef(7, 0)))
		require.NoError(t, ix.DeleteRegion(7))

		_, err := ix.GetRegion(7)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = ix.Get("00000000-0000-0000-0000-000000000042")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	const id = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	ref := testRef(3, 12288)

	ix, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, ix.Put(id, ref))
	require.NoError(t, ix.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(id)
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}
