// Package index persists the packet block index in BadgerDB so region files
// do not need a full log scan on every restart. The index is advisory: the
// region log remains the source of truth and the index can always be rebuilt
// from it.
package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/notcontrolos/hinata/internal/logger"
)

// Key Namespace Prefixes:
//
// Data Type       Prefix   Key Format                 Value Type
// =================================================================
// Block by Region "b:"     b:<region:%08x>:<uuid>     BlockRef (binary)
// Block by Packet "pb:"    pb:<uuid>                  BlockRef (binary)
// Region Meta     "r:"     r:<region:%08x>            RegionMeta (JSON)
//
// Each block is written under two keys: the region-scoped key supports
// prefix scans during compaction and region teardown, the packet key gives
// O(1) lookup by UUID.
const (
	prefixBlock  = "b:"
	prefixPacket = "pb:"
	prefixRegion = "r:"
)

// ErrNotFound is returned when a key has no index entry.
var ErrNotFound = errors.New("index entry not found")

// BlockRef locates one packet record inside a region file.
type BlockRef struct {
	RegionID uint32
	Offset   uint64
	Length   uint32
	CRC      uint32
	StoredAt int64 // unix nanos
}

// RegionMeta describes a region known to the index.
type RegionMeta struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Capacity  uint64 `json:"capacity"`
	CreatedAt int64  `json:"created_at"`
}

// Index is a BadgerDB-backed block index.
type Index struct {
	db *badger.DB
}

// Open opens (or creates) the index database at path.
func Open(path string) (*Index, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open block index at %s: %w", path, err)
	}
	logger.Debug("block index opened", "path", path)
	return &Index{db: db}, nil
}

// OpenInMemory opens a non-persistent index, used by tests and by
// deployments that prefer log-scan recovery over an on-disk index.
func OpenInMemory() (*Index, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory block index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close flushes and closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// ============================================================================
// Block entries
// ============================================================================

func keyBlock(regionID uint32, id string) []byte {
	return []byte(fmt.Sprintf("%s%08x:%s", prefixBlock, regionID, id))
}

func keyBlockPrefix(regionID uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x:", prefixBlock, regionID))
}

func keyPacket(id string) []byte {
	return []byte(prefixPacket + id)
}

const blockRefSize = 4 + 8 + 4 + 4 + 8

func encodeBlockRef(ref BlockRef) []byte {
	buf := make([]byte, blockRefSize)
	binary.LittleEndian.PutUint32(buf[0:], ref.RegionID)
	binary.LittleEndian.PutUint64(buf[4:], ref.Offset)
	binary.LittleEndian.PutUint32(buf[12:], ref.Length)
	binary.LittleEndian.PutUint32(buf[16:], ref.CRC)
	binary.LittleEndian.PutUint64(buf[20:], uint64(ref.StoredAt))
	return buf
}

func decodeBlockRef(val []byte) (BlockRef, error) {
	if len(val) != blockRefSize {
		return BlockRef{}, fmt.Errorf("malformed block ref: %d bytes", len(val))
	}
	return BlockRef{
		RegionID: binary.LittleEndian.Uint32(val[0:]),
		Offset:   binary.LittleEndian.Uint64(val[4:]),
		Length:   binary.LittleEndian.Uint32(val[12:]),
		CRC:      binary.LittleEndian.Uint32(val[16:]),
		StoredAt: int64(binary.LittleEndian.Uint64(val[20:])),
	}, nil
}

// Put records where a packet lives. Overwrites any previous location.
func (ix *Index) Put(id string, ref BlockRef) error {
	val := encodeBlockRef(ref)
	return ix.db.Update(func(txn *badger.Txn) error {
		// Drop a stale region-scoped key if the packet moved regions.
		if item, err := txn.Get(keyPacket(id)); err == nil {
			var old BlockRef
			verr := item.Value(func(v []byte) error {
				var derr error
				old, derr = decodeBlockRef(v)
				return derr
			})
			if verr == nil && old.RegionID != ref.RegionID {
				_ = txn.Delete(keyBlock(old.RegionID, id))
			}
		}
		if err := txn.Set(keyBlock(ref.RegionID, id), val); err != nil {
			return err
		}
		return txn.Set(keyPacket(id), val)
	})
}

// Get returns the location of a packet. Returns ErrNotFound when unknown.
func (ix *Index) Get(id string) (BlockRef, error) {
	var ref BlockRef
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyPacket(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			ref, derr = decodeBlockRef(val)
			return derr
		})
	})
	if err != nil {
		return BlockRef{}, err
	}
	return ref, nil
}

// Delete removes a packet's index entry. Missing entries are not an error.
func (ix *Index) Delete(id string) error {
	return ix.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyPacket(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var ref BlockRef
		if verr := item.Value(func(v []byte) error {
			var derr error
			ref, derr = decodeBlockRef(v)
			return derr
		}); verr == nil {
			_ = txn.Delete(keyBlock(ref.RegionID, id))
		}
		return txn.Delete(keyPacket(id))
	})
}

// ForEachInRegion walks every block entry for one region.
func (ix *Index) ForEachInRegion(regionID uint32, fn func(id string, ref BlockRef) error) error {
	prefix := keyBlockPrefix(regionID)
	return ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				ref, derr := decodeBlockRef(val)
				if derr != nil {
					return derr
				}
				return fn(id, ref)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DropRegion removes every block entry for a region, returning the count.
func (ix *Index) DropRegion(regionID uint32) (int, error) {
	prefix := keyBlockPrefix(regionID)
	var keys [][]byte
	var ids []string

	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := append([]byte{}, it.Item().Key()...)
			keys = append(keys, key)
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = ix.db.Update(func(txn *badger.Txn) error {
		for i, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(keyPacket(ids[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Count returns the number of indexed blocks.
func (ix *Index) Count() (int, error) {
	count := 0
	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixBlock)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// ============================================================================
// Region metadata
// ============================================================================

func keyRegion(regionID uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", prefixRegion, regionID))
}

// PutRegion stores region metadata.
func (ix *Index) PutRegion(meta RegionMeta) error {
	val, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyRegion(meta.ID), val)
	})
}

// GetRegion returns region metadata. Returns ErrNotFound when unknown.
func (ix *Index) GetRegion(regionID uint32) (RegionMeta, error) {
	var meta RegionMeta
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRegion(regionID))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return RegionMeta{}, err
	}
	return meta, nil
}

// DeleteRegion removes region metadata and all its block entries.
func (ix *Index) DeleteRegion(regionID uint32) error {
	if _, err := ix.DropRegion(regionID); err != nil {
		return err
	}
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyRegion(regionID))
	})
}

// Regions lists all known regions.
func (ix *Index) Regions() ([]RegionMeta, error) {
	var regions []RegionMeta
	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRegion)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta RegionMeta
				if err := json.Unmarshal(val, &meta); err != nil {
					return err
				}
				regions = append(regions, meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return regions, nil
}
