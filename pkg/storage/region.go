// region.go implements the on-disk region file: a fixed header followed by
// an append-only log of framed packet records.
//
// File Format:
//
//	Header (64 bytes):
//	  - Magic: 0x48494E41 "HINA" (4 bytes)
//	  - Version major: uint16 (2 bytes)
//	  - Version minor: uint16 (2 bytes)
//	  - Flags: uint32 (4 bytes)
//	  - Block size: uint32 (4 bytes)
//	  - Total blocks: uint64 (8 bytes)
//	  - Used blocks: uint64 (8 bytes)
//	  - Free blocks: uint64 (8 bytes)
//	  - Created at: int64 ns (8 bytes)
//	  - Modified at: int64 ns (8 bytes)
//	  - Header CRC32: uint32 (4 bytes, over the preceding 56 bytes)
//	  - Reserved: 4 bytes
//
//	Frames (block aligned):
//	  - Frame magic: 0x48424C4B "HBLK" (4 bytes)
//	  - Frame flags: uint32 (bit 0 = freed)
//	  - Record length: uint32
//	  - Record CRC32: uint32
//	  - Record: variable, padded to the next block boundary
//
// Frames are never rewritten in place except for the freed bit, so a crash
// mid-append leaves at worst one torn frame at the tail, which the log scan
// drops.
package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/pkg/packet"
)

const (
	// RegionMagic identifies a region file.
	RegionMagic = 0x48494E41
	// frameMagic identifies one record frame inside the log.
	frameMagic = 0x48424C4B

	regionVersionMajor = 1
	regionVersionMinor = 0

	headerSize = 64
	frameSize  = 16

	// DefaultBlockSize is the allocation granularity inside a region file.
	DefaultBlockSize = 4096

	// frameFreed marks a frame whose record has been deleted.
	frameFreed uint32 = 1 << 0

	// headerFlagClean is set by a clean close and cleared by the first
	// append after open. When missing on open, the persistent index is
	// not trusted and the log is rescanned.
	headerFlagClean uint32 = 1 << 0
)

// regionHeader is the decoded fixed header of a region file.
type regionHeader struct {
	magic       uint32
	major       uint16
	minor       uint16
	flags       uint32
	blockSize   uint32
	totalBlocks uint64
	usedBlocks  uint64
	freeBlocks  uint64
	createdAt   int64
	modifiedAt  int64
}

func (h *regionHeader) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:], h.magic)
	binary.LittleEndian.PutUint16(buf[4:], h.major)
	binary.LittleEndian.PutUint16(buf[6:], h.minor)
	binary.LittleEndian.PutUint32(buf[8:], h.flags)
	binary.LittleEndian.PutUint32(buf[12:], h.blockSize)
	binary.LittleEndian.PutUint64(buf[16:], h.totalBlocks)
	binary.LittleEndian.PutUint64(buf[24:], h.usedBlocks)
	binary.LittleEndian.PutUint64(buf[32:], h.freeBlocks)
	binary.LittleEndian.PutUint64(buf[40:], uint64(h.createdAt))
	binary.LittleEndian.PutUint64(buf[48:], uint64(h.modifiedAt))
	binary.LittleEndian.PutUint32(buf[56:], crc32.ChecksumIEEE(buf[:56]))
	return buf
}

func decodeHeader(buf []byte) (regionHeader, error) {
	if len(buf) < headerSize {
		return regionHeader{}, ErrCorrupted
	}
	h := regionHeader{
		magic:       binary.LittleEndian.Uint32(buf[0:]),
		major:       binary.LittleEndian.Uint16(buf[4:]),
		minor:       binary.LittleEndian.Uint16(buf[6:]),
		flags:       binary.LittleEndian.Uint32(buf[8:]),
		blockSize:   binary.LittleEndian.Uint32(buf[12:]),
		totalBlocks: binary.LittleEndian.Uint64(buf[16:]),
		usedBlocks:  binary.LittleEndian.Uint64(buf[24:]),
		freeBlocks:  binary.LittleEndian.Uint64(buf[32:]),
		createdAt:   int64(binary.LittleEndian.Uint64(buf[40:])),
		modifiedAt:  int64(binary.LittleEndian.Uint64(buf[48:])),
	}
	if h.magic != RegionMagic {
		return regionHeader{}, ErrCorrupted
	}
	if binary.LittleEndian.Uint32(buf[56:]) != crc32.ChecksumIEEE(buf[:56]) {
		return regionHeader{}, ErrCorrupted
	}
	if h.major != regionVersionMajor {
		return regionHeader{}, ErrVersionMismatch
	}
	if h.blockSize == 0 || h.blockSize&(h.blockSize-1) != 0 {
		return regionHeader{}, ErrCorrupted
	}
	return h, nil
}

// Block is the in-memory record of one stored packet.
type Block struct {
	ID         string
	Type       packet.Type
	Size       uint32 // record bytes, excluding frame and padding
	Blocks     uint32 // file blocks consumed including frame and padding
	Offset     uint64 // frame start
	CRC        uint32
	Free       bool
	StoredAt   int64
	AccessedAt int64
}

// Region is one open region file plus its in-memory block index.
type Region struct {
	mu       sync.RWMutex
	id       uint32
	name     string
	path     string
	file     *os.File
	header   regionHeader
	capacity uint64 // byte budget for the log, excluding the header
	blocks   map[string]*Block
	writeOff uint64
	dirty    bool // header or data not yet synced

	// decode reverses the service's record encoding (decrypt, then
	// decompress) so the log scan can peek at packet headers. Nil means
	// records are stored raw.
	decode func([]byte) ([]byte, error)
}

// createRegion creates a new region file with an empty log.
func createRegion(id uint32, name, path string, capacity uint64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create region file: %w", err)
	}

	now := time.Now().UnixNano()
	r := &Region{
		id:       id,
		name:     name,
		path:     path,
		file:     f,
		capacity: capacity,
		blocks:   make(map[string]*Block),
		writeOff: headerSize,
		header: regionHeader{
			magic:       RegionMagic,
			major:       regionVersionMajor,
			minor:       regionVersionMinor,
			flags:       headerFlagClean,
			blockSize:   DefaultBlockSize,
			totalBlocks: capacity / DefaultBlockSize,
			freeBlocks:  capacity / DefaultBlockSize,
			createdAt:   now,
			modifiedAt:  now,
		},
	}
	if err := r.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return r, nil
}

// openRegion opens an existing region file and validates its header. The
// block index is NOT loaded; Service restores it from the persistent index
// or falls back to scanLog.
func openRegion(id uint32, name, path string, capacity uint64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open region file: %w", err)
	}

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, ErrCorrupted
	}
	header, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Region{
		id:       id,
		name:     name,
		path:     path,
		file:     f,
		header:   header,
		capacity: capacity,
		blocks:   make(map[string]*Block),
		writeOff: uint64(info.Size()),
	}, nil
}

func (r *Region) writeHeader() error {
	if _, err := r.file.WriteAt(r.header.encode(), 0); err != nil {
		return fmt.Errorf("failed to write region header: %w", err)
	}
	return nil
}

// blocksFor returns the number of file blocks a record occupies.
func (r *Region) blocksFor(recordLen int) uint32 {
	bs := uint64(r.header.blockSize)
	return uint32((uint64(frameSize+recordLen) + bs - 1) / bs)
}

// usedBytes returns the live log footprint in bytes.
func (r *Region) usedBytes() uint64 {
	return r.header.usedBlocks * uint64(r.header.blockSize)
}

// hasSpace reports whether a record of recordLen fits within the capacity,
// counting the log tail rather than live bytes: freed space is only
// reusable after compaction.
func (r *Region) hasSpace(recordLen int) bool {
	need := uint64(r.blocksFor(recordLen)) * uint64(r.header.blockSize)
	return r.writeOff-headerSize+need <= r.capacity
}

// append writes one framed record at the log tail and registers its block.
func (r *Region) append(id string, typ packet.Type, record []byte) (*Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasSpace(len(record)) {
		return nil, ErrRegionFull
	}

	if r.header.flags&headerFlagClean != 0 {
		r.header.flags &^= headerFlagClean
		if err := r.writeHeader(); err != nil {
			return nil, err
		}
	}

	nblocks := r.blocksFor(len(record))
	padded := make([]byte, uint64(nblocks)*uint64(r.header.blockSize))
	binary.LittleEndian.PutUint32(padded[0:], frameMagic)
	binary.LittleEndian.PutUint32(padded[4:], 0)
	binary.LittleEndian.PutUint32(padded[8:], uint32(len(record)))
	crc := crc32.ChecksumIEEE(record)
	binary.LittleEndian.PutUint32(padded[12:], crc)
	copy(padded[frameSize:], record)

	offset := r.writeOff
	if _, err := r.file.WriteAt(padded, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to append record: %w", err)
	}
	r.writeOff += uint64(len(padded))

	now := time.Now().UnixNano()
	blk := &Block{
		ID:         id,
		Type:       typ,
		Size:       uint32(len(record)),
		Blocks:     nblocks,
		Offset:     offset,
		CRC:        crc,
		StoredAt:   now,
		AccessedAt: now,
	}
	r.blocks[id] = blk

	r.header.usedBlocks += uint64(nblocks)
	if r.header.freeBlocks >= uint64(nblocks) {
		r.header.freeBlocks -= uint64(nblocks)
	} else {
		r.header.freeBlocks = 0
	}
	r.header.modifiedAt = now
	r.dirty = true
	return blk, nil
}

// read returns the record bytes for a block, verifying frame and CRC.
func (r *Region) read(blk *Block) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	frame := make([]byte, frameSize)
	if _, err := r.file.ReadAt(frame, int64(blk.Offset)); err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if binary.LittleEndian.Uint32(frame[0:]) != frameMagic {
		return nil, ErrCorrupted
	}
	length := binary.LittleEndian.Uint32(frame[8:])
	if length != blk.Size {
		return nil, ErrCorrupted
	}

	record := make([]byte, length)
	if _, err := r.file.ReadAt(record, int64(blk.Offset)+frameSize); err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if crc32.ChecksumIEEE(record) != blk.CRC {
		return nil, ErrCorrupted
	}
	return record, nil
}

// markFree flips the freed bit on the frame and moves the block's space to
// the free count. The bytes are reclaimed by compact.
func (r *Region) markFree(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blk, ok := r.blocks[id]
	if !ok {
		return ErrPacketNotFound
	}

	var flags [4]byte
	binary.LittleEndian.PutUint32(flags[:], frameFreed)
	if _, err := r.file.WriteAt(flags[:], int64(blk.Offset)+4); err != nil {
		return fmt.Errorf("failed to mark frame freed: %w", err)
	}

	blk.Free = true
	delete(r.blocks, id)
	if r.header.usedBlocks >= uint64(blk.Blocks) {
		r.header.usedBlocks -= uint64(blk.Blocks)
	}
	r.header.freeBlocks += uint64(blk.Blocks)
	r.header.modifiedAt = time.Now().UnixNano()
	r.dirty = true
	return nil
}

// sync flushes header and data to durable storage.
func (r *Region) sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	if err := r.writeHeader(); err != nil {
		return err
	}
	if err := fdatasync(r.file); err != nil {
		return fmt.Errorf("failed to sync region %d: %w", r.id, err)
	}
	r.dirty = false
	return nil
}

// scanLog rebuilds the block index by walking every frame in the file.
// Torn or corrupt tail frames end the scan; freed frames are skipped. The
// packet UUID is recovered by decoding each record's fixed prefix.
func (r *Region) scanLog() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := r.file.Stat()
	if err != nil {
		return err
	}
	fileSize := uint64(info.Size())

	r.blocks = make(map[string]*Block)
	var usedBlocks uint64

	offset := uint64(headerSize)
	frame := make([]byte, frameSize)
	for offset+frameSize <= fileSize {
		if _, err := r.file.ReadAt(frame, int64(offset)); err != nil {
			break
		}
		if binary.LittleEndian.Uint32(frame[0:]) != frameMagic {
			break
		}
		flags := binary.LittleEndian.Uint32(frame[4:])
		length := binary.LittleEndian.Uint32(frame[8:])
		crc := binary.LittleEndian.Uint32(frame[12:])

		nblocks := r.blocksFor(int(length))
		span := uint64(nblocks) * uint64(r.header.blockSize)
		if offset+span > fileSize {
			break // torn tail frame
		}

		if flags&frameFreed == 0 {
			record := make([]byte, length)
			if _, err := r.file.ReadAt(record, int64(offset)+frameSize); err != nil {
				break
			}
			if crc32.ChecksumIEEE(record) != crc {
				logger.Warn("dropping corrupt frame during log scan",
					logger.KeyRegionID, r.id, "offset", offset)
				offset += span
				continue
			}
			if r.decode != nil {
				decoded, derr := r.decode(record)
				if derr != nil {
					logger.Warn("dropping undecodable frame during log scan",
						logger.KeyRegionID, r.id, "offset", offset)
					offset += span
					continue
				}
				record = decoded
			}
			id, typ, derr := packet.PeekRecord(record)
			if derr != nil {
				logger.Warn("dropping undecodable frame during log scan",
					logger.KeyRegionID, r.id, "offset", offset)
				offset += span
				continue
			}
			now := time.Now().UnixNano()
			r.blocks[id] = &Block{
				ID:         id,
				Type:       typ,
				Size:       length,
				Blocks:     nblocks,
				Offset:     offset,
				CRC:        crc,
				StoredAt:   now,
				AccessedAt: now,
			}
			usedBlocks += uint64(nblocks)
		}
		offset += span
	}

	r.writeOff = offset
	r.header.usedBlocks = usedBlocks
	total := r.header.totalBlocks
	if usedBlocks < total {
		r.header.freeBlocks = total - usedBlocks
	} else {
		r.header.freeBlocks = 0
	}
	r.dirty = true

	logger.Info("region index rebuilt from log scan",
		logger.KeyRegionID, r.id,
		"blocks", len(r.blocks),
		"log_bytes", offset-headerSize)
	return nil
}

// restoreBlock installs one block entry recovered from the persistent
// index without touching the file.
func (r *Region) restoreBlock(blk *Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[blk.ID] = blk
	end := blk.Offset + uint64(blk.Blocks)*uint64(r.header.blockSize)
	if end > r.writeOff {
		r.writeOff = end
	}
}

// lookup returns the live block for a packet id.
func (r *Region) lookup(id string) (*Block, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blk, ok := r.blocks[id]
	return blk, ok
}

// liveBlocks returns a snapshot of the live block set.
func (r *Region) liveBlocks() []*Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Block, 0, len(r.blocks))
	for _, blk := range r.blocks {
		out = append(out, blk)
	}
	return out
}

// compact rewrites live frames into a fresh file and atomically swaps it
// in, reclaiming the space of freed blocks. Returns the bytes reclaimed.
func (r *Region) compact() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpPath := r.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create compact file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	// Deterministic order keeps the rewritten log scan-friendly.
	ordered := make([]*Block, 0, len(r.blocks))
	for _, blk := range r.blocks {
		ordered = append(ordered, blk)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })

	writeOff := uint64(headerSize)
	var usedBlocks uint64
	newOffsets := make(map[string]uint64, len(ordered))

	for _, blk := range ordered {
		span := uint64(blk.Blocks) * uint64(r.header.blockSize)
		frame := make([]byte, span)
		if _, err := r.file.ReadAt(frame, int64(blk.Offset)); err != nil {
			cleanup()
			return 0, fmt.Errorf("failed to read frame during compact: %w", err)
		}
		if _, err := tmp.WriteAt(frame, int64(writeOff)); err != nil {
			cleanup()
			return 0, fmt.Errorf("failed to write frame during compact: %w", err)
		}
		newOffsets[blk.ID] = writeOff
		writeOff += span
		usedBlocks += uint64(blk.Blocks)
	}

	oldTail := r.writeOff
	r.header.usedBlocks = usedBlocks
	if usedBlocks < r.header.totalBlocks {
		r.header.freeBlocks = r.header.totalBlocks - usedBlocks
	} else {
		r.header.freeBlocks = 0
	}
	r.header.modifiedAt = time.Now().UnixNano()

	if _, err := tmp.WriteAt(r.header.encode(), 0); err != nil {
		cleanup()
		return 0, err
	}
	if err := fdatasync(tmp); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to swap compacted region: %w", err)
	}

	old := r.file
	f, err := os.OpenFile(r.path, os.O_RDWR, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to reopen compacted region: %w", err)
	}
	old.Close()
	r.file = f
	r.writeOff = writeOff
	r.dirty = true

	for id, off := range newOffsets {
		r.blocks[id].Offset = off
	}

	reclaimed := oldTail - writeOff
	logger.Info("region compacted",
		logger.KeyRegionID, r.id,
		"reclaimed_bytes", reclaimed,
		"live_blocks", len(r.blocks))
	return reclaimed, nil
}

// wasCleanlyClosed reports whether the header carried the clean flag when
// the file was opened.
func (r *Region) wasCleanlyClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.header.flags&headerFlagClean != 0
}

// close marks the region clean, syncs, and closes the file.
func (r *Region) close() error {
	r.mu.Lock()
	r.header.flags |= headerFlagClean
	r.dirty = true
	r.mu.Unlock()
	if err := r.sync(); err != nil {
		return err
	}
	return r.file.Close()
}
