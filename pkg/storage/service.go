package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/internal/telemetry"
	"github.com/notcontrolos/hinata/pkg/codec"
	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/packet"
	"github.com/notcontrolos/hinata/pkg/packet/validate"
	"github.com/notcontrolos/hinata/pkg/storage/index"
)

const (
	// DefaultMaxRegions bounds the number of region files.
	DefaultMaxRegions = 64
	// DefaultRegionCapacity is the per-region log byte budget.
	DefaultRegionCapacity = 64 << 20
)

// Config configures the storage service. Zero values take defaults.
type Config struct {
	// Dir is the root directory for region files and the block index.
	Dir string
	// InMemoryIndex keeps the block index off disk; every open rebuilds
	// region indexes by log scan.
	InMemoryIndex bool
	// MaxRegions bounds how many regions may exist.
	MaxRegions int
	// RegionCapacity is the byte budget of each region log.
	RegionCapacity uint64
	// WriteBack defers Fdatasync to the periodic sync timer instead of
	// syncing on every store.
	WriteBack bool
	// Validation is the level applied before a packet is stored.
	Validation validate.Level
	// Compression names the record compressor ("none" or "zstd").
	Compression string
	// Encryption names the record encryptor ("none" or
	// "chacha20poly1305").
	Encryption string
	// EncryptionKey is the raw key for the encryptor. Required size
	// depends on the algorithm; chacha20poly1305 takes 32 bytes.
	EncryptionKey []byte
	// Cache bounds the packet cache.
	Cache CacheConfig
}

func (c Config) withDefaults() Config {
	if c.MaxRegions <= 0 {
		c.MaxRegions = DefaultMaxRegions
	}
	if c.RegionCapacity == 0 {
		c.RegionCapacity = DefaultRegionCapacity
	}
	return c
}

// Metrics receives storage observations. Implementations must be
// goroutine-safe. A nil Metrics disables instrumentation.
type Metrics interface {
	ObserveStore(bytes int)
	ObserveLoad(cacheHit bool)
	ObserveDelete()
	RecordRegions(n int)
	RecordCacheUsage(entries int, bytes uint64)
}

// Service owns regions, the packet cache, and the persistent block index.
type Service struct {
	cfg       Config
	mgr       *memory.Manager
	store     *packet.Store
	validator *validate.Validator
	idx       *index.Index
	cache     *Cache
	metrics   Metrics
	comp      codec.Compressor
	enc       codec.Encryptor

	mu      sync.RWMutex
	regions map[uint32]*Region
	byName  map[string]uint32
	nextID  uint32
	closed  bool

	stores  atomic.Uint64
	loads   atomic.Uint64
	deletes atomic.Uint64
}

// Stats is a global storage snapshot.
type Stats struct {
	Regions       int
	Packets       int
	UsedBytes     uint64
	CapacityBytes uint64
	Stores        uint64
	Loads         uint64
	Deletes       uint64
	Cache         CacheStats
	Validator     validate.Stats
}

// RegionInfo describes one region.
type RegionInfo struct {
	ID        uint32
	Name      string
	Path      string
	Capacity  uint64
	UsedBytes uint64
	LogBytes  uint64
	Blocks    int
	CreatedAt int64
}

// Open starts the storage service: it opens the block index, reopens every
// region the index knows about, and restores each region's block map from
// the index when the region was closed cleanly, or by log scan otherwise.
func Open(cfg Config, mgr *memory.Manager, store *packet.Store, validator *validate.Validator, metrics Metrics) (*Service, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	comp, err := codec.NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}
	enc, err := codec.NewEncryptor(cfg.Encryption, cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	var idx *index.Index
	if cfg.InMemoryIndex {
		idx, err = index.OpenInMemory()
	} else {
		idx, err = index.Open(filepath.Join(cfg.Dir, "index"))
	}
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		mgr:       mgr,
		store:     store,
		validator: validator,
		idx:       idx,
		cache:     NewCache(cfg.Cache),
		metrics:   metrics,
		comp:      comp,
		enc:       enc,
		regions:   make(map[uint32]*Region),
		byName:    make(map[string]uint32),
		nextID:    1, // id 0 is the auto-pick sentinel in StorePacket
	}

	if err := s.reopenRegions(); err != nil {
		idx.Close()
		return nil, err
	}
	if metrics != nil {
		metrics.RecordRegions(len(s.regions))
	}
	return s, nil
}

// encodeRecord applies the configured compressor and encryptor to a
// serialized packet record before it hits the region log.
func (s *Service) encodeRecord(record []byte) ([]byte, error) {
	out, err := s.comp.Compress(record)
	if err != nil {
		return nil, err
	}
	return s.enc.Encrypt(out)
}

// decodeRecord reverses encodeRecord.
func (s *Service) decodeRecord(record []byte) ([]byte, error) {
	out, err := s.enc.Decrypt(record)
	if err != nil {
		return nil, err
	}
	return s.comp.Decompress(out)
}

func (s *Service) reopenRegions() error {
	metas, err := s.idx.Regions()
	if err != nil {
		return err
	}

	for _, meta := range metas {
		r, err := openRegion(meta.ID, meta.Name, meta.Path, meta.Capacity)
		if err != nil {
			logger.Error("failed to reopen region, skipping",
				logger.KeyRegionID, meta.ID,
				logger.KeyError, err)
			continue
		}
		r.decode = s.decodeRecord

		if r.wasCleanlyClosed() {
			if err := s.restoreFromIndex(r); err != nil {
				logger.Warn("index restore failed, falling back to log scan",
					logger.KeyRegionID, meta.ID,
					logger.KeyError, err)
				if err := r.scanLog(); err != nil {
					r.close()
					return err
				}
				s.reindexRegion(r)
			}
		} else {
			logger.Warn("region was not closed cleanly, rebuilding index",
				logger.KeyRegionID, meta.ID)
			if err := r.scanLog(); err != nil {
				r.close()
				return err
			}
			s.reindexRegion(r)
		}

		s.regions[meta.ID] = r
		s.byName[meta.Name] = meta.ID
		if meta.ID >= s.nextID {
			s.nextID = meta.ID + 1
		}
	}
	return nil
}

func (s *Service) restoreFromIndex(r *Region) error {
	restored := 0
	err := s.idx.ForEachInRegion(r.id, func(id string, ref index.BlockRef) error {
		r.restoreBlock(&Block{
			ID:         id,
			Size:       ref.Length,
			Blocks:     r.blocksFor(int(ref.Length)),
			Offset:     ref.Offset,
			CRC:        ref.CRC,
			StoredAt:   ref.StoredAt,
			AccessedAt: ref.StoredAt,
		})
		restored++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debug("region index restored",
		logger.KeyRegionID, r.id, "blocks", restored)
	return nil
}

// reindexRegion replaces the persistent index contents for a region with
// the region's in-memory block map.
func (s *Service) reindexRegion(r *Region) {
	if _, err := s.idx.DropRegion(r.id); err != nil {
		logger.Error("failed to drop stale index entries",
			logger.KeyRegionID, r.id, logger.KeyError, err)
	}
	for _, blk := range r.liveBlocks() {
		err := s.idx.Put(blk.ID, index.BlockRef{
			RegionID: r.id,
			Offset:   blk.Offset,
			Length:   blk.Size,
			CRC:      blk.CRC,
			StoredAt: blk.StoredAt,
		})
		if err != nil {
			logger.Error("failed to reindex block",
				logger.KeyPacketID, blk.ID, logger.KeyError, err)
		}
	}
}

// ============================================================================
// Region lifecycle
// ============================================================================

// CreateRegion creates a new region file and registers it in the index.
func (s *Service) CreateRegion(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if _, ok := s.byName[name]; ok {
		return 0, ErrRegionExists
	}
	if len(s.regions) >= s.cfg.MaxRegions {
		return 0, ErrTooManyRegions
	}

	id := s.nextID
	s.nextID++
	path := filepath.Join(s.cfg.Dir, fmt.Sprintf("region-%08x.dat", id))

	r, err := createRegion(id, name, path, s.cfg.RegionCapacity)
	if err != nil {
		return 0, err
	}
	r.decode = s.decodeRecord

	meta := index.RegionMeta{
		ID:        id,
		Name:      name,
		Path:      path,
		Capacity:  s.cfg.RegionCapacity,
		CreatedAt: r.header.createdAt,
	}
	if err := s.idx.PutRegion(meta); err != nil {
		r.close()
		os.Remove(path)
		return 0, err
	}

	s.regions[id] = r
	s.byName[name] = id
	if s.metrics != nil {
		s.metrics.RecordRegions(len(s.regions))
	}
	logger.Info("region created",
		logger.KeyRegionID, id, "name", name, "path", path)
	return id, nil
}

// DestroyRegion removes a region and its file. Regions holding live blocks
// are refused unless force is set.
func (s *Service) DestroyRegion(regionID uint32, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.regions[regionID]
	if !ok {
		return ErrRegionNotFound
	}

	live := r.liveBlocks()
	if len(live) > 0 && !force {
		return ErrRegionBusy
	}
	for _, blk := range live {
		s.cache.Remove(blk.ID)
	}

	if err := s.idx.DeleteRegion(regionID); err != nil {
		return err
	}
	r.file.Close()
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	delete(s.regions, regionID)
	delete(s.byName, r.name)
	if s.metrics != nil {
		s.metrics.RecordRegions(len(s.regions))
	}
	logger.Info("region destroyed",
		logger.KeyRegionID, regionID, "dropped_blocks", len(live))
	return nil
}

// Regions lists the known regions.
func (s *Service) Regions() []RegionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RegionInfo, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, s.regionInfoLocked(r))
	}
	return out
}

// RegionStats returns one region's snapshot.
func (s *Service) RegionStats(regionID uint32) (RegionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[regionID]
	if !ok {
		return RegionInfo{}, ErrRegionNotFound
	}
	return s.regionInfoLocked(r), nil
}

func (s *Service) regionInfoLocked(r *Region) RegionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegionInfo{
		ID:        r.id,
		Name:      r.name,
		Path:      r.path,
		Capacity:  r.capacity,
		UsedBytes: r.usedBytes(),
		LogBytes:  r.writeOff - headerSize,
		Blocks:    len(r.blocks),
		CreatedAt: r.header.createdAt,
	}
}

// ============================================================================
// Packet operations
// ============================================================================

// StorePacket validates, serializes, and appends a packet to a region,
// then indexes and caches it. A regionID of zero picks the first region
// with space, creating one when none exists and the limit allows.
func (s *Service) StorePacket(ctx context.Context, p *packet.Packet, regionID uint32) (regID uint32, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStorePacket)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	telemetry.SetAttributes(ctx, attribute.String(telemetry.AttrPacketID, p.ID()))

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.isClosed() {
		return 0, ErrClosed
	}

	if s.validator != nil {
		if res := s.validator.Check(p, s.cfg.Validation); !res.Valid {
			p.SetStatus(packet.StatusError)
			return 0, fmt.Errorf("%w: %s", ErrValidation, res.Reason)
		}
	}

	p.SetStatus(packet.StatusProcessing)
	record, err := s.encodeRecord(p.Marshal())
	if err != nil {
		p.SetStatus(packet.StatusError)
		return 0, err
	}

	r, err := s.pickRegion(regionID, len(record))
	if err != nil {
		p.SetStatus(packet.StatusError)
		return 0, err
	}

	blk, err := r.append(p.ID(), p.Type(), record)
	if err != nil {
		p.SetStatus(packet.StatusError)
		return 0, err
	}

	if err := s.idx.Put(p.ID(), index.BlockRef{
		RegionID: r.id,
		Offset:   blk.Offset,
		Length:   blk.Size,
		CRC:      blk.CRC,
		StoredAt: blk.StoredAt,
	}); err != nil {
		logger.Error("failed to index stored packet",
			logger.KeyPacketID, p.ID(), logger.KeyError, err)
	}

	if !s.cfg.WriteBack {
		if err := r.sync(); err != nil {
			return 0, err
		}
	}

	p.SetStatus(packet.StatusStored)
	p.ClearFlag(packet.FlagDirty)

	if s.cache.Put(p.ID(), p, p.HasFlag(packet.FlagPinned)) {
		p.SetFlag(packet.FlagCached)
	}

	s.stores.Add(1)
	if s.metrics != nil {
		s.metrics.ObserveStore(len(record))
		cstats := s.cache.Stats()
		s.metrics.RecordCacheUsage(cstats.Entries, cstats.Bytes)
	}
	telemetry.SetAttributes(ctx,
		attribute.Int(telemetry.AttrRegionID, int(r.id)),
		attribute.Int(telemetry.AttrBytes, len(record)))
	logger.Debug("packet stored",
		logger.KeyPacketID, p.ID(),
		logger.KeyRegionID, r.id,
		"bytes", len(record))
	return r.id, nil
}

// LoadPacket returns a packet by UUID, serving from the cache when
// possible. The caller must Put the returned packet.
func (s *Service) LoadPacket(ctx context.Context, id string) (p *packet.Packet, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLoadPacket)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	telemetry.SetAttributes(ctx, attribute.String(telemetry.AttrPacketID, id))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	if p := s.cache.Get(id); p != nil {
		s.loads.Add(1)
		if s.metrics != nil {
			s.metrics.ObserveLoad(true)
		}
		telemetry.SetAttributes(ctx, attribute.Bool(telemetry.AttrCacheHit, true))
		return p, nil
	}
	telemetry.SetAttributes(ctx, attribute.Bool(telemetry.AttrCacheHit, false))

	ref, err := s.idx.Get(id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, ErrPacketNotFound
		}
		return nil, err
	}

	s.mu.RLock()
	r, ok := s.regions[ref.RegionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRegionNotFound
	}

	blk, ok := r.lookup(id)
	if !ok {
		return nil, ErrPacketNotFound
	}

	record, err := r.read(blk)
	if err != nil {
		return nil, err
	}
	record, err = s.decodeRecord(record)
	if err != nil {
		return nil, err
	}
	p, err = packet.Unmarshal(s.mgr, record)
	if err != nil {
		return nil, err
	}
	blk.AccessedAt = time.Now().UnixNano()

	if s.store != nil {
		if err := s.store.Insert(p); err != nil && !errors.Is(err, packet.ErrDuplicate) {
			logger.Warn("failed to register loaded packet",
				logger.KeyPacketID, id, logger.KeyError, err)
		}
	}
	if s.cache.Put(id, p, p.HasFlag(packet.FlagPinned)) {
		p.SetFlag(packet.FlagCached)
	}

	s.loads.Add(1)
	if s.metrics != nil {
		s.metrics.ObserveLoad(false)
	}
	return p, nil
}

// DeletePacket removes a packet from the cache, marks its block free, and
// drops its index entry. The space is reclaimed by Compact.
func (s *Service) DeletePacket(ctx context.Context, id string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanDeletePacket)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	telemetry.SetAttributes(ctx, attribute.String(telemetry.AttrPacketID, id))

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}

	s.cache.Remove(id)

	ref, err := s.idx.Get(id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return ErrPacketNotFound
		}
		return err
	}

	s.mu.RLock()
	r, ok := s.regions[ref.RegionID]
	s.mu.RUnlock()
	if !ok {
		return ErrRegionNotFound
	}

	if err := r.markFree(id); err != nil {
		return err
	}
	if err := s.idx.Delete(id); err != nil {
		return err
	}

	s.deletes.Add(1)
	if s.metrics != nil {
		s.metrics.ObserveDelete()
	}
	telemetry.SetAttributes(ctx, attribute.Int(telemetry.AttrRegionID, int(r.id)))
	logger.Debug("packet deleted",
		logger.KeyPacketID, id, logger.KeyRegionID, r.id)
	return nil
}

// pickRegion resolves an explicit region id or finds/creates one with
// space for a record of recordLen bytes.
func (s *Service) pickRegion(regionID uint32, recordLen int) (*Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if regionID != 0 {
		r, ok := s.regions[regionID]
		if !ok {
			return nil, ErrRegionNotFound
		}
		r.mu.RLock()
		fits := r.hasSpace(recordLen)
		r.mu.RUnlock()
		if !fits {
			return nil, ErrRegionFull
		}
		return r, nil
	}

	for _, r := range s.regions {
		r.mu.RLock()
		fits := r.hasSpace(recordLen)
		r.mu.RUnlock()
		if fits {
			return r, nil
		}
	}

	if len(s.regions) >= s.cfg.MaxRegions {
		return nil, ErrNoSpace
	}

	// Auto-provision a region.
	id := s.nextID
	s.nextID++
	name := fmt.Sprintf("auto-%08x", id)
	path := filepath.Join(s.cfg.Dir, fmt.Sprintf("region-%08x.dat", id))
	r, err := createRegion(id, name, path, s.cfg.RegionCapacity)
	if err != nil {
		return nil, err
	}
	r.decode = s.decodeRecord
	if err := s.idx.PutRegion(index.RegionMeta{
		ID:        id,
		Name:      name,
		Path:      path,
		Capacity:  s.cfg.RegionCapacity,
		CreatedAt: r.header.createdAt,
	}); err != nil {
		r.close()
		os.Remove(path)
		return nil, err
	}
	s.regions[id] = r
	s.byName[name] = id
	if s.metrics != nil {
		s.metrics.RecordRegions(len(s.regions))
	}
	logger.Info("region auto-provisioned", logger.KeyRegionID, id)
	return r, nil
}

// ============================================================================
// Maintenance
// ============================================================================

// Sync flushes one region to durable storage.
func (s *Service) Sync(regionID uint32) error {
	s.mu.RLock()
	r, ok := s.regions[regionID]
	s.mu.RUnlock()
	if !ok {
		return ErrRegionNotFound
	}
	return r.sync()
}

// SyncAll flushes every region and sweeps expired cache entries.
func (s *Service) SyncAll() error {
	s.mu.RLock()
	regions := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		regions = append(regions, r)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, r := range regions {
		if err := r.sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n := s.cache.Sweep(); n > 0 {
		logger.Debug("cache sweep removed expired entries", "count", n)
	}
	if s.metrics != nil {
		cstats := s.cache.Stats()
		s.metrics.RecordCacheUsage(cstats.Entries, cstats.Bytes)
	}
	return firstErr
}

// Compact rewrites a region keeping only live blocks and reindexes them.
func (s *Service) Compact(regionID uint32) (uint64, error) {
	s.mu.RLock()
	r, ok := s.regions[regionID]
	s.mu.RUnlock()
	if !ok {
		return 0, ErrRegionNotFound
	}

	reclaimed, err := r.compact()
	if err != nil {
		return 0, err
	}
	s.reindexRegion(r)
	if err := r.sync(); err != nil {
		return reclaimed, err
	}
	return reclaimed, nil
}

// VerifyReport summarizes a Verify walk.
type VerifyReport struct {
	RegionID uint32
	Checked  int
	Corrupt  []string
}

// Verify checks every live block's frame and checksum.
func (s *Service) Verify(regionID uint32) (VerifyReport, error) {
	s.mu.RLock()
	r, ok := s.regions[regionID]
	s.mu.RUnlock()
	if !ok {
		return VerifyReport{}, ErrRegionNotFound
	}

	report := VerifyReport{RegionID: regionID}
	for _, blk := range r.liveBlocks() {
		report.Checked++
		if _, err := r.read(blk); err != nil {
			report.Corrupt = append(report.Corrupt, blk.ID)
		}
	}
	return report, nil
}

// Repair drops blocks that fail verification. Best effort: the data is
// unrecoverable, removal just restores region consistency.
func (s *Service) Repair(regionID uint32) (int, error) {
	report, err := s.Verify(regionID)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	r := s.regions[regionID]
	s.mu.RUnlock()

	for _, id := range report.Corrupt {
		s.cache.Remove(id)
		if err := r.markFree(id); err != nil {
			logger.Error("failed to drop corrupt block",
				logger.KeyPacketID, id, logger.KeyError, err)
			continue
		}
		if err := s.idx.Delete(id); err != nil {
			logger.Error("failed to unindex corrupt block",
				logger.KeyPacketID, id, logger.KeyError, err)
		}
	}
	if len(report.Corrupt) > 0 {
		logger.Warn("region repaired",
			logger.KeyRegionID, regionID,
			"dropped", len(report.Corrupt))
	}
	return len(report.Corrupt), nil
}

// ============================================================================
// Introspection and shutdown
// ============================================================================

// GlobalStats returns a service-wide snapshot.
func (s *Service) GlobalStats() Stats {
	s.mu.RLock()
	stats := Stats{
		Regions: len(s.regions),
	}
	for _, r := range s.regions {
		r.mu.RLock()
		stats.Packets += len(r.blocks)
		stats.UsedBytes += r.usedBytes()
		stats.CapacityBytes += r.capacity
		r.mu.RUnlock()
	}
	s.mu.RUnlock()

	stats.Stores = s.stores.Load()
	stats.Loads = s.loads.Load()
	stats.Deletes = s.deletes.Load()
	stats.Cache = s.cache.Stats()
	if s.validator != nil {
		stats.Validator = s.validator.Stats()
	}
	return stats
}

// Cache exposes the packet cache for the service façade.
func (s *Service) CacheRef() *Cache { return s.cache }

// Ping reports whether the service is open and able to serve requests.
func (s *Service) Ping() error {
	if s.isClosed() {
		return ErrClosed
	}
	return nil
}

func (s *Service) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close flushes and closes every region, the cache, and the index.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	regions := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		regions = append(regions, r)
	}
	s.mu.Unlock()

	s.cache.Flush()

	var firstErr error
	for _, r := range regions {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.idx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	logger.Info("storage service closed", "regions", len(regions))
	return firstErr
}
