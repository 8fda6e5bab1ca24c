package hinata

import (
	"context"

	"github.com/notcontrolos/hinata/pkg/packet"
	"github.com/notcontrolos/hinata/pkg/storage"
	"github.com/notcontrolos/hinata/pkg/worker"
)

// Write and read paths go straight to the storage service; the worker pool
// is for background and bulk work, not a mandatory hop on every operation.
// Async variants submit onto the pool for callers that want queued
// execution with a task handle.

// StorePacket validates and persists a packet. A zero regionID lets the
// storage layer pick or provision a region; the chosen region is returned.
func (s *Service) StorePacket(ctx context.Context, p *packet.Packet, regionID uint32) (uint32, error) {
	return s.store.StorePacket(ctx, p, regionID)
}

// LoadPacket returns the packet with the given UUID, served from cache when
// possible. The returned packet carries a reference the caller must Put.
func (s *Service) LoadPacket(ctx context.Context, id string) (*packet.Packet, error) {
	return s.store.LoadPacket(ctx, id)
}

// DeletePacket removes a packet from cache, region, and index.
func (s *Service) DeletePacket(ctx context.Context, id string) error {
	return s.store.DeletePacket(ctx, id)
}

// StorePacketAsync queues a store onto the worker pool. The packet reference
// is held by the task until it finishes; the caller keeps its own.
func (s *Service) StorePacketAsync(p *packet.Packet, regionID uint32, opts worker.Options) (worker.TaskID, error) {
	if p.Get() == nil {
		return 0, packet.ErrReleased
	}
	id, err := s.pool.Submit(worker.TypeStore, func(ctx context.Context, _ any) error {
		defer p.Put()
		_, serr := s.store.StorePacket(ctx, p, regionID)
		return serr
	}, nil, opts)
	if err != nil {
		p.Put()
		return 0, err
	}
	return id, nil
}

// DeletePacketAsync queues a delete onto the worker pool.
func (s *Service) DeletePacketAsync(id string, opts worker.Options) (worker.TaskID, error) {
	return s.pool.Submit(worker.TypeDelete, func(ctx context.Context, _ any) error {
		return s.store.DeletePacket(ctx, id)
	}, nil, opts)
}

// CreateRegion provisions a new region file.
func (s *Service) CreateRegion(name string) (uint32, error) {
	return s.store.CreateRegion(name)
}

// DestroyRegion removes a region. Unless force is set, regions still holding
// live packets are refused.
func (s *Service) DestroyRegion(regionID uint32, force bool) error {
	return s.store.DestroyRegion(regionID, force)
}

// Regions lists all open regions.
func (s *Service) Regions() []storage.RegionInfo {
	return s.store.Regions()
}

// Sync flushes one region to disk.
func (s *Service) Sync(regionID uint32) error {
	return s.store.Sync(regionID)
}

// SyncAll flushes every region and sweeps expired cache entries.
func (s *Service) SyncAll() error {
	return s.store.SyncAll()
}

// Compact rewrites a region dropping freed blocks, returning reclaimed bytes.
func (s *Service) Compact(regionID uint32) (uint64, error) {
	return s.store.Compact(regionID)
}

// Verify checks every live block of a region against its stored checksum.
func (s *Service) Verify(regionID uint32) (storage.VerifyReport, error) {
	return s.store.Verify(regionID)
}

// Repair drops blocks that fail verification. Best effort; returns how many
// blocks were dropped.
func (s *Service) Repair(regionID uint32) (int, error) {
	return s.store.Repair(regionID)
}

// BackupCreate copies a region file into destDir and returns the backup path.
func (s *Service) BackupCreate(regionID uint32, destDir string) (string, error) {
	return s.store.BackupCreate(regionID, destDir)
}

// BackupRestore replaces a region's contents from a backup file.
func (s *Service) BackupRestore(regionID uint32, backupPath string) error {
	return s.store.BackupRestore(regionID, backupPath)
}
