package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
)

// BackupCreate snapshots one region into destDir and returns the backup
// file path. The region file is self-describing (header plus framed log),
// so the backup needs no separate index snapshot.
func (s *Service) BackupCreate(regionID uint32, destDir string) (string, error) {
	s.mu.RLock()
	r, ok := s.regions[regionID]
	s.mu.RUnlock()
	if !ok {
		return "", ErrRegionNotFound
	}

	if err := r.sync(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s-%08x-%d.bak", r.name, r.id, time.Now().Unix())
	dest := filepath.Join(destDir, name)

	// Hold the region lock so no append lands mid-copy.
	r.mu.RLock()
	err := copyFile(r.path, dest)
	r.mu.RUnlock()
	if err != nil {
		os.Remove(dest)
		return "", err
	}

	logger.Info("region backup created",
		logger.KeyRegionID, regionID, "path", dest)
	return dest, nil
}

// BackupRestore replaces a region's contents with a backup file. The block
// index is rebuilt by log scan and repersisted.
func (s *Service) BackupRestore(regionID uint32, backupPath string) error {
	s.mu.RLock()
	r, ok := s.regions[regionID]
	s.mu.RUnlock()
	if !ok {
		return ErrRegionNotFound
	}

	// Validate the backup before touching the live file.
	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	headerBuf := make([]byte, headerSize)
	_, rerr := io.ReadFull(src, headerBuf)
	src.Close()
	if rerr != nil {
		return ErrCorrupted
	}
	if _, err := decodeHeader(headerBuf); err != nil {
		return fmt.Errorf("backup rejected: %w", err)
	}

	r.mu.Lock()
	for id := range r.blocks {
		s.cache.Remove(id)
	}
	r.file.Close()
	if err := copyFile(backupPath, r.path); err != nil {
		r.mu.Unlock()
		return err
	}
	f, err := os.OpenFile(r.path, os.O_RDWR, 0o644)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to reopen restored region: %w", err)
	}
	r.file = f
	header, err := func() (regionHeader, error) {
		buf := make([]byte, headerSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			return regionHeader{}, err
		}
		return decodeHeader(buf)
	}()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.header = header
	r.mu.Unlock()

	if err := r.scanLog(); err != nil {
		return err
	}
	s.reindexRegion(r)
	if err := r.sync(); err != nil {
		return err
	}

	logger.Info("region restored from backup",
		logger.KeyRegionID, regionID,
		"backup", backupPath,
		"blocks", len(r.liveBlocks()))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
