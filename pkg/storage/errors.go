package storage

import "errors"

var (
	// ErrRegionNotFound is returned when a region id is unknown.
	ErrRegionNotFound = errors.New("region not found")

	// ErrRegionExists is returned when creating a region whose name is taken.
	ErrRegionExists = errors.New("region already exists")

	// ErrRegionFull is returned when a region cannot fit another record.
	ErrRegionFull = errors.New("region is full")

	// ErrNoSpace is returned when no region can accept a record.
	ErrNoSpace = errors.New("no region has space")

	// ErrTooManyRegions is returned when the region limit is reached.
	ErrTooManyRegions = errors.New("region limit reached")

	// ErrPacketNotFound is returned when a packet is in no region.
	ErrPacketNotFound = errors.New("packet not found in storage")

	// ErrCorrupted is returned when a region file fails validation.
	ErrCorrupted = errors.New("region file corrupted")

	// ErrVersionMismatch is returned on an unsupported region file version.
	ErrVersionMismatch = errors.New("region file version mismatch")

	// ErrValidation is returned when a packet fails pre-store validation.
	ErrValidation = errors.New("packet failed validation")

	// ErrClosed is returned when operating on a closed storage service.
	ErrClosed = errors.New("storage service is closed")

	// ErrRegionBusy is returned when destroying a region with live blocks
	// without the force flag.
	ErrRegionBusy = errors.New("region has live blocks")
)
