package memory

import "errors"

var (
	// ErrAllocTooLarge is returned when a single allocation exceeds the
	// configured per-allocation cap.
	ErrAllocTooLarge = errors.New("allocation exceeds single-allocation limit")

	// ErrMemoryLimit is returned when an allocation would push total usage
	// over the configured cap.
	ErrMemoryLimit = errors.New("total memory limit exceeded")

	// ErrInvalidHandle is returned when freeing or resizing a handle that is
	// not tracked by the manager.
	ErrInvalidHandle = errors.New("invalid or untracked memory handle")

	// ErrManagerClosed is returned for operations on a closed manager.
	ErrManagerClosed = errors.New("memory manager is closed")

	// ErrInvalidSize is returned for zero or negative allocation sizes.
	ErrInvalidSize = errors.New("invalid allocation size")
)
