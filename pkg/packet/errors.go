package packet

import "errors"

var (
	// ErrEmptyContent is returned when creating a packet without content.
	ErrEmptyContent = errors.New("packet content must not be empty")

	// ErrContentTooLarge is returned when content exceeds MaxContentSize.
	ErrContentTooLarge = errors.New("packet content exceeds maximum size")

	// ErrMetadataTooLarge is returned when metadata exceeds MaxMetadataSize.
	ErrMetadataTooLarge = errors.New("packet metadata exceeds maximum size")

	// ErrEmptySource is returned when creating a packet without a source.
	ErrEmptySource = errors.New("packet source must not be empty")

	// ErrSourceTooLong is returned when the source exceeds MaxSourceLength.
	ErrSourceTooLong = errors.New("packet source exceeds maximum length")

	// ErrTooManyTags is returned when more than MaxTags tags are supplied.
	ErrTooManyTags = errors.New("too many packet tags")

	// ErrInvalidTag is returned for an empty, oversized, or malformed tag.
	ErrInvalidTag = errors.New("invalid packet tag")

	// ErrInvalidType is returned for an unrecognized packet type.
	ErrInvalidType = errors.New("invalid packet type")

	// ErrNotFound is returned when a packet UUID is not registered.
	ErrNotFound = errors.New("packet not found")

	// ErrReleased is returned for operations on a packet whose reference
	// count already reached zero.
	ErrReleased = errors.New("packet already released")

	// ErrReadOnly is returned when mutating a read-only packet.
	ErrReadOnly = errors.New("packet is read-only")

	// ErrTagExists is returned when adding a duplicate tag.
	ErrTagExists = errors.New("tag already present")

	// ErrCorruptRecord is returned when deserializing a malformed record.
	ErrCorruptRecord = errors.New("corrupt packet record")

	// ErrDuplicate is returned when registering an already-known UUID.
	ErrDuplicate = errors.New("packet already registered")
)
