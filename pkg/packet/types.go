// Package packet implements the immutable content+metadata unit at the core
// of the hinata knowledge store: creation, hashing, reference counting, a
// UUID-indexed registry, and the binary record codec used by storage.
package packet

// Format identity for in-memory and serialized packets.
const (
	// Magic identifies a hinata packet ("HP01").
	Magic uint32 = 0x48503031

	// Version is the current packet format version.
	Version uint32 = 1
)

// Input bounds enforced at creation time.
const (
	MaxContentSize  = 16 << 20 // 16MiB
	MaxMetadataSize = 1 << 20  // 1MiB
	MaxSourceLength = 256
	MaxTags         = 16
	MaxTagLength    = 64

	// UUIDLength is the canonical 8-4-4-4-12 string length.
	UUIDLength = 36
)

// Type classifies packet content.
type Type uint8

const (
	TypeText Type = iota
	TypeMarkdown
	TypeCode
	TypeData
	TypeLink
	TypeImage
	TypeAudio
	TypeVideo
	TypeDocument
	TypeArchive
	TypeCustom

	typeMax
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeMarkdown:
		return "markdown"
	case TypeCode:
		return "code"
	case TypeData:
		return "data"
	case TypeLink:
		return "link"
	case TypeImage:
		return "image"
	case TypeAudio:
		return "audio"
	case TypeVideo:
		return "video"
	case TypeDocument:
		return "document"
	case TypeArchive:
		return "archive"
	case TypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a recognized packet type.
func (t Type) Valid() bool { return t < typeMax }

// IsTextual reports whether the type carries human-readable content.
func (t Type) IsTextual() bool {
	return t == TypeText || t == TypeMarkdown || t == TypeCode
}

// Priority orders packet processing.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical

	priorityMax
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool { return p < priorityMax }

// Status tracks a packet through its lifecycle.
type Status uint8

const (
	StatusCreated Status = iota
	StatusProcessing
	StatusStored
	StatusIndexed
	StatusError
	StatusArchived

	statusMax
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusProcessing:
		return "processing"
	case StatusStored:
		return "stored"
	case StatusIndexed:
		return "indexed"
	case StatusError:
		return "error"
	case StatusArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool { return s < statusMax }

// Flags is a bitmask of packet properties.
type Flags uint32

const (
	FlagCompressed Flags = 1 << iota
	FlagEncrypted
	FlagReadOnly
	FlagTemporary
	FlagIndexed
	FlagDirty
	FlagCached
	FlagPinned
)
